package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "bot.db")}, zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSubscribeIdempotency(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	if err := st.CreateSeries(ctx, Series{ID: "s1", Title: "Demo Show"}); err != nil {
		t.Fatalf("create series: %v", err)
	}

	if err := st.Subscribe(ctx, 42, "s1"); err != nil {
		t.Fatalf("first subscribe: %v", err)
	}
	if err := st.Subscribe(ctx, 42, "s1"); !errors.Is(err, ErrAlreadyFollowed) {
		t.Fatalf("second subscribe: want ErrAlreadyFollowed, got %v", err)
	}

	subs, err := st.ListSubscriptions(ctx, 42, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(subs) != 1 || subs[0].ID != "s1" {
		t.Fatalf("want exactly one subscription to s1, got %+v", subs)
	}
}

func TestSubscribeUnknownSeriesRejected(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	if err := st.Subscribe(ctx, 42, "missing"); err == nil {
		t.Fatal("subscribe to nonexistent series should fail")
	}
}

func TestUnsubscribeOutcomes(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	if err := st.CreateSeries(ctx, Series{ID: "s1", Title: "Demo Show"}); err != nil {
		t.Fatalf("create series: %v", err)
	}
	if err := st.Unsubscribe(ctx, 42, "s1"); !errors.Is(err, ErrNotFollowed) {
		t.Fatalf("want ErrNotFollowed, got %v", err)
	}
	if err := st.Subscribe(ctx, 42, "s1"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := st.Unsubscribe(ctx, 42, "s1"); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if err := st.Unsubscribe(ctx, 42, "s1"); !errors.Is(err, ErrNotFollowed) {
		t.Fatalf("second unsubscribe: want ErrNotFollowed, got %v", err)
	}
}

func TestClearSubscriptions(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("s%d", i)
		if err := st.CreateSeries(ctx, Series{ID: id, Title: fmt.Sprintf("Show %d", i)}); err != nil {
			t.Fatalf("create series: %v", err)
		}
		if err := st.Subscribe(ctx, 42, id); err != nil {
			t.Fatalf("subscribe: %v", err)
		}
	}

	n, err := st.ClearSubscriptions(ctx, 42)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if n != 3 {
		t.Fatalf("want 3 cleared, got %d", n)
	}
	subs, err := st.ListSubscriptions(ctx, 42, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(subs) != 0 {
		t.Fatalf("want empty list after clear, got %d", len(subs))
	}
}

func TestListSubscriptionsBoundedAndOrdered(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	for i := 0; i < 120; i++ {
		id := fmt.Sprintf("s%03d", i)
		if err := st.CreateSeries(ctx, Series{ID: id, Title: fmt.Sprintf("Show %03d", i)}); err != nil {
			t.Fatalf("create series: %v", err)
		}
		if err := st.Subscribe(ctx, 42, id); err != nil {
			t.Fatalf("subscribe: %v", err)
		}
	}

	subs, err := st.ListSubscriptions(ctx, 42, 100)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(subs) != 100 {
		t.Fatalf("want list capped at 100, got %d", len(subs))
	}
	for i := 1; i < len(subs); i++ {
		if subs[i-1].Title > subs[i].Title {
			t.Fatalf("list not ordered by title: %q before %q", subs[i-1].Title, subs[i].Title)
		}
	}
}

func TestDispatchLedger(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	sent, err := st.HasSent(ctx, 42, "https://example.com/ep1")
	if err != nil {
		t.Fatalf("has sent: %v", err)
	}
	if sent {
		t.Fatal("ledger should start empty")
	}

	if err := st.RecordSent(ctx, 42, "https://example.com/ep1"); err != nil {
		t.Fatalf("record: %v", err)
	}
	// Idempotent.
	if err := st.RecordSent(ctx, 42, "https://example.com/ep1"); err != nil {
		t.Fatalf("repeated record: %v", err)
	}

	sent, err = st.HasSent(ctx, 42, "https://example.com/ep1")
	if err != nil {
		t.Fatalf("has sent: %v", err)
	}
	if !sent {
		t.Fatal("pair should be in ledger after record")
	}

	// Different chat, same permalink is a distinct pair.
	sent, err = st.HasSent(ctx, 43, "https://example.com/ep1")
	if err != nil {
		t.Fatalf("has sent: %v", err)
	}
	if sent {
		t.Fatal("other chat should not be marked sent")
	}
}

func TestRefreshStateMonotonic(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	_, ok, err := st.GetRefreshState(ctx, "feed")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatal("unexpected state for fresh provider")
	}

	t1 := time.Now().UTC().Truncate(time.Millisecond)
	if err := st.PutRefreshState(ctx, RefreshState{Provider: "feed", LastAttempt: t1, ETag: `"v1"`}); err != nil {
		t.Fatalf("put: %v", err)
	}

	// An older timestamp must not move last-attempt backwards.
	if err := st.PutRefreshState(ctx, RefreshState{Provider: "feed", LastAttempt: t1.Add(-time.Hour), ETag: `"v2"`}); err != nil {
		t.Fatalf("put stale: %v", err)
	}

	got, ok, err := st.GetRefreshState(ctx, "feed")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.LastAttempt.Before(t1) {
		t.Fatalf("last attempt moved backwards: %v < %v", got.LastAttempt, t1)
	}
	if got.ETag != `"v2"` {
		t.Fatalf("validators should still update, got %q", got.ETag)
	}
}

func TestSubscribersStableOrder(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	if err := st.CreateSeries(ctx, Series{ID: "s1", Title: "Demo Show"}); err != nil {
		t.Fatalf("create series: %v", err)
	}
	for _, chat := range []int64{30, 10, 20} {
		if err := st.Subscribe(ctx, chat, "s1"); err != nil {
			t.Fatalf("subscribe %d: %v", chat, err)
		}
	}

	got, err := st.Subscribers(ctx, "s1")
	if err != nil {
		t.Fatalf("subscribers: %v", err)
	}
	want := []int64{10, 20, 30}
	if len(got) != len(want) {
		t.Fatalf("want %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("want %v, got %v", want, got)
		}
	}
}
