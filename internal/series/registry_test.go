package series

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"anibot/internal/storage"
)

func newTestRegistry(t *testing.T) (*Registry, storage.Store) {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "bot.db")}, zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return NewRegistry(st, zerolog.Nop()), st
}

func TestResolveExactMatch(t *testing.T) {
	ctx := context.Background()
	r, st := newTestRegistry(t)

	if err := st.CreateSeries(ctx, storage.Series{ID: "s1", Title: "Attack on Titan"}); err != nil {
		t.Fatalf("create series: %v", err)
	}

	m, err := r.Resolve(ctx, "Attack on Titan")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if m.SeriesID != "s1" || m.Confidence != 1.0 {
		t.Fatalf("want exact match on s1 with confidence 1.0, got %+v", m)
	}
}

func TestResolveEmptyRegistry(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, err := r.Resolve(context.Background(), "Attack on Titan")
	if !errors.Is(err, ErrNoSeries) {
		t.Fatalf("want ErrNoSeries, got %v", err)
	}
}

func TestResolveFuzzyBestMatch(t *testing.T) {
	ctx := context.Background()
	r, st := newTestRegistry(t)

	seed := []storage.Series{
		{ID: "s1", Title: "Attack on Titan"},
		{ID: "s2", Title: "One Piece"},
		{ID: "s3", Title: "Demon Slayer"},
	}
	for _, s := range seed {
		if err := st.CreateSeries(ctx, s); err != nil {
			t.Fatalf("create series: %v", err)
		}
	}

	m, err := r.Resolve(ctx, "attack on titan")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if m.SeriesID != "s1" {
		t.Fatalf("want s1, got %+v", m)
	}
	if m.Confidence < AcceptableThreshold {
		t.Fatalf("case-only difference should score high, got %v", m.Confidence)
	}

	// Garbage still returns the best guess, just with a low score.
	m, err = r.Resolve(ctx, "zzzzzzzzzzzz")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if m.Confidence >= AcceptableThreshold {
		t.Fatalf("garbage input should score low, got %+v", m)
	}
}

func TestResolveOrCreateNewTitle(t *testing.T) {
	ctx := context.Background()
	r, st := newTestRegistry(t)

	m, created, err := r.ResolveOrCreate(ctx, "Demo Show", "crunchyroll")
	if err != nil {
		t.Fatalf("resolve or create: %v", err)
	}
	if !created {
		t.Fatal("want a new series for an empty registry")
	}
	if m.Title != "Demo Show" || m.Confidence != 1.0 {
		t.Fatalf("unexpected match %+v", m)
	}

	got, err := st.GetSeries(ctx, m.SeriesID)
	if err != nil {
		t.Fatalf("get series: %v", err)
	}
	if got.Title != "Demo Show" || got.Platform != "crunchyroll" {
		t.Fatalf("unexpected row %+v", got)
	}

	// Re-observing the same title must not create a second row.
	m2, created, err := r.ResolveOrCreate(ctx, "Demo Show", "crunchyroll")
	if err != nil {
		t.Fatalf("second resolve or create: %v", err)
	}
	if created {
		t.Fatal("existing title should not create a new series")
	}
	if m2.SeriesID != m.SeriesID {
		t.Fatalf("want same series id %s, got %s", m.SeriesID, m2.SeriesID)
	}
}

func TestResolveOrCreateDistinctTitle(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t)

	m1, _, err := r.ResolveOrCreate(ctx, "One Piece", "crunchyroll")
	if err != nil {
		t.Fatalf("resolve or create: %v", err)
	}
	m2, created, err := r.ResolveOrCreate(ctx, "Demon Slayer", "crunchyroll")
	if err != nil {
		t.Fatalf("resolve or create: %v", err)
	}
	if !created {
		t.Fatal("clearly different title should create a new series")
	}
	if m1.SeriesID == m2.SeriesID {
		t.Fatal("distinct titles must get distinct ids")
	}
}

func TestSimilarityDirection(t *testing.T) {
	// Higher must mean more similar.
	near := similarity("attack on titan", "attack on titans")
	far := similarity("attack on titan", "one piece")
	if near <= far {
		t.Fatalf("similarity direction wrong: near=%v far=%v", near, far)
	}
	if s := similarity("same", "same"); s != 1.0 {
		t.Fatalf("identical strings: want 1.0, got %v", s)
	}
}
