package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"anibot/internal/storage"
)

// slack tolerates timer jitter so a cycle firing a hair early still fetches.
const slack = 500 * time.Millisecond

// Throttle decides whether a provider is due for a fetch attempt and
// records attempt state. Timestamps are stored and compared in UTC.
type Throttle struct {
	store storage.Store
	log   zerolog.Logger

	mu       sync.Mutex
	interval time.Duration

	now func() time.Time // test hook
}

func NewThrottle(store storage.Store, interval time.Duration, log zerolog.Logger) *Throttle {
	return &Throttle{
		store:    store,
		interval: interval,
		log:      log,
		now:      time.Now,
	}
}

// SetInterval applies a new refresh interval (config hot reload).
func (t *Throttle) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	t.mu.Lock()
	t.interval = d
	t.mu.Unlock()
}

func (t *Throttle) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interval
}

// ShouldFetch reports whether a fetch attempt is due for provider and
// returns the current state (holding the validators for a conditional GET).
//
// First contact creates the state row and always permits the fetch; no
// create-then-recheck round trip.
func (t *Throttle) ShouldFetch(ctx context.Context, provider string) (bool, storage.RefreshState, error) {
	st, ok, err := t.store.GetRefreshState(ctx, provider)
	if err != nil {
		return false, storage.RefreshState{}, err
	}
	if !ok {
		st = storage.RefreshState{Provider: provider, LastAttempt: t.now().UTC()}
		if err := t.store.PutRefreshState(ctx, st); err != nil {
			return false, storage.RefreshState{}, err
		}
		t.log.Debug().Str("provider", provider).Msg("first contact; fetch permitted")
		return true, st, nil
	}

	elapsed := t.now().UTC().Sub(st.LastAttempt)
	if elapsed < t.Interval()-slack {
		return false, st, nil
	}
	return true, st, nil
}

// RecordAttempt bumps the provider's last-attempt time and stores the
// given validators. On failed fetches callers pass the prior validators
// so only the timestamp moves.
func (t *Throttle) RecordAttempt(ctx context.Context, provider, etag, lastModified string) error {
	return t.store.PutRefreshState(ctx, storage.RefreshState{
		Provider:     provider,
		LastAttempt:  t.now().UTC(),
		ETag:         etag,
		LastModified: lastModified,
	})
}
