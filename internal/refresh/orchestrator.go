// Package refresh drives the periodic feed refresh cycle: throttle check,
// conditional fetch, series resolution and deduplicated dispatch.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"anibot/internal/feed"
	"anibot/internal/metrics"
	"anibot/internal/series"
	"anibot/internal/storage"
	"anibot/internal/transport"
)

// Fetcher is the network collaborator that performs conditional feed fetches.
type Fetcher interface {
	URL() string
	Fetch(ctx context.Context, v feed.Validators) (feed.Result, error)
}

// Dispatcher delivers one notification at most once per (chat, permalink).
type Dispatcher interface {
	Dispatch(ctx context.Context, chatID int64, n transport.Notification) (bool, error)
}

type Orchestrator struct {
	store      storage.Store
	registry   *series.Registry
	throttle   *Throttle
	fetcher    Fetcher
	dispatcher Dispatcher
	log        zerolog.Logger

	// updateChannel, when non-zero, receives every announcement in
	// addition to per-series subscribers (still subject to the ledger).
	updateChannel int64
	platform      string
}

func NewOrchestrator(
	store storage.Store,
	registry *series.Registry,
	throttle *Throttle,
	fetcher Fetcher,
	dispatcher Dispatcher,
	updateChannel int64,
	platform string,
	log zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:         store,
		registry:      registry,
		throttle:      throttle,
		fetcher:       fetcher,
		dispatcher:    dispatcher,
		updateChannel: updateChannel,
		platform:      platform,
		log:           log,
	}
}

// RunCycle executes one refresh cycle. Transient fetch failures update the
// throttle state (so the next attempt waits a full interval) and are
// returned for logging; they carry no user-facing report.
func (o *Orchestrator) RunCycle(ctx context.Context) error {
	provider := o.fetcher.URL()

	due, st, err := o.throttle.ShouldFetch(ctx, provider)
	if err != nil {
		return fmt.Errorf("throttle check: %w", err)
	}
	if !due {
		metrics.RefreshCycles.WithLabelValues("throttled").Inc()
		o.log.Debug().Str("provider", provider).Msg("refresh not due")
		return nil
	}

	res, err := o.fetcher.Fetch(ctx, feed.Validators{ETag: st.ETag, LastModified: st.LastModified})
	if err != nil {
		// Keep prior validators; only the attempt time moves.
		if rerr := o.throttle.RecordAttempt(ctx, provider, st.ETag, st.LastModified); rerr != nil {
			o.log.Error().Err(rerr).Msg("record attempt after fetch failure")
		}
		metrics.RefreshCycles.WithLabelValues("fetch_error").Inc()
		return fmt.Errorf("fetch %s: %w", provider, err)
	}

	metrics.FeedFetches.WithLabelValues(strconv.Itoa(res.Status)).Inc()

	if res.NotModified || res.Status != http.StatusOK {
		if err := o.throttle.RecordAttempt(ctx, provider, st.ETag, st.LastModified); err != nil {
			return fmt.Errorf("record attempt: %w", err)
		}
		if res.NotModified {
			metrics.RefreshCycles.WithLabelValues("not_modified").Inc()
		} else {
			metrics.RefreshCycles.WithLabelValues("fetch_error").Inc()
		}
		return nil
	}

	// Success: validators and last-attempt move together.
	if err := o.throttle.RecordAttempt(ctx, provider, res.Validators.ETag, res.Validators.LastModified); err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}

	o.processEntries(ctx, res.Entries)
	metrics.RefreshCycles.WithLabelValues("processed").Inc()
	return nil
}

// processEntries handles entries in feed order; per-entry problems are
// logged and skipped so one bad entry cannot starve the rest of the window.
func (o *Orchestrator) processEntries(ctx context.Context, entries []feed.Entry) {
	for _, e := range entries {
		if e.SeriesTitle == "" {
			continue
		}
		m, created, err := o.registry.ResolveOrCreate(ctx, e.SeriesTitle, o.platform)
		if err != nil {
			o.log.Error().Err(err).Str("title", e.SeriesTitle).Msg("series resolution failed")
			continue
		}
		if created {
			metrics.SeriesCreated.Inc()
		}

		targets, err := o.store.Subscribers(ctx, m.SeriesID)
		if err != nil {
			o.log.Error().Err(err).Str("series_id", m.SeriesID).Msg("subscriber lookup failed")
			continue
		}
		if o.updateChannel != 0 && !containsChat(targets, o.updateChannel) {
			targets = append(targets, o.updateChannel)
		}

		n := transport.Notification{Title: e.Title, Link: e.Permalink, ImageURL: e.Thumbnail}
		for _, chatID := range targets {
			if _, err := o.dispatcher.Dispatch(ctx, chatID, n); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				// Failed sends stay out of the ledger and retry next cycle.
				continue
			}
		}
	}
}

func containsChat(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
