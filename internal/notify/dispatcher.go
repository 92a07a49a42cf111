// Package notify delivers episode announcements at most once per
// (destination, permalink) pair.
package notify

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"anibot/internal/metrics"
	"anibot/internal/storage"
	"anibot/internal/transport"
)

type Config struct {
	// RatePerSec bounds outbound sends; Telegram throttles chatty bots.
	RatePerSec int
}

// Dispatcher checks the dispatch ledger before every send and records the
// pair only after the transport call succeeds. A crash between send and
// record can duplicate one notification on the next cycle; that trade-off
// is preferred over recording sends that never happened.
type Dispatcher struct {
	store   storage.Store
	adapter transport.Adapter
	limiter *rate.Limiter
	log     zerolog.Logger
}

func NewDispatcher(cfg Config, store storage.Store, adapter transport.Adapter, log zerolog.Logger) *Dispatcher {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	return &Dispatcher{
		store:   store,
		adapter: adapter,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		log:     log,
	}
}

// Dispatch sends n to chatID unless the ledger already has the pair.
// It reports whether a send actually happened. A failed send leaves the
// ledger untouched so the entry retries on a later cycle.
func (d *Dispatcher) Dispatch(ctx context.Context, chatID int64, n transport.Notification) (bool, error) {
	sent, err := d.store.HasSent(ctx, chatID, n.Link)
	if err != nil {
		return false, err
	}
	if sent {
		metrics.Notifications.WithLabelValues("dedup").Inc()
		return false, nil
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return false, err
	}
	if err := d.adapter.SendNotification(ctx, chatID, n); err != nil {
		metrics.Notifications.WithLabelValues("error").Inc()
		d.log.Warn().Err(err).Int64("chat_id", chatID).Str("link", n.Link).Msg("send failed; will retry next cycle")
		return false, err
	}

	if err := d.store.RecordSent(ctx, chatID, n.Link); err != nil {
		// The message is out; failing the cycle here would re-send it.
		d.log.Error().Err(err).Int64("chat_id", chatID).Str("link", n.Link).Msg("ledger record failed after send")
		return true, nil
	}
	metrics.Notifications.WithLabelValues("sent").Inc()
	d.log.Debug().Int64("chat_id", chatID).Str("link", n.Link).Msg("notification sent")
	return true, nil
}
