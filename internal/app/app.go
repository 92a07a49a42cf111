// Package app wires the store, registry, throttle, fetcher, dispatcher and
// transport together and owns the process lifecycle.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"anibot/internal/bot"
	"anibot/internal/config"
	"anibot/internal/feed"
	"anibot/internal/logging"
	"anibot/internal/metrics"
	"anibot/internal/notify"
	"anibot/internal/refresh"
	"anibot/internal/series"
	"anibot/internal/storage"
	"anibot/internal/transport"
	"anibot/internal/transport/telegram"
)

// cycleTimeout bounds one refresh cycle so a stuck fetch or send cannot
// overlap the next tick.
const cycleTimeout = 2 * time.Minute

type App struct {
	cfgm *config.Manager
	log  zerolog.Logger

	store    storage.Store
	adapter  *telegram.Adapter
	router   *bot.Router
	throttle *refresh.Throttle
	orch     *refresh.Orchestrator
	msrv     *metrics.Server

	cron   *cron.Cron
	cronMu sync.Mutex
	cronID cron.EntryID

	updates chan transport.Update

	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	log := logging.New(cfg.LogLevel)

	store, err := storage.Open(storage.Config{Path: cfg.Database}, log.With().Str("comp", "storage").Logger())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Token,
		PollTimeout: cfg.PollTimeout,
	}, log.With().Str("comp", "telegram").Logger())
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	registry := series.NewRegistry(store, log.With().Str("comp", "registry").Logger())
	throttle := refresh.NewThrottle(store, cfg.RefreshInterval, log.With().Str("comp", "throttle").Logger())
	fetcher := feed.NewClient(cfg.FeedURL, 15*time.Second, log.With().Str("comp", "feed").Logger())
	dispatcher := notify.NewDispatcher(
		notify.Config{RatePerSec: cfg.NotifyRatePerSec},
		store, adapter, log.With().Str("comp", "notify").Logger(),
	)
	orch := refresh.NewOrchestrator(
		store, registry, throttle, fetcher, dispatcher,
		cfg.UpdateChannel, cfg.Platform,
		log.With().Str("comp", "refresh").Logger(),
	)

	handlers := bot.NewHandlers(store, registry, log.With().Str("comp", "commands").Logger())
	router := bot.NewRouter(adapter, handlers, log.With().Str("comp", "commands").Logger())

	return &App{
		cfgm:     cfgm,
		log:      log.With().Str("comp", "app").Logger(),
		store:    store,
		adapter:  adapter,
		router:   router,
		throttle: throttle,
		orch:     orch,
		msrv:     metrics.NewServer(cfg.MetricsAddr, log.With().Str("comp", "metrics").Logger()),
		updates:  make(chan transport.Update, 256),
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return err
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.router.DispatchLoop(runCtx, a.updates)
	}()

	a.msrv.Start()

	// The front-end is up; tell the service manager.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	cfg := a.cfgm.Get()

	// Refresh cycles start after the initial delay; the first cycle runs
	// immediately, then the cron schedule takes over.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		select {
		case <-runCtx.Done():
			return
		case <-time.After(cfg.StartupDelay):
		}
		a.runCycle(runCtx)
		a.startCron(runCtx, cfg.RefreshInterval)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.reloadLoop(runCtx)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(runCtx); err != nil {
			a.log.Warn().Err(err).Msg("config watch stopped")
		}
	}()

	a.log.Info().
		Dur("refresh_interval", cfg.RefreshInterval).
		Dur("startup_delay", cfg.StartupDelay).
		Msg("app started")
	return nil
}

func (a *App) runCycle(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, cycleTimeout)
	defer cancel()
	if err := a.orch.RunCycle(cctx); err != nil {
		a.log.Warn().Err(err).Msg("refresh cycle failed")
	}
}

func (a *App) startCron(ctx context.Context, interval time.Duration) {
	a.cronMu.Lock()
	defer a.cronMu.Unlock()
	if a.cron == nil {
		a.cron = cron.New()
		a.cron.Start()
	}
	id, err := a.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		a.runCycle(ctx)
	})
	if err != nil {
		a.log.Error().Err(err).Msg("schedule refresh cycle")
		return
	}
	a.cronID = id
}

// reschedule swaps the cron entry for a new interval.
func (a *App) reschedule(ctx context.Context, interval time.Duration) {
	a.cronMu.Lock()
	started := a.cron != nil
	if started {
		a.cron.Remove(a.cronID)
	}
	a.cronMu.Unlock()
	if started {
		a.startCron(ctx, interval)
	}
}

// reloadLoop applies config file changes that are safe to take live:
// log level and refresh interval. Token and database changes need a restart.
func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			if cfg.LogLevel != last.LogLevel {
				logging.SetLevel(cfg.LogLevel)
				a.log.Info().Str("level", cfg.LogLevel).Msg("log level updated")
			}
			if cfg.RefreshInterval != last.RefreshInterval {
				a.throttle.SetInterval(cfg.RefreshInterval)
				a.reschedule(ctx, cfg.RefreshInterval)
				a.log.Info().Dur("refresh_interval", cfg.RefreshInterval).Msg("refresh interval updated")
			}
			if cfg.Token != last.Token || cfg.Database != last.Database {
				a.log.Warn().Msg("token/database changes require a restart")
			}
			last = cfg
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	a.log.Info().Msg("stopping")
	if a.runCancel != nil {
		a.runCancel()
	}

	// Bounded shutdown steps; one stalled component must not hang the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		sctx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		done := make(chan error, 1)
		go func() { done <- fn(sctx) }()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn().Err(err).Str("step", name).Msg("stop step error")
			}
		case <-sctx.Done():
			a.log.Warn().Str("step", name).Msg("stop step deadline reached (continuing)")
		}
	}

	a.cronMu.Lock()
	c := a.cron
	a.cronMu.Unlock()
	if c != nil {
		step("cron", 2*time.Second, func(sctx context.Context) error {
			stopCtx := c.Stop()
			select {
			case <-stopCtx.Done():
				return nil
			case <-sctx.Done():
				return sctx.Err()
			}
		})
	}

	step("adapter", 2*time.Second, func(sctx context.Context) error { return a.adapter.Stop(sctx) })
	step("metrics", time.Second, func(sctx context.Context) error { return a.msrv.Stop(sctx) })

	step("workers", 2*time.Second, func(sctx context.Context) error {
		done := make(chan struct{})
		go func() {
			a.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-sctx.Done():
			return sctx.Err()
		}
	})

	step("store", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info().Msg("stopped")
	return nil
}
