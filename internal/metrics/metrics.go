// Package metrics exposes Prometheus counters for the refresh pipeline.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	RefreshCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anibot_refresh_cycles_total",
		Help: "Refresh cycles by outcome (throttled, not_modified, fetch_error, processed).",
	}, []string{"result"})

	FeedFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anibot_feed_fetches_total",
		Help: "Feed fetch attempts by HTTP status class.",
	}, []string{"status"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anibot_notifications_total",
		Help: "Notification dispatch outcomes (sent, dedup, error).",
	}, []string{"result"})

	SeriesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anibot_series_created_total",
		Help: "New series rows created from observed feed titles.",
	})
)

// Server serves /metrics on a dedicated listener when an address is set.
type Server struct {
	srv *http.Server
	log zerolog.Logger
}

func NewServer(addr string, log zerolog.Logger) *Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{
		srv: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			IdleTimeout:  30 * time.Second,
		},
		log: log,
	}
}

func (s *Server) Start() {
	if s == nil {
		return
	}
	go func() {
		s.log.Info().Str("addr", s.srv.Addr).Msg("metrics listener started")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("metrics listener failed")
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
