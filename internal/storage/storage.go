package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAlreadyFollowed is returned by Subscribe when the (chat, series)
	// pair already exists. Callers treat it as a non-fatal outcome.
	ErrAlreadyFollowed = errors.New("series already followed")

	// ErrNotFollowed is returned by Unsubscribe when no such subscription exists.
	ErrNotFollowed = errors.New("series not followed")

	// ErrSeriesNotFound is returned when a series id has no row.
	ErrSeriesNotFound = errors.New("series not found")
)

// Config configures the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default (5s)
}

// Series is a canonical show identity. Title is fixed at creation;
// free-text references resolve to it by id, never by copying the title.
type Series struct {
	ID       string
	Title    string
	Platform string
}

// RefreshState tracks per-provider fetch throttling and cache validators.
// LastAttempt is stored as UTC; it never moves backwards for a provider.
type RefreshState struct {
	Provider     string
	LastAttempt  time.Time
	ETag         string
	LastModified string
}

// Store is the persistence API used by the registry, throttle, dispatcher
// and command handlers. Implementations must enforce the uniqueness
// constraints documented per method.
type Store interface {
	// CreateSeries inserts a new series row. The title is unique.
	CreateSeries(ctx context.Context, s Series) error
	// ListSeries returns all known series ordered by title.
	ListSeries(ctx context.Context) ([]Series, error)
	// GetSeries looks up a series by id. Returns ErrSeriesNotFound.
	GetSeries(ctx context.Context, id string) (Series, error)

	// Subscribe adds a (chat, series) subscription.
	// Returns ErrAlreadyFollowed on a duplicate pair.
	Subscribe(ctx context.Context, chatID int64, seriesID string) error
	// Unsubscribe removes a subscription. Returns ErrNotFollowed if absent.
	Unsubscribe(ctx context.Context, chatID int64, seriesID string) error
	// ClearSubscriptions removes every subscription for a chat and
	// reports how many rows were removed.
	ClearSubscriptions(ctx context.Context, chatID int64) (int, error)
	// ListSubscriptions returns the followed series for a chat ordered by
	// title, at most limit entries.
	ListSubscriptions(ctx context.Context, chatID int64, limit int) ([]Series, error)
	// Subscribers returns the chat ids following a series, in stable order.
	Subscribers(ctx context.Context, seriesID string) ([]int64, error)

	// GetRefreshState returns the stored state for a provider, if any.
	GetRefreshState(ctx context.Context, provider string) (RefreshState, bool, error)
	// PutRefreshState upserts provider state. The stored last-attempt
	// timestamp never decreases.
	PutRefreshState(ctx context.Context, st RefreshState) error

	// HasSent reports whether a (chat, permalink) pair is in the ledger.
	HasSent(ctx context.Context, chatID int64, permalink string) (bool, error)
	// RecordSent adds a (chat, permalink) pair to the ledger. Idempotent.
	RecordSent(ctx context.Context, chatID int64, permalink string) error

	Close() error
}
