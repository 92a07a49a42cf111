// Package series resolves free-text show names against the canonical
// series registry using normalized edit-distance similarity.
package series

import (
	"context"
	"errors"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"anibot/internal/storage"
)

// Similarity thresholds. SameSeries gates automatic creation on the feed
// path; Acceptable gates acting on user-typed arguments.
const (
	SameSeriesThreshold = 0.95
	AcceptableThreshold = 0.8
)

// ErrNoSeries is returned by Resolve when the registry is empty.
var ErrNoSeries = errors.New("series registry is empty")

// Match is the result of resolving free text against the registry.
// Confidence is in [0,1], higher meaning more similar.
type Match struct {
	SeriesID   string
	Title      string
	Confidence float64
}

type Registry struct {
	store storage.Store
	log   zerolog.Logger
}

func NewRegistry(store storage.Store, log zerolog.Logger) *Registry {
	return &Registry{store: store, log: log}
}

// Resolve returns the closest registry entry for freeText. The best match
// is returned even at low confidence; callers apply their own threshold.
func (r *Registry) Resolve(ctx context.Context, freeText string) (Match, error) {
	all, err := r.store.ListSeries(ctx)
	if err != nil {
		return Match{}, err
	}
	if len(all) == 0 {
		return Match{}, ErrNoSeries
	}

	// Exact title hit needs no distance work.
	for _, s := range all {
		if s.Title == freeText {
			return Match{SeriesID: s.ID, Title: s.Title, Confidence: 1.0}, nil
		}
	}

	needle := strings.ToLower(freeText)
	best := Match{Confidence: -1}
	for _, s := range all {
		score := similarity(needle, strings.ToLower(s.Title))
		if score > best.Confidence {
			best = Match{SeriesID: s.ID, Title: s.Title, Confidence: score}
		}
	}
	return best, nil
}

// ResolveOrCreate resolves a feed-sourced title, creating a new series row
// when no existing entry is close enough to be the same show.
func (r *Registry) ResolveOrCreate(ctx context.Context, title, platform string) (Match, bool, error) {
	m, err := r.Resolve(ctx, title)
	if err != nil && !errors.Is(err, ErrNoSeries) {
		return Match{}, false, err
	}
	if err == nil && m.Confidence >= SameSeriesThreshold {
		return m, false, nil
	}

	s := storage.Series{ID: uuid.NewString(), Title: title, Platform: platform}
	if err := r.store.CreateSeries(ctx, s); err != nil {
		return Match{}, false, err
	}
	r.log.Info().Str("title", title).Str("series_id", s.ID).Msg("new series registered")
	return Match{SeriesID: s.ID, Title: s.Title, Confidence: 1.0}, true, nil
}

// similarity converts Levenshtein distance into a [0,1] score where
// 1 means identical. Both inputs are expected lower-cased.
func similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	longest := len([]rune(a))
	if n := len([]rune(b)); n > longest {
		longest = n
	}
	if longest == 0 {
		return 1.0
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(d)/float64(longest)
}
