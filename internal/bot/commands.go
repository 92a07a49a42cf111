package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"anibot/internal/series"
	"anibot/internal/storage"
)

// maxArgLen bounds user-typed series names. Longer input is rejected
// before any store or matcher work.
const maxArgLen = 1024

const listLimit = 100

// Handlers implements the subscription commands. Every method returns a
// human-readable outcome string for the requesting chat; only fatal store
// errors are returned as errors.
type Handlers struct {
	store    storage.Store
	registry *series.Registry
	log      zerolog.Logger
}

func NewHandlers(store storage.Store, registry *series.Registry, log zerolog.Logger) *Handlers {
	return &Handlers{store: store, registry: registry, log: log}
}

func (h *Handlers) Follow(ctx context.Context, chatID int64, arg string) string {
	arg = strings.TrimSpace(arg)
	if msg, ok := validateArg(arg); !ok {
		return msg
	}

	m, err := h.registry.Resolve(ctx, arg)
	if errors.Is(err, series.ErrNoSeries) {
		return "No series are known yet. They appear here once seen in the feed."
	}
	if err != nil {
		h.log.Error().Err(err).Msg("follow: resolve failed")
		return "Something went wrong, try again later."
	}
	if m.Confidence < series.AcceptableThreshold {
		return fmt.Sprintf("No close match for %q. Did you mean %q?", arg, m.Title)
	}

	switch err := h.store.Subscribe(ctx, chatID, m.SeriesID); {
	case errors.Is(err, storage.ErrAlreadyFollowed):
		return fmt.Sprintf("Already following %q.", m.Title)
	case err != nil:
		h.log.Error().Err(err).Msg("follow: subscribe failed")
		return "Something went wrong, try again later."
	}
	return fmt.Sprintf("Now following %q.", m.Title)
}

func (h *Handlers) Unfollow(ctx context.Context, chatID int64, arg string) string {
	arg = strings.TrimSpace(arg)
	if msg, ok := validateArg(arg); !ok {
		return msg
	}

	m, err := h.registry.Resolve(ctx, arg)
	if errors.Is(err, series.ErrNoSeries) {
		return "No series are known yet. They appear here once seen in the feed."
	}
	if err != nil {
		h.log.Error().Err(err).Msg("unfollow: resolve failed")
		return "Something went wrong, try again later."
	}
	if m.Confidence < series.AcceptableThreshold {
		return fmt.Sprintf("No close match for %q. Did you mean %q?", arg, m.Title)
	}

	switch err := h.store.Unsubscribe(ctx, chatID, m.SeriesID); {
	case errors.Is(err, storage.ErrNotFollowed):
		return fmt.Sprintf("You were not following %q.", m.Title)
	case err != nil:
		h.log.Error().Err(err).Msg("unfollow: unsubscribe failed")
		return "Something went wrong, try again later."
	}
	return fmt.Sprintf("Stopped following %q.", m.Title)
}

func (h *Handlers) Clear(ctx context.Context, chatID int64) string {
	n, err := h.store.ClearSubscriptions(ctx, chatID)
	if err != nil {
		h.log.Error().Err(err).Msg("clear failed")
		return "Something went wrong, try again later."
	}
	if n == 0 {
		return "Nothing to clear; you follow no series."
	}
	return fmt.Sprintf("Cleared %d followed series.", n)
}

func (h *Handlers) List(ctx context.Context, chatID int64) string {
	subs, err := h.store.ListSubscriptions(ctx, chatID, listLimit)
	if err != nil {
		h.log.Error().Err(err).Msg("list failed")
		return "Something went wrong, try again later."
	}
	if len(subs) == 0 {
		return "You follow no series. Use /follow <title> to add one."
	}
	var b strings.Builder
	b.WriteString("Followed series:\n")
	for _, s := range subs {
		b.WriteString("• ")
		b.WriteString(s.Title)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (h *Handlers) Info(chatID int64) string {
	return fmt.Sprintf("chat id: %d", chatID)
}

func (h *Handlers) Help() string {
	return strings.TrimSpace(`
Commands:
/follow <title> — follow a series
/unfollow <title> — stop following a series
/list — show followed series
/clear — unfollow everything
/info — show this chat's id
/help — this message`)
}

func validateArg(arg string) (string, bool) {
	if arg == "" {
		return "Give me a series title, e.g. /follow Attack on Titan", false
	}
	if utf8.RuneCountInString(arg) >= maxArgLen {
		return "That title is too long.", false
	}
	return "", true
}
