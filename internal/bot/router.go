package bot

import (
	"context"
	"runtime/debug"
	"strings"

	"github.com/rs/zerolog"

	"anibot/internal/transport"
)

// Router consumes inbound updates and dispatches commands to Handlers.
type Router struct {
	adapter transport.Adapter
	h       *Handlers
	log     zerolog.Logger
}

func NewRouter(adapter transport.Adapter, h *Handlers, log zerolog.Logger) *Router {
	return &Router{adapter: adapter, h: h, log: log}
}

// DispatchLoop processes updates until ctx is done or the channel closes.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan transport.Update) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Message == nil {
				continue
			}
			r.handleMessage(ctx, up.Message)
		}
	}
}

func (r *Router) handleMessage(ctx context.Context, m *transport.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().Any("panic", rec).Str("stack", string(debug.Stack())).Msg("panic in command handler")
		}
	}()

	verb, arg := splitCommand(m.Text)
	if verb == "" {
		return
	}

	var reply string
	switch verb {
	case "follow", "add":
		reply = r.h.Follow(ctx, m.ChatID, arg)
	case "unfollow", "remove":
		reply = r.h.Unfollow(ctx, m.ChatID, arg)
	case "list", "following":
		reply = r.h.List(ctx, m.ChatID)
	case "clear":
		reply = r.h.Clear(ctx, m.ChatID)
	case "info":
		reply = r.h.Info(m.ChatID)
	case "start", "help":
		reply = r.h.Help()
	default:
		return
	}

	if err := r.adapter.SendText(ctx, m.ChatID, reply); err != nil {
		r.log.Warn().Err(err).Int64("chat_id", m.ChatID).Str("cmd", verb).Msg("reply failed")
	}
}

// splitCommand parses "/verb rest of line" into (verb, argument).
// The verb is lower-cased and a trailing @BotName suffix is dropped.
func splitCommand(text string) (string, string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}
	verb := text[1:]
	arg := ""
	if i := strings.IndexAny(verb, " \t"); i >= 0 {
		arg = strings.TrimSpace(verb[i+1:])
		verb = verb[:i]
	}
	if i := strings.IndexByte(verb, '@'); i >= 0 {
		verb = verb[:i]
	}
	return strings.ToLower(verb), arg
}
