package telegram

import (
	"log/slog"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/dialogbot/core/logger"
	"github.com/m3rciful/dialogbot/core/telegram/callbacks"
	"github.com/m3rciful/dialogbot/core/telegram/middleware"
	"github.com/m3rciful/dialogbot/core/telegram/reply"
)

type route struct {
	endpoint any
	handler  tele.HandlerFunc
}

// routes binds every command plus one dispatcher for all button presses.
// Operator commands and every press go through guard.
func (c *Console) routes(guard tele.MiddlewareFunc) []route {
	cmds := c.Commands()
	out := make([]route, 0, len(cmds)+1)
	for _, cmd := range cmds {
		name := "cmd." + strings.TrimPrefix(cmd.Name, "/")
		h := summarized(name, nil, cmd.Handler)
		if cmd.Operator {
			h = guard(h)
		}
		out = append(out, route{endpoint: cmd.Name, handler: h})
	}
	out = append(out, route{endpoint: tele.OnCallback, handler: guard(c.onPress)})
	return out
}

func (c *Console) onPress(tc tele.Context) error {
	key, _ := callbacks.Decode(tc.Callback())
	h, known := c.action(key)
	extras := []slog.Attr{slog.String("cb_key", key)}
	if !known {
		extras = append(extras, slog.String("reason", "unknown_action"))
	}
	name := "cb." + strings.ToLower(strings.TrimSpace(key))
	return summarized(name, extras, h)(tc)
}

// summarized logs one line per handled update with its outcome and reply count.
func summarized(name string, extras []slog.Attr, h tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		start := time.Now()
		ctx := reply.WithHandler(c, name)
		err := h(c)
		sent, kb := middleware.Sent(c)
		attrs := []slog.Attr{
			slog.String("status", logger.Status(err)),
			slog.Int("messages", sent),
			slog.Bool("kb", kb),
			slog.Duration("duration", time.Since(start)),
		}
		if err != nil {
			attrs = append(attrs, slog.String("err", logger.Clip(err.Error(), 256)))
		}
		logger.Info(ctx, component, "handler.done", append(attrs, extras...)...)
		return err
	}
}
