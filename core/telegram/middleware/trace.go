package middleware

import (
	"log/slog"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/dialogbot/core/logger"
	"github.com/m3rciful/dialogbot/core/telegram/callbacks"
	"github.com/m3rciful/dialogbot/core/telegram/reply"
)

// Trace prepares the update log context and writes one debug receipt line.
func Trace(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		ctx := reply.Context(c)
		attrs := []slog.Attr{slog.String("kind", updateKind(c.Update()))}
		if u := c.Sender(); u != nil && u.Username != "" {
			attrs = append(attrs, slog.String("username", logger.Clip(u.Username, 64)))
		}
		if cb := c.Callback(); cb != nil {
			key, payload := callbacks.Decode(cb)
			attrs = append(attrs,
				slog.String("cb_key", logger.Clip(key, 64)),
				slog.String("payload", logger.Clip(payload, 64)),
			)
		} else if text := c.Text(); text != "" {
			attrs = append(attrs, slog.String("payload", logger.Clip(text, 128)))
		}
		logger.Debug(ctx, "tg", "update.received", attrs...)
		return next(c)
	}
}

func updateKind(u tele.Update) string {
	switch {
	case u.Callback != nil:
		return "callback"
	case u.Message != nil && u.Message.Text != "" && u.Message.Text[0] == '/':
		return "command"
	case u.Message != nil:
		return "message"
	}
	return "other"
}
