// Package reply keeps the log context of an update and sends operator
// replies through the shared outbox.
package reply

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/dialogbot/core/logger"
	"github.com/m3rciful/dialogbot/core/telegram/outbox"
)

const ctxKey = "reply.ctx"

var shared atomic.Pointer[outbox.Dispatcher]

// Bind sets the outbox used by Deliver. Nil makes every call synchronous.
func Bind(d *outbox.Dispatcher) { shared.Store(d) }

// Context returns the log context of the update handled by c, building and
// caching it on first use.
func Context(c tele.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if ctx, ok := c.Get(ctxKey).(context.Context); ok {
		return ctx
	}
	var chatID, userID int64
	if chat := c.Chat(); chat != nil {
		chatID = chat.ID
	}
	if user := c.Sender(); user != nil {
		userID = user.ID
	}
	id := c.Update().ID
	ctx := logger.WithRID(context.Background(), logger.UpdateRID(id, chatID, userID))
	ctx = logger.WithUpdate(ctx, id, chatID, userID)
	c.Set(ctxKey, ctx)
	return ctx
}

// WithHandler names the handler in the cached context.
func WithHandler(c tele.Context, name string) context.Context {
	ctx := Context(c)
	if name == "" || c == nil {
		return ctx
	}
	ctx = logger.WithHandler(ctx, name)
	c.Set(ctxKey, ctx)
	return ctx
}

// Deliver queues run on the outbox. A full or closed queue falls back to an
// inline call so the operator still gets an answer.
func Deliver(ctx context.Context, action string, run func() error) error {
	d := shared.Load()
	if d == nil {
		return run()
	}
	err := d.Submit(ctx, action, run)
	if errors.Is(err, outbox.ErrFull) || errors.Is(err, outbox.ErrClosed) {
		logger.Warn(ctx, "tg.outbox", "outbox.inline",
			slog.String("action", action),
			slog.String("err", err.Error()),
		)
		return run()
	}
	return err
}

// Text sends plain text to the chat of c.
func Text(c tele.Context, text string) error {
	return Deliver(Context(c), "send.text", func() error {
		return c.Send(text)
	})
}

// Markdown sends text in legacy Markdown with an optional keyboard.
func Markdown(c tele.Context, text string, markup *tele.ReplyMarkup) error {
	opts := &tele.SendOptions{ParseMode: tele.ModeMarkdown, ReplyMarkup: markup}
	return Deliver(Context(c), "send.markdown", func() error {
		return c.Send(text, opts)
	})
}
