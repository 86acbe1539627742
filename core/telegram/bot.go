// Package telegram runs the operator bot: long polling, the command console,
// the middleware chain and the outbound queue.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	tele "gopkg.in/telebot.v4"

	coreconfig "github.com/m3rciful/dialogbot/core/config"
	"github.com/m3rciful/dialogbot/core/logger"
	"github.com/m3rciful/dialogbot/core/telegram/middleware"
	"github.com/m3rciful/dialogbot/core/telegram/outbox"
	"github.com/m3rciful/dialogbot/core/telegram/reply"
)

const component = "tg"

// RunOptions describes the bot to run.
type RunOptions struct {
	Operator coreconfig.Operator
	Console  *Console
	Outbox   outbox.Options

	// Reject answers updates from anyone but the operator. Nil ignores them.
	Reject tele.HandlerFunc

	OnStart func(ctx context.Context, rt Runtime) error
	OnStop  func(ctx context.Context, rt Runtime) error
}

// Runtime is handed to the lifecycle hooks.
type Runtime struct {
	Bot    *tele.Bot
	Outbox *outbox.Dispatcher
}

// Run polls for updates until ctx is done. OnStop runs after polling stopped
// and before the outbox drains, so notices sent while stopping still go out.
func Run(ctx context.Context, opts RunOptions) error {
	if opts.Console == nil {
		opts.Console = NewConsole()
	}
	timeout := time.Duration(opts.Operator.PollTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	start := time.Now()
	bot, err := tele.NewBot(tele.Settings{
		Token:  opts.Operator.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
		Client: newHTTPClient(timeout),
		OnError: func(err error, c tele.Context) {
			logger.Error(reply.Context(c), component, "tg.handler_error",
				slog.String("status", "fail"),
				slog.String("err", outbox.Redact(err)),
			)
		},
	})
	if err != nil {
		return fmt.Errorf("telegram: create bot: %s", outbox.Redact(err))
	}
	// A webhook left by another deployment would starve getUpdates.
	if err := bot.RemoveWebhook(); err != nil {
		logger.Warn(ctx, component, "tg.webhook_removed",
			slog.String("status", "fail"),
			slog.String("err", outbox.Redact(err)),
		)
	}
	logger.Info(ctx, component, "tg.ready",
		slog.String("username", bot.Me.Username),
		slog.Duration("poll_timeout", timeout),
		slog.Duration("duration", time.Since(start)),
	)

	out := outbox.New(opts.Outbox)
	reply.Bind(out)
	defer func() {
		out.Close()
		reply.Bind(nil)
	}()

	for _, mw := range chain(opts.Operator) {
		bot.Use(mw)
	}
	guard := middleware.Operator(opts.Operator.AdminID, opts.Reject)
	for _, r := range opts.Console.routes(guard) {
		bot.Handle(r.endpoint, r.handler)
	}
	opts.Console.publish(ctx, bot, opts.Operator.AdminID)
	logger.Info(ctx, component, "tg.wired",
		slog.Int("commands", len(opts.Console.Commands())),
		slog.Int("actions", len(opts.Console.Actions())),
	)

	rt := Runtime{Bot: bot, Outbox: out}
	if opts.OnStart != nil {
		if err := opts.OnStart(ctx, rt); err != nil {
			return err
		}
	}

	polling := make(chan struct{})
	go func() {
		defer close(polling)
		bot.Start()
	}()

	var runErr error
	select {
	case <-ctx.Done():
		bot.Stop()
		<-polling
		if !errors.Is(ctx.Err(), context.Canceled) {
			runErr = ctx.Err()
		}
	case <-polling:
	}

	if opts.OnStop != nil {
		if err := opts.OnStop(ctx, rt); err != nil {
			return err
		}
	}
	return runErr
}
