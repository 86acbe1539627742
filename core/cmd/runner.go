// Package cmd runs the long-lived service process: it resolves the config
// path, starts the service, runs the operator bot until a signal arrives and
// flushes the logs on the way out.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m3rciful/dialogbot/core/logger"
	"github.com/m3rciful/dialogbot/core/telegram"
)

// Service is a started application that drives the operator bot.
type Service interface {
	BotOptions() (telegram.RunOptions, error)
}

// Options wire Run to an application.
type Options struct {
	// ConfigPath, when set, wins over ConfigEnvVar and DefaultConfigPath.
	ConfigPath        string
	ConfigEnvVar      string
	DefaultConfigPath string

	// Start loads the config at path and builds the service.
	Start func(ctx context.Context, path string) (Service, error)

	RunBot         func(ctx context.Context, opts telegram.RunOptions) error
	ShutdownLogger func() error
	// Signals default to SIGINT and SIGTERM.
	Signals []os.Signal
}

// ResolveConfigPath picks the explicit path, then the env variable, then the default.
func ResolveConfigPath(explicit, envVar, fallback string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if envVar == "" {
		envVar = "CONFIG_PATH"
	}
	if p := os.Getenv(envVar); p != "" {
		return p, nil
	}
	if fallback == "" {
		return "", fmt.Errorf("cmd: no config path: pass --config or set %s", envVar)
	}
	return fallback, nil
}

// Run starts the service and blocks until the bot stops.
func Run(ctx context.Context, opts Options) (err error) {
	if opts.Start == nil {
		return errors.New("cmd: Start is required")
	}
	if opts.RunBot == nil {
		opts.RunBot = telegram.Run
	}
	if opts.ShutdownLogger == nil {
		opts.ShutdownLogger = logger.Shutdown
	}
	if len(opts.Signals) == 0 {
		opts.Signals = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}

	path, err := ResolveConfigPath(opts.ConfigPath, opts.ConfigEnvVar, opts.DefaultConfigPath)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, opts.Signals...)
	defer stop()

	// Start may have installed the logger before failing.
	defer func() {
		if shutdownErr := opts.ShutdownLogger(); shutdownErr != nil && err == nil {
			err = fmt.Errorf("cmd: flush logs: %w", shutdownErr)
		}
	}()
	startedAt := time.Now()
	svc, err := opts.Start(ctx, path)
	if err != nil {
		return fmt.Errorf("cmd: start %s: %w", path, err)
	}

	runOpts, err := svc.BotOptions()
	if err != nil {
		return fmt.Errorf("cmd: bot options: %w", err)
	}

	onStart, onStop := runOpts.OnStart, runOpts.OnStop
	runOpts.OnStart = func(ctx context.Context, rt telegram.Runtime) error {
		if onStart != nil {
			if err := onStart(ctx, rt); err != nil {
				return err
			}
		}
		logger.Info(ctx, "app", "app.ready",
			slog.String("status", "ok"),
			slog.Duration("duration", time.Since(startedAt)),
		)
		return nil
	}
	runOpts.OnStop = func(ctx context.Context, rt telegram.Runtime) error {
		logger.Info(ctx, "app", "app.stopping", slog.Duration("uptime", time.Since(startedAt)))
		if onStop != nil {
			return onStop(ctx, rt)
		}
		return nil
	}
	return opts.RunBot(ctx, runOpts)
}
