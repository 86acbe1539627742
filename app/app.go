package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/dialogbot/automation/manager"
	"github.com/m3rciful/dialogbot/automation/mtproto"
	"github.com/m3rciful/dialogbot/automation/notify"
	"github.com/m3rciful/dialogbot/automation/store"
	"github.com/m3rciful/dialogbot/automation/worker"
	"github.com/m3rciful/dialogbot/core/bootstrap"
	"github.com/m3rciful/dialogbot/core/cmd"
	"github.com/m3rciful/dialogbot/core/logger"
	"github.com/m3rciful/dialogbot/core/telegram"
	"github.com/m3rciful/dialogbot/core/telegram/reply"
)

const component = "app"

// App is the composed dialog automation service.
type App struct {
	cfg      *Config
	db       *sqlx.DB
	store    *store.Store
	manager  *manager.Manager
	gateway  *notify.Gateway
	handlers *notify.Handlers
	boot     autostart
}

// Start loads the config at path, bootstraps logging and the database and
// composes the service.
func Start(ctx context.Context, path string) (cmd.Service, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	db, err := bootstrap.Run(ctx, bootstrap.Options{
		Logging:       cfg.Logging,
		Database:      cfg.Database,
		Migrations:    store.Migrations,
		MigrationsDir: store.MigrationsDir,
	})
	if err != nil {
		return nil, err
	}
	sealer, err := NewSealer(cfg.Secrets)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return Compose(cfg, db, sealer), nil
}

// Compose builds the service graph over an open database.
func Compose(cfg *Config, db *sqlx.DB, sealer *store.Sealer) *App {
	st := store.New(db, sealer)
	gateway := notify.NewGateway(cfg.Operator.AdminID)
	dialer := mtproto.Dialer{
		AppID:   cfg.Client.AppID,
		AppHash: cfg.Client.AppHash,
		Target:  cfg.Client.Target,
	}
	a := cfg.Automation
	mgr := manager.New(st, dialer, gateway, manager.Options{
		Worker: worker.Options{
			Target:        cfg.Client.Target,
			SearchCommand: a.SearchCommand,
			SkipCommand:   a.SkipCommand,
			RetryCap:      a.RetryCap,
			RetryDelay:    ms(a.RetryDelayMS),
			SkipSettle:    ms(a.SkipSettleMS),
		},
		StopGrace:        ms(a.StopGraceMS),
		ConnectTimeout:   ms(a.ConnectTimeoutMS),
		StartParallelism: a.StartParallelism,
	})
	return &App{
		cfg:      cfg,
		db:       db,
		store:    st,
		manager:  mgr,
		gateway:  gateway,
		handlers: notify.NewHandlers(mgr, st),
	}
}

var _ cmd.Service = (*App)(nil)

// Manager exposes the worker registry.
func (a *App) Manager() *manager.Manager { return a.manager }

// BotOptions wires the operator bot around the registry.
func (a *App) BotOptions() (telegram.RunOptions, error) {
	console := telegram.NewConsole()
	if err := a.handlers.Register(console); err != nil {
		return telegram.RunOptions{}, err
	}
	return telegram.RunOptions{
		Operator: a.cfg.Operator,
		Console:  console,
		Reject:   rejectStranger,
		OnStart:  a.onStart,
		OnStop:   a.onStop,
	}, nil
}

func rejectStranger(c tele.Context) error {
	if c.Callback() != nil {
		return c.Respond(&tele.CallbackResponse{Text: "Operator only"})
	}
	return reply.Text(c, "This bot is operated by its owner only.")
}

func (a *App) onStart(ctx context.Context, rt telegram.Runtime) error {
	a.gateway.Bind(rt.Bot)
	if !a.cfg.Automation.AutoStart {
		return nil
	}
	a.boot.launch(ctx, func(ctx context.Context) {
		n, err := a.manager.StartAll(ctx)
		if err != nil {
			logger.Error(ctx, component, "app.autostart",
				slog.String("status", "fail"),
				slog.String("err", err.Error()),
			)
			return
		}
		logger.Info(ctx, component, "app.autostart",
			slog.String("status", "ok"),
			slog.Int("workers", n),
		)
	})
	return nil
}

func (a *App) onStop(ctx context.Context, _ telegram.Runtime) error {
	// The run context is already cancelled here; stopping must not depend on it.
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ms(a.cfg.Automation.StopGraceMS)+5*time.Second)
	defer cancel()
	a.boot.halt()
	a.manager.StopAll(stopCtx)
	a.gateway.Bind(nil)
	if err := a.db.Close(); err != nil {
		return fmt.Errorf("app: close database: %w", err)
	}
	return nil
}
