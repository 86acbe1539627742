package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/m3rciful/dialogbot/core/logger"
)

const component = "db"

// Open connects to Postgres and pings it until it answers or cfg.WaitSeconds
// runs out, which lets the service start alongside its database container.
func Open(ctx context.Context, cfg Config) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	pool := cfg.MaxConnections
	if pool <= 0 {
		pool = 10
	}
	db.SetMaxOpenConns(pool)
	db.SetMaxIdleConns(pool)
	db.SetConnMaxIdleTime(5 * time.Minute)

	start := time.Now()
	attempts, err := ping(ctx, db, cfg.wait(), 2*time.Second)
	if err != nil {
		_ = db.Close()
		logger.Error(ctx, component, "db.connect",
			slog.String("status", "fail"),
			slog.String("host", cfg.Host),
			slog.String("db", cfg.Name),
			slog.Int("attempts", attempts),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("db connect %s/%s: %w", cfg.Host, cfg.Name, err)
	}
	logger.Info(ctx, component, "db.connect",
		slog.String("status", "ok"),
		slog.String("host", cfg.Host),
		slog.String("db", cfg.Name),
		slog.Int("pool", pool),
		slog.Int("attempts", attempts),
		slog.Duration("duration", time.Since(start)),
	)
	return db, nil
}

type pinger interface {
	PingContext(ctx context.Context) error
}

func ping(ctx context.Context, db pinger, wait, every time.Duration) (int, error) {
	deadline := time.Now().Add(wait)
	for attempt := 1; ; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := db.PingContext(pingCtx)
		cancel()
		if err == nil {
			return attempt, nil
		}
		if ctx.Err() != nil {
			return attempt, ctx.Err()
		}
		if time.Now().Add(every).After(deadline) {
			return attempt, err
		}
		t := time.NewTimer(every)
		select {
		case <-ctx.Done():
			t.Stop()
			return attempt, ctx.Err()
		case <-t.C:
		}
	}
}
