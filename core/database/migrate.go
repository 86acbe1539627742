package database

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/dialogbot/core/logger"
)

// Migrate applies the up migrations under dir in src. It borrows one
// connection from db, so closing the migrator leaves the pool open.
func Migrate(ctx context.Context, db *sqlx.DB, src fs.FS, dir string) error {
	files := upFiles(src, dir)
	preview, cut := logger.Preview(files, 6)
	logger.Debug(ctx, component, "db.migrate.plan",
		slog.String("dir", dir),
		slog.Int("count", len(files)),
		slog.String("files", preview),
		slog.Bool("truncated", cut),
	)

	source, err := iofs.New(src, dir)
	if err != nil {
		return fmt.Errorf("migrations source %s: %w", dir, err)
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		_ = source.Close()
		return fmt.Errorf("migrations connection: %w", err)
	}
	driver, err := postgres.WithConnection(ctx, conn, &postgres.Config{})
	if err != nil {
		_ = source.Close()
		_ = conn.Close()
		return fmt.Errorf("migrations driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		_ = source.Close()
		_ = driver.Close()
		return fmt.Errorf("migrations init: %w", err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			logger.Warn(ctx, component, "db.migrate.close",
				slog.String("status", "fail"),
				slog.Any("err", errors.Join(srcErr, dbErr)),
			)
		}
	}()

	from, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("migrations version: %w", err)
	}
	if dirty {
		return fmt.Errorf("migrations: version %d is dirty, fix it by hand", from)
	}

	start := time.Now()
	err = m.Up()
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		logger.Info(ctx, component, "db.migrate",
			slog.String("status", "skip"),
			slog.Uint64("version", uint64(from)),
			slog.Duration("duration", time.Since(start)),
		)
		return nil
	case err != nil:
		logger.Error(ctx, component, "db.migrate",
			slog.String("status", "fail"),
			slog.Uint64("from", uint64(from)),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("migrations up: %w", err)
	}

	to, _, _ := m.Version()
	applied := between(files, uint64(from), uint64(to))
	names, _ := logger.Preview(applied, 6)
	logger.Info(ctx, component, "db.migrate",
		slog.String("status", "ok"),
		slog.Uint64("from", uint64(from)),
		slog.Uint64("to", uint64(to)),
		slog.Int("count", len(applied)),
		slog.String("files", names),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func upFiles(src fs.FS, dir string) []string {
	entries, err := fs.ReadDir(src, dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

// between returns the files whose version lies in (from, to].
func between(files []string, from, to uint64) []string {
	var out []string
	for _, f := range files {
		prefix, _, _ := strings.Cut(f, "_")
		v, err := strconv.ParseUint(prefix, 10, 64)
		if err == nil && v > from && v <= to {
			out = append(out, f)
		}
	}
	return out
}
