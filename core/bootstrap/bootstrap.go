// Package bootstrap brings up the infrastructure every long-running command
// needs: logging, the database pool and the schema.
package bootstrap

import (
	"context"
	"fmt"
	"io/fs"

	"github.com/jmoiron/sqlx"

	coreconfig "github.com/m3rciful/dialogbot/core/config"
	coredatabase "github.com/m3rciful/dialogbot/core/database"
	"github.com/m3rciful/dialogbot/core/logger"
)

// Options control the bootstrap pipeline. The function fields default to the
// real implementations.
type Options struct {
	Logging  coreconfig.Logging
	Database coredatabase.Config

	// Migrations holds the schema files under MigrationsDir. Nil skips migrations.
	Migrations    fs.FS
	MigrationsDir string

	InitLogger func(coreconfig.Logging) error
	Open       func(ctx context.Context, cfg coredatabase.Config) (*sqlx.DB, error)
	Migrate    func(ctx context.Context, db *sqlx.DB, src fs.FS, dir string) error
}

func (o *Options) defaults() {
	if o.InitLogger == nil {
		o.InitLogger = logger.Init
	}
	if o.Open == nil {
		o.Open = coredatabase.Open
	}
	if o.Migrate == nil {
		o.Migrate = coredatabase.Migrate
	}
}

// Run initializes the logger, opens the database and migrates it. The caller
// owns the returned pool.
func Run(ctx context.Context, opts Options) (*sqlx.DB, error) {
	opts.defaults()
	if err := opts.InitLogger(opts.Logging); err != nil {
		return nil, fmt.Errorf("bootstrap: logger: %w", err)
	}
	db, err := opts.Open(ctx, opts.Database)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: database: %w", err)
	}
	if opts.Migrations == nil {
		return db, nil
	}
	if err := opts.Migrate(ctx, db, opts.Migrations, opts.MigrationsDir); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: migrations: %w", err)
	}
	return db, nil
}
