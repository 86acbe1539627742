package database

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	cfg := Config{Host: "db", Port: "5432", User: "bot", Password: "p@ss word", Name: "dialogs"}
	assert.Equal(t, `host=db port=5432 user=bot password='p@ss word' dbname=dialogs sslmode=disable`, cfg.DSN())

	cfg = Config{Name: "x", Password: `it's`, SSLMode: "require"}
	assert.Equal(t, `password='it\'s' dbname=x sslmode=require`, cfg.DSN())
}

func TestWaitDefault(t *testing.T) {
	assert.Equal(t, 30*time.Second, Config{}.wait())
	assert.Equal(t, 3*time.Second, Config{WaitSeconds: 3}.wait())
}

type flakyDB struct {
	failures int
	calls    int
}

func (f *flakyDB) PingContext(context.Context) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("connection refused")
	}
	return nil
}

func TestPingRetriesUntilUp(t *testing.T) {
	db := &flakyDB{failures: 2}
	attempts, err := ping(context.Background(), db, time.Second, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestPingGivesUp(t *testing.T) {
	db := &flakyDB{failures: 1000}
	_, err := ping(context.Background(), db, 20*time.Millisecond, 5*time.Millisecond)
	assert.ErrorContains(t, err, "refused")
	assert.Greater(t, db.calls, 1)
}

func TestPingHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ping(ctx, &flakyDB{failures: 1000}, time.Minute, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMigrationFiles(t *testing.T) {
	src := fstest.MapFS{
		"migrations/000001_accounts.up.sql":   {Data: []byte("--")},
		"migrations/000001_accounts.down.sql": {Data: []byte("--")},
		"migrations/000002_dialogs.up.sql":    {Data: []byte("--")},
		"migrations/000003_patterns.up.sql":   {Data: []byte("--")},
	}
	files := upFiles(src, "migrations")
	assert.Equal(t, []string{"000001_accounts.up.sql", "000002_dialogs.up.sql", "000003_patterns.up.sql"}, files)
	assert.Equal(t, []string{"000002_dialogs.up.sql", "000003_patterns.up.sql"}, between(files, 1, 3))
	assert.Empty(t, between(files, 3, 3))
	assert.Empty(t, upFiles(src, "missing"))
}
