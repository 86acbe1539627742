// Package logger is the structured log pipeline of dialogbot.
//
// Every line carries a component and a dotted event name, plus the
// correlation fields found in the context (worker run id, account id and the
// operator update being handled). Lines are encoded as key=value pairs or
// JSON with a stable leading key order and written asynchronously to stdout
// and an optional file. Until Init is called every helper is a no-op, so
// packages can log freely in tests.
package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/m3rciful/dialogbot/core/buildinfo"
	coreconfig "github.com/m3rciful/dialogbot/core/config"
)

var (
	mu    sync.Mutex
	base  *slog.Logger
	out   *fanout
	files []io.Closer
	level slog.LevelVar
)

// Init installs the process logger. Calls after the first successful one are ignored.
func Init(cfg coreconfig.Logging) error {
	mu.Lock()
	defer mu.Unlock()
	if base != nil {
		return nil
	}
	coreconfig.NormalizeLogging(&cfg)
	level.Set(parseLevel(cfg.Level))

	sinks := []io.Writer{os.Stdout}
	if path := strings.TrimSpace(cfg.File); path != "" {
		f, err := openLogFile(path)
		if err != nil {
			return err
		}
		sinks = append(sinks, f)
		files = append(files, f)
	}
	out = newFanout(sinks)

	base = slog.New(newHandler(handlerOptions{
		level:   &level,
		sink:    out,
		json:    cfg.Format == "json",
		leading: keyOrder(cfg.KeyOrder),
	}))
	slog.SetDefault(base)

	Info(context.Background(), "app", "startup",
		slog.String("go_version", runtime.Version()),
		slog.String("build_version", buildinfo.Version),
		slog.String("build_commit", buildinfo.Commit),
		slog.String("profile", cfg.Profile),
	)
	return nil
}

func openLogFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("logger: create %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logger: open %s: %w", path, err)
	}
	return f, nil
}

// Shutdown drains pending lines and closes the log file. The logger stays
// installed but drops everything logged afterwards.
func Shutdown() error {
	mu.Lock()
	defer mu.Unlock()
	if out == nil {
		return nil
	}
	errs := []error{out.Close()}
	for _, f := range files {
		errs = append(errs, f.Close())
	}
	out, files = nil, nil
	return errors.Join(errs...)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func current() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return base
}

func emit(ctx context.Context, lvl slog.Level, component, event string, attrs []slog.Attr) {
	l := current()
	if l == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if !l.Enabled(ctx, lvl) {
		return
	}
	head := make([]slog.Attr, 0, len(attrs)+2)
	head = append(head, slog.String(keyComponent, component), slog.String(keyEvent, event))
	l.LogAttrs(ctx, lvl, event, append(head, attrs...)...)
}

// Debug logs event for component at debug level.
func Debug(ctx context.Context, component, event string, attrs ...slog.Attr) {
	emit(ctx, slog.LevelDebug, component, event, attrs)
}

// Info logs event for component at info level.
func Info(ctx context.Context, component, event string, attrs ...slog.Attr) {
	emit(ctx, slog.LevelInfo, component, event, attrs)
}

// Warn logs event for component at warn level.
func Warn(ctx context.Context, component, event string, attrs ...slog.Attr) {
	emit(ctx, slog.LevelWarn, component, event, attrs)
}

// Error logs event for component at error level.
func Error(ctx context.Context, component, event string, attrs ...slog.Attr) {
	emit(ctx, slog.LevelError, component, event, attrs)
}
