package cmd

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/dialogbot/core/telegram"
)

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("DIALOGBOT_CONFIG", "")

	p, err := ResolveConfigPath("flag.yaml", "DIALOGBOT_CONFIG", "default.yaml")
	require.NoError(t, err)
	assert.Equal(t, "flag.yaml", p)

	p, err = ResolveConfigPath("", "DIALOGBOT_CONFIG", "default.yaml")
	require.NoError(t, err)
	assert.Equal(t, "default.yaml", p)

	t.Setenv("DIALOGBOT_CONFIG", "env.yaml")
	p, err = ResolveConfigPath("", "DIALOGBOT_CONFIG", "default.yaml")
	require.NoError(t, err)
	assert.Equal(t, "env.yaml", p)

	t.Setenv("DIALOGBOT_CONFIG", "")
	_, err = ResolveConfigPath("", "DIALOGBOT_CONFIG", "")
	assert.ErrorContains(t, err, "DIALOGBOT_CONFIG")
}

type stubService struct {
	opts telegram.RunOptions
	err  error
}

func (s stubService) BotOptions() (telegram.RunOptions, error) { return s.opts, s.err }

func TestRunRequiresStart(t *testing.T) {
	assert.ErrorContains(t, Run(context.Background(), Options{}), "Start is required")
}

func TestRunWrapsLifecycleHooks(t *testing.T) {
	var calls []string
	svc := stubService{opts: telegram.RunOptions{
		OnStart: func(context.Context, telegram.Runtime) error { calls = append(calls, "start"); return nil },
		OnStop:  func(context.Context, telegram.Runtime) error { calls = append(calls, "stop"); return nil },
	}}
	flushed := false

	err := Run(context.Background(), Options{
		ConfigPath: "config.yaml",
		Start: func(_ context.Context, path string) (Service, error) {
			assert.Equal(t, "config.yaml", path)
			return svc, nil
		},
		RunBot: func(ctx context.Context, opts telegram.RunOptions) error {
			require.NoError(t, opts.OnStart(ctx, telegram.Runtime{}))
			require.NoError(t, opts.OnStop(ctx, telegram.Runtime{}))
			return nil
		},
		ShutdownLogger: func() error { flushed = true; return nil },
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"start", "stop"}, calls)
	assert.True(t, flushed)
}

func TestRunReportsStartFailure(t *testing.T) {
	flushed := false
	err := Run(context.Background(), Options{
		ConfigPath: "broken.yaml",
		Start: func(context.Context, string) (Service, error) {
			return nil, errors.New("bad yaml")
		},
		ShutdownLogger: func() error { flushed = true; return nil },
	})
	assert.ErrorContains(t, err, "broken.yaml")
	assert.ErrorContains(t, err, "bad yaml")
	assert.True(t, flushed)
}

func TestRunReturnsBotOptionsError(t *testing.T) {
	err := Run(context.Background(), Options{
		ConfigPath: "config.yaml",
		Start: func(context.Context, string) (Service, error) {
			return stubService{err: errors.New("duplicate command")}, nil
		},
		ShutdownLogger: func() error { return nil },
	})
	assert.ErrorContains(t, err, "duplicate command")
}
