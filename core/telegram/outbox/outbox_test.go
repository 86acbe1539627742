package outbox

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"
)

func TestSubmitWaitsOutFlood(t *testing.T) {
	d := New(Options{Workers: 1, Attempts: 2, Backoff: time.Millisecond, Budget: 5 * time.Second})

	var calls atomic.Int32
	var first, second atomic.Int64
	require.NoError(t, d.Submit(context.Background(), "notify.reply", func() error {
		if calls.Add(1) == 1 {
			first.Store(time.Now().UnixNano())
			return tele.FloodError{RetryAfter: 1}
		}
		second.Store(time.Now().UnixNano())
		return nil
	}))
	d.Close()

	assert.Equal(t, int32(2), calls.Load())
	assert.GreaterOrEqual(t, time.Duration(second.Load()-first.Load()), time.Second)
	assert.Zero(t, d.Failed())
}

func TestSubmitRetriesDialErrors(t *testing.T) {
	d := New(Options{Workers: 1, Attempts: 3, Backoff: time.Millisecond})

	var calls atomic.Int32
	require.NoError(t, d.Submit(context.Background(), "send.text", func() error {
		if calls.Add(1) < 3 {
			return &net.OpError{Op: "dial", Err: errors.New("refused")}
		}
		return nil
	}))
	d.Close()

	assert.Equal(t, int32(3), calls.Load())
	assert.Zero(t, d.Failed())
}

func TestSubmitGivesUpOnPermanentErrors(t *testing.T) {
	d := New(Options{Workers: 1, Attempts: 5, Backoff: time.Millisecond})

	var calls atomic.Int32
	require.NoError(t, d.Submit(context.Background(), "notify.reply", func() error {
		calls.Add(1)
		return errors.New("telegram: chat not found (400)")
	}))
	d.Close()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, uint64(1), d.Failed())
}

func TestSubmitSurvivesCancelledContext(t *testing.T) {
	d := New(Options{Workers: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran atomic.Bool
	require.NoError(t, d.Submit(ctx, "notify.timeout", func() error {
		ran.Store(true)
		return nil
	}))
	d.Close()
	assert.True(t, ran.Load())
}

func TestSubmitAfterClose(t *testing.T) {
	d := New(Options{})
	d.Close()
	d.Close()

	assert.ErrorIs(t, d.Submit(context.Background(), "x", func() error { return nil }), ErrClosed)
	assert.Error(t, d.Submit(context.Background(), "x", nil))
}

func TestSubmitReportsFullQueue(t *testing.T) {
	d := New(Options{Workers: 1, Queue: 1})
	release := make(chan struct{})
	started := make(chan struct{})
	block := func() error {
		close(started)
		<-release
		return nil
	}
	require.NoError(t, d.Submit(context.Background(), "block", block))
	<-started
	require.NoError(t, d.Submit(context.Background(), "queued", func() error { return nil }))
	assert.ErrorIs(t, d.Submit(context.Background(), "dropped", func() error { return nil }), ErrFull)
	close(release)
	d.Close()
}

func TestClassification(t *testing.T) {
	wait, ok := RetryAfter(tele.FloodError{RetryAfter: 3})
	assert.True(t, ok)
	assert.Equal(t, 3*time.Second, wait)
	_, ok = RetryAfter(&tele.FloodError{RetryAfter: 7})
	assert.True(t, ok)
	_, ok = RetryAfter(errors.New("boom"))
	assert.False(t, ok)

	assert.True(t, Transient(&net.OpError{Op: "dial", Err: errors.New("refused")}))
	assert.False(t, Transient(errors.New("bad request")))
	assert.False(t, Transient(nil))

	assert.Equal(t, "timeout", Kind(context.DeadlineExceeded))
	assert.Equal(t, "flood", Kind(tele.FloodError{RetryAfter: 1}))
	assert.Equal(t, "http_4xx", Kind(errors.New("telegram: chat not found (400)")))
	assert.Equal(t, "http_5xx", Kind(errors.New("telegram: internal (502)")))
	assert.Equal(t, "unknown", Kind(errors.New("boom")))
	assert.Equal(t, "post bot<redacted>/sendMessage", Redact(errors.New("post bot123:ABC_def/sendMessage")))
}
