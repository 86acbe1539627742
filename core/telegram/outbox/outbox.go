// Package outbox runs outbound bot API calls on a small pool of goroutines.
// Handlers and worker notices submit a closure and return at once; the pool
// retries network failures and honours flood-control pauses.
package outbox

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m3rciful/dialogbot/core/logger"
)

const component = "tg.outbox"

var (
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("outbox: closed")
	// ErrFull is returned when the queue cannot take another call.
	ErrFull = errors.New("outbox: queue full")
)

// Options sizes the pool. Zero values take the defaults.
type Options struct {
	Queue    int
	Workers  int
	Attempts int
	// Backoff is multiplied by the attempt number between network retries.
	Backoff time.Duration
	// Budget bounds the time spent on one call, flood pauses included.
	Budget time.Duration
}

func (o *Options) defaults() {
	if o.Queue <= 0 {
		o.Queue = 256
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.Attempts <= 0 {
		o.Attempts = 3
	}
	if o.Backoff <= 0 {
		o.Backoff = 2 * time.Second
	}
	if o.Budget <= 0 {
		o.Budget = 15 * time.Second
	}
}

type call struct {
	ctx    context.Context
	action string
	run    func() error
}

// Dispatcher owns the queue and the delivering goroutines.
type Dispatcher struct {
	opts  Options
	calls chan call
	wg    sync.WaitGroup

	// mu guards closed; Submit holds it shared so Close never races a send.
	mu     sync.RWMutex
	closed bool

	failed atomic.Uint64
}

// New starts the delivering goroutines.
func New(opts Options) *Dispatcher {
	opts.defaults()
	d := &Dispatcher{
		opts:  opts,
		calls: make(chan call, opts.Queue),
	}
	d.wg.Add(opts.Workers)
	for range opts.Workers {
		go d.loop()
	}
	return d
}

// Submit queues run. The closure may be invoked several times.
func (d *Dispatcher) Submit(ctx context.Context, action string, run func() error) error {
	if run == nil {
		return errors.New("outbox: nil call")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.calls <- call{ctx: ctx, action: action, run: run}:
		return nil
	default:
		return ErrFull
	}
}

// Failed counts calls that gave up.
func (d *Dispatcher) Failed() uint64 { return d.failed.Load() }

// Close delivers what is queued and stops the pool.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.calls)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()
	for c := range d.calls {
		d.deliver(c)
	}
}

func (d *Dispatcher) deliver(c call) {
	// Queued notices outlive the update or worker that produced them.
	budget, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), d.opts.Budget)
	defer cancel()

	start := time.Now()
	var err error
	for attempt := 1; ; attempt++ {
		if err = c.run(); err == nil {
			logger.Debug(c.ctx, component, "outbox.sent",
				slog.String("status", "ok"),
				slog.String("action", c.action),
				slog.Int("attempts", attempt),
				slog.Duration("duration", time.Since(start)),
			)
			return
		}
		wait, flood := RetryAfter(err)
		if attempt >= d.opts.Attempts || (!flood && !Transient(err)) {
			break
		}
		if !flood {
			wait = d.opts.Backoff * time.Duration(attempt)
		}
		logger.Debug(c.ctx, component, "outbox.retry",
			slog.String("action", c.action),
			slog.Int("attempts", attempt),
			slog.Bool("flood", flood),
			slog.Duration("backoff", wait),
		)
		t := time.NewTimer(wait)
		select {
		case <-budget.Done():
			t.Stop()
			err = errors.Join(err, budget.Err())
		case <-t.C:
			continue
		}
		break
	}

	d.failed.Add(1)
	logger.Error(c.ctx, component, "outbox.failed",
		slog.String("status", "fail"),
		slog.String("action", c.action),
		slog.String("kind", Kind(err)),
		slog.String("err", Redact(err)),
		slog.Duration("duration", time.Since(start)),
	)
}
