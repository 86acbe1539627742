// Package worker drives one account through the search/greet/wait dialog cycle.
//
// All transitions of a Worker are evaluated on the goroutine running Run.
// Inbound messages, operator controls, delayed sends and inactivity timeouts
// are delivered to that goroutine as events, so no two transitions for the
// same account are ever evaluated concurrently.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m3rciful/dialogbot/automation"
	"github.com/m3rciful/dialogbot/automation/timer"
	"github.com/m3rciful/dialogbot/core/logger"
)

const component = "worker"

var (
	// ErrWorkerStopped is returned by control calls once Stop was requested or the loop exited.
	ErrWorkerStopped = errors.New("worker: stopped")
	// ErrNotApplicable is returned when a control action has no transition from the current state.
	ErrNotApplicable = errors.New("worker: action not applicable in current state")
)

// Options are the account-independent parts of the worker policy.
type Options struct {
	// Target is the chat the commands and greeting are sent to.
	Target        string
	SearchCommand string
	SkipCommand   string
	// RetryCap is the number of consecutive send failures that ends the worker.
	RetryCap   int
	RetryDelay time.Duration
	// SkipSettle is the pause between the skip command and the next search cycle.
	SkipSettle time.Duration
	// Timing overrides the delays derived from AccountConfig when set.
	Timing *automation.Timing

	Rand func() float64
	Now  func() time.Time
}

func (o Options) withDefaults() Options {
	if o.SearchCommand == "" {
		o.SearchCommand = "/search"
	}
	if o.SkipCommand == "" {
		o.SkipCommand = "/next"
	}
	if o.RetryCap <= 0 {
		o.RetryCap = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 10 * time.Second
	}
	if o.SkipSettle <= 0 {
		o.SkipSettle = 2 * time.Second
	}
	if o.Rand == nil {
		o.Rand = rand.Float64
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type step int

const (
	stepSearch step = iota + 1
	stepGreeting
	stepSkip
	stepBeginSearch
)

func (s step) String() string {
	switch s {
	case stepSearch:
		return "search"
	case stepGreeting:
		return "greeting"
	case stepSkip:
		return "skip"
	case stepBeginSearch:
		return "begin_search"
	}
	return "unknown"
}

type control int

const (
	ctlPause control = iota + 1
	ctlResume
	ctlSkip
	ctlWaitMore
)

func (c control) String() string {
	switch c {
	case ctlPause:
		return "pause"
	case ctlResume:
		return "resume"
	case ctlSkip:
		return "skip"
	case ctlWaitMore:
		return "wait_more"
	}
	return "unknown"
}

type eventKind int

const (
	evInbound eventKind = iota + 1
	evStep
	evTimeout
	evControl
)

type event struct {
	kind eventKind

	msg     automation.Message
	step    step
	epoch   uint64
	gen     uint64
	control control
	reply   chan error
}

// Worker is the dialog state machine of a single account.
type Worker struct {
	accountID int64
	cfg       automation.AccountConfig
	timing    automation.Timing
	opts      Options

	conn     automation.Conn
	store    automation.Store
	notifier automation.Notifier

	events   chan event
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	connOnce sync.Once
	running  atomic.Bool
	state    atomic.Value
	since    atomic.Int64

	inactivity timer.Controller
	logCtx     context.Context

	// Owned by the Run goroutine.
	ctx         context.Context
	epoch       uint64
	pending     *time.Timer
	failures    int
	dialogStart time.Time
	replies     int
	err         error
}

// New builds a worker for cfg. The connection must already be established;
// the worker subscribes itself to its inbound messages.
func New(cfg automation.AccountConfig, conn automation.Conn, store automation.Store, notifier automation.Notifier, opts Options) *Worker {
	opts = opts.withDefaults()
	timing := cfg.Timing()
	if opts.Timing != nil {
		timing = *opts.Timing
	}
	w := &Worker{
		accountID: cfg.AccountID,
		cfg:       cfg,
		timing:    timing,
		opts:      opts,
		conn:      conn,
		store:     store,
		notifier:  notifier,
		events:    make(chan event, 64),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	w.logCtx = logger.WithAccount(context.Background(), cfg.AccountID)
	w.ctx = w.logCtx
	w.running.Store(true)
	w.setState(automation.StateIdle)
	conn.Subscribe(w)
	return w
}

// AccountID returns the account driven by the worker.
func (w *Worker) AccountID() int64 { return w.accountID }

// State returns the current state.
func (w *Worker) State() automation.State {
	return w.state.Load().(automation.State)
}

// Since returns when the current state was entered.
func (w *Worker) Since() time.Time {
	return time.Unix(0, w.since.Load())
}

// Done is closed when Run returns.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Run executes the state machine until Stop, a fatal error, or ctx cancellation.
// It returns the error that moved the worker to the error state, if any.
func (w *Worker) Run(ctx context.Context) error {
	defer close(w.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ctx = logger.WithAccount(ctx, w.accountID)
	w.ctx = ctx
	defer w.shutdown()

	if !w.running.Load() {
		return nil
	}
	logger.Info(ctx, component, "worker.run", slog.String("status", "ok"))
	w.safely(w.enterSearching)

	for {
		if w.State() == automation.StateError {
			return w.err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-w.stopCh:
			return nil
		case ev := <-w.events:
			w.safely(func() { w.dispatch(ev) })
		}
	}
}

// OnMessage delivers an inbound message to the state machine.
func (w *Worker) OnMessage(msg automation.Message) {
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = w.opts.Now()
	}
	w.post(event{kind: evInbound, msg: msg})
}

// Pause suspends any running cycle.
func (w *Worker) Pause(ctx context.Context) error { return w.control(ctx, ctlPause) }

// Resume restarts the search cycle of a paused worker.
func (w *Worker) Resume(ctx context.Context) error { return w.control(ctx, ctlResume) }

// Skip leaves the current counterpart and starts a new search.
func (w *Worker) Skip(ctx context.Context) error { return w.control(ctx, ctlSkip) }

// WaitMore rearms the inactivity timer of a worker paused by a timeout.
func (w *Worker) WaitMore(ctx context.Context) error { return w.control(ctx, ctlWaitMore) }

// Stop requests a graceful stop. It is safe to call multiple times and does
// not wait for the connection to close; Done reports when the loop is gone.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.running.Store(false)
		w.inactivity.Cancel()
		close(w.stopCh)
		go w.closeConn()
	})
}

func (w *Worker) control(ctx context.Context, c control) error {
	if !w.running.Load() {
		return ErrWorkerStopped
	}
	reply := make(chan error, 1)
	select {
	case w.events <- event{kind: evControl, control: c, reply: reply}:
	case <-w.stopCh:
		return ErrWorkerStopped
	case <-w.done:
		return ErrWorkerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-w.done:
		return ErrWorkerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) post(ev event) {
	select {
	case w.events <- ev:
	case <-w.stopCh:
	case <-w.done:
	}
}

func (w *Worker) safely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(w.ctx, component, "worker.panic",
				slog.Any("err", r),
				slog.String("stack", string(debug.Stack())),
			)
			w.fail(fmt.Errorf("panic: %v", r))
		}
	}()
	fn()
}

func (w *Worker) dispatch(ev event) {
	if !w.running.Load() {
		if ev.reply != nil {
			ev.reply <- ErrWorkerStopped
		}
		return
	}
	switch ev.kind {
	case evInbound:
		w.handleMessage(ev.msg)
	case evStep:
		if ev.epoch != w.epoch {
			return
		}
		w.pending = nil
		w.runStep(ev.step)
	case evTimeout:
		w.handleTimeout(ev.gen)
	case evControl:
		ev.reply <- w.applyControl(ev.control)
	}
}

func (w *Worker) shutdown() {
	w.running.Store(false)
	w.cancelPending()
	w.inactivity.Cancel()
	w.closeConn()

	if w.State() == automation.StateError {
		return
	}
	ctx, cancel := context.WithTimeout(w.logCtx, 5*time.Second)
	defer cancel()
	w.setState(automation.StateStopped)
	w.persistStatus(ctx, automation.StateStopped, "")
	logger.Info(ctx, component, "worker.stopped", slog.String("status", "ok"))
}

func (w *Worker) closeConn() {
	w.connOnce.Do(func() {
		if err := w.conn.Disconnect(); err != nil {
			logger.Warn(w.logCtx, component, "worker.disconnect",
				slog.String("status", "fail"),
				slog.String("err", err.Error()),
			)
		}
	})
}

func (w *Worker) setState(s automation.State) {
	w.state.Store(s)
	w.since.Store(w.opts.Now().UnixNano())
}

func (w *Worker) transition(to automation.State) {
	from := w.State()
	w.setState(to)
	logger.Info(w.ctx, component, "worker.state",
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
	w.persistStatus(w.ctx, to, "")
}

func (w *Worker) persistStatus(ctx context.Context, s automation.State, errMsg string) {
	if err := w.store.UpdateStatus(ctx, w.accountID, s, errMsg); err != nil {
		logger.Warn(ctx, component, "worker.status.persist",
			slog.String("status", "fail"),
			slog.String("state", string(s)),
			slog.String("err", err.Error()),
		)
	}
}

// fail moves the worker to the terminal error state. The loop exits on its next check.
func (w *Worker) fail(err error) {
	if w.State() == automation.StateError {
		return
	}
	w.err = err
	w.cancelPending()
	w.inactivity.Cancel()
	from := w.State()
	w.setState(automation.StateError)
	logger.Error(w.ctx, component, "worker.state",
		slog.String("from", string(from)),
		slog.String("to", string(automation.StateError)),
		slog.String("err", err.Error()),
	)
	w.persistStatus(w.ctx, automation.StateError, err.Error())
	w.notify(automation.Notice{
		AccountID: w.accountID,
		Kind:      automation.NoticeFailure,
		Message:   err.Error(),
	})
}
