// Package manager owns the running account workers.
//
// At most one worker is registered per account id. Starting and stopping an
// account is serialized by an account-scoped lock; the entry map has its own
// lock so lookups never wait on a slow start or stop.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/m3rciful/dialogbot/automation"
	"github.com/m3rciful/dialogbot/automation/worker"
	"github.com/m3rciful/dialogbot/core/logger"
)

const component = "manager"

// ErrNoWorker is returned by Control when no worker runs for the account.
var ErrNoWorker = errors.New("manager: no worker for account")

// Options tune worker construction and lifecycle bounds.
type Options struct {
	Worker worker.Options
	// StopGrace is how long StopWorker waits before force-cancelling.
	StopGrace time.Duration
	// ConnectTimeout bounds the connection handshake of StartWorker.
	ConnectTimeout time.Duration
	// StartParallelism caps concurrent handshakes in StartAll.
	StartParallelism int
}

func (o Options) withDefaults() Options {
	if o.StopGrace <= 0 {
		o.StopGrace = 10 * time.Second
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 30 * time.Second
	}
	if o.StartParallelism <= 0 {
		o.StartParallelism = 4
	}
	return o
}

type entry struct {
	w       *worker.Worker
	cancel  context.CancelFunc
	rid     string
	started time.Time
}

// Manager is the registry of running workers.
type Manager struct {
	store    automation.Store
	dialer   automation.Dialer
	notifier automation.Notifier
	opts     Options

	locks keyedMutex

	mu      sync.RWMutex
	entries map[int64]*entry
}

// New builds an empty registry.
func New(store automation.Store, dialer automation.Dialer, notifier automation.Notifier, opts Options) *Manager {
	return &Manager{
		store:    store,
		dialer:   dialer,
		notifier: notifier,
		opts:     opts.withDefaults(),
		entries:  make(map[int64]*entry),
	}
}

// StartWorker loads, connects and launches the worker of an account. It returns
// false when the account already has a worker or could not be brought up.
func (m *Manager) StartWorker(ctx context.Context, accountID int64) bool {
	unlock := m.locks.Lock(accountID)
	defer unlock()

	ctx = logger.WithAccount(ctx, accountID)
	if _, ok := m.lookup(accountID); ok {
		logger.Warn(ctx, component, "manager.start",
			slog.String("status", "skip"),
			slog.String("reason", "already_running"),
		)
		return false
	}

	start := time.Now()
	cfg, err := m.store.LoadConfig(ctx, accountID)
	if err != nil {
		m.startFailed(ctx, "load_config", err)
		return false
	}
	creds, err := m.store.LoadCredentials(ctx, accountID)
	if err != nil {
		m.startFailed(ctx, "load_credentials", err)
		return false
	}
	conn, err := m.dialer.Dial(ctx, creds)
	if err != nil {
		m.startFailed(ctx, "dial", err)
		return false
	}

	w := worker.New(cfg, conn, m.store, m.notifier, m.opts.Worker)
	connectCtx, cancelConnect := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	err = conn.Connect(connectCtx)
	cancelConnect()
	if err != nil {
		m.startFailed(ctx, "connect", err)
		_ = conn.Disconnect()
		if uerr := m.store.UpdateStatus(ctx, accountID, automation.StateError, fmt.Sprintf("connect: %v", err)); uerr != nil {
			logger.Warn(ctx, component, "manager.status.persist",
				slog.String("status", "fail"),
				slog.String("err", uerr.Error()),
			)
		}
		return false
	}
	// Shutdown began while connecting; StopAll may already have taken its snapshot.
	if err := ctx.Err(); err != nil {
		m.startFailed(ctx, "cancelled", err)
		_ = conn.Disconnect()
		return false
	}

	rid := uuid.NewString()
	runCtx, cancel := context.WithCancel(logger.WithRID(context.WithoutCancel(ctx), rid))
	e := &entry{w: w, cancel: cancel, rid: rid, started: time.Now()}

	m.mu.Lock()
	m.entries[accountID] = e
	m.mu.Unlock()

	go m.run(runCtx, accountID, e)

	logger.Info(runCtx, component, "manager.start",
		slog.String("status", "ok"),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	)
	return true
}

func (m *Manager) startFailed(ctx context.Context, step string, err error) {
	logger.Error(ctx, component, "manager.start",
		slog.String("status", "fail"),
		slog.String("step", step),
		slog.String("err", err.Error()),
	)
}

func (m *Manager) run(ctx context.Context, accountID int64, e *entry) {
	defer e.cancel()
	err := e.w.Run(ctx)

	// A worker that ended on its own frees its slot; StopWorker does the same
	// for stops it initiated, so only remove our own entry.
	m.mu.Lock()
	if cur, ok := m.entries[accountID]; ok && cur == e {
		delete(m.entries, accountID)
	}
	m.mu.Unlock()

	attrs := []slog.Attr{
		slog.String("state", string(e.w.State())),
		slog.Duration("uptime", logger.RoundMS(time.Since(e.started))),
	}
	if err != nil {
		attrs = append(attrs, slog.String("status", "fail"), slog.String("err", err.Error()))
		logger.Error(ctx, component, "manager.exit", attrs...)
		return
	}
	attrs = append(attrs, slog.String("status", "ok"))
	logger.Info(ctx, component, "manager.exit", attrs...)
}

// StopWorker stops the worker of an account, force-cancelling it when it does
// not finish within the grace period. The entry is always removed. It returns
// false when no worker was registered.
func (m *Manager) StopWorker(accountID int64) bool {
	unlock := m.locks.Lock(accountID)
	defer unlock()

	e, ok := m.lookup(accountID)
	if !ok {
		return false
	}
	ctx := logger.WithRID(logger.WithAccount(context.Background(), accountID), e.rid)

	e.w.Stop()
	timer := time.NewTimer(m.opts.StopGrace)
	defer timer.Stop()
	select {
	case <-e.w.Done():
		logger.Info(ctx, component, "manager.stop", slog.String("status", "ok"))
	case <-timer.C:
		e.cancel()
		logger.Warn(ctx, component, "manager.stop",
			slog.String("status", "timeout"),
			slog.Duration("grace", m.opts.StopGrace),
		)
	}

	m.mu.Lock()
	if cur, ok := m.entries[accountID]; ok && cur == e {
		delete(m.entries, accountID)
	}
	m.mu.Unlock()
	return true
}

// GetWorker returns the running worker of an account.
func (m *Manager) GetWorker(accountID int64) (*worker.Worker, bool) {
	e, ok := m.lookup(accountID)
	if !ok {
		return nil, false
	}
	return e.w, true
}

func (m *Manager) lookup(accountID int64) (*entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[accountID]
	return e, ok
}

// ids returns a sorted snapshot of the registered account ids.
func (m *Manager) ids() []int64 {
	m.mu.RLock()
	out := make([]int64, 0, len(m.entries))
	for id := range m.entries {
		out = append(out, id)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Control applies an operator action to the worker of an account.
func (m *Manager) Control(ctx context.Context, accountID int64, action automation.Action) error {
	w, ok := m.GetWorker(accountID)
	if !ok {
		return ErrNoWorker
	}
	var err error
	switch action {
	case automation.ActionSkip:
		err = w.Skip(ctx)
	case automation.ActionWaitMore:
		err = w.WaitMore(ctx)
	case automation.ActionResume:
		err = w.Resume(ctx)
	default:
		return fmt.Errorf("manager: unknown action %q", action)
	}
	logger.Info(logger.WithAccount(ctx, accountID), component, "manager.control",
		slog.String("op", string(action)),
		slog.String("status", logger.Status(err)),
	)
	return err
}

// PauseAll pauses every running worker. Workers that are not in a running state
// are left alone; other failures are joined.
func (m *Manager) PauseAll(ctx context.Context) (int, error) {
	return m.each(ctx, "pause_all", func(w *worker.Worker) (bool, error) {
		if !w.State().Running() {
			return false, nil
		}
		return true, w.Pause(ctx)
	})
}

// ResumeAll resumes every paused worker.
func (m *Manager) ResumeAll(ctx context.Context) (int, error) {
	return m.each(ctx, "resume_all", func(w *worker.Worker) (bool, error) {
		if w.State() != automation.StatePaused {
			return false, nil
		}
		return true, w.Resume(ctx)
	})
}

func (m *Manager) each(ctx context.Context, op string, fn func(*worker.Worker) (bool, error)) (int, error) {
	var (
		errs    []error
		applied int
	)
	for _, id := range m.ids() {
		w, ok := m.GetWorker(id)
		if !ok {
			continue
		}
		did, err := fn(w)
		if errors.Is(err, worker.ErrNotApplicable) || errors.Is(err, worker.ErrWorkerStopped) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("account %d: %w", id, err))
			continue
		}
		if did {
			applied++
		}
	}
	err := errors.Join(errs...)
	logger.Info(ctx, component, "manager."+op,
		slog.String("status", logger.Status(err)),
		slog.Int("workers", applied),
	)
	return applied, err
}

// StopAll stops every registered worker in parallel and returns how many were stopped.
func (m *Manager) StopAll(ctx context.Context) int {
	var (
		g       errgroup.Group
		stopped atomic.Int32
	)
	for _, id := range m.ids() {
		g.Go(func() error {
			if m.StopWorker(id) {
				stopped.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	n := int(stopped.Load())
	logger.Info(ctx, component, "manager.stop_all",
		slog.String("status", "ok"),
		slog.Int("workers", n),
	)
	return n
}

// StartAll starts a worker for every active account without one. Connections
// are opened with bounded parallelism.
func (m *Manager) StartAll(ctx context.Context) (int, error) {
	ids, err := m.store.ListActiveAccounts(ctx)
	if err != nil {
		return 0, err
	}
	var (
		g       errgroup.Group
		started atomic.Int32
	)
	g.SetLimit(m.opts.StartParallelism)
	for _, id := range ids {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			if m.StartWorker(ctx, id) {
				started.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	n := int(started.Load())
	logger.Info(ctx, component, "manager.start_all",
		slog.String("status", "ok"),
		slog.Int("workers", n),
		slog.Int("accounts", len(ids)),
	)
	return n, nil
}

// Status describes one registered worker.
type Status struct {
	AccountID int64
	State     automation.State
	Since     time.Time
	Started   time.Time
	RunID     string
}

// Snapshot lists the registered workers ordered by account id.
func (m *Manager) Snapshot() []Status {
	m.mu.RLock()
	out := make([]Status, 0, len(m.entries))
	for id, e := range m.entries {
		out = append(out, Status{
			AccountID: id,
			State:     e.w.State(),
			Since:     e.w.Since(),
			Started:   e.started,
			RunID:     e.rid,
		})
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out
}

// Len returns the number of registered workers.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
