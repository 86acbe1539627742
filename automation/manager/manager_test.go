package manager

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/dialogbot/automation"
	"github.com/m3rciful/dialogbot/automation/patterns"
	"github.com/m3rciful/dialogbot/automation/worker"
)

type fakeConn struct {
	mu          sync.Mutex
	sendErr     error
	connectErr  error
	onConnect   func()
	hang        chan struct{}
	sent        int
	disconnects int
}

func (c *fakeConn) Subscribe(automation.InboundHandler) {}

func (c *fakeConn) Connect(context.Context) error {
	if c.onConnect != nil {
		c.onConnect()
	}
	return c.connectErr
}

func (c *fakeConn) Disconnect() error {
	if c.hang != nil {
		<-c.hang
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
	return nil
}

func (c *fakeConn) SendMessage(context.Context, string, string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent++
	return c.sendErr
}

func (c *fakeConn) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

type fakeDialer struct {
	mu    sync.Mutex
	dials atomic.Int32
	conns map[int64]*fakeConn
	delay time.Duration
}

func (d *fakeDialer) Dial(_ context.Context, creds automation.Credentials) (automation.Conn, error) {
	d.dials.Add(1)
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conns == nil {
		d.conns = make(map[int64]*fakeConn)
	}
	c, ok := d.conns[creds.AccountID]
	if !ok {
		c = &fakeConn{}
		d.conns[creds.AccountID] = c
	}
	return c, nil
}

func (d *fakeDialer) conn(id int64) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[id]
}

func (d *fakeDialer) preset(id int64, c *fakeConn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conns == nil {
		d.conns = make(map[int64]*fakeConn)
	}
	d.conns[id] = c
}

type fakeStore struct {
	mu       sync.Mutex
	accounts map[int64]bool
	statuses map[int64]automation.State
}

func newFakeStore(ids ...int64) *fakeStore {
	s := &fakeStore{accounts: map[int64]bool{}, statuses: map[int64]automation.State{}}
	for _, id := range ids {
		s.accounts[id] = true
	}
	return s
}

func (s *fakeStore) has(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[id]
}

func (s *fakeStore) LoadCredentials(_ context.Context, id int64) (automation.Credentials, error) {
	if !s.has(id) {
		return automation.Credentials{}, automation.ErrNotFound
	}
	return automation.Credentials{AccountID: id, Session: "s"}, nil
}

func (s *fakeStore) LoadConfig(_ context.Context, id int64) (automation.AccountConfig, error) {
	if !s.has(id) {
		return automation.AccountConfig{}, automation.ErrNotFound
	}
	return automation.AccountConfig{AccountID: id, GreetingText: "hi"}, nil
}

func (s *fakeStore) UpdateStatus(_ context.Context, id int64, state automation.State, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[id] = state
	return nil
}

func (s *fakeStore) Status(id int64) automation.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[id]
}

func (s *fakeStore) AppendDialogRecord(context.Context, automation.DialogRecord) error { return nil }

func (s *fakeStore) LoadPatternSet(context.Context) (patterns.Set, error) {
	return patterns.DefaultSet(), nil
}

func (s *fakeStore) IncrementStat(context.Context, int64, automation.StatKind) error { return nil }

func (s *fakeStore) ListActiveAccounts(context.Context) ([]int64, error) {
	return []int64{1, 2, 3}, nil
}

func newManager(t *testing.T, store *fakeStore, dialer *fakeDialer) *Manager {
	t.Helper()
	timing := automation.Timing{
		Search:     automation.Delay{Base: 5 * time.Millisecond},
		Send:       automation.Delay{Base: 5 * time.Millisecond},
		Skip:       automation.Delay{Base: 5 * time.Millisecond},
		Inactivity: time.Second,
	}
	m := New(store, dialer, nil, Options{
		Worker: worker.Options{
			Target:     "@target",
			RetryCap:   2,
			RetryDelay: 5 * time.Millisecond,
			Timing:     &timing,
		},
		StopGrace: 100 * time.Millisecond,
	})
	t.Cleanup(func() { m.StopAll(context.Background()) })
	return m
}

func TestStartWorkerTwice(t *testing.T) {
	t.Parallel()

	m := newManager(t, newFakeStore(1), &fakeDialer{})
	ctx := context.Background()

	require.True(t, m.StartWorker(ctx, 1))
	assert.False(t, m.StartWorker(ctx, 1))
	assert.Equal(t, 1, m.Len())

	w, ok := m.GetWorker(1)
	require.True(t, ok)
	assert.Equal(t, int64(1), w.AccountID())
}

func TestConcurrentStartSingleWinner(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{delay: 10 * time.Millisecond}
	m := newManager(t, newFakeStore(5), dialer)

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.StartWorker(context.Background(), 5) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(1), dialer.dials.Load())
	assert.Equal(t, 1, m.Len())
	assert.Zero(t, m.locks.size())
}

func TestStartWorkerUnknownAccount(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{}
	m := newManager(t, newFakeStore(), dialer)

	assert.False(t, m.StartWorker(context.Background(), 9))
	assert.Zero(t, dialer.dials.Load())
	_, ok := m.GetWorker(9)
	assert.False(t, ok)
}

func TestStartWorkerConnectFailure(t *testing.T) {
	t.Parallel()

	store := newFakeStore(2)
	dialer := &fakeDialer{}
	dialer.preset(2, &fakeConn{connectErr: errors.New("auth key unregistered")})
	m := newManager(t, store, dialer)

	assert.False(t, m.StartWorker(context.Background(), 2))
	assert.Zero(t, m.Len())
	assert.Equal(t, automation.StateError, store.Status(2))
	assert.Equal(t, 1, dialer.conn(2).Disconnects())
}

func TestStartWorkerCancelledDuringConnect(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	dialer := &fakeDialer{}
	dialer.preset(4, &fakeConn{onConnect: cancel})
	m := newManager(t, newFakeStore(4), dialer)

	assert.False(t, m.StartWorker(ctx, 4))
	assert.Zero(t, m.Len())
	assert.Equal(t, 1, dialer.conn(4).Disconnects())
}

func TestStartAllSkipsAfterCancel(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{}
	m := newManager(t, newFakeStore(1, 2, 3), dialer)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := m.StartAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, dialer.dials.Load())
	assert.Zero(t, m.Len())
}

func TestStopWorker(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{}
	m := newManager(t, newFakeStore(1), dialer)
	require.True(t, m.StartWorker(context.Background(), 1))
	w, _ := m.GetWorker(1)

	assert.True(t, m.StopWorker(1))
	assert.False(t, m.StopWorker(1))
	assert.Zero(t, m.Len())
	<-w.Done()
	assert.Equal(t, automation.StateStopped, w.State())
	assert.Equal(t, 1, dialer.conn(1).Disconnects())
}

func TestStopWorkerForcesAfterGrace(t *testing.T) {
	t.Parallel()

	hang := make(chan struct{})
	t.Cleanup(func() { close(hang) })
	dialer := &fakeDialer{}
	dialer.preset(1, &fakeConn{hang: hang})
	m := newManager(t, newFakeStore(1), dialer)
	require.True(t, m.StartWorker(context.Background(), 1))

	start := time.Now()
	assert.True(t, m.StopWorker(1))
	took := time.Since(start)

	assert.GreaterOrEqual(t, took, 100*time.Millisecond)
	assert.Less(t, took, time.Second)
	assert.Zero(t, m.Len())
}

func TestFailedWorkerFreesSlot(t *testing.T) {
	t.Parallel()

	store := newFakeStore(3)
	dialer := &fakeDialer{}
	dialer.preset(3, &fakeConn{sendErr: errors.New("peer flood")})
	m := newManager(t, store, dialer)

	require.True(t, m.StartWorker(context.Background(), 3))
	require.Eventually(t, func() bool { return m.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, automation.StateError, store.Status(3))

	dialer.preset(3, &fakeConn{})
	assert.True(t, m.StartWorker(context.Background(), 3))
}

func TestControl(t *testing.T) {
	t.Parallel()

	m := newManager(t, newFakeStore(1), &fakeDialer{})
	ctx := context.Background()

	assert.ErrorIs(t, m.Control(ctx, 1, automation.ActionSkip), ErrNoWorker)

	require.True(t, m.StartWorker(ctx, 1))
	w, _ := m.GetWorker(1)
	require.Eventually(t, func() bool { return w.State() == automation.StateSearching }, time.Second, 2*time.Millisecond)

	assert.ErrorIs(t, m.Control(ctx, 1, automation.ActionWaitMore), worker.ErrNotApplicable)
	assert.Error(t, m.Control(ctx, 1, automation.Action("explode")))
}

func TestPauseAllResumeAll(t *testing.T) {
	t.Parallel()

	m := newManager(t, newFakeStore(1, 2), &fakeDialer{})
	ctx := context.Background()
	require.True(t, m.StartWorker(ctx, 1))
	require.True(t, m.StartWorker(ctx, 2))

	n, err := m.PauseAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	for _, s := range m.Snapshot() {
		assert.Equal(t, automation.StatePaused, s.State)
	}

	n, err = m.PauseAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = m.ResumeAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	snap := m.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, int64(1), snap[0].AccountID)
	assert.Equal(t, int64(2), snap[1].AccountID)
	for _, s := range snap {
		assert.Equal(t, automation.StateSearching, s.State)
		assert.NotEmpty(t, s.RunID)
	}
}

func TestStartAllAndStopAll(t *testing.T) {
	t.Parallel()

	m := newManager(t, newFakeStore(1, 2), &fakeDialer{})
	ctx := context.Background()

	n, err := m.StartAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, m.Len())

	assert.Equal(t, 2, m.StopAll(ctx))
	assert.Zero(t, m.Len())
}

func TestKeyedMutexReleases(t *testing.T) {
	t.Parallel()

	var k keyedMutex
	unlock := k.Lock(1)
	acquired := make(chan struct{})
	go func() {
		u := k.Lock(1)
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first held")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	<-acquired
	require.Eventually(t, func() bool { return k.size() == 0 }, time.Second, time.Millisecond)

	other := k.Lock(2)
	other()
}
