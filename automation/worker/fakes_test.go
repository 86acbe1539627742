package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/m3rciful/dialogbot/automation"
	"github.com/m3rciful/dialogbot/automation/patterns"
)

type fakeConn struct {
	mu          sync.Mutex
	handler     automation.InboundHandler
	sent        []string
	sentAt      []time.Time
	errs        []error
	failAll     error
	disconnects int
}

func (c *fakeConn) Subscribe(h automation.InboundHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

func (c *fakeConn) Connect(context.Context) error { return nil }

func (c *fakeConn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
	return nil
}

func (c *fakeConn) SendMessage(_ context.Context, _ string, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, text)
	c.sentAt = append(c.sentAt, time.Now())
	if len(c.errs) > 0 {
		err := c.errs[0]
		c.errs = c.errs[1:]
		return err
	}
	return c.failAll
}

func (c *fakeConn) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

func (c *fakeConn) SentAt() []time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Time(nil), c.sentAt...)
}

func (c *fakeConn) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

type statusUpdate struct {
	state  automation.State
	errMsg string
}

type fakeStore struct {
	mu            sync.Mutex
	set           patterns.Set
	statuses      []statusUpdate
	records       []automation.DialogRecord
	stats         map[automation.StatKind]int
	panicPatterns bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		set: patterns.Set{
			PartnerFound:    []string{"found"},
			PartnerSkipped:  []string{"left"},
			AlreadyInDialog: []string{"busy"},
			SystemMessage:   []string{"advert"},
		},
		stats: make(map[automation.StatKind]int),
	}
}

func (s *fakeStore) LoadCredentials(context.Context, int64) (automation.Credentials, error) {
	return automation.Credentials{}, nil
}

func (s *fakeStore) LoadConfig(context.Context, int64) (automation.AccountConfig, error) {
	return automation.AccountConfig{}, nil
}

func (s *fakeStore) UpdateStatus(_ context.Context, _ int64, state automation.State, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, statusUpdate{state: state, errMsg: errMsg})
	return nil
}

func (s *fakeStore) AppendDialogRecord(_ context.Context, rec automation.DialogRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *fakeStore) LoadPatternSet(context.Context) (patterns.Set, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panicPatterns {
		panic("pattern table corrupted")
	}
	return s.set, nil
}

func (s *fakeStore) IncrementStat(_ context.Context, _ int64, kind automation.StatKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats[kind]++
	return nil
}

func (s *fakeStore) ListActiveAccounts(context.Context) ([]int64, error) { return nil, nil }

func (s *fakeStore) Records() []automation.DialogRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]automation.DialogRecord(nil), s.records...)
}

func (s *fakeStore) Stat(kind automation.StatKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats[kind]
}

func (s *fakeStore) LastStatus() statusUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.statuses) == 0 {
		return statusUpdate{}
	}
	return s.statuses[len(s.statuses)-1]
}

type fakeNotifier struct {
	mu      sync.Mutex
	notices []automation.Notice
}

func (n *fakeNotifier) NotifyOperator(_ context.Context, notice automation.Notice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return nil
}

func (n *fakeNotifier) Kinds() []automation.NoticeKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]automation.NoticeKind, 0, len(n.notices))
	for _, x := range n.notices {
		out = append(out, x.Kind)
	}
	return out
}

func (n *fakeNotifier) Notices() []automation.Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]automation.Notice(nil), n.notices...)
}

type harness struct {
	w        *Worker
	conn     *fakeConn
	store    *fakeStore
	notifier *fakeNotifier
	runErr   chan error
}

func testTiming() automation.Timing {
	return automation.Timing{
		Search:     automation.Delay{Base: 5 * time.Millisecond},
		Send:       automation.Delay{Base: 5 * time.Millisecond},
		Skip:       automation.Delay{Base: 5 * time.Millisecond},
		Inactivity: time.Second,
	}
}

func startHarness(t *testing.T, conn *fakeConn, mutate func(*Options, *automation.Timing)) *harness {
	t.Helper()
	if conn == nil {
		conn = &fakeConn{}
	}
	timing := testTiming()
	opts := Options{
		Target:     "@target",
		RetryCap:   3,
		RetryDelay: 5 * time.Millisecond,
		SkipSettle: 5 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&opts, &timing)
	}
	opts.Timing = &timing

	h := &harness{
		conn:     conn,
		store:    newFakeStore(),
		notifier: &fakeNotifier{},
		runErr:   make(chan error, 1),
	}
	cfg := automation.AccountConfig{AccountID: 7, GreetingText: "hello"}
	h.w = New(cfg, conn, h.store, h.notifier, opts)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { h.runErr <- h.w.Run(ctx) }()
	t.Cleanup(func() {
		h.w.Stop()
		cancel()
		<-h.w.Done()
	})
	return h
}

func (h *harness) waitState(t *testing.T, want automation.State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.w.State() == want }, 2*time.Second, 2*time.Millisecond,
		"state %s never reached, current %s", want, h.w.State())
}

func (h *harness) waitSent(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(h.conn.Sent()) >= n }, 2*time.Second, 2*time.Millisecond,
		"expected %d sends, got %v", n, h.conn.Sent())
}

// toWaitingReply drives the worker from start to the waiting_reply state.
func (h *harness) toWaitingReply(t *testing.T) {
	t.Helper()
	h.waitSent(t, 1)
	h.waitState(t, automation.StateSearching)
	h.w.OnMessage(automation.Message{Text: "found"})
	h.waitState(t, automation.StateWaitingReply)
}
