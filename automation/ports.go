package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/m3rciful/dialogbot/automation/patterns"
)

// ErrNotFound is returned by a Store when the account does not exist.
var ErrNotFound = errors.New("automation: account not found")

// RateLimitError is returned by a Conn when the remote side demands a pause.
type RateLimitError struct {
	Wait time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.Wait)
}

// RetryAfter extracts the mandatory wait from a rate-limit error.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.Wait, true
	}
	return 0, false
}

// InboundHandler receives messages delivered by a Conn.
type InboundHandler interface {
	OnMessage(msg Message)
}

// Conn is a persistent connection to the chat-automation target.
type Conn interface {
	// Subscribe registers the receiver of inbound messages; it is called before Connect.
	Subscribe(h InboundHandler)
	Connect(ctx context.Context) error
	Disconnect() error
	SendMessage(ctx context.Context, target, text string) error
}

// Dialer builds a connection from decrypted credentials.
type Dialer interface {
	Dial(ctx context.Context, creds Credentials) (Conn, error)
}

// Store persists account settings, worker status and captured dialogs.
// Implementations must be safe for concurrent use by many workers.
type Store interface {
	LoadCredentials(ctx context.Context, accountID int64) (Credentials, error)
	LoadConfig(ctx context.Context, accountID int64) (AccountConfig, error)
	UpdateStatus(ctx context.Context, accountID int64, state State, errMsg string) error
	AppendDialogRecord(ctx context.Context, rec DialogRecord) error
	LoadPatternSet(ctx context.Context) (patterns.Set, error)
	IncrementStat(ctx context.Context, accountID int64, kind StatKind) error
	ListActiveAccounts(ctx context.Context) ([]int64, error)
}

// Action is an operator control attached to a notification.
type Action string

const (
	ActionSkip     Action = "skip"
	ActionWaitMore Action = "wait_more"
	ActionResume   Action = "resume"
)

// NoticeKind identifies why the operator is being notified.
type NoticeKind string

const (
	NoticeReply   NoticeKind = "reply"
	NoticeTimeout NoticeKind = "timeout"
	NoticeFailure NoticeKind = "failure"
)

// Notice is an operator-facing notification emitted by a worker.
type Notice struct {
	AccountID int64
	Kind      NoticeKind
	Record    *DialogRecord
	// Timeout is the inactivity window that elapsed, for timeout notices.
	Timeout time.Duration
	Message string
	Actions []Action
}

// Notifier delivers notices to the operator.
type Notifier interface {
	NotifyOperator(ctx context.Context, n Notice) error
}
