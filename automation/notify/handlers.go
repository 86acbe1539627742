package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/dialogbot/automation"
	"github.com/m3rciful/dialogbot/automation/manager"
	"github.com/m3rciful/dialogbot/automation/store"
	"github.com/m3rciful/dialogbot/automation/worker"
	"github.com/m3rciful/dialogbot/core/logger"
	tg "github.com/m3rciful/dialogbot/core/telegram"
	"github.com/m3rciful/dialogbot/core/telegram/callbacks"
	"github.com/m3rciful/dialogbot/core/telegram/format"
	"github.com/m3rciful/dialogbot/core/telegram/reply"
)

// Registry is the worker registry as seen by the operator.
type Registry interface {
	Control(ctx context.Context, accountID int64, action automation.Action) error
	StartWorker(ctx context.Context, accountID int64) bool
	StopWorker(accountID int64) bool
	StartAll(ctx context.Context) (int, error)
	PauseAll(ctx context.Context) (int, error)
	ResumeAll(ctx context.Context) (int, error)
	StopAll(ctx context.Context) int
	Snapshot() []manager.Status
}

// Accounts reads the account list and counters.
type Accounts interface {
	ListAccounts(ctx context.Context) ([]store.AccountSummary, error)
	StatsSince(ctx context.Context, since time.Time) (store.Totals, error)
}

// Handlers implements the operator commands and button callbacks.
type Handlers struct {
	workers  Registry
	accounts Accounts
	now      func() time.Time
}

// NewHandlers binds the operator surface to the registry and the store.
func NewHandlers(workers Registry, accounts Accounts) *Handlers {
	return &Handlers{workers: workers, accounts: accounts, now: time.Now}
}

// Register adds the operator commands and button actions to console.
func (h *Handlers) Register(console *tg.Console) error {
	for _, cmd := range []tg.Command{
		{Name: "/start", Help: "What this bot does", Handler: h.help},
		{Name: "/status", Help: "Accounts and worker states", Handler: h.status, Operator: true},
		{Name: "/stats", Help: "Today and 7-day counters", Handler: h.stats, Operator: true},
		{Name: "/startall", Help: "Start all active accounts", Handler: h.startAll, Operator: true},
		{Name: "/pauseall", Help: "Pause all workers", Handler: h.pauseAll, Operator: true},
		{Name: "/resumeall", Help: "Resume paused workers", Handler: h.resumeAll, Operator: true},
		{Name: "/stopall", Help: "Stop all workers", Handler: h.stopAll, Operator: true},
		{Name: "/run", Help: "Start one account: /run <id>", Handler: h.runOne, Operator: true},
		{Name: "/halt", Help: "Stop one account: /halt <id>", Handler: h.haltOne, Operator: true},
	} {
		if err := console.Command(cmd); err != nil {
			return err
		}
	}
	for key, action := range map[string]automation.Action{
		CallbackSkip:   automation.ActionSkip,
		CallbackWait:   automation.ActionWaitMore,
		CallbackResume: automation.ActionResume,
	} {
		if err := console.Action(key, h.onAction(action)); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handlers) help(c tele.Context) error {
	return reply.Text(c, "Operator console of the dialog workers. Use /status to see the accounts.")
}

func (h *Handlers) onAction(action automation.Action) tele.HandlerFunc {
	return func(c tele.Context) error {
		id, err := callbacks.Target(c)
		if err != nil {
			return c.Respond(&tele.CallbackResponse{Text: "Bad account id"})
		}
		ctx := logger.WithAccount(reply.Context(c), id)
		err = h.workers.Control(ctx, id, action)
		if err != nil && !isExpected(err) {
			logger.Warn(ctx, component, "notify.control",
				slog.String("status", "fail"),
				slog.String("op", string(action)),
				slog.String("err", err.Error()),
			)
		}
		return c.Respond(&tele.CallbackResponse{Text: ControlReply(action, err)})
	}
}

func isExpected(err error) bool {
	return errors.Is(err, manager.ErrNoWorker) ||
		errors.Is(err, worker.ErrNotApplicable) ||
		errors.Is(err, worker.ErrWorkerStopped)
}

// ControlReply is the toast shown after a button press.
func ControlReply(action automation.Action, err error) string {
	switch {
	case err == nil:
		switch action {
		case automation.ActionSkip:
			return "Skipped, searching again"
		case automation.ActionWaitMore:
			return "Waiting for a reply"
		case automation.ActionResume:
			return "Resumed"
		}
		return "Done"
	case errors.Is(err, manager.ErrNoWorker), errors.Is(err, worker.ErrWorkerStopped):
		return "Worker is not running"
	case errors.Is(err, worker.ErrNotApplicable):
		return "Not possible right now"
	default:
		return "Failed: " + err.Error()
	}
}

func (h *Handlers) status(c tele.Context) error {
	ctx := reply.Context(c)
	accounts, err := h.accounts.ListAccounts(ctx)
	if err != nil {
		return err
	}
	return reply.Markdown(c, RenderStatus(accounts, h.workers.Snapshot(), h.now()), nil)
}

// RenderStatus lists every account with the live state of its worker.
func RenderStatus(accounts []store.AccountSummary, running []manager.Status, now time.Time) string {
	live := make(map[int64]manager.Status, len(running))
	for _, s := range running {
		live[s.AccountID] = s
	}
	var b strings.Builder
	fmt.Fprintf(&b, "*Accounts* %d · running %d\n", len(accounts), len(running))
	if len(accounts) == 0 {
		b.WriteString("\nNo accounts yet.")
		return b.String()
	}
	for _, a := range accounts {
		b.WriteString("\n")
		fmt.Fprintf(&b, "%s `#%d` %s", stateIcon(a, live), a.ID, format.MD(maskPhone(a.Phone)))
		if s, ok := live[a.ID]; ok {
			fmt.Fprintf(&b, " · %s %s", s.State, humanize.RelTime(s.Since, now, "ago", "from now"))
			continue
		}
		fmt.Fprintf(&b, " · %s", format.MD(a.Status))
		if a.LastActive.Valid {
			fmt.Fprintf(&b, " %s", humanize.RelTime(a.LastActive.Time, now, "ago", "from now"))
		}
		if a.ErrorMessage.Valid && a.ErrorMessage.String != "" {
			fmt.Fprintf(&b, "\n    ⚠️ %s", format.MD(logger.Clip(a.ErrorMessage.String, 120)))
		}
	}
	return b.String()
}

func stateIcon(a store.AccountSummary, live map[int64]manager.Status) string {
	if s, ok := live[a.ID]; ok {
		if s.State == automation.StatePaused {
			return "⏸"
		}
		return "🟢"
	}
	if !a.IsActive {
		return "⚪️"
	}
	if a.Status == string(automation.StateError) {
		return "🔴"
	}
	return "⚫️"
}

// maskPhone keeps the country prefix and the last two digits.
func maskPhone(phone string) string {
	if len(phone) <= 6 {
		return phone
	}
	return phone[:4] + strings.Repeat("•", len(phone)-6) + phone[len(phone)-2:]
}

func (h *Handlers) stats(c tele.Context) error {
	ctx := reply.Context(c)
	now := h.now()
	today, err := h.accounts.StatsSince(ctx, now)
	if err != nil {
		return err
	}
	week, err := h.accounts.StatsSince(ctx, now.AddDate(0, 0, -6))
	if err != nil {
		return err
	}
	return reply.Markdown(c, RenderStats(today, week), nil)
}

// RenderStats formats the daily and weekly totals.
func RenderStats(today, week store.Totals) string {
	var b strings.Builder
	b.WriteString("*Stats*\n")
	for _, row := range []struct {
		label string
		t     store.Totals
	}{{"Today", today}, {"7 days", week}} {
		fmt.Fprintf(&b, "\n_%s_\ndialogs %s · replies %s · skips %s · timeouts %s · reply rate %.0f%%\n",
			row.label,
			humanize.Comma(row.t.Dialogs),
			humanize.Comma(row.t.Replies),
			humanize.Comma(row.t.Skips),
			humanize.Comma(row.t.Timeouts),
			row.t.ReplyRate()*100,
		)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (h *Handlers) startAll(c tele.Context) error {
	n, err := h.workers.StartAll(reply.Context(c))
	if err != nil {
		return err
	}
	return reply.Text(c, fmt.Sprintf("Started %d worker(s).", n))
}

func (h *Handlers) pauseAll(c tele.Context) error {
	n, err := h.workers.PauseAll(reply.Context(c))
	return reply.Text(c, bulkReply("Paused", n, err))
}

func (h *Handlers) resumeAll(c tele.Context) error {
	n, err := h.workers.ResumeAll(reply.Context(c))
	return reply.Text(c, bulkReply("Resumed", n, err))
}

func (h *Handlers) stopAll(c tele.Context) error {
	n := h.workers.StopAll(reply.Context(c))
	return reply.Text(c, fmt.Sprintf("Stopped %d worker(s).", n))
}

func bulkReply(verb string, n int, err error) string {
	msg := fmt.Sprintf("%s %d worker(s).", verb, n)
	if err != nil {
		msg += "\nSome failed: " + err.Error()
	}
	return msg
}

func (h *Handlers) runOne(c tele.Context) error {
	id, ok := accountArg(c)
	if !ok {
		return reply.Text(c, "Usage: /run <account id>")
	}
	if !h.workers.StartWorker(reply.Context(c), id) {
		return reply.Text(c, fmt.Sprintf("Account %d was not started: already running or unavailable, see /status.", id))
	}
	return reply.Text(c, fmt.Sprintf("Account %d started.", id))
}

func (h *Handlers) haltOne(c tele.Context) error {
	id, ok := accountArg(c)
	if !ok {
		return reply.Text(c, "Usage: /halt <account id>")
	}
	if !h.workers.StopWorker(id) {
		return reply.Text(c, fmt.Sprintf("Account %d has no worker.", id))
	}
	return reply.Text(c, fmt.Sprintf("Account %d stopped.", id))
}

func accountArg(c tele.Context) (int64, bool) {
	args := c.Args()
	if len(args) == 0 {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
	return id, err == nil && id > 0
}
