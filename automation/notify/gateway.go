// Package notify delivers worker notices to the operator over the bot API and
// routes the operator's button presses and commands back to the workers.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/dialogbot/automation"
	"github.com/m3rciful/dialogbot/core/logger"
	"github.com/m3rciful/dialogbot/core/telegram/callbacks"
	"github.com/m3rciful/dialogbot/core/telegram/format"
	"github.com/m3rciful/dialogbot/core/telegram/reply"
)

const component = "notify"

// Callback keys of the notice buttons.
const (
	CallbackSkip   = "worker_skip"
	CallbackWait   = "worker_wait"
	CallbackResume = "worker_resume"
)

// ErrNotBound is returned when a notice is sent before the bot is available.
var ErrNotBound = errors.New("notify: bot not bound")

// Sender is the part of *tele.Bot used to reach the operator.
type Sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Gateway sends notices to a single operator chat.
type Gateway struct {
	chatID int64
	sender atomic.Pointer[senderBox]
}

type senderBox struct{ Sender }

// NewGateway returns a gateway addressing the operator chat.
func NewGateway(operatorChatID int64) *Gateway {
	return &Gateway{chatID: operatorChatID}
}

// Bind attaches the bot once it is running. Notices sent earlier fail with ErrNotBound.
func (g *Gateway) Bind(s Sender) {
	if s == nil {
		g.sender.Store(nil)
		return
	}
	g.sender.Store(&senderBox{s})
}

// NotifyOperator renders n and queues it for delivery.
func (g *Gateway) NotifyOperator(ctx context.Context, n automation.Notice) error {
	box := g.sender.Load()
	if box == nil {
		return ErrNotBound
	}
	text := Render(n)
	opts := &tele.SendOptions{ParseMode: tele.ModeMarkdown}
	if len(n.Actions) > 0 {
		opts.ReplyMarkup = ActionKeyboard(n.AccountID, n.Actions)
	}
	ctx = logger.WithAccount(ctx, n.AccountID)
	return reply.Deliver(ctx, "notify."+string(n.Kind), func() error {
		_, err := box.Send(tele.ChatID(g.chatID), text, opts)
		if err == nil {
			logger.Debug(ctx, component, "notify.sent",
				slog.String("status", "ok"),
				slog.String("notice", string(n.Kind)),
			)
		}
		return err
	})
}

// Render formats a notice in legacy Markdown.
func Render(n automation.Notice) string {
	var b strings.Builder
	switch n.Kind {
	case automation.NoticeReply:
		fmt.Fprintf(&b, "💬 *Reply* · account %d\n", n.AccountID)
		if rec := n.Record; rec != nil {
			handle := "no username"
			if rec.CounterpartHandle != "" {
				handle = "@" + rec.CounterpartHandle
			}
			fmt.Fprintf(&b, "👤 %s (id %d)\n", format.MD(handle), rec.CounterpartID)
			fmt.Fprintf(&b, "📝 %s: %s", rec.ContentType, format.MD(rec.FirstMessageContent))
			if rec.ResponseLatencySeconds != nil {
				fmt.Fprintf(&b, "\n⏱ replied in %.1fs", *rec.ResponseLatencySeconds)
			}
		}
	case automation.NoticeTimeout:
		fmt.Fprintf(&b, "⌛ *No reply* · account %d\n", n.AccountID)
		fmt.Fprintf(&b, "Silent for %s. Skip or wait longer?", n.Timeout.Round(time.Second))
	case automation.NoticeFailure:
		fmt.Fprintf(&b, "🛑 *Worker failed* · account %d\n", n.AccountID)
		b.WriteString(format.MD(n.Message))
	default:
		fmt.Fprintf(&b, "ℹ️ account %d: %s", n.AccountID, format.MD(n.Message))
	}
	return b.String()
}

var actionButtons = map[automation.Action]callbacks.Button{
	automation.ActionSkip:     {Label: "⏭ Skip", Key: CallbackSkip},
	automation.ActionWaitMore: {Label: "⏳ Wait more", Key: CallbackWait},
	automation.ActionResume:   {Label: "▶️ Resume", Key: CallbackResume},
}

// ActionKeyboard builds one button per action addressed to the account.
func ActionKeyboard(accountID int64, actions []automation.Action) *tele.ReplyMarkup {
	buttons := make([]callbacks.Button, 0, len(actions))
	for _, a := range actions {
		b, ok := actionButtons[a]
		if !ok {
			continue
		}
		b.Target = accountID
		buttons = append(buttons, b)
	}
	return callbacks.Keyboard(buttons, 2)
}

var _ automation.Notifier = (*Gateway)(nil)
