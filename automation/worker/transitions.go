package worker

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/m3rciful/dialogbot/automation"
	"github.com/m3rciful/dialogbot/automation/patterns"
	"github.com/m3rciful/dialogbot/core/logger"
)

func (w *Worker) enterSearching() {
	w.transition(automation.StateSearching)
	w.schedule(w.timing.Search.Jitter(w.opts.Rand()), stepSearch)
}

// schedule replaces the pending continuation with s after d.
func (w *Worker) schedule(d time.Duration, s step) {
	w.cancelPending()
	epoch := w.epoch
	w.pending = time.AfterFunc(d, func() {
		w.post(event{kind: evStep, step: s, epoch: epoch})
	})
	logger.Debug(w.ctx, component, "worker.schedule",
		slog.String("step", s.String()),
		slog.Duration("delay", d),
	)
}

// cancelPending drops the pending continuation, including one already queued.
func (w *Worker) cancelPending() {
	w.epoch++
	if w.pending != nil {
		w.pending.Stop()
		w.pending = nil
	}
}

func (w *Worker) runStep(s step) {
	switch s {
	case stepSearch:
		w.send(s, w.opts.SearchCommand)
	case stepGreeting:
		if w.send(s, w.cfg.GreetingText) {
			w.transition(automation.StateWaitingReply)
			w.startInactivity()
		}
	case stepSkip:
		if w.send(s, w.opts.SkipCommand) {
			w.schedule(w.opts.SkipSettle, stepBeginSearch)
		}
	case stepBeginSearch:
		w.enterSearching()
	}
}

// send delivers text to the target. Rate limits reschedule s after the demanded
// wait without counting as a failure; other errors reschedule after RetryDelay
// until RetryCap consecutive failures end the worker.
func (w *Worker) send(s step, text string) bool {
	err := w.conn.SendMessage(w.ctx, w.opts.Target, text)
	if err == nil {
		w.failures = 0
		logger.Info(w.ctx, component, "worker.send",
			slog.String("status", "ok"),
			slog.String("step", s.String()),
		)
		return true
	}
	if w.ctx.Err() != nil || !w.running.Load() {
		return false
	}
	if wait, ok := automation.RetryAfter(err); ok {
		logger.Warn(w.ctx, component, "worker.send",
			slog.String("status", "rate_limited"),
			slog.String("step", s.String()),
			slog.Duration("backoff", wait),
		)
		w.schedule(wait, s)
		return false
	}
	w.failures++
	if w.failures >= w.opts.RetryCap {
		w.fail(fmt.Errorf("send %s failed after %d attempts: %w", s, w.failures, err))
		return false
	}
	logger.Warn(w.ctx, component, "worker.send",
		slog.String("status", "retry"),
		slog.String("step", s.String()),
		slog.Int("attempts", w.failures),
		slog.Duration("backoff", w.opts.RetryDelay),
		slog.String("err", err.Error()),
	)
	w.schedule(w.opts.RetryDelay, s)
	return false
}

func (w *Worker) startInactivity() {
	w.inactivity.Start(w.timing.Inactivity, func(gen uint64) {
		w.post(event{kind: evTimeout, gen: gen})
	})
}

func (w *Worker) handleMessage(msg automation.Message) {
	set, err := w.store.LoadPatternSet(w.ctx)
	if err != nil {
		logger.Warn(w.ctx, component, "worker.patterns",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		set = patterns.DefaultSet()
	}

	state := w.State()
	ev := patterns.Classify(set, patterns.Input{
		Text:          msg.Text,
		HasPayload:    msg.HasPayload(),
		AwaitingReply: state == automation.StateWaitingReply,
	})
	logger.Debug(w.ctx, component, "worker.inbound",
		slog.String("state", string(state)),
		slog.String("classified", ev.String()),
		slog.String("payload", logger.Clip(msg.Text, 64)),
	)

	switch ev {
	case patterns.PartnerFound:
		if state == automation.StateSearching {
			w.onPartnerFound()
			return
		}
	case patterns.PartnerSkipped:
		if state == automation.StateInDialog || state == automation.StateWaitingReply {
			w.onPartnerSkipped()
			return
		}
	case patterns.PartnerReplied:
		w.onPartnerReplied(msg)
		return
	case patterns.AlreadyInDialog:
		logger.Warn(w.ctx, component, "worker.inbound.already_in_dialog",
			slog.String("state", string(state)),
		)
		return
	case patterns.SystemMessage:
		return
	default:
		logger.Info(w.ctx, component, "worker.inbound.unknown",
			slog.String("state", string(state)),
			slog.String("payload", logger.Clip(msg.Text, 64)),
		)
		return
	}
	logger.Info(w.ctx, component, "worker.inbound.ignored",
		slog.String("state", string(state)),
		slog.String("classified", ev.String()),
	)
}

func (w *Worker) onPartnerFound() {
	w.dialogStart = w.opts.Now()
	w.replies = 0
	w.transition(automation.StateInDialog)
	w.stat(automation.StatDialogs)
	w.schedule(w.timing.Send.Jitter(w.opts.Rand()), stepGreeting)
}

func (w *Worker) onPartnerSkipped() {
	w.inactivity.Cancel()
	w.stat(automation.StatSkips)
	w.transition(automation.StateSearching)
	w.schedule(w.timing.Skip.Jitter(w.opts.Rand()), stepSearch)
}

func (w *Worker) onPartnerReplied(msg automation.Message) {
	w.startInactivity()

	rec := automation.DialogRecord{
		AccountID:           w.accountID,
		CounterpartHandle:   msg.SenderHandle,
		CounterpartID:       msg.SenderID,
		FirstMessageContent: msg.Content(),
		ContentType:         msg.ContentType(),
		Outcome:             automation.OutcomeReplied,
		Timestamp:           msg.ReceivedAt,
	}
	if w.replies == 0 && !w.dialogStart.IsZero() {
		latency := automation.LatencySeconds(msg.ReceivedAt.Sub(w.dialogStart))
		rec.ResponseLatencySeconds = &latency
	}
	w.replies++

	logger.Info(w.ctx, component, "worker.reply",
		slog.String("content_type", string(rec.ContentType)),
		slog.Int("replies", w.replies),
	)
	if err := w.store.AppendDialogRecord(w.ctx, rec); err != nil {
		logger.Error(w.ctx, component, "worker.reply.persist",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
	}
	w.stat(automation.StatReplies)
	w.notify(automation.Notice{
		AccountID: w.accountID,
		Kind:      automation.NoticeReply,
		Record:    &rec,
		Actions:   []automation.Action{automation.ActionSkip, automation.ActionResume},
	})
}

func (w *Worker) handleTimeout(gen uint64) {
	if !w.inactivity.Valid(gen) || w.State() != automation.StateWaitingReply {
		logger.Debug(w.ctx, component, "worker.timeout.stale", slog.String("status", "skip"))
		return
	}
	w.transition(automation.StatePaused)
	w.stat(automation.StatTimeouts)
	w.notify(automation.Notice{
		AccountID: w.accountID,
		Kind:      automation.NoticeTimeout,
		Timeout:   w.timing.Inactivity,
		Actions:   []automation.Action{automation.ActionSkip, automation.ActionWaitMore},
	})
}

func (w *Worker) applyControl(c control) error {
	state := w.State()
	applied := true
	switch c {
	case ctlPause:
		if !state.Running() {
			applied = false
			break
		}
		w.cancelPending()
		w.inactivity.Cancel()
		w.transition(automation.StatePaused)
	case ctlResume:
		if state != automation.StatePaused && state != automation.StateWaitingReply {
			applied = false
			break
		}
		w.cancelPending()
		w.inactivity.Cancel()
		w.transition(automation.StateIdle)
		w.enterSearching()
	case ctlSkip:
		if state != automation.StatePaused && state != automation.StateWaitingReply && state != automation.StateInDialog {
			applied = false
			break
		}
		w.cancelPending()
		w.inactivity.Cancel()
		w.transition(automation.StateIdle)
		w.schedule(0, stepSkip)
	case ctlWaitMore:
		if state != automation.StatePaused {
			applied = false
			break
		}
		w.transition(automation.StateWaitingReply)
		w.startInactivity()
	}

	logger.Info(w.ctx, component, "worker.control",
		slog.String("op", c.String()),
		slog.String("state", string(state)),
		slog.Bool("applied", applied),
	)
	if !applied {
		return ErrNotApplicable
	}
	return nil
}

func (w *Worker) stat(kind automation.StatKind) {
	if err := w.store.IncrementStat(w.ctx, w.accountID, kind); err != nil {
		logger.Warn(w.ctx, component, "worker.stat",
			slog.String("status", "fail"),
			slog.String("stat", string(kind)),
			slog.String("err", err.Error()),
		)
	}
}

func (w *Worker) notify(n automation.Notice) {
	if w.notifier == nil {
		return
	}
	if err := w.notifier.NotifyOperator(w.ctx, n); err != nil {
		logger.Error(w.ctx, component, "worker.notify",
			slog.String("status", "fail"),
			slog.String("notice", string(n.Kind)),
			slog.String("err", err.Error()),
		)
	}
}
