// Package automation holds the shared model of the dialog-automation worker:
// account settings, worker states, inbound messages, captured dialog records
// and the collaborator contracts the worker depends on.
package automation

import (
	"math"
	"strings"
	"time"
)

// State is the lifecycle state of one account worker.
// Values are persisted verbatim in the accounts.status column.
type State string

const (
	StateIdle         State = "idle"
	StateSearching    State = "searching"
	StateInDialog     State = "in_dialog"
	StateWaitingReply State = "waiting_reply"
	StatePaused       State = "paused"
	StateError        State = "error"
	StateStopped      State = "stopped"
)

// Running reports whether the state belongs to an active search/dialog cycle.
func (s State) Running() bool {
	switch s {
	case StateIdle, StateSearching, StateInDialog, StateWaitingReply:
		return true
	}
	return false
}

// Terminal reports whether a worker in this state will never transition again.
func (s State) Terminal() bool {
	return s == StateError || s == StateStopped
}

// ContentKind classifies the payload of an inbound message.
type ContentKind string

const (
	KindNone    ContentKind = ""
	KindText    ContentKind = "text"
	KindPhoto   ContentKind = "photo"
	KindSticker ContentKind = "sticker"
	KindVoice   ContentKind = "voice"
	KindMedia   ContentKind = "other-media"
)

// Message is a single inbound event from the chat-automation target.
type Message struct {
	SenderID     int64
	SenderHandle string
	Text         string
	// Kind describes a non-text payload attached to the message, if any.
	Kind       ContentKind
	ReceivedAt time.Time
}

// HasPayload reports whether the message carries a non-text attachment.
func (m Message) HasPayload() bool {
	return m.Kind != KindNone && m.Kind != KindText
}

// ContentType resolves the stored content type using the priority
// text, photo, sticker, voice, other media.
func (m Message) ContentType() ContentKind {
	if strings.TrimSpace(m.Text) != "" {
		return KindText
	}
	switch m.Kind {
	case KindPhoto, KindSticker, KindVoice:
		return m.Kind
	}
	return KindMedia
}

// Content returns the text stored as the first message of a dialog record.
func (m Message) Content() string {
	switch m.ContentType() {
	case KindText:
		return m.Text
	case KindPhoto:
		return "[photo]"
	case KindSticker:
		return "[sticker]"
	case KindVoice:
		return "[voice]"
	default:
		return "[media]"
	}
}

// OutcomeReplied marks a dialog where the counterpart answered the greeting.
const OutcomeReplied = "replied"

// DialogRecord is the persisted summary of one captured counterpart reply.
type DialogRecord struct {
	AccountID           int64       `db:"account_id"`
	CounterpartHandle   string      `db:"username"`
	CounterpartID       int64       `db:"user_id"`
	FirstMessageContent string      `db:"first_message"`
	ContentType         ContentKind `db:"content_type"`
	Outcome             string      `db:"outcome"`
	// ResponseLatencySeconds is set only for the first reply of a dialog.
	ResponseLatencySeconds *float64  `db:"response_latency_seconds"`
	Timestamp              time.Time `db:"timestamp"`
}

// LatencySeconds converts an elapsed duration to seconds rounded to one decimal place.
func LatencySeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*10) / 10
}

// Credentials is a decrypted chat session for one account.
type Credentials struct {
	AccountID int64
	Phone     string
	Session   string
}

// StatKind names a per-account daily counter.
type StatKind string

const (
	StatDialogs  StatKind = "dialogs"
	StatSkips    StatKind = "skips"
	StatReplies  StatKind = "replies"
	StatTimeouts StatKind = "timeouts"
)
