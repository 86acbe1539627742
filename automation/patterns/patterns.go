// Package patterns maps raw text from the chat target to semantic events
// using ordered substring matching.
package patterns

import "strings"

// Event is the semantic meaning of an inbound message.
type Event int

const (
	Unknown Event = iota
	SystemMessage
	AlreadyInDialog
	PartnerFound
	PartnerSkipped
	PartnerReplied
)

func (e Event) String() string {
	switch e {
	case SystemMessage:
		return "system_message"
	case AlreadyInDialog:
		return "already_in_dialog"
	case PartnerFound:
		return "partner_found"
	case PartnerSkipped:
		return "partner_skipped"
	case PartnerReplied:
		return "partner_replied"
	default:
		return "unknown"
	}
}

// Set holds the substring lists for each recognised target message.
type Set struct {
	PartnerFound    []string `db:"partner_found"`
	PartnerSkipped  []string `db:"partner_skipped"`
	AlreadyInDialog []string `db:"already_in_dialog"`
	SystemMessage   []string `db:"system_messages"`
}

// DefaultSet returns the patterns of the anonymous chat bot the workers talk to.
func DefaultSet() Set {
	return Set{
		PartnerFound:    []string{"Нашёл собеседника!"},
		PartnerSkipped:  []string{"🤚", "завершил диалог"},
		AlreadyInDialog: []string{"🔴", "недоступна в диалоге"},
		SystemMessage:   []string{"🛑 Подпишись", "оставить отзыв"},
	}
}

// Input is one message to classify.
type Input struct {
	Text string
	// HasPayload is true when the message carries an image, sticker, voice or other media.
	HasPayload bool
	// AwaitingReply enables the reply fallback for unmatched input.
	AwaitingReply bool
}

// Match returns the first list event whose patterns occur in text.
func (s Set) Match(text string) (Event, bool) {
	ordered := []struct {
		event Event
		list  []string
	}{
		{SystemMessage, s.SystemMessage},
		{AlreadyInDialog, s.AlreadyInDialog},
		{PartnerFound, s.PartnerFound},
		{PartnerSkipped, s.PartnerSkipped},
	}
	for _, o := range ordered {
		if containsAny(text, o.list) {
			return o.event, true
		}
	}
	return Unknown, false
}

// Classify resolves the event for in. Unmatched input is a reply only while
// a reply is awaited and the message carries text or a payload.
func Classify(s Set, in Input) Event {
	if ev, ok := s.Match(in.Text); ok {
		return ev
	}
	if in.AwaitingReply && (strings.TrimSpace(in.Text) != "" || in.HasPayload) {
		return PartnerReplied
	}
	return Unknown
}

func containsAny(text string, list []string) bool {
	if text == "" {
		return false
	}
	for _, p := range list {
		if p == "" {
			continue
		}
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}
