package middleware

import tele "gopkg.in/telebot.v4"

const (
	keyReplies  = "replies"
	keyKeyboard = "replies.kb"
)

// counting reports every successful send of a handler so the summary line
// can say how many messages the update produced.
type counting struct{ tele.Context }

func (c counting) note(err error, opts []interface{}) error {
	if err != nil {
		return err
	}
	n, _ := c.Get(keyReplies).(int)
	c.Set(keyReplies, n+1)
	if hasMarkup(opts) {
		c.Set(keyKeyboard, true)
	}
	return nil
}

func (c counting) Send(what interface{}, opts ...interface{}) error {
	return c.note(c.Context.Send(what, opts...), opts)
}

func (c counting) Reply(what interface{}, opts ...interface{}) error {
	return c.note(c.Context.Reply(what, opts...), opts)
}

func (c counting) Edit(what interface{}, opts ...interface{}) error {
	return c.note(c.Context.Edit(what, opts...), opts)
}

func (c counting) EditOrSend(what interface{}, opts ...interface{}) error {
	return c.note(c.Context.EditOrSend(what, opts...), opts)
}

func hasMarkup(opts []interface{}) bool {
	for _, o := range opts {
		switch v := o.(type) {
		case *tele.SendOptions:
			if v != nil && v.ReplyMarkup != nil {
				return true
			}
		case *tele.ReplyMarkup:
			if v != nil {
				return true
			}
		}
	}
	return false
}

// Replies wraps the context handed to handlers with a send counter.
func Replies(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		c.Set(keyReplies, 0)
		c.Set(keyKeyboard, false)
		return next(counting{Context: c})
	}
}

// Sent returns the number of messages sent for the update and whether any
// carried a keyboard. Replies queued on the outbox are counted once delivered.
func Sent(c tele.Context) (int, bool) {
	n, _ := c.Get(keyReplies).(int)
	kb, _ := c.Get(keyKeyboard).(bool)
	return n, kb
}
