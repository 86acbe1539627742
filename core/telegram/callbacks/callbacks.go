// Package callbacks builds inline keyboards whose buttons address one
// account, and decodes the presses.
package callbacks

import (
	"errors"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"
)

// ErrNoTarget is returned when a press carries no account id.
var ErrNoTarget = errors.New("callbacks: no target")

// Button is one inline button. Key routes the press, Target travels as payload.
type Button struct {
	Label  string
	Key    string
	Target int64
}

// Keyboard lays buttons out perRow to a row; perRow below one means one per row.
func Keyboard(buttons []Button, perRow int) *tele.ReplyMarkup {
	perRow = max(perRow, 1)
	markup := &tele.ReplyMarkup{}
	var row []tele.InlineButton
	for i, b := range buttons {
		var payload []string
		if b.Target != 0 {
			payload = append(payload, strconv.FormatInt(b.Target, 10))
		}
		row = append(row, *markup.Data(b.Label, b.Key, payload...).Inline())
		if len(row) == perRow || i == len(buttons)-1 {
			markup.InlineKeyboard = append(markup.InlineKeyboard, row)
			row = nil
		}
	}
	return markup
}

// Decode splits a press into its key and payload. Telebot sends presses of
// its own buttons as "\f<key>|<payload>" unless it already parsed them.
func Decode(cb *tele.Callback) (key, payload string) {
	if cb == nil {
		return "", ""
	}
	if cb.Unique != "" {
		return cb.Unique, cb.Data
	}
	key, payload, _ = strings.Cut(strings.TrimPrefix(cb.Data, "\f"), "|")
	return strings.TrimSpace(key), payload
}

// Target parses the account id of the press handled by c.
func Target(c tele.Context) (int64, error) {
	_, payload := Decode(c.Callback())
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return 0, ErrNoTarget
	}
	id, err := strconv.ParseInt(payload, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrNoTarget
	}
	return id, nil
}
