// Package middleware holds the handler wrappers of the operator bot.
package middleware

import (
	"log/slog"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/dialogbot/core/logger"
	"github.com/m3rciful/dialogbot/core/telegram/reply"
)

// Operator lets only operatorID through. Everyone else gets reject, or
// silence when reject is nil. A zero operatorID disables the check.
func Operator(operatorID int64, reject tele.HandlerFunc) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			if operatorID == 0 {
				return next(c)
			}
			if u := c.Sender(); u != nil && u.ID == operatorID {
				return next(c)
			}
			logger.Info(reply.Context(c), "tg", "tg.rejected",
				slog.String("status", "denied"),
			)
			if reject != nil {
				return reject(c)
			}
			return nil
		}
	}
}
