package middleware

import (
	"fmt"
	"log/slog"
	"runtime/debug"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/dialogbot/core/logger"
	"github.com/m3rciful/dialogbot/core/telegram/reply"
)

// Recover turns a handler panic into an error so polling goes on.
func Recover(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) (err error) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			err = fmt.Errorf("handler panic: %v", r)
			logger.Error(reply.Context(c), "tg", "tg.panic",
				slog.String("status", "fail"),
				slog.Any("err", r),
				slog.String("stack", string(debug.Stack())),
			)
		}()
		return next(c)
	}
}
