package telegram

import (
	"time"

	tele "gopkg.in/telebot.v4"

	coreconfig "github.com/m3rciful/dialogbot/core/config"
	"github.com/m3rciful/dialogbot/core/telegram/middleware"
)

// chain lists the global middlewares, outermost first.
func chain(op coreconfig.Operator) []tele.MiddlewareFunc {
	return []tele.MiddlewareFunc{
		middleware.Recover,
		middleware.Trace,
		middleware.Throttle(time.Duration(op.ThrottleMS)*time.Millisecond, nil),
		middleware.Replies,
	}
}
