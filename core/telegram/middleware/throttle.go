package middleware

import (
	"log/slog"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/dialogbot/core/logger"
	"github.com/m3rciful/dialogbot/core/telegram/reply"
)

// Throttle drops messages that arrive less than gap after the previous one
// from the same user. Button presses always pass: they answer notices and
// must not be lost. A non-positive gap disables throttling.
func Throttle(gap time.Duration, now func() time.Time) tele.MiddlewareFunc {
	if now == nil {
		now = time.Now
	}
	var (
		mu   sync.Mutex
		seen = make(map[int64]time.Time)
	)
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			u := c.Sender()
			if gap <= 0 || u == nil || c.Callback() != nil {
				return next(c)
			}
			t := now()
			mu.Lock()
			last, ok := seen[u.ID]
			limited := ok && t.Sub(last) < gap
			if !limited {
				seen[u.ID] = t
			}
			mu.Unlock()
			if limited {
				logger.Warn(reply.Context(c), "tg", "tg.throttled",
					slog.String("status", "limited"),
					slog.Duration("gap", gap),
				)
				return nil
			}
			return next(c)
		}
	}
}
