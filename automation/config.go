package automation

import "time"

// DefaultInactivityTimeoutSeconds applies when an account has no explicit timeout.
const DefaultInactivityTimeoutSeconds = 90

// AccountConfig holds per-account settings loaded once at worker start.
type AccountConfig struct {
	AccountID                int64  `db:"id"`
	GreetingText             string `db:"greeting_text"`
	SearchCooldownSeconds    int    `db:"cooldown_search"`
	SendCooldownSeconds      int    `db:"cooldown_send"`
	SkipCooldownSeconds      int    `db:"cooldown_skip"`
	InactivityTimeoutSeconds int    `db:"inactivity_timeout"`
}

// Delay is a base duration randomized by ±Spread and clamped to Floor.
type Delay struct {
	Base   time.Duration
	Spread time.Duration
	Floor  time.Duration
}

// Jitter returns the delay for a uniform sample r in [0, 1).
func (d Delay) Jitter(r float64) time.Duration {
	v := d.Base + time.Duration((2*r-1)*float64(d.Spread))
	if v < d.Floor {
		return d.Floor
	}
	return v
}

// Timing is the resolved delay policy for one worker.
type Timing struct {
	Search     Delay
	Send       Delay
	Skip       Delay
	Inactivity time.Duration
}

// Timing converts the stored second values into the worker delay policy.
func (c AccountConfig) Timing() Timing {
	inactivity := c.InactivityTimeoutSeconds
	if inactivity <= 0 {
		inactivity = DefaultInactivityTimeoutSeconds
	}
	return Timing{
		Search: Delay{
			Base:   seconds(c.SearchCooldownSeconds),
			Spread: 5 * time.Second,
			Floor:  time.Second,
		},
		Send: Delay{
			Base:   seconds(c.SendCooldownSeconds),
			Spread: time.Second,
			Floor:  500 * time.Millisecond,
		},
		Skip: Delay{
			Base:   seconds(c.SkipCooldownSeconds),
			Spread: 3 * time.Second,
			Floor:  time.Second,
		},
		Inactivity: seconds(inactivity),
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
