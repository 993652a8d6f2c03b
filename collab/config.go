package collab

import "time"

type Config struct {
	// QuietPeriod is how long a room must go without edits before it is saved.
	QuietPeriod time.Duration
	// MaxBackoff caps the retry delay after failed saves.
	MaxBackoff time.Duration
	// SaveTimeout bounds a single storage write; zero means no limit.
	SaveTimeout time.Duration
	// Clock schedules quiet-period timers. Nil uses the wall clock.
	Clock Clock
}

func DefaultConfig() Config {
	return Config{
		QuietPeriod: 2 * time.Second,
		MaxBackoff:  30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.QuietPeriod <= 0 {
		c.QuietPeriod = d.QuietPeriod
	}
	if c.MaxBackoff < c.QuietPeriod {
		c.MaxBackoff = c.QuietPeriod
	}
	if c.Clock == nil {
		c.Clock = wallClock{}
	}
	return c
}

// Clock lets tests drive quiet-period timers by hand.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	Stop() bool
}

type wallClock struct{}

func (wallClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
