package collab

import "time"

type savePhase int

const (
	phaseIdle savePhase = iota
	phasePending
	phaseSaving
)

func (p savePhase) String() string {
	switch p {
	case phasePending:
		return "pending"
	case phaseSaving:
		return "saving"
	default:
		return "idle"
	}
}

// saveToken identifies one armed quiet-period timer. A timer whose token no
// longer matches the coalescer's was superseded and must not start a save.
type saveToken struct {
	seq     uint64
	version int64
}

// rearm tells the room to schedule token after delay.
type rearm struct {
	token saveToken
	delay time.Duration
}

// coalescer decides when a room's edits become a storage write. It holds no
// timers or locks; the room executes what it returns.
type coalescer struct {
	quiet      time.Duration
	maxBackoff time.Duration

	phase    savePhase
	token    saveToken
	seq      uint64
	failures int
	// flush is set when an explicit save arrives while a save is in flight.
	flush bool
}

func newCoalescer(quiet, maxBackoff time.Duration) *coalescer {
	return &coalescer{quiet: quiet, maxBackoff: maxBackoff}
}

// delay is the quiet period, doubled for each consecutive failure and capped.
func (c *coalescer) delay() time.Duration {
	d := c.quiet
	for i := 0; i < c.failures; i++ {
		d *= 2
		if d >= c.maxBackoff {
			return c.maxBackoff
		}
	}
	return d
}

func (c *coalescer) arm(version int64, delay time.Duration) rearm {
	c.seq++
	c.token = saveToken{seq: c.seq, version: version}
	c.phase = phasePending
	return rearm{token: c.token, delay: delay}
}

// edited supersedes any armed timer with one bound to version. While a save
// is in flight nothing is armed; completed reconciles instead.
func (c *coalescer) edited(version int64) (rearm, bool) {
	if c.phase == phaseSaving {
		return rearm{}, false
	}
	return c.arm(version, c.delay()), true
}

// fire reports whether an expired timer may start a save.
func (c *coalescer) fire(t saveToken) bool {
	if c.phase != phasePending || t != c.token {
		return false
	}
	c.phase = phaseSaving
	return true
}

// force skips the quiet period. It returns true when a save must start now.
func (c *coalescer) force() bool {
	switch c.phase {
	case phasePending:
		c.phase = phaseSaving
		return true
	case phaseSaving:
		c.flush = true
	}
	return false
}

// completed resolves the in-flight save of savedVersion. The room is idle
// again only if the write succeeded and no newer edit exists.
func (c *coalescer) completed(savedVersion, currentVersion int64, err error) (rearm, bool) {
	flush := c.flush
	c.flush = false

	if err != nil {
		c.failures++
		return c.arm(currentVersion, c.delay()), true
	}

	c.failures = 0
	if savedVersion == currentVersion {
		c.phase = phaseIdle
		c.token = saveToken{}
		return rearm{}, false
	}

	delay := c.quiet
	if flush {
		delay = 0
	}
	return c.arm(currentVersion, delay), true
}
