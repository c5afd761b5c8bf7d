// Package capture is the handoff between the GPIO event goroutines and
// the main loop: one pending flag and one timestamp per channel, all
// atomic. The event side never blocks, never allocates and never takes
// a lock; the main loop drains channels one at a time.
package capture

import "sync/atomic"

// MaxChannels is the fixed channel capacity. Deployments wire between
// 1 and MaxChannels meters.
const MaxChannels = 8

// Capture latches pulses per channel. Record runs on the event
// goroutine; Claim and Pending run on the main loop. A second pulse on
// a channel before its claim overwrites the stamp and yields a single
// count for that claim.
type Capture struct {
	pending [MaxChannels]atomic.Bool
	stampMs [MaxChannels]atomic.Int64
}

func New() *Capture {
	return &Capture{}
}

// Record latches a pulse for the channel. The stamp is stored before
// the flag is set, so a claim that observes the flag never reads a
// stamp older than the pulse that set it.
func (c *Capture) Record(channel int, stampMs int64) {
	c.stampMs[channel].Store(stampMs)
	c.pending[channel].Store(true)
}

// Claim clears the channel's pending flag and returns its latest
// stamp. ok is false when nothing was pending. A pulse landing between
// the clear and the load re-sets the flag and is seen on the next
// pass; the stamp returned is then the newer one, which keeps stamps
// nondecreasing across claims.
func (c *Capture) Claim(channel int) (stampMs int64, ok bool) {
	if !c.pending[channel].Swap(false) {
		return 0, false
	}
	return c.stampMs[channel].Load(), true
}

// Pending reports whether any channel holds an unclaimed pulse.
func (c *Capture) Pending() bool {
	for i := range c.pending {
		if c.pending[i].Load() {
			return true
		}
	}
	return false
}
