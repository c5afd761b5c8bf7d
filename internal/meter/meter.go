// Package meter contains pure pulse accounting and power estimation.
// This package has NO external dependencies (no GPIO, MQTT, storage,
// or clocks). Timestamps are injectable millisecond readings from one
// monotonic clock.
package meter

import "math"

// MaxChannels is the fixed channel capacity.
const MaxChannels = 8

// Config fixes a Meter's shape at construction.
type Config struct {
	// Channels in use, 1..MaxChannels.
	Channels int
	// PulsesPerUnit is the calibration per channel: meter pulses per kWh.
	PulsesPerUnit []uint32
	// CorrectionMs is added to every measured interval (signed,
	// compensates systematic latency between edge and timestamp).
	CorrectionMs int64
	// MaxWatts: an estimate at or above this is electrical noise, not
	// consumption, and the pulse is discarded.
	MaxWatts int64
	// MinWatts: a decay estimate below this collapses to zero.
	MinWatts int64
}

// Reading is the outcome of one captured pulse.
type Reading struct {
	Channel int
	// Counted is false when the pulse was rejected as implausible.
	Counted bool
	// Watts is the instantaneous estimate, 0 when no interval exists
	// yet (first pulse since boot, or a timing anomaly).
	Watts int64
}

// channelState is the per-channel accounting state. Counters are
// mirrored to storage by the caller; the stamp and interval never
// survive a restart, so the first pulse after boot cannot produce an
// estimate.
type channelState struct {
	total    uint64
	subtotal uint64
	// seen is true once a pulse has been accepted since boot. The
	// stamp alone cannot encode that: 0 is a valid reading.
	seen       bool
	stampMs    int64
	intervalMs int64
}

// Meter is the in-memory counter store for all channels, the system
// of record for energy totals. Not safe for concurrent use; the main
// loop is the only caller.
type Meter struct {
	cfg Config
	ch  [MaxChannels]channelState
}

// New creates a Meter. The calibration slice is copied.
func New(cfg Config) *Meter {
	cfg.PulsesPerUnit = append([]uint32(nil), cfg.PulsesPerUnit...)
	return &Meter{cfg: cfg}
}

// AcceptPulse accounts one captured pulse and returns what to publish.
//
// The estimate derives from the gap to the previous accepted pulse:
// one pulse is 1/ppu kWh, so 3_600_000/gapMs/ppu kW, ×1000 for watts.
// No estimate is formed on the first pulse since boot or when the
// corrected gap is non-positive; such pulses still count. An estimate
// at or above MaxWatts rejects the pulse entirely: nothing is counted
// and no timing state is updated.
func (m *Meter) AcceptPulse(channel int, stampMs int64) Reading {
	st := &m.ch[channel]

	var watts, interval int64
	if st.seen && stampMs > st.stampMs {
		interval = stampMs - st.stampMs + m.cfg.CorrectionMs
		if interval > 0 {
			watts = wattsFor(interval, m.cfg.PulsesPerUnit[channel])
		} else {
			interval = 0
		}
	}

	if watts >= m.cfg.MaxWatts {
		return Reading{Channel: channel}
	}

	st.total++
	st.subtotal++
	st.seen = true
	st.stampMs = stampMs
	if interval > 0 {
		st.intervalMs = interval
	}
	return Reading{Channel: channel, Counted: true, Watts: watts}
}

// Decay synthesizes the falling estimate for a channel with no recent
// pulse. publish is false while the channel is inside its current
// window (twice the remembered interval) or has no interval history.
// Each publication doubles the window, so successive values fall
// strictly; once the estimate drops below MinWatts a final zero is
// published and the sequence stops until a real pulse arrives.
// Published values are negated to mark them as extrapolated.
func (m *Meter) Decay(channel int, nowMs int64) (watts int64, publish bool) {
	st := &m.ch[channel]
	if st.intervalMs <= 0 || !st.seen || st.stampMs >= nowMs {
		return 0, false
	}
	if st.stampMs+2*st.intervalMs >= nowMs {
		return 0, false
	}

	elapsed := nowMs - st.stampMs + m.cfg.CorrectionMs
	if elapsed <= 0 {
		return 0, false
	}

	w := wattsFor(elapsed, m.cfg.PulsesPerUnit[channel])
	if w < m.cfg.MinWatts {
		st.intervalMs = 0
		return 0, true
	}
	st.intervalMs *= 2
	return -w, true
}

// ApplyPreset overwrites a channel's total from an absolute meter
// reading in kWh. The subtotal and the timing state are untouched, so
// repeating a preset is idempotent and daily accounting is unaffected.
func (m *Meter) ApplyPreset(channel int, units float64) {
	m.ch[channel].total = uint64(math.Round(units * float64(m.cfg.PulsesPerUnit[channel])))
}

// ResetSubtotal zeroes a channel's subtotal.
func (m *Meter) ResetSubtotal(channel int) {
	m.ch[channel].subtotal = 0
}

// SetCounters restores persisted counters at boot. Timing state stays
// empty.
func (m *Meter) SetCounters(channel int, total, subtotal uint64) {
	m.ch[channel].total = total
	m.ch[channel].subtotal = subtotal
}

// Counters returns a channel's raw pulse counters.
func (m *Meter) Counters(channel int) (total, subtotal uint64) {
	return m.ch[channel].total, m.ch[channel].subtotal
}

// TotalUnits converts the lifetime counter to kWh.
func (m *Meter) TotalUnits(channel int) float64 {
	return float64(m.ch[channel].total) / float64(m.cfg.PulsesPerUnit[channel])
}

// SubtotalUnits converts the period counter to kWh.
func (m *Meter) SubtotalUnits(channel int) float64 {
	return float64(m.ch[channel].subtotal) / float64(m.cfg.PulsesPerUnit[channel])
}

// PulsesPerUnit returns a channel's calibration.
func (m *Meter) PulsesPerUnit(channel int) uint32 {
	return m.cfg.PulsesPerUnit[channel]
}

// Channels returns the number of channels in use.
func (m *Meter) Channels() int {
	return m.cfg.Channels
}

// SetCorrection replaces the interval correction.
func (m *Meter) SetCorrection(ms int64) {
	m.cfg.CorrectionMs = ms
}

// Correction returns the current interval correction.
func (m *Meter) Correction() int64 {
	return m.cfg.CorrectionMs
}

func wattsFor(intervalMs int64, ppu uint32) int64 {
	return int64(math.Round(3_600_000 / float64(intervalMs) / float64(ppu) * 1000))
}
