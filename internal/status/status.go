// Package status provides a thread-safe status tracker for the
// pulse-monitor daemon. It is designed to be read by HTTP handlers.
package status

import (
	"sync"
	"time"
)

// ChannelStatus is one meter channel's view for display.
type ChannelStatus struct {
	Name          string
	PulsesPerUnit uint32
	PulseTotal    uint64
	PulseSubtotal uint64
	Total         float64 // kWh
	Subtotal      float64 // kWh
	Watts         int64   // negative while decaying
}

// Config contains daemon configuration for display.
type Config struct {
	PollMs       int64
	MaxWatts     int64
	MinWatts     int64
	WriteBudget  uint32
	Broker       string
	HTTPAddr     string
	ExportHour   int
	ExportMinute int
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type — safe to use after the lock is released.
type Snapshot struct {
	Channels      []ChannelStatus
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Generation    uint32
	Writes        uint32
	StorageErrors []string
	CorrectionMs  int64
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, channels int, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			Channels:  make([]ChannelStatus, channels),
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// UpdateChannel sets one channel's counters and power.
// Called from runLoop whenever a channel's state is published.
func (t *Tracker) UpdateChannel(channel int, cs ChannelStatus) {
	t.mu.Lock()
	if channel >= 0 && channel < len(t.snap.Channels) {
		t.snap.Channels[channel] = cs
	}
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetStorage sets the persistence view: current generation, writes
// spent against the budget, and any sticky error names.
func (t *Tracker) SetStorage(generation, writes uint32, errors []string) {
	t.mu.Lock()
	t.snap.Generation = generation
	t.snap.Writes = writes
	t.snap.StorageErrors = errors
	t.mu.Unlock()
}

// SetCorrection sets the pulse time correction for display.
func (t *Tracker) SetCorrection(ms int64) {
	t.mu.Lock()
	t.snap.CorrectionMs = ms
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Channels = append([]ChannelStatus(nil), t.snap.Channels...)
	s.StorageErrors = append([]string(nil), t.snap.StorageErrors...)
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
