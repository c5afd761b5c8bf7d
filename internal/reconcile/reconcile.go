// Package reconcile turns inbound override messages into typed
// commands for the main loop. Parsing is strict: a message missing its
// expected field is rejected instead of read as zero.
package reconcile

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Command is one override, applied by the main loop between
// accounting passes.
type Command interface {
	command()
}

// PresetTotal overwrites one channel's lifetime total from an absolute
// meter reading in kWh.
type PresetTotal struct {
	Channel int
	Units   float64
}

// SetCorrection replaces the interval correction.
type SetCorrection struct {
	Ms int64
}

// SubtotalReset zeroes every channel's subtotal after a best-effort
// export.
type SubtotalReset struct{}

// Republish clears the announced flags so discovery goes out again,
// used after the dashboard restarts and has lost the announcements.
type Republish struct{}

// Connected reports the broker session coming up. First distinguishes
// the boot connect from later reconnects.
type Connected struct {
	First bool
}

func (PresetTotal) command()   {}
func (SetCorrection) command() {}
func (SubtotalReset) command() {}
func (Republish) command()     {}
func (Connected) command()     {}

// maxCorrectionMs bounds the correction to ±1 day; anything larger is
// a configuration mistake, and the persisted field is 32 bits.
const maxCorrectionMs = 86_400_000

// maxPresetUnits bounds preset readings. No meter this system watches
// accumulates a hundred million kWh.
const maxPresetUnits = 100_000_000

// ParsePreset extracts the meter reading from {"Total": <units>}.
func ParsePreset(payload []byte) (float64, error) {
	var msg struct {
		Total *float64 `json:"Total"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return 0, fmt.Errorf("preset payload: %w", err)
	}
	if msg.Total == nil {
		return 0, fmt.Errorf("preset payload missing Total: %q", payload)
	}
	if *msg.Total < 0 || *msg.Total > maxPresetUnits {
		return 0, fmt.Errorf("preset total %v out of range", *msg.Total)
	}
	return *msg.Total, nil
}

// ParseCorrection extracts the offset from {"pulscorr": <ms>}.
func ParseCorrection(payload []byte) (int64, error) {
	var msg struct {
		Pulscorr *int64 `json:"pulscorr"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return 0, fmt.Errorf("correction payload: %w", err)
	}
	if msg.Pulscorr == nil {
		return 0, fmt.Errorf("correction payload missing pulscorr: %q", payload)
	}
	if *msg.Pulscorr < -maxCorrectionMs || *msg.Pulscorr > maxCorrectionMs {
		return 0, fmt.Errorf("correction %dms out of range", *msg.Pulscorr)
	}
	return *msg.Pulscorr, nil
}

// ChannelFromTopic extracts the channel index from a per-channel
// command topic shaped like "<prefix>/<device>/<channel>/threshold".
func ChannelFromTopic(topic, device string, channels int) (int, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[1] != device || parts[3] != "threshold" {
		return 0, fmt.Errorf("unexpected command topic %q", topic)
	}
	ch, err := strconv.Atoi(parts[2])
	if err != nil || ch < 0 || ch >= channels {
		return 0, fmt.Errorf("channel %q out of range in topic %q", parts[2], topic)
	}
	return ch, nil
}
