package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	UptimeSeconds int64         `json:"uptime_seconds"`
	StartTime     string        `json:"start_time"`
	Timestamp     string        `json:"timestamp"`
	MQTT          MQTTStatus    `json:"mqtt"`
	Storage       StorageJSON   `json:"storage"`
	CorrectionMs  int64         `json:"pulse_time_correction_ms"`
	Channels      []ChannelJSON `json:"channels"`
	Config        ConfigJSON    `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// StorageJSON reports the persistence state.
type StorageJSON struct {
	Generation uint32   `json:"generation"`
	Writes     uint32   `json:"writes"`
	Errors     []string `json:"errors,omitempty"`
}

// ChannelJSON is the JSON representation of one meter channel.
type ChannelJSON struct {
	Name          string  `json:"name"`
	PulsesPerKWh  uint32  `json:"pulses_per_kwh"`
	PulseTotal    uint64  `json:"pulse_total"`
	PulseSubtotal uint64  `json:"pulse_subtotal"`
	TotalKWh      float64 `json:"total_kwh"`
	SubtotalKWh   float64 `json:"subtotal_kwh"`
	Watts         int64   `json:"watts"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs       int64  `json:"poll_ms"`
	MaxWatts     int64  `json:"max_watts"`
	MinWatts     int64  `json:"min_watts"`
	WriteBudget  uint32 `json:"write_budget"`
	Broker       string `json:"broker"`
	HTTPAddr     string `json:"http_addr"`
	ExportHour   int    `json:"export_hour"`
	ExportMinute int    `json:"export_minute"`
}

func buildInner(snap Snapshot) StatusInner {
	channels := make([]ChannelJSON, len(snap.Channels))
	for i, ch := range snap.Channels {
		channels[i] = ChannelJSON{
			Name:          ch.Name,
			PulsesPerKWh:  ch.PulsesPerUnit,
			PulseTotal:    ch.PulseTotal,
			PulseSubtotal: ch.PulseSubtotal,
			TotalKWh:      ch.Total,
			SubtotalKWh:   ch.Subtotal,
			Watts:         ch.Watts,
		}
	}

	return StatusInner{
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Storage: StorageJSON{
			Generation: snap.Generation,
			Writes:     snap.Writes,
			Errors:     snap.StorageErrors,
		},
		CorrectionMs: snap.CorrectionMs,
		Channels:     channels,
		Config: ConfigJSON{
			PollMs:       snap.Config.PollMs,
			MaxWatts:     snap.Config.MaxWatts,
			MinWatts:     snap.Config.MinWatts,
			WriteBudget:  snap.Config.WriteBudget,
			Broker:       snap.Config.Broker,
			HTTPAddr:     snap.Config.HTTPAddr,
			ExportHour:   snap.Config.ExportHour,
			ExportMinute: snap.Config.ExportMinute,
		},
	}
}

// FormatJSON returns the JSON status for the web endpoint.
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}
