// Package mqtt provides MQTT publishing with abstraction for testing.
//
// Topic layout and payload shapes are a hard contract with the
// dashboard ecosystem: discovery and state live under the dashboard's
// prefix keyed by meter index, while commands and lifecycle topics are
// scoped by the device name.
package mqtt

import (
	"encoding/json"
	"fmt"
)

const (
	// Prefix scopes command and lifecycle topics.
	Prefix = "energy/"
	// DiscoveryPrefix is the dashboard's own tree, hosting discovery,
	// state and its birth/will topic.
	DiscoveryPrefix = "homeassistant/"
	// MeterPrefix keys one channel's topics and identifiers.
	MeterPrefix = "meter_"
	// deviceNamePrefix builds the device name from the configured id.
	deviceNamePrefix = "monitor_"
)

// TopicDashboardStatus carries the dashboard's birth and will
// messages; any traffic here means retained announcements may be gone.
const TopicDashboardStatus = DiscoveryPrefix + "status"

// Topics builds every topic for one device identity.
type Topics struct {
	device string
}

// NewTopics derives the topic set from the configured device id.
func NewTopics(deviceID string) Topics {
	return Topics{device: deviceNamePrefix + deviceID}
}

// Device returns the device name used in command topics.
func (t Topics) Device() string { return t.device }

// State is a channel's state topic.
func (t Topics) State(channel int) string {
	return fmt.Sprintf("%senergy/%s%d/state", DiscoveryPrefix, MeterPrefix, channel)
}

// Discovery is an entity's announcement topic.
func (t Topics) Discovery(e Entity, channel int) string {
	return fmt.Sprintf("%s%s/%s/%s%d/config", DiscoveryPrefix, e.Component, e.Class, MeterPrefix, channel)
}

// Online is the availability topic, also the connection's last will.
func (t Topics) Online() string { return Prefix + t.device + "/online" }

// Version announces the build, retained.
func (t Topics) Version() string { return Prefix + t.device + "/sketch_version" }

// Status carries free-form status lines, retained.
func (t Topics) Status() string { return Prefix + t.device + "/status" }

// Threshold is a channel's preset command topic.
func (t Topics) Threshold(channel int) string {
	return fmt.Sprintf("%s%s/%d/threshold", Prefix, t.device, channel)
}

// ThresholdWildcard matches every channel's preset command topic.
func (t Topics) ThresholdWildcard() string { return Prefix + t.device + "/+/threshold" }

// Correction is the device-wide calibration command topic.
func (t Topics) Correction() string { return Prefix + t.device + "/config" }

// SubtotalReset is the device-wide reset command topic.
func (t Topics) SubtotalReset() string { return Prefix + t.device + "/subtotal_reset" }

// Entity is one of the three dashboard entities each channel exposes.
type Entity struct {
	Name      string // JSON key in state payloads, also the display name
	Component string // sensor | number
	Class     string // energy | power
	Unit      string // kWh | W
}

// Entities in announcement order. Forbrug is the power draw; Total is
// settable from the dashboard through the threshold topic.
var Entities = [3]Entity{
	{Name: "Subtotal", Component: "sensor", Class: "energy", Unit: "kWh"},
	{Name: "Forbrug", Component: "sensor", Class: "power", Unit: "W"},
	{Name: "Total", Component: "number", Class: "energy", Unit: "kWh"},
}

// StatePayload is one channel's state message. Forbrug is signed:
// negative marks a decay-extrapolated estimate.
type StatePayload struct {
	Subtotal float64 `json:"Subtotal"`
	Forbrug  int64   `json:"Forbrug"`
	Total    float64 `json:"Total"`
}

// FormatState creates the JSON payload for a state message.
func FormatState(p StatePayload) ([]byte, error) {
	return json.Marshal(p)
}

// DiscoveryDevice groups a channel's entities in the dashboard.
type DiscoveryDevice struct {
	Identifiers []string `json:"identifiers"`
	Name        string   `json:"name"`
}

// DiscoveryPayload is one entity announcement. Field order is part of
// the observable contract; the command block only appears on the
// settable total.
type DiscoveryPayload struct {
	CommandTopic        string          `json:"command_topic,omitempty"`
	CommandTemplate     string          `json:"command_template,omitempty"`
	Max                 *float64        `json:"max,omitempty"`
	Min                 *float64        `json:"min,omitempty"`
	Step                *float64        `json:"step,omitempty"`
	Name                string          `json:"name"`
	StateTopic          string          `json:"state_topic"`
	AvailabilityTopic   string          `json:"availability_topic"`
	PayloadAvailable    string          `json:"payload_available"`
	PayloadNotAvailable string          `json:"payload_not_available"`
	DeviceClass         string          `json:"device_class"`
	UnitOfMeasurement   string          `json:"unit_of_measurement"`
	UniqueID            string          `json:"unique_id"`
	QoS                 int             `json:"qos"`
	ValueTemplate       string          `json:"value_template"`
	Device              DiscoveryDevice `json:"device"`
}

// FormatDiscovery creates the announcement for one entity of one
// channel. meterName is the channel's display name from deployment
// configuration.
func FormatDiscovery(t Topics, e Entity, channel int, meterName string) ([]byte, error) {
	p := DiscoveryPayload{
		Name:                e.Name,
		StateTopic:          t.State(channel),
		AvailabilityTopic:   t.Online(),
		PayloadAvailable:    "True",
		PayloadNotAvailable: "False",
		DeviceClass:         e.Class,
		UnitOfMeasurement:   e.Unit,
		UniqueID:            fmt.Sprintf("%s_%s%d", e.Name, MeterPrefix, channel),
		ValueTemplate:       fmt.Sprintf("{{ value_json.%s | round(2)}}", e.Name),
		Device: DiscoveryDevice{
			Identifiers: []string{fmt.Sprintf("%s%d", MeterPrefix, channel)},
			Name:        "Energi - " + meterName,
		},
	}
	// Power is displayed as the integer it is; energy rounds to two
	// decimals dashboard-side.
	if e.Class == "power" {
		p.ValueTemplate = fmt.Sprintf("{{ value_json.%s}}", e.Name)
	}
	if e.Component == "number" {
		p.CommandTopic = t.Threshold(channel)
		p.CommandTemplate = `{"Total": {{ value }} }`
		p.Max = f64(99999.99)
		p.Min = f64(0.0)
		p.Step = f64(0.01)
	}
	return json.Marshal(&p)
}

func f64(v float64) *float64 { return &v }

// Publisher publishes device state and identity to the broker.
type Publisher interface {
	// PublishState sends one channel's counters and power. Spooled
	// while the broker is unreachable rather than failed.
	PublishState(channel int, p StatePayload) error

	// PublishDiscovery announces a channel's three entities.
	PublishDiscovery(channel int, meterName string) error

	// PublishVersion announces the build identity, retained.
	PublishVersion(v string) error

	// PublishStatus publishes a free-form status line, retained.
	PublishStatus(msg string) error

	// PublishAvailability marks the device online or offline, retained.
	PublishAvailability(online bool) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}
