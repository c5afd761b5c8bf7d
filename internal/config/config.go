// Package config loads the deployment configuration from a TOML file,
// creating one with defaults on first boot.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Meter configures one pulse input.
type Meter struct {
	GPIO         int    `toml:"gpio"`
	Name         string `toml:"name"`
	PulsesPerKWh uint32 `toml:"pulses_per_kwh"`
}

// Export configures the daily reporting-sink flush.
type Export struct {
	Enabled bool   `toml:"enabled"`
	URL     string `toml:"url"`
	Hour    int    `toml:"hour"`
	Minute  int    `toml:"minute"`
}

// Config is the deployment configuration. Calibration and correction
// values seed the first boot only; once persisted, the stored values
// win, so remote calibration survives config file edits.
type Config struct {
	DeviceID     string  `toml:"device_id"`
	Broker       string  `toml:"broker"`
	MQTTUser     string  `toml:"mqtt_user"`
	MQTTPass     string  `toml:"mqtt_pass"`
	DataDir      string  `toml:"data_dir"`
	HTTPAddr     string  `toml:"http_addr"`
	MaxWatts     int64   `toml:"max_watts"`
	MinWatts     int64   `toml:"min_watts"`
	WriteBudget  uint32  `toml:"write_budget"`
	CorrectionMs int64   `toml:"pulse_time_correction_ms"`
	Export       Export  `toml:"export"`
	Meters       []Meter `toml:"meters"`
}

// Default returns the configuration written on first boot: all eight
// inputs wired, the usual 1000/100 pulses-per-kWh split, export at
// midnight.
func Default() Config {
	gpios := []int{4, 12, 13, 14, 15, 25, 26, 27}
	ppkwh := []uint32{1000, 1000, 1000, 1000, 1000, 100, 100, 100}

	meters := make([]Meter, len(gpios))
	for i := range meters {
		meters[i] = Meter{
			GPIO:         gpios[i],
			Name:         fmt.Sprintf("Meter %d", i+1),
			PulsesPerKWh: ppkwh[i],
		}
	}

	return Config{
		DeviceID:    "energy",
		Broker:      "tcp://localhost:1883",
		DataDir:     "/var/lib/pulse-monitor",
		HTTPAddr:    ":8080",
		MaxWatts:    2200,
		MinWatts:    25,
		WriteBudget: 10000,
		Export:      Export{Hour: 0, Minute: 0},
		Meters:      meters,
	}
}

// Load reads the configuration from path. A missing file is not an
// error: the defaults are written there and returned, so a fresh
// install boots with a file the operator can edit.
func Load(path string) (Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := write(path, cfg); err != nil {
			return Config{}, err
		}
		return cfg, nil
	}

	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func write(path string, cfg Config) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// Validate checks the invariants the daemon relies on.
func (c Config) Validate() error {
	if c.DeviceID == "" {
		return fmt.Errorf("device_id must not be empty")
	}
	if c.Broker == "" {
		return fmt.Errorf("broker must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if len(c.Meters) < 1 || len(c.Meters) > 8 {
		return fmt.Errorf("meters: got %d, want 1 to 8", len(c.Meters))
	}
	seen := make(map[int]bool, len(c.Meters))
	for i, m := range c.Meters {
		if m.PulsesPerKWh == 0 {
			return fmt.Errorf("meter %d: pulses_per_kwh must not be zero", i+1)
		}
		if seen[m.GPIO] {
			return fmt.Errorf("meter %d: gpio %d already in use", i+1, m.GPIO)
		}
		seen[m.GPIO] = true
	}
	if c.MinWatts < 0 {
		return fmt.Errorf("min_watts must not be negative")
	}
	if c.MaxWatts <= c.MinWatts {
		return fmt.Errorf("max_watts (%d) must exceed min_watts (%d)", c.MaxWatts, c.MinWatts)
	}
	if c.WriteBudget == 0 {
		return fmt.Errorf("write_budget must not be zero")
	}
	// The persisted field is 32 bits; a day is already far beyond any
	// plausible edge-to-timestamp latency.
	if c.CorrectionMs < -86_400_000 || c.CorrectionMs > 86_400_000 {
		return fmt.Errorf("pulse_time_correction_ms %d out of range", c.CorrectionMs)
	}
	if c.Export.Hour < 0 || c.Export.Hour > 23 {
		return fmt.Errorf("export hour: got %d, want 0 to 23", c.Export.Hour)
	}
	if c.Export.Minute < 0 || c.Export.Minute > 59 {
		return fmt.Errorf("export minute: got %d, want 0 to 59", c.Export.Minute)
	}
	if c.Export.Enabled && c.Export.URL == "" {
		return fmt.Errorf("export enabled without url")
	}
	return nil
}

// GPIOs returns the meter GPIO offsets in channel order.
func (c Config) GPIOs() []int {
	out := make([]int, len(c.Meters))
	for i, m := range c.Meters {
		out[i] = m.GPIO
	}
	return out
}

// PulsesPerKWh returns the per-channel calibration defaults in channel
// order.
func (c Config) PulsesPerKWh() []uint32 {
	out := make([]uint32, len(c.Meters))
	for i, m := range c.Meters {
		out[i] = m.PulsesPerKWh
	}
	return out
}
