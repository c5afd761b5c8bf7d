package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleTOML = `
device_id = "a1b2"
broker = "tcp://192.168.1.200:1883"
mqtt_user = "user"
mqtt_pass = "secret"
data_dir = "/var/lib/pulse-monitor"
http_addr = ":8080"
max_watts = 3600
min_watts = 20
write_budget = 5000
pulse_time_correction_ms = -125

[export]
enabled = true
url = "https://sink.example.com/macros/s/abc"
hour = 23
minute = 55

[[meters]]
gpio = 4
name = "Fyr"
pulses_per_kwh = 1000

[[meters]]
gpio = 12
name = "Pumpe"
pulses_per_kwh = 100
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pulse-monitor.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadParsesFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DeviceID != "a1b2" {
		t.Errorf("DeviceID: got %q, want a1b2", cfg.DeviceID)
	}
	if cfg.Broker != "tcp://192.168.1.200:1883" {
		t.Errorf("Broker: got %q", cfg.Broker)
	}
	if cfg.MQTTUser != "user" || cfg.MQTTPass != "secret" {
		t.Errorf("credentials: got %q/%q", cfg.MQTTUser, cfg.MQTTPass)
	}
	if cfg.MaxWatts != 3600 || cfg.MinWatts != 20 {
		t.Errorf("watt bounds: got %d/%d", cfg.MaxWatts, cfg.MinWatts)
	}
	if cfg.WriteBudget != 5000 {
		t.Errorf("WriteBudget: got %d, want 5000", cfg.WriteBudget)
	}
	if cfg.CorrectionMs != -125 {
		t.Errorf("CorrectionMs: got %d, want -125", cfg.CorrectionMs)
	}
	if !cfg.Export.Enabled || cfg.Export.Hour != 23 || cfg.Export.Minute != 55 {
		t.Errorf("Export: got %+v", cfg.Export)
	}
	if len(cfg.Meters) != 2 {
		t.Fatalf("Meters: got %d, want 2", len(cfg.Meters))
	}
	if cfg.Meters[0].GPIO != 4 || cfg.Meters[0].Name != "Fyr" || cfg.Meters[0].PulsesPerKWh != 1000 {
		t.Errorf("Meters[0]: got %+v", cfg.Meters[0])
	}
	if cfg.Meters[1].GPIO != 12 || cfg.Meters[1].PulsesPerKWh != 100 {
		t.Errorf("Meters[1]: got %+v", cfg.Meters[1])
	}
}

func TestLoadMissingFileWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pulse-monitor.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Meters) != 8 {
		t.Errorf("default meters: got %d, want 8", len(cfg.Meters))
	}
	if cfg.MaxWatts != 2200 || cfg.MinWatts != 25 {
		t.Errorf("default watt bounds: got %d/%d", cfg.MaxWatts, cfg.MinWatts)
	}

	// The file must now exist and parse back to the same values.
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected default config file: %v", err)
	}
	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(again.Meters) != 8 || again.Meters[5].PulsesPerKWh != 100 {
		t.Errorf("reloaded defaults differ: %+v", again.Meters)
	}
	if again.Broker != cfg.Broker || again.WriteBudget != cfg.WriteBudget {
		t.Errorf("reloaded defaults differ: %+v", again)
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestDefaultChannelOrder(t *testing.T) {
	cfg := Default()

	wantGPIO := []int{4, 12, 13, 14, 15, 25, 26, 27}
	for i, g := range cfg.GPIOs() {
		if g != wantGPIO[i] {
			t.Errorf("gpio %d: got %d, want %d", i, g, wantGPIO[i])
		}
	}

	wantPPU := []uint32{1000, 1000, 1000, 1000, 1000, 100, 100, 100}
	for i, p := range cfg.PulsesPerKWh() {
		if p != wantPPU[i] {
			t.Errorf("ppkwh %d: got %d, want %d", i, p, wantPPU[i])
		}
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Default()
		cfg.Export.Enabled = true
		cfg.Export.URL = "https://sink.example.com"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"empty device id", func(c *Config) { c.DeviceID = "" }, "device_id"},
		{"empty broker", func(c *Config) { c.Broker = "" }, "broker"},
		{"empty data dir", func(c *Config) { c.DataDir = "" }, "data_dir"},
		{"no meters", func(c *Config) { c.Meters = nil }, "meters"},
		{"too many meters", func(c *Config) { c.Meters = append(c.Meters, Meter{GPIO: 33, PulsesPerKWh: 1}) }, "meters"},
		{"zero calibration", func(c *Config) { c.Meters[2].PulsesPerKWh = 0 }, "pulses_per_kwh"},
		{"duplicate gpio", func(c *Config) { c.Meters[1].GPIO = c.Meters[0].GPIO }, "already in use"},
		{"negative min watts", func(c *Config) { c.MinWatts = -1 }, "min_watts"},
		{"max not above min", func(c *Config) { c.MaxWatts = c.MinWatts }, "max_watts"},
		{"zero write budget", func(c *Config) { c.WriteBudget = 0 }, "write_budget"},
		{"correction out of range", func(c *Config) { c.CorrectionMs = 100_000_000 }, "pulse_time_correction_ms"},
		{"bad export hour", func(c *Config) { c.Export.Hour = 24 }, "hour"},
		{"bad export minute", func(c *Config) { c.Export.Minute = 60 }, "minute"},
		{"export enabled without url", func(c *Config) { c.Export.URL = "" }, "url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := writeConfig(t, `device_id = "x"`+"\n"+`broker = "tcp://b"`+"\n")

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "data_dir") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadRejectsMalformedTOML(t *testing.T) {
	path := writeConfig(t, "device_id = \n")

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected parse error")
	}
	if !strings.Contains(err.Error(), "parse") {
		t.Errorf("unexpected error: %v", err)
	}
}
