package meter

import "testing"

func newTestMeter(t *testing.T) *Meter {
	t.Helper()
	return New(Config{
		Channels:      8,
		PulsesPerUnit: []uint32{1000, 1000, 1000, 1000, 1000, 100, 100, 100},
		MaxWatts:      2200,
		MinWatts:      25,
	})
}

func TestFirstPulseCountsWithoutEstimate(t *testing.T) {
	m := newTestMeter(t)

	r := m.AcceptPulse(0, 0)
	if !r.Counted {
		t.Error("first pulse not counted")
	}
	if r.Watts != 0 {
		t.Errorf("first pulse produced estimate %d W, want 0", r.Watts)
	}
	if total, sub := m.Counters(0); total != 1 || sub != 1 {
		t.Errorf("counters = %d/%d, want 1/1", total, sub)
	}
}

// A pulse at t=0 and a second at t=3600ms with 1000 pulses/kWh is
// exactly 1000 W.
func TestSecondPulseYieldsPower(t *testing.T) {
	m := newTestMeter(t)

	m.AcceptPulse(0, 0)
	r := m.AcceptPulse(0, 3600)
	if !r.Counted {
		t.Fatal("second pulse not counted")
	}
	if r.Watts != 1000 {
		t.Errorf("estimate = %d W, want 1000", r.Watts)
	}
	if total, sub := m.Counters(0); total != 2 || sub != 2 {
		t.Errorf("counters = %d/%d, want 2/2", total, sub)
	}
}

func TestEstimateRounding(t *testing.T) {
	tests := []struct {
		name     string
		channel  int
		interval int64
		want     int64
	}{
		{"rounds down", 0, 7000, 514},   // 514.28...
		{"rounds up", 0, 3500, 1029},    // 1028.57...
		{"exact", 0, 3600, 1000},
		{"coarse calibration", 5, 36000, 1000}, // 100 pulses/kWh
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMeter(t)
			m.AcceptPulse(tt.channel, 1000)
			r := m.AcceptPulse(tt.channel, 1000+tt.interval)
			if r.Watts != tt.want {
				t.Errorf("interval %dms: estimate = %d W, want %d", tt.interval, r.Watts, tt.want)
			}
		})
	}
}

func TestPulseConservation(t *testing.T) {
	m := newTestMeter(t)

	const n = 50
	stamp := int64(0)
	for i := 0; i < n; i++ {
		stamp += 3600
		if r := m.AcceptPulse(2, stamp); !r.Counted {
			t.Fatalf("pulse %d at %dms not counted", i, stamp)
		}
	}
	if total, sub := m.Counters(2); total != n || sub != n {
		t.Errorf("counters = %d/%d, want %d/%d", total, sub, n, n)
	}
}

func TestImplausiblePulseRejected(t *testing.T) {
	m := newTestMeter(t)

	m.AcceptPulse(0, 0)
	// 1000ms gap is 3600 W, beyond plausible consumption.
	r := m.AcceptPulse(0, 1000)
	if r.Counted {
		t.Error("implausible pulse was counted")
	}
	if total, sub := m.Counters(0); total != 1 || sub != 1 {
		t.Errorf("counters after rejection = %d/%d, want 1/1", total, sub)
	}

	// The rejected pulse must not have touched timing state: the next
	// estimate is measured from the t=0 pulse, not from t=1000.
	r = m.AcceptPulse(0, 3600)
	if !r.Counted || r.Watts != 1000 {
		t.Errorf("pulse after rejection = %+v, want counted at 1000 W", r)
	}
}

func TestTimingAnomalyCountsZeroPower(t *testing.T) {
	m := newTestMeter(t)

	m.AcceptPulse(1, 500)
	// Same stamp again: no positive gap, counted at zero power.
	r := m.AcceptPulse(1, 500)
	if !r.Counted || r.Watts != 0 {
		t.Errorf("equal-stamp pulse = %+v, want counted at 0 W", r)
	}
	// Stamp going backwards behaves the same.
	r = m.AcceptPulse(1, 400)
	if !r.Counted || r.Watts != 0 {
		t.Errorf("backwards pulse = %+v, want counted at 0 W", r)
	}
	if total, _ := m.Counters(1); total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
}

func TestCorrectionAdjustsInterval(t *testing.T) {
	m := New(Config{
		Channels:      1,
		PulsesPerUnit: []uint32{1000},
		CorrectionMs:  400,
		MaxWatts:      2200,
		MinWatts:      25,
	})

	m.AcceptPulse(0, 0)
	r := m.AcceptPulse(0, 3200) // 3200 + 400 correction = 3600ms
	if r.Watts != 1000 {
		t.Errorf("corrected estimate = %d W, want 1000", r.Watts)
	}

	// A negative correction that swallows the whole gap is an anomaly,
	// not a division by zero.
	m.SetCorrection(-4000)
	r = m.AcceptPulse(0, 6400)
	if !r.Counted || r.Watts != 0 {
		t.Errorf("over-corrected pulse = %+v, want counted at 0 W", r)
	}
}

func TestDecayNeedsIntervalHistory(t *testing.T) {
	m := newTestMeter(t)

	if _, publish := m.Decay(0, 100000); publish {
		t.Error("decay published with no pulses at all")
	}
	m.AcceptPulse(0, 0)
	if _, publish := m.Decay(0, 100000); publish {
		t.Error("decay published after a single pulse (no interval known)")
	}
}

func TestDecayWaitsForWindow(t *testing.T) {
	m := newTestMeter(t)
	m.AcceptPulse(0, 0)
	m.AcceptPulse(0, 3600) // interval 3600ms, window ends at 10800

	if _, publish := m.Decay(0, 10800); publish {
		t.Error("decay published at the window boundary")
	}
	w, publish := m.Decay(0, 10801)
	if !publish {
		t.Fatal("decay not published past the window")
	}
	// 7201ms since the last pulse: round(3_600_000/7201) = 500 W.
	if w != -500 {
		t.Errorf("decay estimate = %d W, want -500", w)
	}
}

func TestDecayConvergesToZero(t *testing.T) {
	m := newTestMeter(t)
	m.AcceptPulse(0, 0)
	m.AcceptPulse(0, 3600)

	var published []int64
	for now := int64(3600); now < 600000; now += 100 {
		if w, ok := m.Decay(0, now); ok {
			published = append(published, w)
		}
	}

	if len(published) == 0 {
		t.Fatal("no decay publications")
	}
	// Geometric back-off keeps the sequence short.
	if len(published) > 12 {
		t.Errorf("decay published %d times, want a handful", len(published))
	}
	last := published[len(published)-1]
	if last != 0 {
		t.Errorf("decay sequence ended at %d W, want 0", last)
	}
	for i := 1; i < len(published); i++ {
		if -published[i] >= -published[i-1] && published[i-1] != 0 {
			t.Errorf("decay magnitudes not strictly decreasing: %v", published)
			break
		}
	}
	for _, w := range published[:len(published)-1] {
		if w >= 0 {
			t.Errorf("intermediate decay value %d not negative: %v", w, published)
		}
	}

	// Stopped for good until a real pulse arrives.
	if _, publish := m.Decay(0, 600000); publish {
		t.Error("decay continued after converging to zero")
	}

	// Counters were never touched by decay.
	if total, sub := m.Counters(0); total != 2 || sub != 2 {
		t.Errorf("counters = %d/%d, want 2/2", total, sub)
	}
}

func TestRealPulseRestartsDecay(t *testing.T) {
	m := newTestMeter(t)
	m.AcceptPulse(0, 0)
	m.AcceptPulse(0, 3600)

	// Run the decay out.
	for now := int64(3600); now < 600000; now += 100 {
		m.Decay(0, now)
	}

	m.AcceptPulse(0, 600000)
	r := m.AcceptPulse(0, 603600)
	if r.Watts != 1000 {
		t.Fatalf("estimate after restart = %d W, want 1000", r.Watts)
	}
	if _, publish := m.Decay(0, 611000); !publish {
		t.Error("decay did not resume after new pulses")
	}
}

func TestPresetIdempotence(t *testing.T) {
	m := newTestMeter(t)
	m.AcceptPulse(0, 0)
	m.AcceptPulse(0, 3600)

	m.ApplyPreset(0, 123.45)
	total, sub := m.Counters(0)
	if total != 123450 {
		t.Errorf("total after preset = %d, want 123450", total)
	}
	if sub != 2 {
		t.Errorf("preset touched subtotal: %d, want 2", sub)
	}

	m.ApplyPreset(0, 123.45)
	if again, _ := m.Counters(0); again != total {
		t.Errorf("second identical preset changed total: %d -> %d", total, again)
	}
}

func TestPresetRounds(t *testing.T) {
	m := newTestMeter(t)

	m.ApplyPreset(0, 0.0015) // 1.5 pulses rounds to 2
	if total, _ := m.Counters(0); total != 2 {
		t.Errorf("total = %d, want 2", total)
	}
	m.ApplyPreset(0, 123.4564)
	if total, _ := m.Counters(0); total != 123456 {
		t.Errorf("total = %d, want 123456", total)
	}
}

func TestResetSubtotal(t *testing.T) {
	m := newTestMeter(t)
	m.AcceptPulse(3, 0)
	m.AcceptPulse(3, 3600)

	m.ResetSubtotal(3)
	total, sub := m.Counters(3)
	if sub != 0 {
		t.Errorf("subtotal = %d, want 0", sub)
	}
	if total != 2 {
		t.Errorf("reset touched total: %d, want 2", total)
	}
}

func TestRestoredCountersStartWithoutTiming(t *testing.T) {
	m := newTestMeter(t)
	m.SetCounters(0, 100, 10)

	r := m.AcceptPulse(0, 5000)
	if !r.Counted || r.Watts != 0 {
		t.Errorf("first pulse after restore = %+v, want counted at 0 W", r)
	}
	if total, sub := m.Counters(0); total != 101 || sub != 11 {
		t.Errorf("counters = %d/%d, want 101/11", total, sub)
	}
}

func TestUnitConversion(t *testing.T) {
	m := newTestMeter(t)
	m.SetCounters(0, 123450, 500) // 1000 pulses/kWh
	m.SetCounters(5, 1234, 50)    // 100 pulses/kWh

	if got := m.TotalUnits(0); got != 123.45 {
		t.Errorf("TotalUnits(0) = %v, want 123.45", got)
	}
	if got := m.SubtotalUnits(0); got != 0.5 {
		t.Errorf("SubtotalUnits(0) = %v, want 0.5", got)
	}
	if got := m.TotalUnits(5); got != 12.34 {
		t.Errorf("TotalUnits(5) = %v, want 12.34", got)
	}
	if got := m.SubtotalUnits(5); got != 0.5 {
		t.Errorf("SubtotalUnits(5) = %v, want 0.5", got)
	}
}
