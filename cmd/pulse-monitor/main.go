// Command pulse-monitor counts meter pulses on GPIO inputs and
// publishes energy totals and power estimates to MQTT.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sweeney/pulse-monitor/internal/capture"
	"github.com/sweeney/pulse-monitor/internal/config"
	"github.com/sweeney/pulse-monitor/internal/export"
	"github.com/sweeney/pulse-monitor/internal/gpio"
	"github.com/sweeney/pulse-monitor/internal/meter"
	"github.com/sweeney/pulse-monitor/internal/mqtt"
	"github.com/sweeney/pulse-monitor/internal/reconcile"
	"github.com/sweeney/pulse-monitor/internal/status"
	"github.com/sweeney/pulse-monitor/internal/store"
	"github.com/sweeney/pulse-monitor/internal/web"
)

// version is announced retained on every broker connect, so a silent
// deployment can be identified from the dashboard side. Storage
// degradation is appended to it.
const version = "Pulse monitor: MQTT interface for S0 energy meters - V1.0.0"

func main() {
	configPath := flag.String("config", "/etc/pulse-monitor.toml", "TOML configuration file")
	poll := flag.Duration("poll", 10*time.Millisecond, "pulse claim interval")
	broker := flag.String("broker", "", "MQTT broker address (overrides config)")
	httpAddr := flag.String("http", "", "HTTP status address (overrides config)")
	dataDir := flag.String("data", "", "counter storage directory (overrides config)")
	printState := flag.Bool("print-state", false, "print persisted counters and exit")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
	if *broker != "" {
		cfg.Broker = *broker
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	if err := run(cfg, *poll, *printState); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(cfg config.Config, poll time.Duration, printState bool) error {
	// Open storage. Without it durability cannot be promised, so an
	// unusable data root is the one fatal path.
	st, err := store.Open(cfg.DataDir, len(cfg.Meters), cfg.WriteBudget)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	// Persisted calibration wins over the config file: file values seed
	// the first boot only, corrections arrive over MQTT afterwards.
	pcfg := st.LoadConfig(store.Config{
		CorrectionMs:  int32(cfg.CorrectionMs),
		PulsesPerUnit: cfg.PulsesPerKWh(),
	})

	m := meter.New(meter.Config{
		Channels:      len(cfg.Meters),
		PulsesPerUnit: pcfg.PulsesPerUnit,
		CorrectionMs:  int64(pcfg.CorrectionMs),
		MaxWatts:      cfg.MaxWatts,
		MinWatts:      cfg.MinWatts,
	})
	for i := range cfg.Meters {
		total, subtotal := st.LoadChannel(i)
		m.SetCounters(i, total, subtotal)
	}

	// Print state mode
	if printState {
		for i, mc := range cfg.Meters {
			total, subtotal := m.Counters(i)
			fmt.Printf("%d %-16s total=%d (%.2f kWh) subtotal=%d (%.2f kWh) calibration=%d\n",
				i, mc.Name, total, m.TotalUnits(i), subtotal, m.SubtotalUnits(i), m.PulsesPerUnit(i))
		}
		fmt.Printf("generation=%d writes=%d correction=%dms\n", st.Generation(), st.Writes(), m.Correction())
		return nil
	}

	// Initialize GPIO
	pulses := capture.New()
	watcher, err := gpio.NewRealWatcher(cfg.GPIOs(), pulses.Record)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer watcher.Close()

	// Initialize MQTT. Connecting proceeds in the background; the
	// Connected command arriving on the channel drives the announcements.
	commands := make(chan reconcile.Command, 32)
	client := mqtt.NewRealClient(mqtt.Options{
		Broker:   cfg.Broker,
		Username: cfg.MQTTUser,
		Password: cfg.MQTTPass,
		DeviceID: cfg.DeviceID,
		Channels: len(cfg.Meters),
		Commands: commands,
	})
	defer client.Close()

	// Export sink, when configured
	var sink *export.Sink
	var sched *export.Scheduler
	if cfg.Export.Enabled {
		sink = export.NewSink(cfg.Export.URL)
		sched = export.NewScheduler(cfg.Export.Hour, cfg.Export.Minute)
	}

	// Initialize status tracker with the restored counters
	tracker := status.NewTracker(time.Now(), len(cfg.Meters), status.Config{
		PollMs:       poll.Milliseconds(),
		MaxWatts:     cfg.MaxWatts,
		MinWatts:     cfg.MinWatts,
		WriteBudget:  cfg.WriteBudget,
		Broker:       cfg.Broker,
		HTTPAddr:     cfg.HTTPAddr,
		ExportHour:   cfg.Export.Hour,
		ExportMinute: cfg.Export.Minute,
	})
	names := make([]string, len(cfg.Meters))
	for i, mc := range cfg.Meters {
		names[i] = mc.Name
		total, subtotal := m.Counters(i)
		tracker.UpdateChannel(i, status.ChannelStatus{
			Name:          mc.Name,
			PulsesPerUnit: m.PulsesPerUnit(i),
			PulseTotal:    total,
			PulseSubtotal: subtotal,
			Total:         m.TotalUnits(i),
			Subtotal:      m.SubtotalUnits(i),
		})
	}
	tracker.SetStorage(st.Generation(), st.Writes(), st.ErrorStrings())
	tracker.SetCorrection(m.Correction())

	// Start HTTP status server
	if cfg.HTTPAddr != "" {
		srv := web.New(cfg.HTTPAddr, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", cfg.HTTPAddr)
	}

	log.Printf("started: device=%s channels=%d broker=%s data=%s generation=%d poll=%v",
		cfg.DeviceID, len(cfg.Meters), cfg.Broker, cfg.DataDir, st.Generation(), poll)

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	d := &daemon{
		meter:      m,
		store:      st,
		pulses:     pulses,
		publisher:  client,
		mqttStatus: client,
		tracker:    tracker,
		sink:       sink,
		sched:      sched,
		names:      names,
	}
	return d.runLoop(time.Now, gpio.MonotonicMs, ticker.C, sigCh, commands)
}

// daemon bundles the main loop's collaborators so tests can assemble
// one from fakes. All accounting state is mutated on the loop
// goroutine only.
type daemon struct {
	meter      *meter.Meter
	store      *store.Store
	pulses     *capture.Capture
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	sink       *export.Sink      // nil when export is disabled
	sched      *export.Scheduler // nil when export is disabled
	names      []string

	announced [meter.MaxChannels]bool
	lastWatts [meter.MaxChannels]int64
	degraded  bool
}

// runLoop is the single writer for all accounting state. Pulse pickup
// always wins: while any channel holds an unclaimed pulse, decay,
// command and export work waits for the next tick.
func (d *daemon) runLoop(now func() time.Time, nowMs func() int64, tick <-chan time.Time, sig <-chan os.Signal, commands <-chan reconcile.Command) error {
	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			if err := d.publisher.PublishAvailability(false); err != nil {
				log.Printf("publish offline: %v", err)
			}
			return nil

		case <-tick:
			d.drainPulses()
			if d.pulses.Pending() {
				continue
			}

			d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
			d.syncStorage()
			d.decayPass(nowMs())

			select {
			case cmd := <-commands:
				d.apply(cmd)
			default:
			}

			d.pollExport(now())
		}
	}
}

// drainPulses claims every latched pulse, accounts it, persists the
// counters and publishes the fresh state.
func (d *daemon) drainPulses() {
	for ch := 0; ch < d.meter.Channels(); ch++ {
		stamp, ok := d.pulses.Claim(ch)
		if !ok {
			continue
		}
		r := d.meter.AcceptPulse(ch, stamp)
		if !r.Counted {
			log.Printf("channel %d: pulse rejected as implausible", ch)
			continue
		}
		d.persistChannel(ch)
		d.publishChannel(ch, r.Watts)
	}
}

// decayPass publishes falling estimates for channels that stopped
// pulsing. A pulse landing mid-pass aborts it; accounting goes first.
func (d *daemon) decayPass(nowMs int64) {
	for ch := 0; ch < d.meter.Channels(); ch++ {
		if d.pulses.Pending() {
			return
		}
		watts, publish := d.meter.Decay(ch, nowMs)
		if !publish {
			continue
		}
		d.publishChannel(ch, watts)
	}
}

// apply executes one override between accounting passes.
func (d *daemon) apply(cmd reconcile.Command) {
	switch c := cmd.(type) {
	case reconcile.PresetTotal:
		log.Printf("channel %d: total preset to %.2f kWh", c.Channel, c.Units)
		d.meter.ApplyPreset(c.Channel, c.Units)
		d.persistChannel(c.Channel)
		d.publishChannel(c.Channel, 0)

	case reconcile.SetCorrection:
		log.Printf("pulse time correction set to %dms", c.Ms)
		d.meter.SetCorrection(c.Ms)
		if err := d.store.SetCorrection(int32(c.Ms)); err != nil {
			log.Printf("store: %v", err)
		}
		d.tracker.SetCorrection(c.Ms)

	case reconcile.SubtotalReset:
		log.Printf("subtotal reset requested")
		d.export("")
		d.resetSubtotals()

	case reconcile.Republish:
		log.Printf("dashboard restarted, re-announcing discovery")
		for i := range d.announced {
			d.announced[i] = false
		}

	case reconcile.Connected:
		d.tracker.SetMQTTConnected(true)
		d.announceVersion()
		if c.First {
			d.export(export.TagPowerUp)
		} else {
			d.export(export.TagWiFiReconnect)
		}
	}
}

// pollExport fires the daily flush: export with yesterday's subtotals,
// then start the new accounting period.
func (d *daemon) pollExport(now time.Time) {
	if d.sched == nil {
		return
	}
	fire, err := d.sched.Poll(now)
	if err != nil {
		log.Printf("export: %v", err)
		return
	}
	if !fire {
		return
	}
	log.Printf("export: daily boundary reached")
	d.export("")
	d.resetSubtotals()
}

// export pushes a counter snapshot to the reporting sink and surfaces
// the response on the status topic. Best-effort all the way down; a
// scheduled flush carries no tag.
func (d *daemon) export(tag string) {
	if d.sink == nil {
		return
	}
	n := d.meter.Channels()
	totals := make([]float64, n)
	subtotals := make([]float64, n)
	for i := 0; i < n; i++ {
		totals[i] = d.meter.TotalUnits(i)
		subtotals[i] = d.meter.SubtotalUnits(i)
	}
	line, err := d.sink.Push(context.Background(), totals, subtotals, tag)
	if err != nil {
		log.Printf("export: %v", err)
		return
	}
	log.Printf("export: %s", line)
	if err := d.publisher.PublishStatus(line); err != nil {
		log.Printf("publish status: %v", err)
	}
}

// resetSubtotals starts a fresh accounting period on every channel.
func (d *daemon) resetSubtotals() {
	for ch := 0; ch < d.meter.Channels(); ch++ {
		d.meter.ResetSubtotal(ch)
		d.persistChannel(ch)
		d.publishChannel(ch, d.lastWatts[ch])
	}
}

// publishChannel sends one channel's state, announcing its entities
// first if the dashboard has not seen them this session.
func (d *daemon) publishChannel(channel int, watts int64) {
	if !d.announced[channel] {
		if err := d.publisher.PublishDiscovery(channel, d.names[channel]); err != nil {
			log.Printf("discovery channel %d: %v", channel, err)
		} else {
			d.announced[channel] = true
		}
	}

	d.lastWatts[channel] = watts
	if err := d.publisher.PublishState(channel, mqtt.StatePayload{
		Subtotal: d.meter.SubtotalUnits(channel),
		Forbrug:  watts,
		Total:    d.meter.TotalUnits(channel),
	}); err != nil {
		log.Printf("publish state channel %d: %v", channel, err)
	}

	total, subtotal := d.meter.Counters(channel)
	d.tracker.UpdateChannel(channel, status.ChannelStatus{
		Name:          d.names[channel],
		PulsesPerUnit: d.meter.PulsesPerUnit(channel),
		PulseTotal:    total,
		PulseSubtotal: subtotal,
		Total:         d.meter.TotalUnits(channel),
		Subtotal:      d.meter.SubtotalUnits(channel),
		Watts:         watts,
	})
}

// persistChannel mirrors a channel's counters to storage. Failures are
// sticky in the store and surface through syncStorage; counting never
// stops for them.
func (d *daemon) persistChannel(channel int) {
	total, subtotal := d.meter.Counters(channel)
	if err := d.store.WriteChannel(channel, total, subtotal); err != nil {
		log.Printf("store: %v", err)
	}
}

// syncStorage refreshes the storage view and reacts to the sticky
// error mask going non-zero: announce once per degradation episode and
// flush the counters out while memory still holds them.
func (d *daemon) syncStorage() {
	d.tracker.SetStorage(d.store.Generation(), d.store.Writes(), d.store.ErrorStrings())

	if d.store.ErrorBits() == 0 {
		d.degraded = false
		return
	}
	if d.degraded {
		return
	}
	d.degraded = true

	msg := "storage degraded: " + strings.Join(d.store.ErrorStrings(), ", ")
	log.Printf("%s", msg)
	if err := d.publisher.PublishStatus(msg); err != nil {
		log.Printf("publish status: %v", err)
	}
	d.announceVersion()
	d.export(export.TagStorageError)
}

// announceVersion publishes the retained build identity, with any
// storage degradation appended so it shows without scraping logs.
func (d *daemon) announceVersion() {
	v := version
	if errs := d.store.ErrorStrings(); len(errs) > 0 {
		v += " - storage errors: " + strings.Join(errs, ", ")
	}
	if err := d.publisher.PublishVersion(v); err != nil {
		log.Printf("publish version: %v", err)
	}
}
