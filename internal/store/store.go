// Package store mirrors the in-memory counters and configuration to
// non-volatile storage. Layout: one config record at the root, plus
// numbered generation directories each holding one fixed-size record
// per channel and a write counter. Records are overwritten in place;
// when the write budget for a generation is spent, the counters move
// to a freshly created generation, bounding both the wear on any one
// file and the blast radius of a corrupt write.
//
// Memory stays authoritative throughout: a failed write sets a sticky
// error bit and the caller keeps counting. Only a storage medium that
// cannot be initialized at boot is fatal.
package store

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
)

// DefaultWriteBudget bounds writes per generation. At one pulse every
// couple of seconds a generation lasts a few hours.
const DefaultWriteBudget = 10000

// Sticky error bits. Set on a failed storage operation, cleared by the
// next successful operation of the same kind, surfaced through
// ErrorStrings.
const (
	ErrBitConfigRead uint8 = 1 << iota
	ErrBitConfigWrite
	ErrBitChannelRead
	ErrBitChannelWrite
	ErrBitBudgetWrite
	ErrBitGeneration
)

var errBitNames = []struct {
	bit  uint8
	name string
}{
	{ErrBitConfigRead, "config read"},
	{ErrBitConfigWrite, "config write"},
	{ErrBitChannelRead, "channel read"},
	{ErrBitChannelWrite, "channel write"},
	{ErrBitBudgetWrite, "budget write"},
	{ErrBitGeneration, "generation"},
}

// Config is the persisted interface configuration.
type Config struct {
	Generation    uint32
	CorrectionMs  int32
	PulsesPerUnit []uint32
}

type mirror struct {
	total    uint64
	subtotal uint64
}

// Store owns the on-disk layout. Not safe for concurrent use; the main
// loop is the only caller. It keeps a mirror of the last written
// counters per channel so a generation rotation can rewrite every
// channel from current values.
type Store struct {
	root     string
	channels int
	ceiling  uint32

	generation uint32
	writes     uint32
	errBits    uint8

	cfg      Config
	counters [maxChannels]mirror
}

// Open prepares the data root. An unusable root is a boot-time error:
// without working storage, durability cannot be promised at all.
func Open(root string, channels int, ceiling uint32) (*Store, error) {
	if channels < 1 || channels > maxChannels {
		return nil, fmt.Errorf("channel count %d out of range 1..%d", channels, maxChannels)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create data root: %w", err)
	}
	// MkdirAll succeeds on an existing directory even when the medium
	// is mounted read-only, so probe with a real write.
	probe := filepath.Join(root, ".probe")
	if err := os.WriteFile(probe, []byte("rw"), 0o644); err != nil {
		return nil, fmt.Errorf("data root not writable: %w", err)
	}
	os.Remove(probe)

	return &Store{root: root, channels: channels, ceiling: ceiling}, nil
}

// LoadConfig reads the persisted interface configuration. An absent,
// corrupt, mis-versioned or mis-sized record yields the defaults and a
// freshly allocated generation (one past the highest directory tag on
// disk), so suspect data is never reused. The defaults' Generation
// field is ignored.
func (s *Store) LoadConfig(defaults Config) Config {
	buf, err := os.ReadFile(s.configPath())
	if err == nil {
		var rec configRecord
		if uerr := rec.unmarshal(buf); uerr != nil {
			log.Printf("store: config record unusable: %v", uerr)
		} else if int(rec.channelCount) != s.channels {
			log.Printf("store: config record is for %d channels, deployment has %d", rec.channelCount, s.channels)
		} else if !validCalibration(rec.pulsesPerUnit[:s.channels]) {
			log.Printf("store: config record carries zero calibration")
		} else {
			s.generation = rec.generation
			s.cfg = Config{
				Generation:    rec.generation,
				CorrectionMs:  rec.correctionMs,
				PulsesPerUnit: append([]uint32(nil), rec.pulsesPerUnit[:s.channels]...),
			}
			s.writes = s.readWritesCount()
			return s.cfg
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		s.errBits |= ErrBitConfigRead
		log.Printf("store: read config record: %v", err)
	}

	s.generation = s.maxGenerationTag() + 1
	s.writes = 0
	s.cfg = Config{
		Generation:    s.generation,
		CorrectionMs:  defaults.CorrectionMs,
		PulsesPerUnit: append([]uint32(nil), defaults.PulsesPerUnit...),
	}
	log.Printf("store: starting fresh generation %d", s.generation)

	if err := os.MkdirAll(s.generationDir(s.generation), 0o755); err != nil {
		s.errBits |= ErrBitGeneration
		log.Printf("store: create generation %d: %v", s.generation, err)
	}
	s.writeBudget()
	if err := s.writeConfigRecord(); err != nil {
		log.Printf("store: %v", err)
	}
	return s.cfg
}

// LoadChannel reads a channel's persisted counters from the active
// generation. Absent or unusable records default to zero.
func (s *Store) LoadChannel(channel int) (total, subtotal uint64) {
	buf, err := os.ReadFile(s.channelPath(s.generation, channel))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.errBits |= ErrBitChannelRead
			log.Printf("store: read channel %d record: %v", channel, err)
		}
		return 0, 0
	}
	var rec channelRecord
	if err := rec.unmarshal(buf); err != nil {
		log.Printf("store: channel %d record unusable: %v", channel, err)
		return 0, 0
	}
	s.counters[channel] = mirror{rec.total, rec.subtotal}
	return rec.total, rec.subtotal
}

// WriteChannel persists a channel's counters. The mirror is updated
// first, so even a failed write leaves rotation working from current
// values. Each successful write spends one unit of the generation's
// budget; the write that would exceed the ceiling is absorbed into a
// rotation instead.
func (s *Store) WriteChannel(channel int, total, subtotal uint64) error {
	s.counters[channel] = mirror{total, subtotal}

	if s.writes >= s.ceiling {
		return s.rotate()
	}

	rec := channelRecord{version: StructureVersion, total: total, subtotal: subtotal}
	if err := writeRecord(s.channelPath(s.generation, channel), rec.marshal()); err != nil {
		s.errBits |= ErrBitChannelWrite
		return fmt.Errorf("write channel %d record: %w", channel, err)
	}
	s.errBits &^= ErrBitChannelWrite
	s.writes++
	s.writeBudget()
	return nil
}

// SetCorrection persists a new interval correction.
func (s *Store) SetCorrection(ms int32) error {
	s.cfg.CorrectionMs = ms
	return s.writeConfigRecord()
}

// rotate moves the counters to the next generation: fresh directory,
// every channel rewritten from the mirror, budget reset to zero, and
// finally the config record committing the new generation.
func (s *Store) rotate() error {
	next := s.generation + 1
	if err := os.MkdirAll(s.generationDir(next), 0o755); err != nil {
		s.errBits |= ErrBitGeneration
		return fmt.Errorf("create generation %d: %w", next, err)
	}
	s.errBits &^= ErrBitGeneration
	s.generation = next
	s.cfg.Generation = next
	s.writes = 0
	log.Printf("store: rotated to generation %d", next)

	var firstErr error
	for i := 0; i < s.channels; i++ {
		rec := channelRecord{version: StructureVersion, total: s.counters[i].total, subtotal: s.counters[i].subtotal}
		if err := writeRecord(s.channelPath(next, i), rec.marshal()); err != nil {
			s.errBits |= ErrBitChannelWrite
			if firstErr == nil {
				firstErr = fmt.Errorf("write channel %d record: %w", i, err)
			}
		}
	}
	if firstErr == nil {
		s.errBits &^= ErrBitChannelWrite
	}
	s.writeBudget()
	if err := s.writeConfigRecord(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (s *Store) writeConfigRecord() error {
	rec := configRecord{
		version:      StructureVersion,
		generation:   s.generation,
		correctionMs: s.cfg.CorrectionMs,
		channelCount: uint8(s.channels),
	}
	copy(rec.pulsesPerUnit[:], s.cfg.PulsesPerUnit)
	if err := writeRecord(s.configPath(), rec.marshal()); err != nil {
		s.errBits |= ErrBitConfigWrite
		return fmt.Errorf("write config record: %w", err)
	}
	s.errBits &^= ErrBitConfigWrite
	return nil
}

func (s *Store) writeBudget() {
	rec := writesRecord{version: StructureVersion, count: s.writes}
	if err := writeRecord(s.writesPath(s.generation), rec.marshal()); err != nil {
		s.errBits |= ErrBitBudgetWrite
		log.Printf("store: write budget counter: %v", err)
		return
	}
	s.errBits &^= ErrBitBudgetWrite
}

func (s *Store) readWritesCount() uint32 {
	buf, err := os.ReadFile(s.writesPath(s.generation))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Printf("store: read budget counter: %v", err)
		}
		return 0
	}
	var rec writesRecord
	if err := rec.unmarshal(buf); err != nil {
		log.Printf("store: budget counter unusable: %v", err)
		return 0
	}
	return rec.count
}

// maxGenerationTag scans the root for the highest numeric directory
// name, so a fresh generation never collides with leftovers from a
// previous schema.
func (s *Store) maxGenerationTag() uint32 {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		s.errBits |= ErrBitGeneration
		log.Printf("store: scan generations: %v", err)
		return 0
	}
	var max uint64
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		n, err := strconv.ParseUint(e.Name(), 10, 32)
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return uint32(max)
}

// Generation returns the active generation tag.
func (s *Store) Generation() uint32 { return s.generation }

// Writes returns the budget spent in the active generation.
func (s *Store) Writes() uint32 { return s.writes }

// ErrorBits returns the sticky error mask, zero when healthy.
func (s *Store) ErrorBits() uint8 { return s.errBits }

// ErrorStrings renders the sticky error mask for announcements, nil
// when healthy.
func (s *Store) ErrorStrings() []string {
	var out []string
	for _, e := range errBitNames {
		if s.errBits&e.bit != 0 {
			out = append(out, e.name)
		}
	}
	return out
}

func (s *Store) configPath() string {
	return filepath.Join(s.root, "config.bin")
}

func (s *Store) generationDir(gen uint32) string {
	return filepath.Join(s.root, strconv.FormatUint(uint64(gen), 10))
}

func (s *Store) channelPath(gen uint32, channel int) string {
	return filepath.Join(s.generationDir(gen), fmt.Sprintf("channel_%d.bin", channel))
}

func (s *Store) writesPath(gen uint32) string {
	return filepath.Join(s.generationDir(gen), "writes.bin")
}

func validCalibration(ppu []uint32) bool {
	for _, v := range ppu {
		if v == 0 {
			return false
		}
	}
	return true
}

// writeRecord overwrites the fixed-size record in place and syncs it,
// so the bytes are durable before the next mutation can happen.
func writeRecord(path string, buf []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteAt(buf, 0); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
