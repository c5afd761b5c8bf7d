package store

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sigurn/crc16"
)

// StructureVersion tags every persisted record. Bumping it invalidates
// all persisted data at once, forcing a clean slate instead of
// misreading old bytes.
const StructureVersion uint16 = 2

// maxChannels fixes the calibration slots in the config record. The
// record keeps all 8 regardless of how many channels are deployed, so
// its size never depends on configuration.
const maxChannels = 8

// Record sizes in bytes, checksum included. Files are exactly this
// long; anything else is corrupt.
const (
	configRecordSize  = 45
	channelRecordSize = 20
	writesRecordSize  = 8
)

var crcTable = crc16.MakeTable(crc16.CRC16_ARC)

var errChecksum = errors.New("checksum mismatch")

// configRecord is the on-disk interface configuration.
// Layout (little-endian): version u16, generation u32, correction i32,
// channel count u8, pulses-per-unit [8]u32, crc u16.
type configRecord struct {
	version       uint16
	generation    uint32
	correctionMs  int32
	channelCount  uint8
	pulsesPerUnit [maxChannels]uint32
}

func (r *configRecord) marshal() []byte {
	buf := make([]byte, configRecordSize)
	binary.LittleEndian.PutUint16(buf[0:], r.version)
	binary.LittleEndian.PutUint32(buf[2:], r.generation)
	binary.LittleEndian.PutUint32(buf[6:], uint32(r.correctionMs))
	buf[10] = r.channelCount
	for i, ppu := range r.pulsesPerUnit {
		binary.LittleEndian.PutUint32(buf[11+4*i:], ppu)
	}
	binary.LittleEndian.PutUint16(buf[43:], crc16.Checksum(buf[:43], crcTable))
	return buf
}

func (r *configRecord) unmarshal(buf []byte) error {
	if len(buf) != configRecordSize {
		return fmt.Errorf("config record is %d bytes, want %d", len(buf), configRecordSize)
	}
	if binary.LittleEndian.Uint16(buf[43:]) != crc16.Checksum(buf[:43], crcTable) {
		return errChecksum
	}
	r.version = binary.LittleEndian.Uint16(buf[0:])
	if r.version != StructureVersion {
		return fmt.Errorf("structure version %d, want %d", r.version, StructureVersion)
	}
	r.generation = binary.LittleEndian.Uint32(buf[2:])
	r.correctionMs = int32(binary.LittleEndian.Uint32(buf[6:]))
	r.channelCount = buf[10]
	for i := range r.pulsesPerUnit {
		r.pulsesPerUnit[i] = binary.LittleEndian.Uint32(buf[11+4*i:])
	}
	return nil
}

// channelRecord is one channel's on-disk counters.
// Layout: version u16, total u64, subtotal u64, crc u16.
type channelRecord struct {
	version  uint16
	total    uint64
	subtotal uint64
}

func (r *channelRecord) marshal() []byte {
	buf := make([]byte, channelRecordSize)
	binary.LittleEndian.PutUint16(buf[0:], r.version)
	binary.LittleEndian.PutUint64(buf[2:], r.total)
	binary.LittleEndian.PutUint64(buf[10:], r.subtotal)
	binary.LittleEndian.PutUint16(buf[18:], crc16.Checksum(buf[:18], crcTable))
	return buf
}

func (r *channelRecord) unmarshal(buf []byte) error {
	if len(buf) != channelRecordSize {
		return fmt.Errorf("channel record is %d bytes, want %d", len(buf), channelRecordSize)
	}
	if binary.LittleEndian.Uint16(buf[18:]) != crc16.Checksum(buf[:18], crcTable) {
		return errChecksum
	}
	r.version = binary.LittleEndian.Uint16(buf[0:])
	if r.version != StructureVersion {
		return fmt.Errorf("structure version %d, want %d", r.version, StructureVersion)
	}
	r.total = binary.LittleEndian.Uint64(buf[2:])
	r.subtotal = binary.LittleEndian.Uint64(buf[10:])
	return nil
}

// writesRecord tracks writes into the active generation.
// Layout: version u16, count u32, crc u16.
type writesRecord struct {
	version uint16
	count   uint32
}

func (r *writesRecord) marshal() []byte {
	buf := make([]byte, writesRecordSize)
	binary.LittleEndian.PutUint16(buf[0:], r.version)
	binary.LittleEndian.PutUint32(buf[2:], r.count)
	binary.LittleEndian.PutUint16(buf[6:], crc16.Checksum(buf[:6], crcTable))
	return buf
}

func (r *writesRecord) unmarshal(buf []byte) error {
	if len(buf) != writesRecordSize {
		return fmt.Errorf("writes record is %d bytes, want %d", len(buf), writesRecordSize)
	}
	if binary.LittleEndian.Uint16(buf[6:]) != crc16.Checksum(buf[:6], crcTable) {
		return errChecksum
	}
	r.version = binary.LittleEndian.Uint16(buf[0:])
	if r.version != StructureVersion {
		return fmt.Errorf("structure version %d, want %d", r.version, StructureVersion)
	}
	r.count = binary.LittleEndian.Uint32(buf[2:])
	return nil
}
