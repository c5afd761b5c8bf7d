// Package gpio watches meter pulse lines with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
//
// Meters expose an S0 open-collector output: the line idles high on a
// pull-up and each unit of energy pulls it to ground briefly, so one
// pulse is one falling edge.
package gpio

// PulseFunc receives one call per falling edge, with the channel index
// and the kernel event timestamp in milliseconds on the monotonic
// clock (the same clock MonotonicMs reads). It runs on the watcher's
// event goroutine and must not block.
type PulseFunc func(channel int, stampMs int64)

// Watcher owns the requested meter lines until closed.
type Watcher interface {
	// Close releases GPIO resources.
	Close() error
}

// DefaultOffsets are the meter line offsets of the reference wiring,
// in channel order (BCM numbering).
var DefaultOffsets = []int{4, 12, 13, 14, 15, 25, 26, 27}
