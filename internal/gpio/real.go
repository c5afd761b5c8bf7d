//go:build linux

package gpio

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
	"golang.org/x/sys/unix"
)

// RealWatcher watches pulses on actual hardware using the Linux GPIO
// character device. Edges are timestamped by the kernel, so scheduling
// jitter in this process does not distort pulse intervals.
type RealWatcher struct {
	chip  *gpiocdev.Chip
	lines []*gpiocdev.Line
}

// NewRealWatcher requests one line per entry in offsets, in channel
// order, as input with pull-up reporting falling edges to fn.
func NewRealWatcher(offsets []int, fn PulseFunc) (*RealWatcher, error) {
	chip, err := gpiocdev.NewChip("gpiochip0")
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	w := &RealWatcher{chip: chip}
	for i, offset := range offsets {
		channel := i
		line, err := chip.RequestLine(offset,
			gpiocdev.AsInput,
			gpiocdev.WithPullUp,
			gpiocdev.WithFallingEdge,
			gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
				fn(channel, int64(evt.Timestamp/time.Millisecond))
			}),
		)
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("request meter line %d (offset %d): %w", channel, offset, err)
		}
		w.lines = append(w.lines, line)
	}

	return w, nil
}

// Close releases GPIO resources. Lines are closed individually so a
// failure on one still releases the rest.
func (w *RealWatcher) Close() error {
	var errs []error

	for i, line := range w.lines {
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close line %d: %w", i, err))
		}
	}
	if w.chip != nil {
		if err := w.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// MonotonicMs reads CLOCK_MONOTONIC in milliseconds. Kernel edge
// events are stamped on the same clock, so elapsed times computed
// against this reading line up with pulse stamps exactly.
func MonotonicMs() int64 {
	var ts unix.Timespec
	// Cannot fail with a valid timespec pointer.
	_ = unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts)
	return int64(ts.Sec)*1000 + int64(ts.Nsec)/1e6
}
