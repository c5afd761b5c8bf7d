//go:build !linux

package gpio

import (
	"errors"
	"time"
)

// RealWatcher is not available on non-Linux platforms.
type RealWatcher struct{}

// NewRealWatcher returns an error on non-Linux platforms.
func NewRealWatcher(offsets []int, fn PulseFunc) (*RealWatcher, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// Close is not implemented on non-Linux platforms.
func (w *RealWatcher) Close() error {
	return nil
}

var started = time.Now()

// MonotonicMs approximates the event clock with process elapsed time
// off-target. Tests inject their own clocks, so precision here does
// not matter.
func MonotonicMs() int64 {
	return time.Since(started).Milliseconds()
}
