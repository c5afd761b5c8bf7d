package gpio

// FakeWatcher is a test double that feeds pulses straight to the
// handler, as the event goroutine would.
type FakeWatcher struct {
	fn PulseFunc

	// Closed tracks if Close was called
	Closed bool
}

// NewFakeWatcher creates a FakeWatcher delivering to fn.
func NewFakeWatcher(fn PulseFunc) *FakeWatcher {
	return &FakeWatcher{fn: fn}
}

// Pulse delivers one falling edge for the channel.
func (f *FakeWatcher) Pulse(channel int, stampMs int64) {
	f.fn(channel, stampMs)
}

// Close marks the watcher as closed.
func (f *FakeWatcher) Close() error {
	f.Closed = true
	return nil
}

var _ Watcher = (*FakeWatcher)(nil)
