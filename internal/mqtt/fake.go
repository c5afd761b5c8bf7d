package mqtt

// StateRecord captures one PublishState call.
type StateRecord struct {
	Channel int
	Payload StatePayload
}

// DiscoveryRecord captures one PublishDiscovery call.
type DiscoveryRecord struct {
	Channel   int
	MeterName string
}

// FakePublisher records published messages for test assertions.
type FakePublisher struct {
	// States contains all channel states that were published.
	States []StateRecord

	// StatePayloads contains the JSON payloads for those states.
	StatePayloads [][]byte

	// Discoveries contains all discovery announcements.
	Discoveries []DiscoveryRecord

	// Versions contains published version strings.
	Versions []string

	// Statuses contains published status lines.
	Statuses []string

	// Availability contains the online flags, in order.
	Availability []bool

	// PublishError, if set, will be returned by every publish method.
	PublishError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// PublishState records the channel state.
func (f *FakePublisher) PublishState(channel int, p StatePayload) error {
	if f.PublishError != nil {
		return f.PublishError
	}

	f.States = append(f.States, StateRecord{Channel: channel, Payload: p})

	payload, err := FormatState(p)
	if err != nil {
		return err
	}
	f.StatePayloads = append(f.StatePayloads, payload)

	return nil
}

// PublishDiscovery records the announcement.
func (f *FakePublisher) PublishDiscovery(channel int, meterName string) error {
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Discoveries = append(f.Discoveries, DiscoveryRecord{Channel: channel, MeterName: meterName})
	return nil
}

// PublishVersion records the version string.
func (f *FakePublisher) PublishVersion(v string) error {
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Versions = append(f.Versions, v)
	return nil
}

// PublishStatus records the status line.
func (f *FakePublisher) PublishStatus(msg string) error {
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Statuses = append(f.Statuses, msg)
	return nil
}

// PublishAvailability records the online flag.
func (f *FakePublisher) PublishAvailability(online bool) error {
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Availability = append(f.Availability, online)
	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.Closed = true
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	return f.Connected
}

// Reset clears recorded messages.
func (f *FakePublisher) Reset() {
	f.States = nil
	f.StatePayloads = nil
	f.Discoveries = nil
	f.Versions = nil
	f.Statuses = nil
	f.Availability = nil
	f.PublishError = nil
	f.Closed = false
	f.Connected = false
}

var (
	_ Publisher        = (*FakePublisher)(nil)
	_ ConnectionStatus = (*FakePublisher)(nil)
)
