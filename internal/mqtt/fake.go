package mqtt

// FakeUplink records published frames and events for test assertions.
type FakeUplink struct {
	// Frames contains all telemetry frames that were published.
	Frames [][]byte

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// PublishError, if set, will be returned by PublishFrame.
	PublishError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeUplink creates a FakeUplink for testing.
func NewFakeUplink() *FakeUplink {
	return &FakeUplink{}
}

// PublishFrame records the frame.
func (f *FakeUplink) PublishFrame(frame []byte) error {
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Frames = append(f.Frames, frame)
	return nil
}

// PublishSystem records the system event.
func (f *FakeUplink) PublishSystem(event SystemEvent) error {
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}

	f.SystemEvents = append(f.SystemEvents, event)

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemPayloads = append(f.SystemPayloads, payload)

	return nil
}

// Close marks the uplink as closed.
func (f *FakeUplink) Close() error {
	f.Closed = true
	return nil
}

// Reset clears recorded frames and events.
func (f *FakeUplink) Reset() {
	f.Frames = nil
	f.SystemEvents = nil
	f.SystemPayloads = nil
	f.Closed = false
	f.PublishError = nil
	f.PublishSystemError = nil
}
