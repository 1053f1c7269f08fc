package connectivity

// FakeTransport is a test double whose link status is set by the test.
type FakeTransport struct {
	// Link is returned by Status.
	Link LinkStatus

	// Connects counts Connect calls.
	Connects int

	// Disconnects counts Disconnect calls.
	Disconnects int
}

// Connect records the request and marks the link pending.
func (f *FakeTransport) Connect() {
	f.Connects++
	f.Link = LinkPending
}

// Disconnect records the request and marks the link down.
func (f *FakeTransport) Disconnect() {
	f.Disconnects++
	f.Link = LinkDown
}

// Status returns Link.
func (f *FakeTransport) Status() LinkStatus {
	return f.Link
}
