package gpio

import "sync"

// FakeRelay is a test double that records every write.
type FakeRelay struct {
	mu sync.Mutex

	active bool
	writes []bool
	closed bool

	// SetError, if set, will be returned by Set() and the state left alone.
	SetError error
}

// NewFakeRelay creates an inactive FakeRelay.
func NewFakeRelay() *FakeRelay {
	return &FakeRelay{}
}

// Set records the write.
func (f *FakeRelay) Set(active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetError != nil {
		return f.SetError
	}
	f.active = active
	f.writes = append(f.writes, active)
	return nil
}

// Active reports the last successfully written state.
func (f *FakeRelay) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// Writes returns every successful write in order.
func (f *FakeRelay) Writes() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.writes...)
}

// Closed reports whether Close was called.
func (f *FakeRelay) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Close switches the relay off and marks it closed.
func (f *FakeRelay) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = false
	f.closed = true
	return nil
}

// Reset clears recorded writes.
func (f *FakeRelay) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = false
	f.writes = nil
	f.closed = false
	f.SetError = nil
}
