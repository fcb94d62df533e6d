package mqtt

import (
	"sync"
	"time"
)

// FakePublisher is an in-memory Publisher and SensorSource. Relay and
// system events are formatted exactly as the real publisher would send them,
// and sensor messages are pushed through the same handler the broker
// subscription uses.
type FakePublisher struct {
	mu sync.Mutex

	Events         []Event
	Payloads       [][]byte
	SystemEvents   []SystemEvent
	SystemPayloads [][]byte

	// Returned instead of recording when set.
	PublishError       error
	PublishSystemError error

	Connected bool
	Closed    bool

	SensorTopic string
	Delivered   []string // topics passed to Deliver, in order
	recorder    Recorder
}

func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

func (f *FakePublisher) Publish(event Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	payload, err := FormatPayload(event)
	if err != nil {
		return err
	}
	f.Events = append(f.Events, event)
	f.Payloads = append(f.Payloads, payload)
	return nil
}

func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemEvents = append(f.SystemEvents, event)
	f.SystemPayloads = append(f.SystemPayloads, payload)
	return nil
}

func (f *FakePublisher) SubscribeSensors(topic string, rec Recorder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SensorTopic = topic
	f.recorder = rec
	return nil
}

// Deliver hands payload to the subscribed recorder as if it had arrived on
// topic at now. It is a no-op before SubscribeSensors.
func (f *FakePublisher) Deliver(topic string, payload []byte, now time.Time) {
	f.mu.Lock()
	rec := f.recorder
	f.Delivered = append(f.Delivered, topic)
	f.mu.Unlock()
	if rec == nil {
		return
	}
	HandleSensorMessage(rec, topic, payload, now)
}

func (f *FakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// Reset forgets everything except the sensor subscription.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Events, f.Payloads = nil, nil
	f.SystemEvents, f.SystemPayloads = nil, nil
	f.PublishError, f.PublishSystemError = nil, nil
	f.Connected, f.Closed = false, false
	f.Delivered = nil
}
