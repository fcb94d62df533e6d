// Package mqtt publishes heating events and receives sensor readings, with
// abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/heating-controller/internal/heating"
)

// Topic is the MQTT topic for relay events.
const Topic = "heating/controller/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "heating/controller/system"

// DefaultSensorTopic is the subscription filter for thermometer readings.
// The last topic level is the sensor identifier.
const DefaultSensorTopic = "heating/sensors/+"

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a relay event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// SensorSource delivers thermometer readings to a Recorder.
type SensorSource interface {
	SubscribeSensors(topic string, rec Recorder) error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// EventType names a relay transition.
type EventType string

const (
	EventHeatingOn  EventType = "HEATING_ON"
	EventHeatingOff EventType = "HEATING_OFF"
)

// Event is a relay transition to be published.
type Event struct {
	Timestamp time.Time
	Type      EventType
	Mode      string
	Decision  string
	Actual    float64
	Heat      float64
	Rooms     int
	RunStart  time.Time // zero unless a run closed
	RunEnd    time.Time
}

// EventFromResult builds the event for an engine step, if the relay switched.
func EventFromResult(at time.Time, res heating.Result) (Event, bool) {
	if !res.Changed {
		return Event{}, false
	}
	ev := Event{
		Timestamp: at,
		Type:      EventHeatingOff,
		Mode:      string(res.Mode),
		Decision:  string(res.Decision),
		Actual:    res.Demand.Actual,
		Heat:      res.Demand.Heat,
		Rooms:     res.Demand.Rooms,
	}
	if res.Heating {
		ev.Type = EventHeatingOn
	}
	if res.Closed != nil {
		ev.RunStart = res.Closed.Start
		ev.RunEnd = res.Closed.End
	}
	return ev, true
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Heating HeatingPayload `json:"heating"`
}

// HeatingPayload contains the relay event details.
type HeatingPayload struct {
	Timestamp string        `json:"timestamp"`
	Event     string        `json:"event"`
	Mode      string        `json:"mode"`
	Decision  string        `json:"decision"`
	Demand    DemandPayload `json:"demand"`
	Run       *RunPayload   `json:"run,omitempty"`
}

// DemandPayload is the aggregate the decision was taken on.
type DemandPayload struct {
	Actual float64 `json:"actual"`
	Heat   float64 `json:"heat"`
	Rooms  int     `json:"rooms"`
}

// RunPayload summarises a closed heating run.
type RunPayload struct {
	Start   string `json:"start"`
	End     string `json:"end"`
	Seconds int64  `json:"seconds"`
}

// FormatPayload creates the JSON payload for a relay event.
func FormatPayload(event Event) ([]byte, error) {
	payload := Payload{
		Heating: HeatingPayload{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     string(event.Type),
			Mode:      event.Mode,
			Decision:  event.Decision,
			Demand: DemandPayload{
				Actual: event.Actual,
				Heat:   event.Heat,
				Rooms:  event.Rooms,
			},
		},
	}
	if !event.RunStart.IsZero() {
		payload.Heating.Run = &RunPayload{
			Start:   event.RunStart.UTC().Format(time.RFC3339),
			End:     event.RunEnd.UTC().Format(time.RFC3339),
			Seconds: int64(event.RunEnd.Sub(event.RunStart) / time.Second),
		}
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
