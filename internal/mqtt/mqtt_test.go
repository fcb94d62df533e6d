package mqtt

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sweeney/heating-controller/internal/heating"
	"github.com/sweeney/heating-controller/internal/history"
	"github.com/sweeney/heating-controller/internal/room"
)

func TestFormatPayloadHeatingOn(t *testing.T) {
	event := Event{
		Timestamp: time.Date(2026, 2, 2, 22, 18, 12, 0, time.UTC),
		Type:      EventHeatingOn,
		Mode:      "HOME",
		Decision:  "START",
		Actual:    -12.5,
		Heat:      10,
		Rooms:     2,
	}

	payload, err := FormatPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"heating":{"timestamp":"2026-02-02T22:18:12Z","event":"HEATING_ON","mode":"HOME","decision":"START","demand":{"actual":-12.5,"heat":10,"rooms":2}}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestFormatPayloadIncludesRun(t *testing.T) {
	start := time.Date(2026, 2, 2, 22, 0, 0, 0, time.UTC)
	event := Event{
		Timestamp: start.Add(25 * time.Minute),
		Type:      EventHeatingOff,
		RunStart:  start,
		RunEnd:    start.Add(25 * time.Minute),
	}

	payload, err := FormatPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var parsed Payload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Heating.Run == nil {
		t.Fatal("expected run summary")
	}
	if parsed.Heating.Run.Seconds != 1500 {
		t.Errorf("seconds: got %d, want 1500", parsed.Heating.Run.Seconds)
	}
	if parsed.Heating.Run.Start != "2026-02-02T22:00:00Z" {
		t.Errorf("start: got %s", parsed.Heating.Run.Start)
	}
}

func TestFormatPayloadTimezoneConversion(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	event := Event{Timestamp: time.Date(2026, 2, 2, 23, 0, 0, 0, loc), Type: EventHeatingOn}

	payload, _ := FormatPayload(event)
	var parsed Payload
	json.Unmarshal(payload, &parsed)
	if parsed.Heating.Timestamp != "2026-02-02T22:00:00Z" {
		t.Errorf("expected UTC timestamp, got %s", parsed.Heating.Timestamp)
	}
}

func TestEventFromResult(t *testing.T) {
	at := time.Date(2026, 1, 5, 6, 0, 0, 0, time.UTC)

	if _, ok := EventFromResult(at, heating.Result{Decision: heating.DecisionNormal}); ok {
		t.Error("no event expected without a relay change")
	}

	ev, ok := EventFromResult(at, heating.Result{
		Decision: heating.DecisionStart,
		Mode:     room.ModeHome,
		Heating:  true,
		Changed:  true,
		Demand:   heating.Demand{Actual: -20, Heat: 5, Rooms: 1},
	})
	if !ok || ev.Type != EventHeatingOn || ev.Mode != "HOME" || ev.Actual != -20 {
		t.Errorf("unexpected ON event %+v", ev)
	}

	run := &history.RunInterval{Start: at.Add(-time.Hour), End: at}
	ev, ok = EventFromResult(at, heating.Result{Decision: heating.DecisionStop, Changed: true, Closed: run})
	if !ok || ev.Type != EventHeatingOff || !ev.RunStart.Equal(run.Start) || !ev.RunEnd.Equal(at) {
		t.Errorf("unexpected OFF event %+v", ev)
	}
}

func TestTopics(t *testing.T) {
	if Topic != "heating/controller/events" {
		t.Errorf("unexpected topic: %s", Topic)
	}
	if TopicSystem != "heating/controller/system" {
		t.Errorf("unexpected system topic: %s", TopicSystem)
	}
}

func TestFormatSystemPayloadExactJSON(t *testing.T) {
	event := SystemEvent{
		Timestamp: time.Date(2026, 2, 3, 10, 30, 45, 0, time.UTC),
		Event:     "SHUTDOWN",
		Reason:    "SIGTERM",
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"system":{"timestamp":"2026-02-03T10:30:45Z","event":"SHUTDOWN","reason":"SIGTERM"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestFormatSystemPayloadOmitsEmptyReason(t *testing.T) {
	payload, _ := FormatSystemPayload(SystemEvent{
		Timestamp: time.Date(2026, 2, 10, 14, 30, 0, 0, time.UTC),
		Event:     "RECONNECTED",
	})
	expected := `{"system":{"timestamp":"2026-02-10T14:30:00Z","event":"RECONNECTED"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestFormatSystemPayloadRaw(t *testing.T) {
	raw := []byte(`{"status":{"event":"HEARTBEAT"}}`)
	payload, err := FormatSystemPayload(SystemEvent{Event: "HEARTBEAT", RawPayload: raw})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) != string(raw) {
		t.Errorf("raw payload should pass through, got %s", payload)
	}
}

func TestFakePublisher(t *testing.T) {
	f := NewFakePublisher()

	if err := f.Publish(Event{Timestamp: time.Now(), Type: EventHeatingOn}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.PublishSystem(SystemEvent{Timestamp: time.Now(), Event: "STARTUP", Retained: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.Events) != 1 || f.Events[0].Type != EventHeatingOn {
		t.Errorf("unexpected events %+v", f.Events)
	}
	if len(f.Payloads) != 1 || len(f.SystemPayloads) != 1 {
		t.Errorf("payloads not recorded")
	}
	if !f.SystemEvents[0].Retained {
		t.Error("retained flag lost")
	}
}

func TestFakePublisherErrors(t *testing.T) {
	f := NewFakePublisher()
	f.PublishError = errors.New("simulated error")
	f.PublishSystemError = errors.New("simulated error")

	if err := f.Publish(Event{}); err == nil {
		t.Error("expected error")
	}
	if err := f.PublishSystem(SystemEvent{}); err == nil {
		t.Error("expected error")
	}
	if len(f.Events) != 0 || len(f.SystemEvents) != 0 {
		t.Error("nothing should be recorded on error")
	}
}

func TestFakePublisherReset(t *testing.T) {
	f := NewFakePublisher()
	f.Publish(Event{Type: EventHeatingOn})
	f.PublishSystem(SystemEvent{Event: "STARTUP"})
	f.Close()
	f.Connected = true
	f.PublishError = errors.New("error")

	f.Reset()

	if len(f.Events) != 0 || len(f.Payloads) != 0 || len(f.SystemEvents) != 0 || len(f.SystemPayloads) != 0 {
		t.Error("events should be cleared")
	}
	if f.Closed || f.Connected || f.PublishError != nil {
		t.Error("flags should be reset")
	}
}
