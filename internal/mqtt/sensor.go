package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/sweeney/heating-controller/internal/metrics"
	"github.com/sweeney/heating-controller/internal/room"
)

// Recorder stores sensor readings. It returns false for unknown sensors.
type Recorder interface {
	Record(id string, rd room.Reading) bool
}

// ErrBadSensorMessage is returned for payloads that carry no usable reading.
var ErrBadSensorMessage = errors.New("bad sensor message")

// sensorMessage is the wire form published by the thermometer bridge.
// timestamp may be RFC3339 or unix seconds; when absent the receive time is used.
type sensorMessage struct {
	Temperature *float64        `json:"temperature"`
	Humidity    float64         `json:"humidity"`
	Battery     int             `json:"battery"`
	Timestamp   json.RawMessage `json:"timestamp"`
}

// SensorID returns the last level of topic.
func SensorID(topic string) string {
	if i := strings.LastIndexByte(topic, '/'); i >= 0 {
		return topic[i+1:]
	}
	return topic
}

// ParseSensorMessage decodes one reading. Timestamps in the future are
// clamped to now so a sensor with a bad clock cannot stay fresh forever.
func ParseSensorMessage(topic string, payload []byte, now time.Time) (string, room.Reading, error) {
	id := SensorID(topic)
	if id == "" || id == "+" || id == "#" {
		return "", room.Reading{}, fmt.Errorf("%w: no sensor id in topic %q", ErrBadSensorMessage, topic)
	}

	var msg sensorMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return "", room.Reading{}, fmt.Errorf("%w: %v", ErrBadSensorMessage, err)
	}
	if msg.Temperature == nil {
		return "", room.Reading{}, fmt.Errorf("%w: missing temperature", ErrBadSensorMessage)
	}

	readAt, err := parseTimestamp(msg.Timestamp, now)
	if err != nil {
		return "", room.Reading{}, err
	}
	if readAt.After(now) {
		readAt = now
	}

	return id, room.Reading{
		Temperature: *msg.Temperature,
		Humidity:    msg.Humidity,
		Battery:     msg.Battery,
		ReadAt:      readAt,
	}, nil
}

func parseTimestamp(raw json.RawMessage, now time.Time) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return now, nil
	}
	var secs float64
	if err := json.Unmarshal(raw, &secs); err == nil {
		if secs <= 0 {
			return now, nil
		}
		return time.Unix(0, int64(secs*float64(time.Second))), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp %s", ErrBadSensorMessage, raw)
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp %q: %v", ErrBadSensorMessage, s, err)
	}
	return t, nil
}

// HandleSensorMessage parses a message and records it. It never fails the
// caller; problems are logged and counted.
func HandleSensorMessage(rec Recorder, topic string, payload []byte, now time.Time) {
	id, rd, err := ParseSensorMessage(topic, payload, now)
	if err != nil {
		metrics.SensorMessages.WithLabelValues("invalid").Inc()
		log.Printf("mqtt: sensor message on %s: %v", topic, err)
		return
	}
	if !rec.Record(id, rd) {
		metrics.SensorMessages.WithLabelValues("unknown").Inc()
		return
	}
	metrics.SensorMessages.WithLabelValues("accepted").Inc()
}
