package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Heating       string       `json:"heating"`
	Ready         bool         `json:"ready"`
	LastOn        string       `json:"last_on,omitempty"`
	Mode          string       `json:"mode"`
	OperatingMode string       `json:"operating_mode"`
	ManualOn      bool         `json:"manual_on"`
	Decision      string       `json:"decision"`
	Demand        DemandJSON   `json:"demand"`
	Schedule      ScheduleJSON `json:"schedule"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Counts        CountsJSON   `json:"event_counts"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// DemandJSON is the aggregate behind the last decision.
type DemandJSON struct {
	Actual float64        `json:"actual"`
	Heat   float64        `json:"heat"`
	Rooms  int            `json:"rooms"`
	Needs  []RoomNeedJSON `json:"needs,omitempty"`
}

// RoomNeedJSON is one room's contribution.
type RoomNeedJSON struct {
	Room  string  `json:"room"`
	Need  float64 `json:"need"`
	Valid bool    `json:"valid"`
}

// ScheduleJSON reports the resolver's last cycle.
type ScheduleJSON struct {
	NextChange      string  `json:"next_change,omitempty"`
	UserDirectives  int     `json:"user_directives"`
	SmartDirectives int     `json:"smart_directives"`
	Rooms           int     `json:"rooms"`
	HeatingRate     float64 `json:"heating_rate"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of relay transition counts.
type CountsJSON struct {
	On  int `json:"heating_on"`
	Off int `json:"heating_off"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	ResolveMs      int64  `json:"resolve_ms"`
	DecideMs       int64  `json:"decide_ms"`
	HeartbeatMs    int64  `json:"heartbeat_ms"`
	SaveDebounceMs int64  `json:"save_debounce_ms"`
	Broker         string `json:"broker"`
	SensorTopic    string `json:"sensor_topic"`
	HTTPPort       string `json:"http_port"`
	DB             string `json:"db,omitempty"`
	TZ             string `json:"tz"`
	RelayPin       int    `json:"relay_pin"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func buildInner(snap Snapshot) StatusInner {
	heating := "UNKNOWN"
	if snap.Decided {
		heating = "OFF"
		if snap.Heating {
			heating = "ON"
		}
	}
	mode := string(snap.Schedule.Mode)
	if mode == "" {
		mode = "UNKNOWN"
	}
	decision := string(snap.Decision)
	if decision == "" {
		decision = "UNKNOWN"
	}

	inner := StatusInner{
		Heating:       heating,
		Ready:         snap.Decided,
		LastOn:        formatTime(snap.LastOn),
		Mode:          mode,
		OperatingMode: string(snap.Settings.Mode),
		ManualOn:      snap.Settings.ManualOn,
		Decision:      decision,
		Demand: DemandJSON{
			Actual: snap.Demand.Actual,
			Heat:   snap.Demand.Heat,
			Rooms:  snap.Demand.Rooms,
		},
		Schedule: ScheduleJSON{
			NextChange:      formatTime(snap.Schedule.NextChange),
			UserDirectives:  snap.Schedule.User,
			SmartDirectives: snap.Schedule.Smart,
			Rooms:           snap.Schedule.Rooms,
			HeatingRate:     snap.Schedule.HeatingRate,
		},
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts:        CountsJSON{On: snap.Counts.On, Off: snap.Counts.Off},
		Config: ConfigJSON{
			ResolveMs:      snap.Config.ResolveMs,
			DecideMs:       snap.Config.DecideMs,
			HeartbeatMs:    snap.Config.HeartbeatMs,
			SaveDebounceMs: snap.Config.SaveDebounceMs,
			Broker:         snap.Config.Broker,
			SensorTopic:    snap.Config.SensorTopic,
			HTTPPort:       snap.Config.HTTPPort,
			DB:             snap.Config.DB,
			TZ:             snap.Config.TZ,
			RelayPin:       snap.Config.RelayPin,
		},
	}
	for _, n := range snap.Demand.Needs {
		inner.Demand.Needs = append(inner.Demand.Needs, RoomNeedJSON{Room: n.Name, Need: n.Need, Valid: n.Valid})
	}
	return inner
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
// Per-room needs are left out to keep heartbeats small.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	inner.Demand.Needs = nil
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
