// Package status provides a thread-safe status tracker for the heating-controller daemon.
// It is read by HTTP handlers and by the MQTT heartbeat.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/heating-controller/internal/heating"
	"github.com/sweeney/heating-controller/internal/room"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	ResolveMs      int64
	DecideMs       int64
	HeartbeatMs    int64
	SaveDebounceMs int64
	Broker         string
	SensorTopic    string
	HTTPPort       string
	DB             string
	TZ             string
	RelayPin       int
}

// Counts tallies relay transitions since startup.
type Counts struct {
	On  int
	Off int
}

// Schedule is the resolver's view at the end of its last cycle.
type Schedule struct {
	Mode        room.Mode
	NextChange  time.Time
	User        int // active user directives
	Smart       int // active smart directives
	Rooms       int
	HeatingRate float64
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Heating       bool
	LastOn        time.Time
	Decided       bool // at least one decision cycle has run
	Decision      heating.Decision
	Demand        heating.Demand
	Settings      heating.Settings
	Schedule      Schedule
	Counts        Counts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
			Settings:  heating.DefaultSettings(),
		},
	}
}

// UpdateDecision records the outcome of a decision cycle.
// Called from runLoop on every decide tick.
func (t *Tracker) UpdateDecision(res heating.Result, st heating.State, settings heating.Settings) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Decided = true
	t.snap.Decision = res.Decision
	t.snap.Demand = res.Demand
	t.snap.Demand.Needs = append([]heating.RoomNeed(nil), res.Demand.Needs...)
	t.snap.Heating = st.Heating
	t.snap.LastOn = st.LastOn
	t.snap.Settings = settings
	if res.Changed {
		if res.Heating {
			t.snap.Counts.On++
		} else {
			t.snap.Counts.Off++
		}
	}
}

// UpdateSchedule records the outcome of a resolver cycle.
func (t *Tracker) UpdateSchedule(s Schedule) {
	t.mu.Lock()
	t.snap.Schedule = s
	t.mu.Unlock()
}

// SetSettings records an operating mode change made outside the decision loop.
func (t *Tracker) SetSettings(s heating.Settings) {
	t.mu.Lock()
	t.snap.Settings = s
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Demand.Needs = append([]heating.RoomNeed(nil), t.snap.Demand.Needs...)
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
