package heating

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sweeney/heating-controller/internal/history"
	"github.com/sweeney/heating-controller/internal/room"
)

// Rooms is the engine's view of the room registry.
type Rooms interface {
	Observe(now time.Time) []room.Observation
	ActiveMode() room.Mode
}

// Relay drives the single heating output.
type Relay interface {
	Set(active bool) error
}

// Sink receives closed heating intervals.
type Sink interface {
	Ingest(run history.RunInterval, now time.Time) error
}

// Result describes one engine step.
type Result struct {
	Decision Decision
	Demand   Demand
	Mode     room.Mode
	Heating  bool
	Changed  bool                 // relay switched this step
	Closed   *history.RunInterval // set when a run ended this step
}

// Engine evaluates and applies decisions. It is the only writer of the relay.
type Engine struct {
	mu       sync.Mutex
	rooms    Rooms
	relay    Relay
	sink     Sink
	settings Settings
	state    State
	open     *history.RunInterval
}

// NewEngine creates an idle engine in AUTO.
func NewEngine(rooms Rooms, relay Relay, sink Sink) *Engine {
	return &Engine{
		rooms:    rooms,
		relay:    relay,
		sink:     sink,
		settings: DefaultSettings(),
	}
}

// Init drives the relay inactive. Call once at startup.
func (e *Engine) Init() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.relay.Set(false); err != nil {
		return fmt.Errorf("relay off: %w", err)
	}
	e.state = State{}
	e.open = nil
	return nil
}

// Settings returns the current operating settings.
func (e *Engine) Settings() Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// SetSettings changes the operating settings. They take effect on the next Step.
func (e *Engine) SetSettings(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settings = s
	return nil
}

// State returns whether the relay is on and since when.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Step evaluates one consistent room observation and applies the decision.
// If the relay cannot be written the engine state is left as it was, so the
// next step retries the same transition.
func (e *Engine) Step(now time.Time) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	obs := e.rooms.Observe(now)
	mode := e.rooms.ActiveMode()
	decision, demand := Evaluate(e.settings, obs, mode)

	res := Result{Decision: decision, Demand: demand, Mode: mode, Heating: e.state.Heating}
	switch decision {
	case DecisionStart:
		if e.state.Heating {
			break
		}
		if err := e.relay.Set(true); err != nil {
			return res, fmt.Errorf("relay on: %w", err)
		}
		e.state = State{Heating: true, LastOn: now}
		e.open = openRun(obs, now)
		res.Heating, res.Changed = true, true
		log.Printf("heating: relay ON (mode=%s actual=%.2f heat=%.2f rooms=%d)",
			mode, demand.Actual, demand.Heat, demand.Rooms)

	case DecisionStop:
		if !e.state.Heating {
			break
		}
		run, err := e.stopLocked(obs, now)
		if err != nil {
			return res, err
		}
		res.Heating, res.Changed, res.Closed = false, true, run
		log.Printf("heating: relay OFF (mode=%s actual=%.2f heat=%.2f rooms=%d)",
			mode, demand.Actual, demand.Heat, demand.Rooms)
	}
	return res, nil
}

// Shutdown switches the relay off and closes any open run.
func (e *Engine) Shutdown(now time.Time) (*history.RunInterval, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.state.Heating {
		return nil, e.relay.Set(false)
	}
	return e.stopLocked(e.rooms.Observe(now), now)
}

func (e *Engine) stopLocked(obs []room.Observation, now time.Time) (*history.RunInterval, error) {
	if err := e.relay.Set(false); err != nil {
		return nil, fmt.Errorf("relay off: %w", err)
	}
	run := closeRun(e.open, obs, now)
	e.state.Heating = false
	e.open = nil
	if run == nil {
		return nil, nil
	}
	if e.sink != nil {
		if err := e.sink.Ingest(*run, now); err != nil {
			log.Printf("heating: discarded run: %v", err)
		}
	}
	return run, nil
}

func openRun(obs []room.Observation, now time.Time) *history.RunInterval {
	run := &history.RunInterval{Start: now}
	for _, o := range obs {
		run.Rooms = append(run.Rooms, history.RoomSnapshot{
			Name:          o.Name,
			StartTemp:     o.Temperature,
			EndTemp:       o.Temperature,
			StartHumidity: o.Humidity,
			EndHumidity:   o.Humidity,
			Priority:      o.Priority,
			Valid:         o.Valid,
		})
	}
	return run
}

// closeRun fills end values by room name. Rooms that disappeared or have no
// live reading keep their start values and are marked invalid.
func closeRun(open *history.RunInterval, obs []room.Observation, now time.Time) *history.RunInterval {
	if open == nil {
		return nil
	}
	byName := make(map[string]room.Observation, len(obs))
	for _, o := range obs {
		byName[o.Name] = o
	}
	run := *open
	run.End = now
	run.Rooms = append([]history.RoomSnapshot(nil), open.Rooms...)
	for i := range run.Rooms {
		s := &run.Rooms[i]
		o, ok := byName[s.Name]
		if !ok || !o.Valid {
			s.Valid = false
			continue
		}
		s.EndTemp = o.Temperature
		s.EndHumidity = o.Humidity
	}
	return &run
}
