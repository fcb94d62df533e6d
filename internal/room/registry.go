package room

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Registry is the set of configured rooms plus the live readings of their
// sensors. Sensors are registered against a room by identifier; readings are
// looked up by identifier, never through stored references.
type Registry struct {
	mu       sync.RWMutex
	rooms    []Config
	owner    map[string]string // sensor id -> room name
	readings map[string]Reading

	mode atomic.Value // Mode
}

// NewRegistry creates an empty registry with HOME as the active mode.
func NewRegistry() *Registry {
	r := &Registry{
		owner:    make(map[string]string),
		readings: make(map[string]Reading),
	}
	r.mode.Store(ModeHome)
	return r
}

// SetActiveMode publishes the mode resolved for the current cycle.
func (r *Registry) SetActiveMode(m Mode) {
	r.mode.Store(m)
}

// ActiveMode returns the most recently published mode.
func (r *Registry) ActiveMode() Mode {
	return r.mode.Load().(Mode)
}

// Len returns the number of registered rooms.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Add registers a new room. Names are unique and a sensor belongs to one room.
func (r *Registry) Add(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.indexLocked(cfg.Name) >= 0 {
		return fmt.Errorf("%w: room %q already exists", ErrDuplicate, cfg.Name)
	}
	for _, id := range cfg.Sensors {
		if owner, ok := r.owner[id]; ok {
			return fmt.Errorf("%w: sensor %s already belongs to %q", ErrDuplicate, id, owner)
		}
	}
	cfg = cfg.clone()
	r.rooms = append(r.rooms, cfg)
	for _, id := range cfg.Sensors {
		r.owner[id] = cfg.Name
	}
	return nil
}

// Update applies fn to a copy of the named room's configuration and stores
// the result only if it validates. The registry is unchanged on error.
func (r *Registry) Update(name string, fn func(*Config)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexLocked(name)
	if i < 0 {
		return fmt.Errorf("%w: room %q", ErrNotFound, name)
	}
	next := r.rooms[i].clone()
	fn(&next)
	if err := next.Validate(); err != nil {
		return err
	}
	if next.Name != name && r.indexLocked(next.Name) >= 0 {
		return fmt.Errorf("%w: room %q already exists", ErrDuplicate, next.Name)
	}
	for _, id := range next.Sensors {
		if owner, ok := r.owner[id]; ok && owner != name {
			return fmt.Errorf("%w: sensor %s already belongs to %q", ErrDuplicate, id, owner)
		}
	}

	for _, id := range r.rooms[i].Sensors {
		delete(r.owner, id)
	}
	r.rooms[i] = next
	for _, id := range next.Sensors {
		r.owner[id] = next.Name
	}
	r.dropOrphanReadingsLocked()
	return nil
}

// Remove deletes the named room and forgets its sensors.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexLocked(name)
	if i < 0 {
		return fmt.Errorf("%w: room %q", ErrNotFound, name)
	}
	for _, id := range r.rooms[i].Sensors {
		delete(r.owner, id)
	}
	r.rooms = append(r.rooms[:i:i], r.rooms[i+1:]...)
	r.dropOrphanReadingsLocked()
	return nil
}

// Get returns a copy of the named room's configuration.
func (r *Registry) Get(name string) (Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i := r.indexLocked(name)
	if i < 0 {
		return Config{}, fmt.Errorf("%w: room %q", ErrNotFound, name)
	}
	return r.rooms[i].clone(), nil
}

// Configs returns copies of every room configuration in registration order.
func (r *Registry) Configs() []Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Config, len(r.rooms))
	for i, c := range r.rooms {
		out[i] = c.clone()
	}
	return out
}

// Replace swaps the whole room set. Used when restoring saved state.
func (r *Registry) Replace(cfgs []Config) error {
	owner := make(map[string]string)
	names := make(map[string]bool, len(cfgs))
	rooms := make([]Config, 0, len(cfgs))
	for _, c := range cfgs {
		if err := c.Validate(); err != nil {
			return err
		}
		if names[c.Name] {
			return fmt.Errorf("%w: room %q already exists", ErrDuplicate, c.Name)
		}
		names[c.Name] = true
		for _, id := range c.Sensors {
			if o, ok := owner[id]; ok {
				return fmt.Errorf("%w: sensor %s already belongs to %q", ErrDuplicate, id, o)
			}
			owner[id] = c.Name
		}
		rooms = append(rooms, c.clone())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms = rooms
	r.owner = owner
	r.dropOrphanReadingsLocked()
	return nil
}

// AddSensor registers a thermometer with a room.
func (r *Registry) AddSensor(roomName, id string) error {
	return r.Update(roomName, func(c *Config) {
		c.Sensors = append(c.Sensors, id)
	})
}

// RemoveSensor unregisters a thermometer from a room.
func (r *Registry) RemoveSensor(roomName, id string) error {
	r.mu.RLock()
	owner, ok := r.owner[id]
	r.mu.RUnlock()
	if !ok || owner != roomName {
		return fmt.Errorf("%w: sensor %s in room %q", ErrNotFound, id, roomName)
	}
	return r.Update(roomName, func(c *Config) {
		kept := c.Sensors[:0]
		for _, s := range c.Sensors {
			if s != id {
				kept = append(kept, s)
			}
		}
		c.Sensors = kept
	})
}

// Record stores a reading for a registered sensor. Readings for unknown
// sensors are ignored and reported as false.
func (r *Registry) Record(id string, rd Reading) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.owner[id]; !ok {
		return false
	}
	r.readings[id] = rd
	return true
}

// Observe returns a consistent view of every room at now. Temperature and
// humidity are the mean of the room's fresh readings, or zero when the room
// has none (in which case Valid is false).
func (r *Registry) Observe(now time.Time) []Observation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Observation, 0, len(r.rooms))
	for _, c := range r.rooms {
		obs := Observation{Config: c.clone()}
		var temp, hum float64
		var n int
		for _, id := range c.Sensors {
			rd, ok := r.readings[id]
			st := SensorStatus{ID: id}
			if ok {
				st.Battery = rd.Battery
				st.ReadAt = rd.ReadAt
				st.Valid = rd.Fresh(now)
				if st.Valid {
					st.Temperature = rd.Temperature
					st.Humidity = rd.Humidity
					temp += rd.Temperature
					hum += rd.Humidity
					n++
				}
			}
			obs.SensorState = append(obs.SensorState, st)
		}
		if n > 0 {
			obs.Temperature = temp / float64(n)
			obs.Humidity = hum / float64(n)
			obs.Valid = true
		}
		out = append(out, obs)
	}
	return out
}

func (r *Registry) indexLocked(name string) int {
	for i, c := range r.rooms {
		if c.Name == name {
			return i
		}
	}
	return -1
}

func (r *Registry) dropOrphanReadingsLocked() {
	for id := range r.readings {
		if _, ok := r.owner[id]; !ok {
			delete(r.readings, id)
		}
	}
}
