// Package room holds per-zone configuration, the sensor registration table and
// the signed temperature need that drives the heating decision.
// This package has NO I/O; time is always passed in.
package room

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Mode selects which comfort target applies to every room.
type Mode string

const (
	ModeHome       Mode = "HOME"
	ModeAway       Mode = "AWAY"
	ModeNight      Mode = "NIGHT"
	ModeAntifreeze Mode = "ANTIFREEZE"
)

// Modes lists every valid mode in wire order.
var Modes = []Mode{ModeHome, ModeAway, ModeNight, ModeAntifreeze}

// ParseMode converts a wire string (case-insensitive) into a Mode.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToUpper(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("%w: unknown mode %q", ErrInvalid, s)
	}
	return m, nil
}

// Valid reports whether m is one of the four known modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeHome, ModeAway, ModeNight, ModeAntifreeze:
		return true
	}
	return false
}

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
	ErrInvalid   = errors.New("invalid")
)

const (
	// FreshnessWindow is how long a sensor reading counts as live.
	FreshnessWindow = 60 * time.Second

	// AntifreezeFloor is the temperature below which antifreeze mode demands heat.
	AntifreezeFloor = 5.0

	// DefaultPriority is the weight given to a room created without one.
	DefaultPriority = 5.0
)

// Setpoint is a target temperature with an asymmetric comfort band.
type Setpoint struct {
	Target     float64
	LowOffset  float64
	HighOffset float64
}

// Config is the persistent configuration of one room.
type Config struct {
	Name     string
	Home     Setpoint
	Away     Setpoint
	Night    Setpoint
	Priority float64
	Sensors  []string
}

// DefaultConfig returns the factory settings for a new room.
func DefaultConfig(name string) Config {
	return Config{
		Name:     name,
		Home:     Setpoint{Target: 22.0, LowOffset: 0.5, HighOffset: 0.5},
		Away:     Setpoint{Target: 18.0, LowOffset: 0.75, HighOffset: 0.75},
		Night:    Setpoint{Target: 21.0, LowOffset: 0.6, HighOffset: 0.6},
		Priority: DefaultPriority,
	}
}

// Validate checks structural constraints on a room configuration.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: room name is required", ErrInvalid)
	}
	for _, sp := range []struct {
		mode Mode
		sp   Setpoint
	}{{ModeHome, c.Home}, {ModeAway, c.Away}, {ModeNight, c.Night}} {
		if sp.sp.LowOffset < 0 || sp.sp.HighOffset < 0 {
			return fmt.Errorf("%w: %s offsets must be non-negative", ErrInvalid, strings.ToLower(string(sp.mode)))
		}
	}
	seen := make(map[string]bool, len(c.Sensors))
	for _, id := range c.Sensors {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("%w: empty sensor id", ErrInvalid)
		}
		if seen[id] {
			return fmt.Errorf("%w: sensor %s listed twice", ErrDuplicate, id)
		}
		seen[id] = true
	}
	return nil
}

// Setpoint returns the setpoint for a comfort mode. Antifreeze has none.
func (c Config) Setpoint(m Mode) (Setpoint, bool) {
	switch m {
	case ModeHome:
		return c.Home, true
	case ModeAway:
		return c.Away, true
	case ModeNight:
		return c.Night, true
	}
	return Setpoint{}, false
}

// Target returns the target temperature for m. Antifreeze targets the floor.
func (c Config) Target(m Mode) float64 {
	if sp, ok := c.Setpoint(m); ok {
		return sp.Target
	}
	return AntifreezeFloor
}

func (c Config) clone() Config {
	c.Sensors = append([]string(nil), c.Sensors...)
	return c
}

// Reading is one sample from a thermometer.
type Reading struct {
	Temperature float64
	Humidity    float64
	Battery     int
	ReadAt      time.Time
}

// Fresh reports whether the reading is still live at now.
func (r Reading) Fresh(now time.Time) bool {
	if r.ReadAt.IsZero() {
		return false
	}
	return now.Sub(r.ReadAt) < FreshnessWindow
}

// SensorStatus is the per-thermometer view used by listings.
type SensorStatus struct {
	ID          string
	Temperature float64
	Humidity    float64
	Battery     int
	ReadAt      time.Time
	Valid       bool
}

// Observation is a consistent copy of a room's configuration and live values
// taken at one instant. It is safe to use after the registry lock is released.
type Observation struct {
	Config
	Temperature float64
	Humidity    float64
	Valid       bool
	SensorState []SensorStatus
}

// Need returns the signed temperature need of the observed room under m.
func (o Observation) Need(m Mode) float64 {
	return Need(o.Config, o.Temperature, m)
}
