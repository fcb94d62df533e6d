// Package heating turns per-room needs into a single relay decision and
// tracks the open heating interval.
package heating

import (
	"fmt"
	"strings"
	"time"

	"github.com/sweeney/heating-controller/internal/room"
)

// Decision is the outcome of one evaluation.
type Decision string

const (
	DecisionStart  Decision = "START"
	DecisionNormal Decision = "NORMAL"
	DecisionStop   Decision = "STOP"
)

// OperatingMode is the global override above the automatic decision.
type OperatingMode string

const (
	ModeAuto   OperatingMode = "AUTO"
	ModeManual OperatingMode = "MANUAL"
	ModeOff    OperatingMode = "OFF"
)

// ParseOperatingMode converts a wire string (case-insensitive).
func ParseOperatingMode(s string) (OperatingMode, error) {
	m := OperatingMode(strings.ToUpper(strings.TrimSpace(s)))
	switch m {
	case ModeAuto, ModeManual, ModeOff:
		return m, nil
	}
	return "", fmt.Errorf("%w: unknown operating mode %q", room.ErrInvalid, s)
}

// Settings selects how the engine decides.
type Settings struct {
	Mode     OperatingMode
	ManualOn bool // only used in MANUAL
}

// DefaultSettings returns automatic operation.
func DefaultSettings() Settings {
	return Settings{Mode: ModeAuto}
}

// Validate checks the operating mode.
func (s Settings) Validate() error {
	_, err := ParseOperatingMode(string(s.Mode))
	return err
}

// RoomNeed is one room's contribution to a decision.
type RoomNeed struct {
	Name  string
	Need  float64
	Valid bool
}

// Demand is the aggregate the automatic decision was taken on.
type Demand struct {
	Heat   float64 // sum of priorities of valid rooms
	Actual float64 // sum of needs of valid rooms
	Rooms  int     // number of valid rooms
	Needs  []RoomNeed
}

// State is whether the relay is on, and since when.
type State struct {
	Heating bool
	LastOn  time.Time
}
