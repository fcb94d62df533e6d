// Package schedule resolves the house-wide operating mode from a weekly plan,
// user overrides and predictive pre-heat overrides.
package schedule

import (
	"fmt"
	"time"

	"github.com/sweeney/heating-controller/internal/room"
)

const (
	Days        = 7
	SlotsPerDay = 48
	SlotLength  = 30 * time.Minute
)

// Plan is the weekly schedule. Day 0 is Monday; slot i covers
// [i*30min, (i+1)*30min) local time.
type Plan [Days][SlotsPerDay]room.Mode

// NewPlan returns a plan with every slot set to HOME.
func NewPlan() Plan {
	var p Plan
	for d := range p {
		for s := range p[d] {
			p[d][s] = room.ModeHome
		}
	}
	return p
}

// SlotIndex returns the plan coordinates of t in t's own location.
func SlotIndex(t time.Time) (day, slot int) {
	day = (int(t.Weekday()) + 6) % 7
	slot = t.Hour() * 2
	if t.Minute() >= 30 {
		slot++
	}
	return day, slot
}

// At returns the planned mode for t in t's own location.
func (p *Plan) At(t time.Time) room.Mode {
	d, s := SlotIndex(t)
	return p[d][s]
}

// Validate checks that every slot holds a known mode.
func (p *Plan) Validate() error {
	for d := range p {
		for s, m := range p[d] {
			if !m.Valid() {
				return fmt.Errorf("%w: day %d slot %d has mode %q", room.ErrInvalid, d, s, m)
			}
		}
	}
	return nil
}

// slotStart returns the start of the local half-hour slot containing t.
func slotStart(t time.Time) time.Time {
	return t.Add(-time.Duration(t.Minute()%30)*time.Minute -
		time.Duration(t.Second())*time.Second -
		time.Duration(t.Nanosecond()))
}
