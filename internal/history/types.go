// Package history aggregates closed heating intervals into hourly, daily and
// monthly rollups with bounded retention.
// This package has NO I/O; time is always passed in.
package history

import (
	"errors"
	"time"
)

// ErrInvalidRange is returned for intervals whose end is not after their start.
var ErrInvalidRange = errors.New("invalid time range")

// ErrCorrupt is returned by Restore when a snapshot breaks a rollup invariant.
var ErrCorrupt = errors.New("corrupt history snapshot")

const (
	// DefaultHeatingRate is the fallback heating rate in °C per minute.
	DefaultHeatingRate = 0.1

	// RunRetention is how long raw intervals are kept, by start time.
	RunRetention = 7 * 24 * time.Hour

	// minRunForRate is the shortest interval that contributes to HeatingRate.
	minRunForRate = time.Minute
)

// DayKey identifies a local calendar day.
type DayKey struct {
	Year  int
	Month time.Month
	Day   int
}

// MonthKey identifies a local calendar month.
type MonthKey struct {
	Year  int
	Month time.Month
}

// DayOf returns the local day containing t.
func DayOf(t time.Time, loc *time.Location) DayKey {
	y, m, d := t.In(loc).Date()
	return DayKey{Year: y, Month: m, Day: d}
}

// MonthOf returns the local month containing t.
func MonthOf(t time.Time, loc *time.Location) MonthKey {
	y, m, _ := t.In(loc).Date()
	return MonthKey{Year: y, Month: m}
}

// Start returns local midnight of the day.
func (k DayKey) Start(loc *time.Location) time.Time {
	return time.Date(k.Year, k.Month, k.Day, 0, 0, 0, 0, loc)
}

// Start returns local midnight of the first day of the month.
func (k MonthKey) Start(loc *time.Location) time.Time {
	return time.Date(k.Year, k.Month, 1, 0, 0, 0, 0, loc)
}

func (k DayKey) valid() bool {
	if k.Month < time.January || k.Month > time.December || k.Day < 1 {
		return false
	}
	// time.Date normalises out-of-range days into the next month.
	t := time.Date(k.Year, k.Month, k.Day, 12, 0, 0, 0, time.UTC)
	return t.Day() == k.Day
}

func (k DayKey) less(o DayKey) bool {
	if k.Year != o.Year {
		return k.Year < o.Year
	}
	if k.Month != o.Month {
		return k.Month < o.Month
	}
	return k.Day < o.Day
}

func (k MonthKey) less(o MonthKey) bool {
	if k.Year != o.Year {
		return k.Year < o.Year
	}
	return k.Month < o.Month
}

// DayRollup holds heating seconds per hour of one day.
type DayRollup struct {
	Key   DayKey
	Total int64
	Hours [24]int64
}

// MonthRollup holds heating seconds per day of one month.
type MonthRollup struct {
	Key   MonthKey
	Total int64
	Days  [31]int64
}

// YearRollup holds heating seconds per month of one year.
type YearRollup struct {
	Year   int
	Total  int64
	Months [12]int64
}

// RoomSnapshot captures a room's conditions at the start and end of a run.
// Valid is true only when both ends came from live sensor readings.
type RoomSnapshot struct {
	Name          string
	StartTemp     float64
	EndTemp       float64
	StartHumidity float64
	EndHumidity   float64
	Priority      float64
	Valid         bool
}

// RunInterval is one closed period during which the relay was active.
type RunInterval struct {
	Start time.Time
	End   time.Time
	Rooms []RoomSnapshot
}

// Duration returns End - Start.
func (r RunInterval) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

func (r RunInterval) clone() RunInterval {
	r.Rooms = append([]RoomSnapshot(nil), r.Rooms...)
	return r
}

// Snapshot is a point-in-time copy of everything the aggregator retains.
type Snapshot struct {
	Days   []DayRollup
	Months []MonthRollup
	Years  []YearRollup
	Runs   []RunInterval
}

func sum(slots []int64) int64 {
	var s int64
	for _, v := range slots {
		s += v
	}
	return s
}
