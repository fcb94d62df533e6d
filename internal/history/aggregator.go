package history

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Aggregator buckets heating time into calendar rollups in a fixed local
// time zone. It is safe for concurrent use; every read returns a copy.
type Aggregator struct {
	mu     sync.Mutex
	loc    *time.Location
	days   map[DayKey]*DayRollup
	months map[MonthKey]*MonthRollup
	years  map[int]*YearRollup
	runs   []RunInterval
}

// NewAggregator creates an empty aggregator. A nil location means time.Local.
func NewAggregator(loc *time.Location) *Aggregator {
	if loc == nil {
		loc = time.Local
	}
	a := &Aggregator{loc: loc}
	a.reset()
	return a
}

func (a *Aggregator) reset() {
	a.days = make(map[DayKey]*DayRollup)
	a.months = make(map[MonthKey]*MonthRollup)
	a.years = make(map[int]*YearRollup)
	a.runs = nil
}

// Location returns the zone used for bucketing.
func (a *Aggregator) Location() *time.Location {
	return a.loc
}

// Ingest adds a closed interval to every rollup level and to the raw run
// list, then prunes against now. Intervals with end <= start are rejected.
func (a *Aggregator) Ingest(run RunInterval, now time.Time) error {
	run = run.clone()
	run.Start = run.Start.Truncate(time.Second)
	run.End = run.End.Truncate(time.Second)
	if !run.End.After(run.Start) {
		return fmt.Errorf("%w: run %s to %s", ErrInvalidRange,
			run.Start.Format(time.RFC3339), run.End.Format(time.RFC3339))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, p := range splitHours(run.Start, run.End, a.loc) {
		a.addLocked(p)
	}
	a.runs = append(a.runs, run)
	a.pruneLocked(now)
	return nil
}

// piece is a part of an interval that lies within one local hour.
type piece struct {
	day     DayKey
	hour    int
	seconds int64
}

// splitHours cuts [start, end) at every local hour boundary. Local day
// boundaries are hour boundaries, so no piece crosses midnight either.
func splitHours(start, end time.Time, loc *time.Location) []piece {
	var out []piece
	cur := start.In(loc)
	end = end.In(loc)
	for cur.Before(end) {
		hourStart := cur.Add(-time.Duration(cur.Minute())*time.Minute -
			time.Duration(cur.Second())*time.Second -
			time.Duration(cur.Nanosecond()))
		next := hourStart.Add(time.Hour)
		if next.After(end) {
			next = end
		}
		y, m, d := cur.Date()
		out = append(out, piece{
			day:     DayKey{Year: y, Month: m, Day: d},
			hour:    cur.Hour(),
			seconds: int64(next.Sub(cur) / time.Second),
		})
		cur = next
	}
	return out
}

func (a *Aggregator) addLocked(p piece) {
	if p.seconds <= 0 {
		return
	}
	dr, ok := a.days[p.day]
	if !ok {
		dr = &DayRollup{Key: p.day}
		a.days[p.day] = dr
	}
	dr.Hours[p.hour] += p.seconds
	dr.Total += p.seconds

	mk := MonthKey{Year: p.day.Year, Month: p.day.Month}
	mr, ok := a.months[mk]
	if !ok {
		mr = &MonthRollup{Key: mk}
		a.months[mk] = mr
	}
	mr.Days[p.day.Day-1] += p.seconds
	mr.Total += p.seconds

	yr, ok := a.years[p.day.Year]
	if !ok {
		yr = &YearRollup{Year: p.day.Year}
		a.years[p.day.Year] = yr
	}
	yr.Months[p.day.Month-1] += p.seconds
	yr.Total += p.seconds
}

// Prune evicts everything older than its retention window. Calling it twice
// with the same now has no further effect.
func (a *Aggregator) Prune(now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pruneLocked(now)
}

func (a *Aggregator) pruneLocked(now time.Time) {
	local := now.In(a.loc)

	dayCutoff := local.AddDate(0, 0, -31)
	for k := range a.days {
		if k.Start(a.loc).Before(dayCutoff) {
			delete(a.days, k)
		}
	}

	monthCutoff := local.AddDate(-1, 0, 0)
	for k := range a.months {
		if k.Start(a.loc).Before(monthCutoff) {
			delete(a.months, k)
		}
	}

	yearCutoff := local.AddDate(-10, 0, 0)
	for y := range a.years {
		if time.Date(y, time.January, 1, 0, 0, 0, 0, a.loc).Before(yearCutoff) {
			delete(a.years, y)
		}
	}

	runCutoff := now.Add(-RunRetention)
	kept := a.runs[:0]
	for _, r := range a.runs {
		if !r.Start.Before(runCutoff) {
			kept = append(kept, r)
		}
	}
	// Clear the tail so dropped runs can be collected.
	for i := len(kept); i < len(a.runs); i++ {
		a.runs[i] = RunInterval{}
	}
	a.runs = kept
}

// Day returns the rollup for a day, if retained.
func (a *Aggregator) Day(k DayKey) (DayRollup, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if r, ok := a.days[k]; ok {
		return *r, true
	}
	return DayRollup{}, false
}

// Month returns the rollup for a month, if retained.
func (a *Aggregator) Month(k MonthKey) (MonthRollup, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if r, ok := a.months[k]; ok {
		return *r, true
	}
	return MonthRollup{}, false
}

// Year returns the rollup for a year, if retained.
func (a *Aggregator) Year(y int) (YearRollup, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if r, ok := a.years[y]; ok {
		return *r, true
	}
	return YearRollup{}, false
}

// Last31Days returns today and the 30 days before it, oldest first. Days
// without heating are returned as zero rollups.
func (a *Aggregator) Last31Days(now time.Time) []DayRollup {
	a.mu.Lock()
	defer a.mu.Unlock()
	local := now.In(a.loc)
	out := make([]DayRollup, 0, 31)
	for i := 30; i >= 0; i-- {
		k := DayOf(local.AddDate(0, 0, -i), a.loc)
		if r, ok := a.days[k]; ok {
			out = append(out, *r)
		} else {
			out = append(out, DayRollup{Key: k})
		}
	}
	return out
}

// Last12Months returns the current month and the 11 before it, oldest first.
func (a *Aggregator) Last12Months(now time.Time) []MonthRollup {
	a.mu.Lock()
	defer a.mu.Unlock()
	first := MonthOf(now, a.loc).Start(a.loc)
	out := make([]MonthRollup, 0, 12)
	for i := 11; i >= 0; i-- {
		k := MonthOf(first.AddDate(0, -i, 0), a.loc)
		if r, ok := a.months[k]; ok {
			out = append(out, *r)
		} else {
			out = append(out, MonthRollup{Key: k})
		}
	}
	return out
}

// Last10Years returns the current year and the 9 before it, oldest first.
func (a *Aggregator) Last10Years(now time.Time) []YearRollup {
	a.mu.Lock()
	defer a.mu.Unlock()
	year := now.In(a.loc).Year()
	out := make([]YearRollup, 0, 10)
	for y := year - 9; y <= year; y++ {
		if r, ok := a.years[y]; ok {
			out = append(out, *r)
		} else {
			out = append(out, YearRollup{Year: y})
		}
	}
	return out
}

// Runs returns the retained raw intervals in ingestion order.
func (a *Aggregator) Runs() []RunInterval {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]RunInterval, len(a.runs))
	for i, r := range a.runs {
		out[i] = r.clone()
	}
	return out
}

// Snapshot copies the full aggregator state with deterministic ordering.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	var s Snapshot
	for _, r := range a.days {
		s.Days = append(s.Days, *r)
	}
	sort.Slice(s.Days, func(i, j int) bool { return s.Days[i].Key.less(s.Days[j].Key) })
	for _, r := range a.months {
		s.Months = append(s.Months, *r)
	}
	sort.Slice(s.Months, func(i, j int) bool { return s.Months[i].Key.less(s.Months[j].Key) })
	for _, r := range a.years {
		s.Years = append(s.Years, *r)
	}
	sort.Slice(s.Years, func(i, j int) bool { return s.Years[i].Year < s.Years[j].Year })
	for _, r := range a.runs {
		s.Runs = append(s.Runs, r.clone())
	}
	return s
}

// Restore replaces the aggregator state with s after checking every rollup
// invariant, then prunes against now. On error the state is unchanged.
func (a *Aggregator) Restore(s Snapshot, now time.Time) error {
	days := make(map[DayKey]*DayRollup, len(s.Days))
	for _, d := range s.Days {
		if !d.Key.valid() {
			return fmt.Errorf("%w: bad day %v", ErrCorrupt, d.Key)
		}
		if _, dup := days[d.Key]; dup {
			return fmt.Errorf("%w: day %v listed twice", ErrCorrupt, d.Key)
		}
		if sum(d.Hours[:]) != d.Total {
			return fmt.Errorf("%w: day %v total %d does not match slots", ErrCorrupt, d.Key, d.Total)
		}
		d := d
		days[d.Key] = &d
	}

	months := make(map[MonthKey]*MonthRollup, len(s.Months))
	for _, m := range s.Months {
		if m.Key.Month < time.January || m.Key.Month > time.December {
			return fmt.Errorf("%w: bad month %v", ErrCorrupt, m.Key)
		}
		if _, dup := months[m.Key]; dup {
			return fmt.Errorf("%w: month %v listed twice", ErrCorrupt, m.Key)
		}
		if sum(m.Days[:]) != m.Total {
			return fmt.Errorf("%w: month %v total %d does not match slots", ErrCorrupt, m.Key, m.Total)
		}
		m := m
		months[m.Key] = &m
	}

	years := make(map[int]*YearRollup, len(s.Years))
	for _, y := range s.Years {
		if _, dup := years[y.Year]; dup {
			return fmt.Errorf("%w: year %d listed twice", ErrCorrupt, y.Year)
		}
		if sum(y.Months[:]) != y.Total {
			return fmt.Errorf("%w: year %d total %d does not match slots", ErrCorrupt, y.Year, y.Total)
		}
		y := y
		years[y.Year] = &y
	}

	runs := make([]RunInterval, 0, len(s.Runs))
	for _, r := range s.Runs {
		if !r.End.After(r.Start) {
			return fmt.Errorf("%w: %w", ErrCorrupt, ErrInvalidRange)
		}
		runs = append(runs, r.clone())
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.days, a.months, a.years, a.runs = days, months, years, runs
	a.pruneLocked(now)
	return nil
}
