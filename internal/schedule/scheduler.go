package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/sweeney/heating-controller/internal/room"
)

var (
	// ErrBusy is returned when the schedule lock could not be taken in time.
	ErrBusy = errors.New("schedule busy")

	// ErrInvalidRange is returned for directives whose end is not after their start.
	ErrInvalidRange = errors.New("invalid time range")

	// ErrNoChange is returned by Arrive and Leave when there is nothing to override.
	ErrNoChange = errors.New("no change")
)

// DefaultLockTimeout bounds how long an operation waits for the schedule lock.
const DefaultLockTimeout = time.Second

// RoomSource provides a consistent view of every room.
type RoomSource interface {
	Observe(now time.Time) []room.Observation
}

// RateEstimator supplies the heating rate in °C per minute.
type RateEstimator interface {
	HeatingRate() float64
}

// FixedRate is a RateEstimator that always returns the same rate.
type FixedRate float64

func (f FixedRate) HeatingRate() float64 { return float64(f) }

// ModeSink receives the mode resolved by each Update.
type ModeSink interface {
	SetActiveMode(room.Mode)
}

// Options configures a Scheduler. Zero values select defaults.
type Options struct {
	Location    *time.Location
	LockTimeout time.Duration
	Rooms       RoomSource
	Rate        RateEstimator
	Sink        ModeSink
	NewID       func() string
}

// Scheduler owns the plan and both directive lists. Every operation takes
// the schedule lock with a bounded wait and fails with ErrBusy on timeout.
type Scheduler struct {
	sem         *semaphore.Weighted
	lockTimeout time.Duration
	loc         *time.Location

	plan  Plan
	user  []Directive
	smart []Directive

	rooms RoomSource
	rate  RateEstimator
	sink  ModeSink
	newID func() string
}

// New creates a Scheduler with an all-HOME plan and no directives.
func New(opts Options) *Scheduler {
	s := &Scheduler{
		sem:         semaphore.NewWeighted(1),
		lockTimeout: opts.LockTimeout,
		loc:         opts.Location,
		plan:        NewPlan(),
		rooms:       opts.Rooms,
		rate:        opts.Rate,
		sink:        opts.Sink,
		newID:       opts.NewID,
	}
	if s.lockTimeout <= 0 {
		s.lockTimeout = DefaultLockTimeout
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.rate == nil {
		s.rate = FixedRate(0.1)
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// Location returns the zone the plan is interpreted in.
func (s *Scheduler) Location() *time.Location {
	return s.loc
}

func (s *Scheduler) lock(ctx context.Context) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBusy, err)
	}
	return func() { s.sem.Release(1) }, nil
}

func (s *Scheduler) list(k Kind) (*[]Directive, error) {
	switch k {
	case KindUser:
		return &s.user, nil
	case KindSmart:
		return &s.smart, nil
	}
	return nil, fmt.Errorf("%w: unknown directive kind %q", room.ErrInvalid, k)
}

// SetSlot changes one half-hour slot of the plan.
func (s *Scheduler) SetSlot(ctx context.Context, day, slot int, m room.Mode) error {
	if day < 0 || day >= Days || slot < 0 || slot >= SlotsPerDay {
		return fmt.Errorf("%w: slot %d/%d out of range", room.ErrInvalid, day, slot)
	}
	if !m.Valid() {
		return fmt.Errorf("%w: unknown mode %q", room.ErrInvalid, m)
	}
	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	s.plan[day][slot] = m
	return nil
}

// SetPlan replaces the whole weekly plan.
func (s *Scheduler) SetPlan(ctx context.Context, p Plan) error {
	if err := p.Validate(); err != nil {
		return err
	}
	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	s.plan = p
	return nil
}

// Plan returns a copy of the weekly plan.
func (s *Scheduler) Plan(ctx context.Context) (Plan, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return Plan{}, err
	}
	defer unlock()
	return s.plan, nil
}

// AddUserDirective appends a user override.
func (s *Scheduler) AddUserDirective(ctx context.Context, start, end time.Time, m room.Mode) (Directive, error) {
	return s.add(ctx, KindUser, start, end, m)
}

// AddSmartDirective appends a predictive override.
func (s *Scheduler) AddSmartDirective(ctx context.Context, start, end time.Time, m room.Mode) (Directive, error) {
	return s.add(ctx, KindSmart, start, end, m)
}

func (s *Scheduler) add(ctx context.Context, k Kind, start, end time.Time, m room.Mode) (Directive, error) {
	start, end, err := checkDirective(start, end, m)
	if err != nil {
		return Directive{}, err
	}
	unlock, err := s.lock(ctx)
	if err != nil {
		return Directive{}, err
	}
	defer unlock()
	ds, err := s.list(k)
	if err != nil {
		return Directive{}, err
	}
	d := Directive{ID: s.newID(), Start: start, End: end, Mode: m}
	*ds = append(*ds, d)
	return d, nil
}

// RemoveDirective deletes the directive with the given id.
func (s *Scheduler) RemoveDirective(ctx context.Context, k Kind, id string) error {
	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	ds, err := s.list(k)
	if err != nil {
		return err
	}
	for i, d := range *ds {
		if d.ID == id {
			*ds = append((*ds)[:i:i], (*ds)[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s directive %s", room.ErrNotFound, k, id)
}

// RemoveDirectiveAt deletes the directive at position i of the list.
func (s *Scheduler) RemoveDirectiveAt(ctx context.Context, k Kind, i int) error {
	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	ds, err := s.list(k)
	if err != nil {
		return err
	}
	if i < 0 || i >= len(*ds) {
		return fmt.Errorf("%w: %s directive index %d", room.ErrNotFound, k, i)
	}
	*ds = append((*ds)[:i:i], (*ds)[i+1:]...)
	return nil
}

// RemoveDirectiveMatching deletes every directive with exactly this start,
// end and mode, and returns how many were removed.
func (s *Scheduler) RemoveDirectiveMatching(ctx context.Context, k Kind, start, end time.Time, m room.Mode) (int, error) {
	start = start.Truncate(time.Second)
	end = end.Truncate(time.Second)
	unlock, err := s.lock(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()
	ds, err := s.list(k)
	if err != nil {
		return 0, err
	}
	kept := make([]Directive, 0, len(*ds))
	for _, d := range *ds {
		if !d.matches(start, end, m) {
			kept = append(kept, d)
		}
	}
	n := len(*ds) - len(kept)
	if n == 0 {
		return 0, fmt.Errorf("%w: no matching %s directive", room.ErrNotFound, k)
	}
	*ds = kept
	return n, nil
}

// Directives returns a copy of one list in insertion order.
func (s *Scheduler) Directives(ctx context.Context, k Kind) ([]Directive, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	ds, err := s.list(k)
	if err != nil {
		return nil, err
	}
	return append([]Directive(nil), (*ds)...), nil
}

// Resolve prunes expired directives and returns the mode in force at now.
// Smart directives win over user directives, which win over the plan;
// within a list the most recently added active directive wins.
func (s *Scheduler) Resolve(ctx context.Context, now time.Time) (room.Mode, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return "", err
	}
	defer unlock()
	s.pruneLocked(now)
	return s.resolveLocked(now), nil
}

func (s *Scheduler) resolveLocked(t time.Time) room.Mode {
	if d, ok := newestActive(s.smart, t); ok {
		return d.Mode
	}
	if d, ok := newestActive(s.user, t); ok {
		return d.Mode
	}
	return s.plan.At(t.In(s.loc))
}

func (s *Scheduler) pruneLocked(now time.Time) int {
	var a, b int
	s.smart, a = pruneExpired(s.smart, now)
	s.user, b = pruneExpired(s.user, now)
	return a + b
}

// NextChangeTime returns the earliest instant at or after now whose resolved
// mode differs from the mode at now. The search horizon is seven days or the
// furthest directive end, whichever is later. If nothing changes within the
// horizon, now is returned.
func (s *Scheduler) NextChangeTime(ctx context.Context, now time.Time) (time.Time, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return time.Time{}, err
	}
	defer unlock()
	s.pruneLocked(now)
	return s.nextChangeLocked(now), nil
}

// nextChangeLocked walks the instants where the resolved mode can change:
// local slot boundaries, directive starts and the second after each
// directive end. Between two such instants the resolution is constant.
//
// Slot boundaries are skipped while a directive is in force, and once the
// plan has been seen to hold the current mode in every slot, so a directive ending (or
// starting) far in the future costs a handful of steps rather than one per
// half hour.
func (s *Scheduler) nextChangeLocked(now time.Time) time.Time {
	cur := s.resolveLocked(now)

	horizon := now.Add(Days * 24 * time.Hour)
	var edges []time.Time
	for _, ds := range [][]Directive{s.smart, s.user} {
		for _, d := range ds {
			after := d.End.Add(time.Second)
			if after.After(horizon) {
				horizon = after
			}
			if d.Start.After(now) {
				edges = append(edges, d.Start)
			}
			if after.After(now) {
				edges = append(edges, after)
			}
		}
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].Before(edges[j]) })

	boundary := slotStart(now.In(s.loc)).Add(SlotLength)
	unmasked := 0
	for {
		c := boundary
		fromEdge := len(edges) > 0 && !edges[0].After(boundary)
		if fromEdge {
			c = edges[0]
		}
		if c.After(horizon) {
			return now
		}
		if s.resolveLocked(c) != cur {
			return c
		}
		if fromEdge {
			edges = edges[1:]
			if c.Equal(boundary) {
				boundary = boundary.Add(SlotLength)
			}
		} else {
			boundary = boundary.Add(SlotLength)
		}

		switch {
		case s.directiveActiveLocked(c):
			unmasked = 0
		case fromEdge:
			continue
		default:
			// Two weeks of plan slots so a daylight saving jump cannot hide one.
			if unmasked++; unmasked < 2*Days*SlotsPerDay {
				continue
			}
			unmasked = 0
		}
		if len(edges) == 0 {
			return now
		}
		if b := s.firstBoundaryFrom(edges[0]); b.After(boundary) {
			boundary = b
		}
	}
}

func (s *Scheduler) directiveActiveLocked(t time.Time) bool {
	if _, ok := newestActive(s.smart, t); ok {
		return true
	}
	_, ok := newestActive(s.user, t)
	return ok
}

// firstBoundaryFrom returns the first local slot boundary at or after t.
func (s *Scheduler) firstBoundaryFrom(t time.Time) time.Time {
	b := slotStart(t.In(s.loc))
	if b.Before(t) {
		b = b.Add(SlotLength)
	}
	return b
}

// Result describes one resolver cycle.
type Result struct {
	Mode     room.Mode
	Next     time.Time
	Pruned   int
	Inserted *Directive
	User     int // directives left after pruning
	Smart    int
}

// Update runs one resolver cycle: prune, resolve, predictive pass, re-resolve
// when a smart directive was added, then publish the mode to the sink.
func (s *Scheduler) Update(ctx context.Context, now time.Time) (Result, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	var res Result
	res.Pruned = s.pruneLocked(now)
	res.Mode = s.resolveLocked(now)
	if d, ok := s.predictiveLocked(now); ok {
		res.Inserted = &d
		res.Mode = s.resolveLocked(now)
	}
	res.Next = s.nextChangeLocked(now)
	res.User, res.Smart = len(s.user), len(s.smart)
	if s.sink != nil {
		s.sink.SetActiveMode(res.Mode)
	}
	return res, nil
}

// State is a copy of everything the scheduler persists.
type State struct {
	Plan  Plan
	User  []Directive
	Smart []Directive
}

// Snapshot returns a copy of the plan and both directive lists.
func (s *Scheduler) Snapshot(ctx context.Context) (State, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return State{}, err
	}
	defer unlock()
	return State{
		Plan:  s.plan,
		User:  append([]Directive(nil), s.user...),
		Smart: append([]Directive(nil), s.smart...),
	}, nil
}

// Restore replaces the scheduler state after validating all of it. Directives
// saved without an id are given a new one.
func (s *Scheduler) Restore(ctx context.Context, st State) error {
	if err := st.Plan.Validate(); err != nil {
		return err
	}
	fix := func(in []Directive) ([]Directive, error) {
		out := make([]Directive, 0, len(in))
		for _, d := range in {
			start, end, err := checkDirective(d.Start, d.End, d.Mode)
			if err != nil {
				return nil, err
			}
			d.Start, d.End = start, end
			if d.ID == "" {
				d.ID = s.newID()
			}
			out = append(out, d)
		}
		return out, nil
	}
	user, err := fix(st.User)
	if err != nil {
		return fmt.Errorf("user directives: %w", err)
	}
	smart, err := fix(st.Smart)
	if err != nil {
		return fmt.Errorf("smart directives: %w", err)
	}

	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	s.plan, s.user, s.smart = st.Plan, user, smart
	return nil
}
