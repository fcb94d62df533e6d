package schedule

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sweeney/heating-controller/internal/room"
)

// 2026-01-05 is a Monday.
func monday(h, m int) time.Time {
	return time.Date(2026, 1, 5, h, m, 0, 0, time.UTC)
}

type fakeRooms struct {
	obs []room.Observation
}

func (f *fakeRooms) Observe(time.Time) []room.Observation {
	return f.obs
}

type fakeSink struct {
	modes []room.Mode
}

func (f *fakeSink) SetActiveMode(m room.Mode) {
	f.modes = append(f.modes, m)
}

func liveRoom(name string, temp, homeTarget float64) room.Observation {
	cfg := room.DefaultConfig(name)
	cfg.Home.Target = homeTarget
	return room.Observation{Config: cfg, Temperature: temp, Valid: true}
}

func newTestScheduler(opts Options) *Scheduler {
	n := 0
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	opts.NewID = func() string {
		n++
		return fmt.Sprintf("d%d", n)
	}
	return New(opts)
}

func TestResolveUsesPlanSlot(t *testing.T) {
	ctx := context.Background()
	s := newTestScheduler(Options{})
	if err := s.SetSlot(ctx, 0, 14, room.ModeAway); err != nil {
		t.Fatalf("SetSlot: %v", err)
	}

	tests := []struct {
		at   time.Time
		want room.Mode
	}{
		{monday(6, 59), room.ModeHome},
		{monday(7, 0), room.ModeAway},
		{monday(7, 29), room.ModeAway},
		{monday(7, 30), room.ModeHome},
		{monday(7, 0).AddDate(0, 0, 1), room.ModeHome}, // Tuesday
	}
	for _, tt := range tests {
		got, err := s.Resolve(ctx, tt.at)
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if got != tt.want {
			t.Errorf("Resolve(%s): got %s, want %s", tt.at.Format("Mon 15:04"), got, tt.want)
		}
	}
}

func TestResolveInLocalZone(t *testing.T) {
	ctx := context.Background()
	loc := time.FixedZone("UTC+3", 3*3600)
	s := newTestScheduler(Options{Location: loc})
	s.SetSlot(ctx, 0, 14, room.ModeNight)

	// 04:15 UTC is Monday 07:15 in UTC+3.
	got, _ := s.Resolve(ctx, monday(4, 15))
	if got != room.ModeNight {
		t.Errorf("got %s, want NIGHT", got)
	}
}

func TestSetSlotRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	s := newTestScheduler(Options{})
	if err := s.SetSlot(ctx, 7, 0, room.ModeAway); !errors.Is(err, room.ErrInvalid) {
		t.Errorf("day 7: expected ErrInvalid, got %v", err)
	}
	if err := s.SetSlot(ctx, 0, 48, room.ModeAway); !errors.Is(err, room.ErrInvalid) {
		t.Errorf("slot 48: expected ErrInvalid, got %v", err)
	}
	if err := s.SetSlot(ctx, 0, 0, room.Mode("SUMMER")); !errors.Is(err, room.ErrInvalid) {
		t.Errorf("bad mode: expected ErrInvalid, got %v", err)
	}
	var p Plan
	if err := s.SetPlan(ctx, p); !errors.Is(err, room.ErrInvalid) {
		t.Errorf("zero plan: expected ErrInvalid, got %v", err)
	}
}

func TestDirectivePrecedence(t *testing.T) {
	ctx := context.Background()
	s := newTestScheduler(Options{})
	now := monday(12, 0)

	s.AddUserDirective(ctx, now.Add(-time.Hour), now.Add(time.Hour), room.ModeAway)
	s.AddUserDirective(ctx, now.Add(-time.Minute), now.Add(time.Minute), room.ModeNight)
	if got, _ := s.Resolve(ctx, now); got != room.ModeNight {
		t.Errorf("later user directive should win: got %s", got)
	}

	// An older smart directive still beats every user directive.
	s.AddSmartDirective(ctx, now.Add(-2*time.Hour), now.Add(2*time.Hour), room.ModeAntifreeze)
	s.AddUserDirective(ctx, now, now.Add(time.Second), room.ModeHome)
	if got, _ := s.Resolve(ctx, now); got != room.ModeAntifreeze {
		t.Errorf("smart directive should win: got %s", got)
	}
}

func TestDirectiveBoundsAreInclusive(t *testing.T) {
	ctx := context.Background()
	s := newTestScheduler(Options{})
	start, end := monday(12, 0), monday(13, 0)
	s.AddUserDirective(ctx, start, end, room.ModeAway)

	for _, at := range []time.Time{start, end} {
		if got, _ := s.Resolve(ctx, at); got != room.ModeAway {
			t.Errorf("at %s: got %s, want AWAY", at.Format("15:04:05"), got)
		}
	}
	if got, _ := s.Resolve(ctx, end.Add(time.Second)); got != room.ModeHome {
		t.Errorf("after end: got %s, want HOME", got)
	}
}

func TestAddDirectiveRejectsInvalidRange(t *testing.T) {
	ctx := context.Background()
	s := newTestScheduler(Options{})
	now := monday(12, 0)

	if _, err := s.AddUserDirective(ctx, now, now, room.ModeAway); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("equal: expected ErrInvalidRange, got %v", err)
	}
	if _, err := s.AddSmartDirective(ctx, now, now.Add(-time.Hour), room.ModeAway); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("reversed: expected ErrInvalidRange, got %v", err)
	}
	if _, err := s.AddUserDirective(ctx, now, now.Add(time.Hour), room.Mode("x")); !errors.Is(err, room.ErrInvalid) {
		t.Errorf("bad mode: expected ErrInvalid, got %v", err)
	}
	ds, _ := s.Directives(ctx, KindUser)
	if len(ds) != 0 {
		t.Errorf("rejected directives were stored: %v", ds)
	}
}

func TestExpiredDirectivesArePruned(t *testing.T) {
	ctx := context.Background()
	s := newTestScheduler(Options{})
	now := monday(12, 0)
	s.AddUserDirective(ctx, now.Add(-2*time.Hour), now.Add(-time.Hour), room.ModeAway)
	s.AddUserDirective(ctx, now.Add(-time.Hour), now.Add(time.Hour), room.ModeNight)
	s.AddSmartDirective(ctx, now.Add(-2*time.Hour), now.Add(-time.Second), room.ModeAway)

	res, err := s.Update(ctx, now)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if res.Pruned != 2 {
		t.Errorf("Pruned: got %d, want 2", res.Pruned)
	}
	if res.User != 1 || res.Smart != 0 {
		t.Errorf("counts: got user=%d smart=%d, want 1/0", res.User, res.Smart)
	}
	user, _ := s.Directives(ctx, KindUser)
	if len(user) != 1 || user[0].Mode != room.ModeNight {
		t.Errorf("unexpected user directives: %+v", user)
	}
	smart, _ := s.Directives(ctx, KindSmart)
	if len(smart) != 0 {
		t.Errorf("expected no smart directives, got %+v", smart)
	}
}

func TestRemoveDirectives(t *testing.T) {
	ctx := context.Background()
	s := newTestScheduler(Options{})
	now := monday(12, 0)
	a, _ := s.AddUserDirective(ctx, now, now.Add(time.Hour), room.ModeAway)
	s.AddUserDirective(ctx, now, now.Add(2*time.Hour), room.ModeNight)
	s.AddUserDirective(ctx, now, now.Add(3*time.Hour), room.ModeHome)
	s.AddUserDirective(ctx, now, now.Add(3*time.Hour), room.ModeHome)

	if err := s.RemoveDirective(ctx, KindUser, a.ID); err != nil {
		t.Fatalf("RemoveDirective: %v", err)
	}
	if err := s.RemoveDirective(ctx, KindUser, a.ID); !errors.Is(err, room.ErrNotFound) {
		t.Errorf("second remove: expected ErrNotFound, got %v", err)
	}
	if err := s.RemoveDirectiveAt(ctx, KindUser, 0); err != nil {
		t.Fatalf("RemoveDirectiveAt: %v", err)
	}
	if err := s.RemoveDirectiveAt(ctx, KindUser, 5); !errors.Is(err, room.ErrNotFound) {
		t.Errorf("bad index: expected ErrNotFound, got %v", err)
	}
	n, err := s.RemoveDirectiveMatching(ctx, KindUser, now, now.Add(3*time.Hour), room.ModeHome)
	if err != nil || n != 2 {
		t.Errorf("RemoveDirectiveMatching: n=%d err=%v, want 2/nil", n, err)
	}
	if _, err := s.RemoveDirectiveMatching(ctx, KindSmart, now, now.Add(time.Hour), room.ModeHome); !errors.Is(err, room.ErrNotFound) {
		t.Errorf("no match: expected ErrNotFound, got %v", err)
	}
	if ds, _ := s.Directives(ctx, KindUser); len(ds) != 0 {
		t.Errorf("expected empty list, got %+v", ds)
	}
	if _, err := s.Directives(ctx, Kind("other")); !errors.Is(err, room.ErrInvalid) {
		t.Errorf("bad kind: expected ErrInvalid, got %v", err)
	}
}

func TestNextChangeTimeAtSlotBoundary(t *testing.T) {
	ctx := context.Background()
	s := newTestScheduler(Options{})
	s.SetSlot(ctx, 0, 14, room.ModeAway)

	now := monday(6, 50)
	if got, _ := s.Resolve(ctx, now); got != room.ModeHome {
		t.Fatalf("Resolve: got %s, want HOME", got)
	}
	next, err := s.NextChangeTime(ctx, now)
	if err != nil {
		t.Fatalf("NextChangeTime: %v", err)
	}
	if !next.Equal(monday(7, 0)) {
		t.Errorf("got %v, want Monday 07:00", next)
	}
}

func TestNextChangeTimeWithDirectives(t *testing.T) {
	ctx := context.Background()
	s := newTestScheduler(Options{})
	now := monday(12, 5)
	start, end := now.Add(10*time.Minute), now.Add(20*time.Minute)
	s.AddUserDirective(ctx, start, end, room.ModeAway)

	next, _ := s.NextChangeTime(ctx, now)
	if !next.Equal(start) {
		t.Errorf("before directive: got %v, want %v", next, start)
	}
	next, _ = s.NextChangeTime(ctx, start.Add(time.Minute))
	if !next.Equal(end.Add(time.Second)) {
		t.Errorf("inside directive: got %v, want %v", next, end.Add(time.Second))
	}
}

func TestNextChangeTimeNoChange(t *testing.T) {
	ctx := context.Background()
	s := newTestScheduler(Options{})
	now := monday(12, 0)
	next, _ := s.NextChangeTime(ctx, now)
	if !next.Equal(now) {
		t.Errorf("got %v, want now", next)
	}
}

func TestNextChangeTimeBeyondAWeek(t *testing.T) {
	ctx := context.Background()
	s := newTestScheduler(Options{})
	now := monday(12, 0)
	end := now.AddDate(0, 0, 10)
	s.AddUserDirective(ctx, now.Add(-time.Minute), end, room.ModeAway)

	next, _ := s.NextChangeTime(ctx, now)
	if !next.Equal(end.Add(time.Second)) {
		t.Errorf("got %v, want %v", next, end.Add(time.Second))
	}
}

func TestNextChangeTimeFarFutureDirectives(t *testing.T) {
	ctx := context.Background()
	farEnd := time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
	farStart := time.Date(9000, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		start time.Time
		end   time.Time
		want  time.Time
	}{
		{"away until the end of time", monday(6, 50), farEnd, farEnd.Add(time.Second)},
		{"away starting centuries ahead", farStart, farEnd, farStart},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestScheduler(Options{})
			if _, err := s.AddUserDirective(ctx, tt.start, tt.end, room.ModeAway); err != nil {
				t.Fatalf("AddUserDirective: %v", err)
			}

			began := time.Now()
			next, err := s.NextChangeTime(ctx, monday(7, 0))
			if err != nil {
				t.Fatalf("NextChangeTime: %v", err)
			}
			if took := time.Since(began); took > 500*time.Millisecond {
				t.Errorf("NextChangeTime took %v", took)
			}
			if !next.Equal(tt.want) {
				t.Errorf("got %v, want %v", next, tt.want)
			}
		})
	}
}

func TestLongDirectiveDoesNotStarveOtherCallers(t *testing.T) {
	ctx := context.Background()
	s := newTestScheduler(Options{LockTimeout: 200 * time.Millisecond})
	now := monday(6, 50)
	if _, err := s.AddUserDirective(ctx, now, time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC), room.ModeAway); err != nil {
		t.Fatalf("AddUserDirective: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.Update(ctx, now)
		done <- err
	}()
	if err := s.SetSlot(ctx, 0, 20, room.ModeNight); err != nil {
		t.Errorf("SetSlot while Update runs: %v", err)
	}
	if err := <-done; err != nil {
		t.Errorf("Update: %v", err)
	}
}

func TestNextChangeTimeSkipsToPlanAfterDirective(t *testing.T) {
	ctx := context.Background()
	s := newTestScheduler(Options{})
	s.SetSlot(ctx, 0, 14, room.ModeAway)
	s.SetSlot(ctx, 1, 14, room.ModeAway)
	now := monday(6, 0)
	// The directive hides Monday's 07:00 switch; Tuesday's still applies.
	s.AddUserDirective(ctx, now, now.Add(2*time.Hour), room.ModeHome)

	next, _ := s.NextChangeTime(ctx, now)
	if want := monday(7, 0).AddDate(0, 0, 1); !next.Equal(want) {
		t.Errorf("got %v, want %v", next, want)
	}
}

func TestPredictiveSkippedWhenAlreadyHome(t *testing.T) {
	ctx := context.Background()
	rooms := &fakeRooms{obs: []room.Observation{liveRoom("living", 16, 21)}}
	s := newTestScheduler(Options{Rooms: rooms, Rate: FixedRate(0.1)})
	s.SetSlot(ctx, 0, 14, room.ModeAway)

	if _, ok, _ := s.PredictivePass(ctx, monday(6, 50)); ok {
		t.Error("no directive expected while current mode is HOME")
	}
}

func TestPredictiveInsertsPreheat(t *testing.T) {
	ctx := context.Background()
	rooms := &fakeRooms{obs: []room.Observation{
		liveRoom("living", 15, 21),
		liveRoom("bedroom", 17, 21),
	}}
	sink := &fakeSink{}
	s := newTestScheduler(Options{Rooms: rooms, Rate: FixedRate(0.1), Sink: sink})
	s.SetSlot(ctx, 0, 13, room.ModeAway) // 06:30-07:00

	now := monday(6, 50)
	res, err := s.Update(ctx, now)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if res.Inserted == nil {
		t.Fatal("expected a smart directive")
	}
	d := *res.Inserted
	if !d.Start.Equal(now) || !d.End.Equal(monday(7, 0)) || d.Mode != room.ModeHome {
		t.Errorf("unexpected directive %+v", d)
	}
	if res.Mode != room.ModeHome {
		t.Errorf("mode after insertion: got %s, want HOME", res.Mode)
	}
	if len(sink.modes) != 1 || sink.modes[0] != room.ModeHome {
		t.Errorf("sink: got %v, want [HOME]", sink.modes)
	}

	smart, _ := s.Directives(ctx, KindSmart)
	if len(smart) != 1 {
		t.Errorf("expected 1 smart directive, got %d", len(smart))
	}
	// A second cycle must not insert again.
	res, _ = s.Update(ctx, now.Add(15*time.Second))
	if res.Inserted != nil {
		t.Errorf("unexpected second insertion %+v", res.Inserted)
	}
}

func TestPredictiveNotNeededWhenWarmEnough(t *testing.T) {
	ctx := context.Background()
	// 0.5°C short at 0.1°C/min needs 5 minutes; there are 10.
	rooms := &fakeRooms{obs: []room.Observation{liveRoom("living", 20.5, 21)}}
	s := newTestScheduler(Options{Rooms: rooms, Rate: FixedRate(0.1)})
	s.SetSlot(ctx, 0, 13, room.ModeAway)

	if _, ok, _ := s.PredictivePass(ctx, monday(6, 50)); ok {
		t.Error("no directive expected")
	}
}

func TestPredictiveSkips(t *testing.T) {
	ctx := context.Background()
	stale := liveRoom("living", 10, 21)
	stale.Valid = false

	tests := []struct {
		name  string
		rooms []room.Observation
		rate  float64
		now   time.Time
	}{
		{"no rooms", nil, 0.1, monday(6, 50)},
		{"no live rooms", []room.Observation{stale}, 0.1, monday(6, 50)},
		{"zero rate", []room.Observation{liveRoom("living", 10, 21)}, 0, monday(6, 50)},
		{"change too close", []room.Observation{liveRoom("living", 10, 21)}, 0.1, monday(6, 59).Add(30 * time.Second)},
	}
	for _, tt := range tests {
		s := newTestScheduler(Options{Rooms: &fakeRooms{obs: tt.rooms}, Rate: FixedRate(tt.rate)})
		s.SetSlot(ctx, 0, 13, room.ModeAway)
		if _, ok, _ := s.PredictivePass(ctx, tt.now); ok {
			t.Errorf("%s: no directive expected", tt.name)
		}
	}
}

func TestPredictiveIgnoresCoolingTransition(t *testing.T) {
	ctx := context.Background()
	rooms := &fakeRooms{obs: []room.Observation{liveRoom("living", 10, 21)}}
	s := newTestScheduler(Options{Rooms: rooms, Rate: FixedRate(0.1)})
	s.SetSlot(ctx, 0, 13, room.ModeNight)
	s.SetSlot(ctx, 0, 14, room.ModeAway)

	if _, ok, _ := s.PredictivePass(ctx, monday(6, 50)); ok {
		t.Error("NIGHT to AWAY should not pre-heat")
	}
}

func TestLockTimeoutReturnsBusy(t *testing.T) {
	s := newTestScheduler(Options{LockTimeout: 10 * time.Millisecond})
	if err := s.sem.Acquire(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	defer s.sem.Release(1)

	if _, err := s.Resolve(context.Background(), monday(12, 0)); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}
	if _, err := s.Update(context.Background(), monday(12, 0)); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}
}

func workdayPlan() Plan {
	p := NewPlan()
	for slot := 16; slot < 34; slot++ { // 08:00-17:00
		p[0][slot] = room.ModeAway
	}
	return p
}

func TestLeaveAndArrive(t *testing.T) {
	ctx := context.Background()
	s := newTestScheduler(Options{})
	if err := s.SetPlan(ctx, workdayPlan()); err != nil {
		t.Fatalf("SetPlan: %v", err)
	}

	d, err := s.Leave(ctx, monday(7, 40))
	if err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if !d.Start.Equal(monday(7, 40)) || !d.End.Equal(monday(8, 0)) || d.Mode != room.ModeAway {
		t.Errorf("Leave: unexpected directive %+v", d)
	}

	d, err = s.Arrive(ctx, monday(10, 15))
	if err != nil {
		t.Fatalf("Arrive: %v", err)
	}
	if !d.End.Equal(monday(17, 0)) || d.Mode != room.ModeHome {
		t.Errorf("Arrive: unexpected directive %+v", d)
	}
	if got, _ := s.Resolve(ctx, monday(12, 0)); got != room.ModeHome {
		t.Errorf("after Arrive: got %s, want HOME", got)
	}
}

func TestPresenceNoChange(t *testing.T) {
	ctx := context.Background()
	s := newTestScheduler(Options{})
	if _, err := s.Arrive(ctx, monday(7, 0)); !errors.Is(err, ErrNoChange) {
		t.Errorf("Arrive while HOME: expected ErrNoChange, got %v", err)
	}
	if _, err := s.Leave(ctx, monday(7, 0)); !errors.Is(err, ErrNoChange) {
		t.Errorf("Leave with no AWAY slot: expected ErrNoChange, got %v", err)
	}
}

func TestSnapshotRestore(t *testing.T) {
	ctx := context.Background()
	s := newTestScheduler(Options{})
	s.SetPlan(ctx, workdayPlan())
	s.AddUserDirective(ctx, monday(7, 0), monday(9, 0), room.ModeNight)
	s.AddSmartDirective(ctx, monday(6, 50), monday(7, 0), room.ModeHome)

	st, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	other := newTestScheduler(Options{})
	if err := other.Restore(ctx, st); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	got, _ := other.Snapshot(ctx)
	if got.Plan != st.Plan || len(got.User) != 1 || len(got.Smart) != 1 || got.User[0] != st.User[0] {
		t.Errorf("round trip mismatch: %+v", got)
	}

	bad := st
	bad.User = []Directive{{Start: monday(9, 0), End: monday(8, 0), Mode: room.ModeAway}}
	if err := other.Restore(ctx, bad); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("expected ErrInvalidRange, got %v", err)
	}
}
