package schedule

import (
	"context"
	"time"

	"github.com/sweeney/heating-controller/internal/room"
)

// MinLeadTime is the shortest gap to the next change worth pre-heating for.
const MinLeadTime = 60 * time.Second

// preheats lists the transitions towards a warmer mode.
var preheats = map[room.Mode][]room.Mode{
	room.ModeAway:       {room.ModeHome, room.ModeNight},
	room.ModeNight:      {room.ModeHome},
	room.ModeAntifreeze: {room.ModeHome, room.ModeNight, room.ModeAway},
}

func warmer(from, to room.Mode) bool {
	for _, m := range preheats[from] {
		if m == to {
			return true
		}
	}
	return false
}

// PredictivePass inserts a smart directive bringing the next mode forward to
// now when the house would not reach that mode's targets in time at the
// estimated heating rate. It reports the directive when one was added.
func (s *Scheduler) PredictivePass(ctx context.Context, now time.Time) (Directive, bool, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return Directive{}, false, err
	}
	defer unlock()
	s.pruneLocked(now)
	d, ok := s.predictiveLocked(now)
	return d, ok, nil
}

func (s *Scheduler) predictiveLocked(now time.Time) (Directive, bool) {
	if s.rooms == nil {
		return Directive{}, false
	}
	var live []room.Observation
	for _, o := range s.rooms.Observe(now) {
		if o.Valid {
			live = append(live, o)
		}
	}
	if len(live) == 0 {
		return Directive{}, false
	}

	next := s.nextChangeLocked(now)
	lead := next.Sub(now)
	if lead < MinLeadTime {
		return Directive{}, false
	}
	cur, upcoming := s.resolveLocked(now), s.resolveLocked(next)
	if cur == upcoming || cur == room.ModeHome || !warmer(cur, upcoming) {
		return Directive{}, false
	}

	rate := s.rate.HeatingRate()
	if rate <= 0 {
		return Directive{}, false
	}
	var current, target float64
	for _, o := range live {
		current += o.Temperature
		target += o.Target(upcoming)
	}
	n := float64(len(live))
	minutes := (target/n - current/n) / rate
	if minutes*60 <= lead.Seconds() {
		return Directive{}, false
	}

	start, end, err := checkDirective(now, next, upcoming)
	if err != nil {
		return Directive{}, false
	}
	d := Directive{ID: s.newID(), Start: start, End: end, Mode: upcoming}
	s.smart = append(s.smart, d)
	return d, true
}
