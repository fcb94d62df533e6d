package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/sweeney/heating-controller/internal/room"
)

// Arrive switches to HOME from at until the plan itself next reaches HOME.
func (s *Scheduler) Arrive(ctx context.Context, at time.Time) (Directive, error) {
	return s.presence(ctx, at, room.ModeHome)
}

// Leave switches to AWAY from at until the plan itself next reaches AWAY.
func (s *Scheduler) Leave(ctx context.Context, at time.Time) (Directive, error) {
	return s.presence(ctx, at, room.ModeAway)
}

func (s *Scheduler) presence(ctx context.Context, at time.Time, m room.Mode) (Directive, error) {
	at = at.Truncate(time.Second)
	unlock, err := s.lock(ctx)
	if err != nil {
		return Directive{}, err
	}
	defer unlock()

	local := at.In(s.loc)
	if s.plan.At(local) == m {
		return Directive{}, fmt.Errorf("%w: plan is already %s at %s", ErrNoChange, m, local.Format(time.RFC3339))
	}
	limit := local.Add(Days * 24 * time.Hour)
	for b := slotStart(local).Add(SlotLength); !b.After(limit); b = b.Add(SlotLength) {
		if s.plan.At(b) != m {
			continue
		}
		d := Directive{ID: s.newID(), Start: at, End: b, Mode: m}
		s.user = append(s.user, d)
		return d, nil
	}
	return Directive{}, fmt.Errorf("%w: plan never reaches %s", ErrNoChange, m)
}
