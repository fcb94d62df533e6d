package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/sweeney/heating-controller/internal/room"
)

// Kind names one of the two directive lists.
type Kind string

const (
	KindUser  Kind = "user"
	KindSmart Kind = "smart"
)

// ParseKind converts a path segment into a Kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(s)); k {
	case KindUser, KindSmart:
		return k, nil
	}
	return "", fmt.Errorf("%w: unknown directive kind %q", room.ErrInvalid, s)
}

// Directive forces a mode for the closed interval [Start, End].
type Directive struct {
	ID    string
	Start time.Time
	End   time.Time
	Mode  room.Mode
}

// Active reports whether t lies within [Start, End].
func (d Directive) Active(t time.Time) bool {
	return !t.Before(d.Start) && !t.After(d.End)
}

// Expired reports whether the directive ended before now.
func (d Directive) Expired(now time.Time) bool {
	return d.End.Before(now)
}

func (d Directive) matches(start, end time.Time, m room.Mode) bool {
	return d.Start.Equal(start) && d.End.Equal(end) && d.Mode == m
}

func checkDirective(start, end time.Time, m room.Mode) (time.Time, time.Time, error) {
	if !m.Valid() {
		return start, end, fmt.Errorf("%w: unknown mode %q", room.ErrInvalid, m)
	}
	start = start.Truncate(time.Second)
	end = end.Truncate(time.Second)
	if !end.After(start) {
		return start, end, fmt.Errorf("%w: %s to %s", ErrInvalidRange,
			start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return start, end, nil
}

// newestActive scans ds from the end and returns the first directive active at t.
func newestActive(ds []Directive, t time.Time) (Directive, bool) {
	for i := len(ds) - 1; i >= 0; i-- {
		if ds[i].Active(t) {
			return ds[i], true
		}
	}
	return Directive{}, false
}

// pruneExpired drops expired directives in one pass and reports how many went.
func pruneExpired(ds []Directive, now time.Time) ([]Directive, int) {
	kept := ds[:0]
	for _, d := range ds {
		if !d.Expired(now) {
			kept = append(kept, d)
		}
	}
	n := len(ds) - len(kept)
	for i := len(kept); i < len(ds); i++ {
		ds[i] = Directive{}
	}
	return kept, n
}
