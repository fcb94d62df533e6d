package heating

import "github.com/sweeney/heating-controller/internal/room"

// Evaluate decides what the relay should do for the given settings, room
// observations and resolved mode. It is pure.
//
// In AUTO, only valid rooms count: heat is the sum of their priorities and
// actual the sum of their needs. With no weight at all the answer is STOP.
// actual at or below -heat starts, actual at or above heat stops, anything
// strictly between leaves the relay as it is.
func Evaluate(s Settings, obs []room.Observation, m room.Mode) (Decision, Demand) {
	var d Demand
	for _, o := range obs {
		rn := RoomNeed{Name: o.Name, Valid: o.Valid}
		if o.Valid {
			rn.Need = o.Need(m)
			d.Heat += o.Priority
			d.Actual += rn.Need
			d.Rooms++
		}
		d.Needs = append(d.Needs, rn)
	}

	switch s.Mode {
	case ModeManual:
		if s.ManualOn {
			return DecisionStart, d
		}
		return DecisionStop, d
	case ModeOff:
		return DecisionStop, d
	}

	switch {
	case d.Heat == 0:
		return DecisionStop, d
	// Both thresholds are inclusive: demand exactly at -heat starts and
	// exactly at heat stops.
	case d.Actual <= -d.Heat:
		return DecisionStart, d
	case d.Actual >= d.Heat:
		return DecisionStop, d
	}
	return DecisionNormal, d
}
