package room

import "math"

// AntifreezeNeed is the saturated need reported by a room below the
// antifreeze floor. It outweighs any realistic sum of priorities. It is
// negative because negative need means heat wanted; a positive value would
// stop the boiler in a freezing room.
const AntifreezeNeed = -1e8

// minOffset keeps the band ratio finite when an offset is configured as zero.
const minOffset = 0.01

// Need computes the signed urgency of a room at temperature temp under mode m.
//
// Negative values mean the room is below its target (heat wanted), positive
// values mean it is above. Inside the comfort band the need grows linearly
// with the band ratio; outside it grows with the square of the ratio.
func Need(cfg Config, temp float64, m Mode) float64 {
	if m == ModeAntifreeze {
		if temp < AntifreezeFloor {
			return AntifreezeNeed
		}
		return 0
	}
	sp, ok := cfg.Setpoint(m)
	if !ok {
		return 0
	}

	delta := temp - sp.Target
	sign := 1.0
	offset := sp.HighOffset
	if delta < 0 {
		sign = -1.0
		offset = sp.LowOffset
	}
	offset = math.Max(offset, minOffset)

	c := math.Abs(delta) / offset
	if c <= 1 {
		return c * cfg.Priority * sign
	}
	return c * c * cfg.Priority * sign
}
