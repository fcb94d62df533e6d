package history

// HeatingRate estimates how fast the house warms, in °C per minute, from the
// retained raw intervals. Each run of at least a minute contributes
// (mean end temperature - mean start temperature) / minutes over its valid
// room snapshots; the result is the mean of those contributions.
//
// When no run is usable, or the estimate is not positive, DefaultHeatingRate
// is returned so callers can always divide by it.
func (a *Aggregator) HeatingRate() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	var total float64
	var n int
	for _, r := range a.runs {
		d := r.Duration()
		if d < minRunForRate {
			continue
		}
		var start, end float64
		var rooms int
		for _, s := range r.Rooms {
			if !s.Valid {
				continue
			}
			start += s.StartTemp
			end += s.EndTemp
			rooms++
		}
		if rooms == 0 {
			continue
		}
		total += (end - start) / float64(rooms) / d.Minutes()
		n++
	}
	if n == 0 {
		return DefaultHeatingRate
	}
	rate := total / float64(n)
	if rate <= 0 {
		return DefaultHeatingRate
	}
	return rate
}
