/*
battery-tester - Discharge tests batteries and reports their capacity
Copyright (C) 2026, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package discharge

import "time"

// Accumulator integrates the voltages of a test session into a capacity.
//
// The current through the load is V/R. Samples are assumed to be one poll
// interval apart, so the charge is a Riemann sum over the intervals of the
// session. The first sample of a session is taken just before the load is
// connected and only marks the start of the first interval; each later sample
// is the loaded voltage at the end of its interval. Poll jitter and missed
// reads make this an approximation.
//
// The Machine always appends the reading that ends a test before integrating,
// so a battery found discharged on the first tick after insertion still has
// two samples and gets a one interval capacity, not a CapacityError.
type Accumulator struct {
	SampleInterval time.Duration
	LoadResistance float64
}

// Capacity returns the capacity in mAh of the ordered samples of one session.
func (a Accumulator) Capacity(samples []Measurement) (float64, error) {
	if len(samples) < 2 {
		ce := &CapacityError{Samples: len(samples)}
		if len(samples) == 1 {
			ce.Slot = samples[0].Slot
			ce.Session = samples[0].Session
		}
		return 0, ce
	}
	sum := 0.0
	for _, s := range samples[1:] {
		sum += s.Voltage
	}
	return sum * a.SampleInterval.Seconds() / a.LoadResistance / 3600 * 1000, nil
}

// Duration is the loaded time covered by n samples.
func (a Accumulator) Duration(n int) time.Duration {
	if n < 2 {
		return 0
	}
	return time.Duration(n-1) * a.SampleInterval
}
