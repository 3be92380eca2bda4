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

// Event is something the operator needs to know about.
// It is one of Warning, CapacityReport or SlotFault.
type Event interface {
	EventSlot() SlotID
	EventTime() time.Time
}

// Warning is given once when a battery that is not fully charged is inserted.
type Warning struct {
	Slot    SlotID
	Time    time.Time
	Voltage float64
}

func (w Warning) EventSlot() SlotID    { return w.Slot }
func (w Warning) EventTime() time.Time { return w.Time }

// CapacityReport is the result of a completed discharge test.
// When Defined is false the session could not be integrated and CapacityMAh is meaningless.
type CapacityReport struct {
	Slot        SlotID
	Time        time.Time
	Session     uint32
	CapacityMAh float64
	Defined     bool
	Samples     int
	Duration    time.Duration
}

func (r CapacityReport) EventSlot() SlotID    { return r.Slot }
func (r CapacityReport) EventTime() time.Time { return r.Time }

// SlotFault is published when a slot is disabled.
type SlotFault struct {
	Slot SlotID
	Time time.Time
	Err  error
}

func (f SlotFault) EventSlot() SlotID    { return f.Slot }
func (f SlotFault) EventTime() time.Time { return f.Time }
