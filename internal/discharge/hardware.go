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

// VoltageReader samples the load sense voltage of a slot.
// Every call samples the hardware again, after waiting for relay transients to settle.
// Readings close to zero are noise and mean the slot is empty.
type VoltageReader interface {
	ReadVoltage(slot SlotID) (float64, error)
}

// RelayActuator switches the load resistor of a slot. Both calls block until
// the relay has settled. Commanding the state the relay is already in does nothing.
type RelayActuator interface {
	Open(slot SlotID) error
	Close(slot SlotID) error
}

// Sink receives the events of the tester.
type Sink interface {
	Publish(e Event) error
}

// Recorder persists measurements.
type Recorder interface {
	Record(m Measurement) error
}
