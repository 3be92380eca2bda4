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

import (
	"errors"
	"fmt"
)

// ErrSlotDisabled is returned when stepping a slot whose relay has failed.
var ErrSlotDisabled = errors.New("slot disabled after relay failure")

// ReadError is a failed voltage sample. It only affects the current tick of one slot.
type ReadError struct {
	Slot SlotID
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("reading voltage of %s: %v", e.Slot, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// ActuatorError is a relay that did not respond. The slot is disabled.
type ActuatorError struct {
	Slot SlotID
	Op   string
	Err  error
}

func (e *ActuatorError) Error() string {
	return fmt.Sprintf("%s relay of %s: %v", e.Op, e.Slot, e.Err)
}

func (e *ActuatorError) Unwrap() error { return e.Err }

// CapacityError means a session had too few samples to integrate.
type CapacityError struct {
	Slot    SlotID
	Session uint32
	Samples int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("capacity of %s session %d is undefined: %d samples, need at least 2", e.Slot, e.Session, e.Samples)
}

// ConfigError is an invalid configuration. It is found before any hardware is touched.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Reason)
}

func configErrorf(field, format string, a ...interface{}) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, a...)}
}
