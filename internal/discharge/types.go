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
	"fmt"
	"time"
)

// SlotID identifies a physical battery slot. The set of slots is fixed at startup.
type SlotID int

func (id SlotID) String() string {
	return fmt.Sprintf("slot %d", int(id))
}

// State is the discharge test state of a slot.
type State int

const (
	Idle State = iota
	InsertedCharged
	Testing
	Discharged
	UnderchargedWarned
	Removed
)

var stateNames = map[State]string{
	Idle:               "idle",
	InsertedCharged:    "inserted-charged",
	Testing:            "testing",
	Discharged:         "discharged",
	UnderchargedWarned: "undercharged-warned",
	Removed:            "removed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText lets states show up by name in JSON and CSV output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Measurement is one voltage sample of a slot together with the slot state
// after the sample was processed. Measurements are never modified once appended.
type Measurement struct {
	Time      time.Time `json:"time"`
	Slot      SlotID    `json:"slot"`
	Voltage   float64   `json:"voltage"`
	RelayOpen bool      `json:"relayOpen"`
	Testing   bool      `json:"testing"`
	Session   uint32    `json:"session"`
	State     State     `json:"state"`
}

// SlotState is the mutable runtime state of one slot. Only the slot's Machine writes to it.
type SlotState struct {
	State        State
	LastVoltage  float64
	RelayOpen    bool
	Testing      bool
	Session      uint32
	SessionStart time.Time

	// Disabled is set once the relay of the slot stops responding.
	Disabled bool
	Fault    error
}

// NewSlotState returns the state of an empty slot with its relay open.
func NewSlotState() *SlotState {
	return &SlotState{
		State:     Idle,
		RelayOpen: true,
	}
}

// WarnedUndercharged reports whether the undercharged warning has already been
// given for the battery currently in the slot.
func (s *SlotState) WarnedUndercharged() bool {
	return s.State == UnderchargedWarned
}

// Outcome is how a test session ended.
type Outcome string

const (
	OutcomeDischarged Outcome = "discharged"
	OutcomeDiscarded  Outcome = "discarded"
)

// SessionSummary is what is kept of a test session once its raw samples are evicted.
type SessionSummary struct {
	Slot        SlotID        `json:"slot"`
	Session     uint32        `json:"session"`
	Start       time.Time     `json:"start"`
	End         time.Time     `json:"end"`
	Samples     int           `json:"samples"`
	CapacityMAh float64       `json:"capacityMAh"`
	Defined     bool          `json:"defined"`
	Outcome     Outcome       `json:"outcome"`
	Duration    time.Duration `json:"duration"`
}
