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
	"math"
	"time"
)

// Thresholds decide what a voltage means for a slot.
type Thresholds struct {
	// Discharged (Vd) is the voltage below which a battery under load is spent.
	// A slot with no battery under test reading Vd or less is empty.
	Discharged float64
	// MinCharged (Vc) is the voltage above which a battery is charged enough to test.
	MinCharged float64
	// NoiseFloor is the magnitude below which a reading is noise on an empty slot.
	NoiseFloor float64
}

func (t Thresholds) Validate() error {
	if t.Discharged >= t.MinCharged {
		return configErrorf("thresholds", "discharged voltage %.3fV must be below min charged voltage %.3fV", t.Discharged, t.MinCharged)
	}
	if t.NoiseFloor < 0 || t.NoiseFloor >= t.Discharged {
		return configErrorf("thresholds", "noise floor %.3fV must be in [0, %.3fV)", t.NoiseFloor, t.Discharged)
	}
	return nil
}

type level int

const (
	low level = iota
	partial
	charged
)

func (t Thresholds) classify(v float64) level {
	switch {
	case math.Abs(v) < t.NoiseFloor || v < t.Discharged:
		return low
	case v <= t.MinCharged:
		return partial
	default:
		return charged
	}
}

// empty reports whether v means no battery on a slot whose load is not
// connected.
func (t Thresholds) empty(v float64) bool {
	return math.Abs(v) < t.NoiseFloor || v <= t.Discharged
}

type sessionSource interface {
	Session(slot SlotID, session uint32) []Measurement
}

// Machine runs the discharge test state machine of one slot.
// It holds no state of its own; the SlotState is passed in on every Step.
type Machine struct {
	slot       SlotID
	thresholds Thresholds
	relays     RelayActuator
	acc        Accumulator
	samples    sessionSource
}

// NewMachine makes the state machine of a slot. The samples of the running
// session are read back from `samples` when the capacity is integrated.
func NewMachine(slot SlotID, thresholds Thresholds, relays RelayActuator, acc Accumulator, samples sessionSource) (*Machine, error) {
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}
	if acc.LoadResistance <= 0 {
		return nil, configErrorf("load resistance", "%.3f ohms must be positive", acc.LoadResistance)
	}
	if acc.SampleInterval <= 0 {
		return nil, configErrorf("poll interval", "%s must be positive", acc.SampleInterval)
	}
	return &Machine{
		slot:       slot,
		thresholds: thresholds,
		relays:     relays,
		acc:        acc,
		samples:    samples,
	}, nil
}

// Transition is the outcome of one Step.
type Transition struct {
	From        State
	To          State
	Measurement Measurement
	Events      []Event
	// Closed is set when a session was finalized or discarded by this step.
	Closed *SessionSummary
}

// Step feeds a new voltage sample to the slot. It returns the measurement to
// append and any events to publish. The only errors are ErrSlotDisabled and
// *ActuatorError; after an ActuatorError the slot is disabled but the returned
// Transition is still valid.
func (m *Machine) Step(st *SlotState, at time.Time, v float64) (Transition, error) {
	tr := Transition{From: st.State, To: st.State}
	if st.Disabled {
		return tr, ErrSlotDisabled
	}

	var err error
	switch st.State {
	case Idle, Removed:
		err = m.fromEmpty(st, at, v, &tr)
	case Testing:
		err = m.fromTesting(st, at, v, &tr)
	default:
		m.fromOccupied(st, v)
	}

	st.LastVoltage = v
	tr.To = st.State
	tr.Measurement = Measurement{
		Time:      at,
		Slot:      m.slot,
		Voltage:   v,
		RelayOpen: st.RelayOpen,
		Testing:   st.Testing,
		Session:   st.Session,
		State:     st.State,
	}
	return tr, err
}

// fromEmpty handles a slot with no battery, where any voltage above Vd is an insertion.
func (m *Machine) fromEmpty(st *SlotState, at time.Time, v float64, tr *Transition) error {
	if m.thresholds.empty(v) {
		st.State = Idle
		return nil
	}
	switch m.thresholds.classify(v) {
	case charged:
		st.State = InsertedCharged
		if err := m.relays.Close(m.slot); err != nil {
			return m.disable(st, &ActuatorError{Slot: m.slot, Op: "closing", Err: err})
		}
		st.RelayOpen = false
		st.Session++
		st.Testing = true
		st.SessionStart = at
		st.State = Testing
	case partial:
		st.State = UnderchargedWarned
		tr.Events = append(tr.Events, Warning{Slot: m.slot, Time: at, Voltage: v})
	}
	return nil
}

// fromTesting handles a battery under test. A low reading with the load
// connected is a completed discharge. With the load disconnected the battery
// can only have been pulled out.
func (m *Machine) fromTesting(st *SlotState, at time.Time, v float64, tr *Transition) error {
	if m.thresholds.classify(v) != low {
		return nil
	}
	samples := m.samples.Session(m.slot, st.Session)
	summary := &SessionSummary{
		Slot:    m.slot,
		Session: st.Session,
		Start:   st.SessionStart,
		End:     at,
	}
	tr.Closed = summary
	st.Testing = false

	if st.RelayOpen {
		summary.Samples = len(samples)
		summary.Outcome = OutcomeDiscarded
		st.State = Removed
		return nil
	}

	samples = append(samples, Measurement{Time: at, Slot: m.slot, Voltage: v, Session: st.Session})
	capacity, capErr := m.acc.Capacity(samples)
	summary.Samples = len(samples)
	summary.Outcome = OutcomeDischarged
	summary.Defined = capErr == nil
	if summary.Defined {
		summary.CapacityMAh = capacity
	}
	summary.Duration = m.acc.Duration(len(samples))
	tr.Events = append(tr.Events, CapacityReport{
		Slot:        m.slot,
		Time:        at,
		Session:     st.Session,
		CapacityMAh: summary.CapacityMAh,
		Defined:     summary.Defined,
		Samples:     summary.Samples,
		Duration:    summary.Duration,
	})
	st.State = Discharged

	if err := m.relays.Open(m.slot); err != nil {
		return m.disable(st, &ActuatorError{Slot: m.slot, Op: "opening", Err: err})
	}
	st.RelayOpen = true
	return nil
}

// fromOccupied handles a battery that sits in the slot without being tested.
// It stays until the slot reads empty with the load disconnected.
func (m *Machine) fromOccupied(st *SlotState, v float64) {
	if m.thresholds.empty(v) && st.RelayOpen {
		st.State = Removed
	}
}

func (m *Machine) disable(st *SlotState, err error) error {
	st.Disabled = true
	st.Fault = err
	return err
}
