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

import "sync"

const defaultRecentMeasurements = 120

// MeasurementLog is the ordered record of measurements of every slot.
//
// Raw samples are only kept for the active session of each slot. When a
// session is closed its samples are dropped and a SessionSummary is kept
// instead, so memory stays bounded however long the tester runs.
// It is written by the polling loop and may be read from other goroutines.
type MeasurementLog struct {
	mu     sync.RWMutex
	recent int
	slots  map[SlotID]*slotHistory
}

type slotHistory struct {
	last          Measurement
	hasLast       bool
	recent        []Measurement
	active        []Measurement
	activeSession uint32
	summaries     []SessionSummary
}

// NewMeasurementLog makes a log keeping the last `recent` measurements of each slot.
func NewMeasurementLog(recent int) *MeasurementLog {
	if recent <= 0 {
		recent = defaultRecentMeasurements
	}
	return &MeasurementLog{
		recent: recent,
		slots:  map[SlotID]*slotHistory{},
	}
}

func (l *MeasurementLog) history(slot SlotID) *slotHistory {
	h, ok := l.slots[slot]
	if !ok {
		h = &slotHistory{}
		l.slots[slot] = h
	}
	return h
}

// Append adds a measurement to the end of the slot's record.
func (l *MeasurementLog) Append(m Measurement) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h := l.history(m.Slot)
	h.last = m
	h.hasLast = true

	h.recent = append(h.recent, m)
	if len(h.recent) > l.recent {
		h.recent = append(h.recent[:0], h.recent[len(h.recent)-l.recent:]...)
	}

	if m.Testing {
		if h.activeSession != m.Session {
			h.active = nil
			h.activeSession = m.Session
		}
		h.active = append(h.active, m)
	}
}

// Last returns the most recent measurement of the slot.
func (l *MeasurementLog) Last(slot SlotID) (Measurement, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	h, ok := l.slots[slot]
	if !ok || !h.hasLast {
		return Measurement{}, false
	}
	return h.last, true
}

// Session returns the ordered testing samples of a session. Only the active
// session of a slot has samples; closed sessions return nil.
func (l *MeasurementLog) Session(slot SlotID, session uint32) []Measurement {
	l.mu.RLock()
	defer l.mu.RUnlock()
	h, ok := l.slots[slot]
	if !ok || h.activeSession != session || len(h.active) == 0 {
		return nil
	}
	out := make([]Measurement, len(h.active))
	copy(out, h.active)
	return out
}

// CloseSession drops the raw samples of a finished session and keeps its summary.
func (l *MeasurementLog) CloseSession(summary SessionSummary) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h := l.history(summary.Slot)
	if h.activeSession == summary.Session {
		h.active = nil
	}
	h.summaries = append(h.summaries, summary)
}

// Summaries returns the summaries of every closed session of the slot, oldest first.
func (l *MeasurementLog) Summaries(slot SlotID) []SessionSummary {
	l.mu.RLock()
	defer l.mu.RUnlock()
	h, ok := l.slots[slot]
	if !ok {
		return nil
	}
	out := make([]SessionSummary, len(h.summaries))
	copy(out, h.summaries)
	return out
}

// Recent returns the last measurements of the slot, oldest first.
func (l *MeasurementLog) Recent(slot SlotID) []Measurement {
	l.mu.RLock()
	defer l.mu.RUnlock()
	h, ok := l.slots[slot]
	if !ok {
		return nil
	}
	out := make([]Measurement, len(h.recent))
	copy(out, h.recent)
	return out
}
