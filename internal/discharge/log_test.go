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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLastMeasurement(t *testing.T) {
	l := NewMeasurementLog(0)
	_, ok := l.Last(1)
	assert.False(t, ok)

	l.Append(Measurement{Slot: 1, Voltage: 1.1})
	l.Append(Measurement{Slot: 2, Voltage: 2.2})
	l.Append(Measurement{Slot: 1, Voltage: 3.3})

	m, ok := l.Last(1)
	require.True(t, ok)
	assert.Equal(t, 3.3, m.Voltage)
	m, ok = l.Last(2)
	require.True(t, ok)
	assert.Equal(t, 2.2, m.Voltage)
}

func TestSessionKeepsOnlyActiveTestingSamples(t *testing.T) {
	l := NewMeasurementLog(0)
	l.Append(Measurement{Slot: 1, Voltage: 0.0})
	l.Append(Measurement{Slot: 1, Voltage: 4.2, Testing: true, Session: 1})
	l.Append(Measurement{Slot: 1, Voltage: 3.9, Testing: true, Session: 1})
	l.Append(Measurement{Slot: 2, Voltage: 4.1, Testing: true, Session: 1})

	s := l.Session(1, 1)
	require.Len(t, s, 2)
	assert.Equal(t, 4.2, s[0].Voltage)
	assert.Equal(t, 3.9, s[1].Voltage)
	assert.Nil(t, l.Session(1, 2))
	assert.Nil(t, l.Session(3, 1))

	// Callers get a copy.
	s[0].Voltage = 0
	assert.Equal(t, 4.2, l.Session(1, 1)[0].Voltage)

	// A new session replaces the samples of an unclosed one.
	l.Append(Measurement{Slot: 1, Voltage: 4.0, Testing: true, Session: 2})
	assert.Nil(t, l.Session(1, 1))
	assert.Len(t, l.Session(1, 2), 1)
}

func TestCloseSessionEvictsSamples(t *testing.T) {
	l := NewMeasurementLog(0)
	l.Append(Measurement{Slot: 1, Voltage: 4.2, Testing: true, Session: 1})
	l.Append(Measurement{Slot: 1, Voltage: 3.0, Testing: true, Session: 1})

	l.CloseSession(SessionSummary{Slot: 1, Session: 1, Samples: 3, CapacityMAh: 1.5, Defined: true, Outcome: OutcomeDischarged})
	assert.Nil(t, l.Session(1, 1))
	summaries := l.Summaries(1)
	require.Len(t, summaries, 1)
	assert.Equal(t, 1.5, summaries[0].CapacityMAh)
	assert.Empty(t, l.Summaries(2))
}

func TestRecentIsBounded(t *testing.T) {
	l := NewMeasurementLog(3)
	for i := range 10 {
		l.Append(Measurement{Slot: 1, Voltage: float64(i)})
	}
	recent := l.Recent(1)
	require.Len(t, recent, 3)
	assert.Equal(t, []float64{7, 8, 9}, []float64{recent[0].Voltage, recent[1].Voltage, recent[2].Voltage})
}
