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
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

type fakeRelays struct {
	open      map[SlotID]bool
	calls     []string
	failOpen  map[SlotID]error
	failClose map[SlotID]error
}

func newFakeRelays() *fakeRelays {
	return &fakeRelays{
		open:      map[SlotID]bool{},
		failOpen:  map[SlotID]error{},
		failClose: map[SlotID]error{},
	}
}

func (f *fakeRelays) Open(slot SlotID) error {
	f.calls = append(f.calls, fmt.Sprintf("open %d", slot))
	if err := f.failOpen[slot]; err != nil {
		return err
	}
	f.open[slot] = true
	return nil
}

func (f *fakeRelays) Close(slot SlotID) error {
	f.calls = append(f.calls, fmt.Sprintf("close %d", slot))
	if err := f.failClose[slot]; err != nil {
		return err
	}
	f.open[slot] = false
	return nil
}

type reading struct {
	v   float64
	err error
}

// fakeReader returns scripted readings per slot, then 0V once a script runs out.
type fakeReader struct {
	readings map[SlotID][]reading
	reads    map[SlotID]int
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		readings: map[SlotID][]reading{},
		reads:    map[SlotID]int{},
	}
}

func (f *fakeReader) script(slot SlotID, volts ...float64) {
	for _, v := range volts {
		f.readings[slot] = append(f.readings[slot], reading{v: v})
	}
}

func (f *fakeReader) fail(slot SlotID, err error) {
	f.readings[slot] = append(f.readings[slot], reading{err: err})
}

func (f *fakeReader) ReadVoltage(slot SlotID) (float64, error) {
	f.reads[slot]++
	script := f.readings[slot]
	if len(script) == 0 {
		return 0, nil
	}
	f.readings[slot] = script[1:]
	return script[0].v, script[0].err
}

type fakeSink struct {
	events []Event
	err    error
}

func (f *fakeSink) Publish(e Event) error {
	f.events = append(f.events, e)
	return f.err
}

func (f *fakeSink) capacityReports() []CapacityReport {
	var out []CapacityReport
	for _, e := range f.events {
		if r, ok := e.(CapacityReport); ok {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeSink) count(match func(Event) bool) int {
	n := 0
	for _, e := range f.events {
		if match(e) {
			n++
		}
	}
	return n
}

type fakeRecorder struct {
	measurements []Measurement
}

func (f *fakeRecorder) Record(m Measurement) error {
	f.measurements = append(f.measurements, m)
	return nil
}

// fakeClock advances a second every time it is read.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

var benchThresholds = Thresholds{Discharged: 1.0, MinCharged: 4.0, NoiseFloor: 0.05}
