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

// Package sink delivers the events of the tester to the outside world.
package sink

import (
	"errors"
	"fmt"

	"github.com/TheCacophonyProject/battery-tester/internal/discharge"
	"github.com/TheCacophonyProject/event-reporter/v3/eventclient"
)

const (
	TypeUndercharged   = "batteryUndercharged"
	TypeCapacityReport = "batteryCapacityReport"
	TypeSlotFault      = "batterySlotFault"
)

// describe turns an event into its type name and details.
func describe(e discharge.Event) (string, map[string]interface{}, error) {
	switch ev := e.(type) {
	case discharge.Warning:
		return TypeUndercharged, map[string]interface{}{
			"slot":    int(ev.Slot),
			"voltage": ev.Voltage,
		}, nil
	case discharge.CapacityReport:
		details := map[string]interface{}{
			"slot":            int(ev.Slot),
			"session":         ev.Session,
			"defined":         ev.Defined,
			"samples":         ev.Samples,
			"durationSeconds": ev.Duration.Seconds(),
		}
		if ev.Defined {
			details["capacityMAh"] = ev.CapacityMAh
		}
		return TypeCapacityReport, details, nil
	case discharge.SlotFault:
		details := map[string]interface{}{
			"slot": int(ev.Slot),
		}
		if ev.Err != nil {
			details["error"] = ev.Err.Error()
		}
		return TypeSlotFault, details, nil
	}
	return "", nil, fmt.Errorf("unknown event %T", e)
}

var addEvent = eventclient.AddEvent

// EventReporter queues events with the device's event-reporter service.
type EventReporter struct {
	// RunID is added to every event. Sessions count from 1 again every run.
	RunID string
}

func (r *EventReporter) Publish(e discharge.Event) error {
	eventType, details, err := describe(e)
	if err != nil {
		return err
	}
	details["runId"] = r.RunID
	return addEvent(eventclient.Event{
		Timestamp: e.EventTime(),
		Type:      eventType,
		Details:   details,
	})
}

// Multi publishes every event to all of its sinks, even when some fail.
type Multi []discharge.Sink

func (m Multi) Publish(e discharge.Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
