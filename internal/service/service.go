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

// Package service exposes the state of the tester on dbus.
package service

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/TheCacophonyProject/battery-tester/internal/discharge"
	"github.com/godbus/dbus"
	"github.com/godbus/dbus/introspect"
	"github.com/sirupsen/logrus"
)

const (
	dbusName = "org.cacophony.batterytester"
	dbusPath = "/org/cacophony/batterytester"
)

// Tester is what the service reports on.
type Tester interface {
	Status() []discharge.SlotStatus
	Measurements() *discharge.MeasurementLog
	Slots() []discharge.SlotID
}

type service struct {
	tester Tester
	log    logrus.FieldLogger
}

// Start exports the service on the system bus.
func Start(tester Tester, log logrus.FieldLogger) error {
	log.Info("Starting battery tester dbus service")
	conn, err := dbus.SystemBus()
	if err != nil {
		return err
	}
	reply, err := conn.RequestName(dbusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return errors.New("name already taken")
	}

	s := &service{tester: tester, log: log}
	if err := conn.Export(s, dbusPath, dbusName); err != nil {
		return err
	}
	return conn.Export(genIntrospectable(s), dbusPath, "org.freedesktop.DBus.Introspectable")
}

func genIntrospectable(v interface{}) introspect.Introspectable {
	node := &introspect.Node{
		Interfaces: []introspect.Interface{{
			Name:    dbusName,
			Methods: introspect.Methods(v),
		}},
	}
	return introspect.NewIntrospectable(node)
}

// Status returns the state of every slot as JSON.
func (s *service) Status() (string, *dbus.Error) {
	return s.toJSON(s.tester.Status())
}

// LastMeasurement returns the latest measurement of a slot as JSON.
func (s *service) LastMeasurement(slot int) (string, *dbus.Error) {
	id, err := s.slot(slot)
	if err != nil {
		return "", err
	}
	m, ok := s.tester.Measurements().Last(id)
	if !ok {
		return "", makeDbusError("NoMeasurement", "no measurement of %s yet", id)
	}
	return s.toJSON(m)
}

// SessionMeasurements returns the samples of the running test session of a slot.
// Finished sessions only keep their summary.
func (s *service) SessionMeasurements(slot int, session uint32) (string, *dbus.Error) {
	id, err := s.slot(slot)
	if err != nil {
		return "", err
	}
	samples := s.tester.Measurements().Session(id, session)
	if samples == nil {
		samples = []discharge.Measurement{}
	}
	return s.toJSON(samples)
}

// Summaries returns the finished test sessions of a slot as JSON.
func (s *service) Summaries(slot int) (string, *dbus.Error) {
	id, err := s.slot(slot)
	if err != nil {
		return "", err
	}
	summaries := s.tester.Measurements().Summaries(id)
	if summaries == nil {
		summaries = []discharge.SessionSummary{}
	}
	return s.toJSON(summaries)
}

func (s *service) slot(slot int) (discharge.SlotID, *dbus.Error) {
	id := discharge.SlotID(slot)
	for _, known := range s.tester.Slots() {
		if known == id {
			return id, nil
		}
	}
	return 0, makeDbusError("UnknownSlot", "%s is not configured", id)
}

func (s *service) toJSON(v interface{}) (string, *dbus.Error) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Errorf("Failed to encode dbus reply: %v", err)
		return "", makeDbusError("Encoding", "%v", err)
	}
	return string(data), nil
}

func makeDbusError(name string, format string, a ...interface{}) *dbus.Error {
	return &dbus.Error{
		Name: dbusName + "." + name,
		Body: []interface{}{fmt.Sprintf(format, a...)},
	}
}
