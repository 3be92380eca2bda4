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

package tester

import (
	"context"
	"os"

	"github.com/TheCacophonyProject/battery-tester/internal/config"
	"github.com/TheCacophonyProject/battery-tester/internal/discharge"
	"github.com/TheCacophonyProject/battery-tester/internal/hardware"
	"github.com/TheCacophonyProject/battery-tester/internal/service"
	"github.com/TheCacophonyProject/battery-tester/internal/sink"
	"github.com/google/uuid"
)

type relayBank interface {
	discharge.RelayActuator
	ForceOpenAll() error
}

// rig is the opened hardware.
type rig struct {
	reader discharge.VoltageReader
	relays relayBank
	close  func() error
}

var openRig = func(w hardware.Wiring) (*rig, error) {
	b, err := hardware.Open(w)
	if err != nil {
		return nil, err
	}
	return &rig{reader: b.Reader, relays: b.Relays, close: b.Close}, nil
}

var startService = service.Start

// forceOpen opens every relay, it is deferred on every path that touched the relays.
func (r *rig) forceOpen() {
	if err := r.relays.ForceOpenAll(); err != nil {
		log.Errorf("Failed to open every relay: %v", err)
	}
}

// runTests runs the discharge tests until ctx is cancelled. Every relay is
// opened before the tests start and again on the way out, whatever the error.
func runTests(ctx context.Context, cfg config.Config) error {
	runID := uuid.NewString()
	log.Infof("Starting test run %s", runID)

	r, err := openRig(cfg.Wiring())
	if err != nil {
		return err
	}
	defer r.close()
	defer r.forceOpen()
	r.forceOpen()

	recorder, err := sink.NewCSVRecorder(cfg.CSVPath, cfg.MaxCSVRows)
	if err != nil {
		return err
	}

	sinks := sink.Multi{&sink.EventReporter{RunID: runID}}
	if cfg.MQTT.Broker != "" {
		m, err := sink.NewMQTT(sink.MQTTOptions{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
			Username: os.Getenv("MQTT_USERNAME"),
			Password: os.Getenv("MQTT_PASSWORD"),
			Log:      log,
		}, runID)
		if err != nil {
			// Events still go to the event reporter.
			log.Errorf("MQTT disabled: %v", err)
		} else {
			defer m.Close()
			sinks = append(sinks, m)
		}
	}

	o, err := discharge.NewOrchestrator(cfg.Orchestrator(), r.reader, r.relays, sinks, discharge.Options{
		Log:      log,
		Recorder: recorder,
	})
	if err != nil {
		return err
	}

	if err := startService(o, log); err != nil {
		log.Errorf("Failed to start dbus service: %v", err)
	}

	return o.Run(ctx)
}
