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
	"fmt"

	"github.com/TheCacophonyProject/battery-tester/internal/config"
	"github.com/TheCacophonyProject/battery-tester/internal/discharge"
)

// readAll puts each slot under load in turn and reads it.
func readAll(cfg config.Config) error {
	r, err := openRig(cfg.Wiring())
	if err != nil {
		return err
	}
	defer r.close()
	defer r.forceOpen()
	r.forceOpen()

	for _, id := range cfg.SlotIDs() {
		v, err := readUnderLoad(r, id)
		if err != nil {
			return err
		}
		log.Infof("%s: %.3fV", id, v)
	}
	return nil
}

func readUnderLoad(r *rig, id discharge.SlotID) (float64, error) {
	if err := r.relays.Close(id); err != nil {
		return 0, &discharge.ActuatorError{Slot: id, Op: "closing", Err: err}
	}
	v, err := r.reader.ReadVoltage(id)
	if err != nil {
		return 0, err
	}
	if err := r.relays.Open(id); err != nil {
		return 0, &discharge.ActuatorError{Slot: id, Op: "opening", Err: err}
	}
	return v, nil
}

// switchRelay drives one relay. A relay left closed stays closed after exit.
func switchRelay(cfg config.Config, cmd *RelayCmd) error {
	id := discharge.SlotID(cmd.Slot)
	known := false
	for _, s := range cfg.SlotIDs() {
		known = known || s == id
	}
	if !known {
		return fmt.Errorf("%s is not configured", id)
	}
	if cmd.State != "open" && cmd.State != "closed" {
		return fmt.Errorf("unknown relay state '%s', use open or closed", cmd.State)
	}

	r, err := openRig(cfg.Wiring())
	if err != nil {
		return err
	}
	defer r.close()

	if cmd.State == "open" {
		if err := r.relays.Open(id); err != nil {
			return &discharge.ActuatorError{Slot: id, Op: "opening", Err: err}
		}
		log.Infof("Opened relay of %s", id)
		return nil
	}
	if err := r.relays.Close(id); err != nil {
		r.forceOpen()
		return &discharge.ActuatorError{Slot: id, Op: "closing", Err: err}
	}
	log.Infof("Closed relay of %s", id)
	return nil
}
