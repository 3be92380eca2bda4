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

package hardware

import (
	"fmt"
	"sort"
	"time"

	"github.com/TheCacophonyProject/battery-tester/internal/discharge"
	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
)

// MinRelaySettle is the shortest time a relay is given to switch.
const MinRelaySettle = 500 * time.Millisecond

var sleep = time.Sleep

type relayState int

const (
	relayUnknown relayState = iota
	relayOpen
	relayClosed
)

// RelayBank switches the load resistor of each slot through a GPIO pin.
// It remembers what each relay was last commanded to so repeated commands
// don't touch the pin. Until a relay has been commanded its state is unknown.
type RelayBank struct {
	pins      map[discharge.SlotID]gpio.PinOut
	state     map[discharge.SlotID]relayState
	activeLow bool
	settle    time.Duration
}

// NewRelayBank makes a RelayBank. With activeLow the relay closes when its pin is driven low.
func NewRelayBank(pins map[discharge.SlotID]gpio.PinOut, activeLow bool, settle time.Duration) *RelayBank {
	if settle < MinRelaySettle {
		settle = MinRelaySettle
	}
	r := &RelayBank{
		pins:      map[discharge.SlotID]gpio.PinOut{},
		state:     map[discharge.SlotID]relayState{},
		activeLow: activeLow,
		settle:    settle,
	}
	for slot, pin := range pins {
		r.pins[slot] = pin
		r.state[slot] = relayUnknown
	}
	return r
}

// Open disconnects the load from the slot.
func (r *RelayBank) Open(slot discharge.SlotID) error {
	return r.set(slot, relayOpen, false)
}

// Close connects the load to the slot.
func (r *RelayBank) Close(slot discharge.SlotID) error {
	return r.set(slot, relayClosed, false)
}

// ForceOpenAll drives every relay open whatever it was last commanded to.
// Every pin is tried, the first error is returned.
func (r *RelayBank) ForceOpenAll() error {
	slots := make([]discharge.SlotID, 0, len(r.pins))
	for slot := range r.pins {
		slots = append(slots, slot)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })

	var first error
	for _, slot := range slots {
		if err := r.set(slot, relayOpen, true); err != nil {
			log.Errorf("Failed to open relay of %s: %v", slot, err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func (r *RelayBank) set(slot discharge.SlotID, want relayState, force bool) error {
	pin, ok := r.pins[slot]
	if !ok {
		return fmt.Errorf("no relay configured for %s", slot)
	}
	if !force && r.state[slot] == want {
		return nil
	}
	level := r.level(want)
	log.Debugf("Driving %s %s for %s", pin.Name(), level, slot)
	if err := pin.Out(level); err != nil {
		r.state[slot] = relayUnknown
		return errors.Wrapf(err, "driving %s %s", pin.Name(), level)
	}
	sleep(r.settle)
	r.state[slot] = want
	return nil
}

func (r *RelayBank) level(s relayState) gpio.Level {
	closed := s == relayClosed
	if r.activeLow {
		return gpio.Level(!closed)
	}
	return gpio.Level(closed)
}
