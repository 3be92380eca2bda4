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
	"time"

	"github.com/TheCacophonyProject/battery-tester/internal/discharge"
)

// MinReadSettle is the shortest wait before sampling a slot.
const MinReadSettle = 100 * time.Millisecond

// Pair is the two ADC channels across a slot's load sense resistor.
type Pair struct {
	Plus  int
	Minus int
}

type differentialADC interface {
	ReadDifferential(plus, minus int) (float64, error)
}

// SenseReader reads the voltage of each slot from the ADC.
type SenseReader struct {
	adc    differentialADC
	pairs  map[discharge.SlotID]Pair
	settle time.Duration
}

func NewSenseReader(adc differentialADC, pairs map[discharge.SlotID]Pair, settle time.Duration) *SenseReader {
	if settle < MinReadSettle {
		settle = MinReadSettle
	}
	p := make(map[discharge.SlotID]Pair, len(pairs))
	for slot, pair := range pairs {
		p[slot] = pair
	}
	return &SenseReader{adc: adc, pairs: p, settle: settle}
}

// ReadVoltage waits for the slot to settle and then samples it. The ADC can't
// read a negative difference, so a zero reading is retried with the pair
// reversed and returned negated.
func (s *SenseReader) ReadVoltage(slot discharge.SlotID) (float64, error) {
	pair, ok := s.pairs[slot]
	if !ok {
		return 0, &discharge.ReadError{Slot: slot, Err: fmt.Errorf("no sense channels configured")}
	}
	sleep(s.settle)

	v, err := s.adc.ReadDifferential(pair.Plus, pair.Minus)
	if err != nil {
		return 0, &discharge.ReadError{Slot: slot, Err: err}
	}
	if v != 0 {
		return v, nil
	}
	reversed, err := s.adc.ReadDifferential(pair.Minus, pair.Plus)
	if err != nil {
		return 0, &discharge.ReadError{Slot: slot, Err: err}
	}
	if reversed == 0 {
		return 0, nil
	}
	log.Debugf("%s reads %.3fV reversed", slot, reversed)
	return -reversed, nil
}
