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
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

var log = logrus.New()

// SetLogger makes the hardware drivers log through l.
func SetLogger(l *logrus.Logger) {
	log = l
}

// Wiring is how the slots are connected to the Pi.
type Wiring struct {
	RelayPins   map[discharge.SlotID]string
	SensePairs  map[discharge.SlotID]Pair
	ActiveLow   bool
	SPIPort     string
	SPISpeed    physic.Frequency
	Vref        float64
	RelaySettle time.Duration
	ReadSettle  time.Duration
}

// Bench is the opened hardware of the tester.
type Bench struct {
	Relays *RelayBank
	Reader *SenseReader
	ADC    *MCP3008
	port   spi.PortCloser
}

// Open initialises the host drivers and opens the relay pins and the ADC.
// The relays are not driven until they are first commanded.
func Open(w Wiring) (*Bench, error) {
	log.Debug("Initializing host")
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "initializing periph host")
	}

	pins := map[discharge.SlotID]gpio.PinOut{}
	for slot, name := range w.RelayPins {
		log.Debugf("Initializing pin '%s' for %s", name, slot)
		pin := gpioreg.ByName(name)
		if pin == nil {
			return nil, fmt.Errorf("GPIO pin %s not found", name)
		}
		pins[slot] = pin
	}

	port, err := spireg.Open(w.SPIPort)
	if err != nil {
		return nil, errors.Wrapf(err, "opening SPI port '%s'", w.SPIPort)
	}
	speed := w.SPISpeed
	if speed == 0 {
		speed = physic.MegaHertz
	}
	c, err := port.Connect(speed, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, errors.Wrap(err, "connecting to MCP3008")
	}

	adc := NewMCP3008(c, w.Vref)
	return &Bench{
		Relays: NewRelayBank(pins, w.ActiveLow, w.RelaySettle),
		Reader: NewSenseReader(adc, w.SensePairs, w.ReadSettle),
		ADC:    adc,
		port:   port,
	}, nil
}

// Close releases the SPI port. It doesn't touch the relays.
func (b *Bench) Close() error {
	return b.port.Close()
}
