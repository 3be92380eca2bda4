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
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3"
)

const (
	mcp3008Start     = 0x01
	mcp3008Channels  = 8
	mcp3008FullScale = 1023
)

// MCP3008 is the 8 channel 10 bit ADC the slot sense lines are wired to.
// Only differential readings are used.
type MCP3008 struct {
	conn conn.Conn
	vref float64
	mu   sync.Mutex
}

func NewMCP3008(c conn.Conn, vref float64) *MCP3008 {
	return &MCP3008{conn: c, vref: vref}
}

// ReadDifferential returns the voltage of plus relative to minus. Readings are
// unsigned, a negative difference reads as 0V. The two channels must be one of
// the pairs (0,1), (2,3), (4,5) or (6,7), in either order.
func (m *MCP3008) ReadDifferential(plus, minus int) (float64, error) {
	if err := checkPair(plus, minus); err != nil {
		return 0, err
	}
	// The select bits of a differential pair are the channel number of its positive input.
	w := []byte{mcp3008Start, byte(plus) << 4, 0x00}
	r := make([]byte, len(w))

	m.mu.Lock()
	err := m.conn.Tx(w, r)
	m.mu.Unlock()
	if err != nil {
		return 0, errors.Wrapf(err, "reading MCP3008 channels %d-%d", plus, minus)
	}
	raw := int(r[1]&0x03)<<8 | int(r[2])
	return float64(raw) * m.vref / mcp3008FullScale, nil
}

func checkPair(plus, minus int) error {
	if plus < 0 || plus >= mcp3008Channels || minus < 0 || minus >= mcp3008Channels {
		return fmt.Errorf("channels %d-%d out of range 0-%d", plus, minus, mcp3008Channels-1)
	}
	if plus/2 != minus/2 || plus == minus {
		return fmt.Errorf("channels %d-%d are not a differential pair", plus, minus)
	}
	return nil
}
