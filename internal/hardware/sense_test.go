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
	"errors"
	"math"
	"testing"
	"time"

	"github.com/TheCacophonyProject/battery-tester/internal/discharge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3"
)

// fakeConn answers MCP3008 frames with a raw count per select value.
type fakeConn struct {
	raw    map[byte]int
	frames [][]byte
	err    error
}

func (c *fakeConn) String() string       { return "fake-spi" }
func (c *fakeConn) Duplex() conn.Duplex { return conn.Full }

func (c *fakeConn) Tx(w, r []byte) error {
	c.frames = append(c.frames, append([]byte(nil), w...))
	if c.err != nil {
		return c.err
	}
	v := c.raw[w[1]>>4&0x07]
	r[0] = 0xff
	r[1] = 0xf8 | byte(v>>8)&0x03
	r[2] = byte(v)
	return nil
}

func TestReadDifferentialFrame(t *testing.T) {
	c := &fakeConn{raw: map[byte]int{2: 1023, 3: 0, 6: 512}}
	adc := NewMCP3008(c, 5.0)

	v, err := adc.ReadDifferential(2, 3)
	require.NoError(t, err)
	assert.Equal(t, 5.0, v)
	assert.Equal(t, []byte{0x01, 0x20, 0x00}, c.frames[0])

	v, err = adc.ReadDifferential(3, 2)
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)
	assert.Equal(t, []byte{0x01, 0x30, 0x00}, c.frames[1])

	v, err = adc.ReadDifferential(6, 7)
	require.NoError(t, err)
	assert.InDelta(t, 512*5.0/1023, v, 1e-12)
}

func TestReadDifferentialRejectsBadPairs(t *testing.T) {
	adc := NewMCP3008(&fakeConn{}, 5.0)
	for _, pair := range [][2]int{{0, 2}, {1, 2}, {3, 3}, {7, 8}, {-1, 0}} {
		_, err := adc.ReadDifferential(pair[0], pair[1])
		assert.Error(t, err, "pair %v", pair)
	}
}

func TestReadDifferentialError(t *testing.T) {
	adc := NewMCP3008(&fakeConn{err: errors.New("spi timeout")}, 5.0)
	_, err := adc.ReadDifferential(0, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spi timeout")
}

type scriptedADC struct {
	volts map[Pair]float64
	err   error
	reads []Pair
}

func (a *scriptedADC) ReadDifferential(plus, minus int) (float64, error) {
	p := Pair{Plus: plus, Minus: minus}
	a.reads = append(a.reads, p)
	return a.volts[p], a.err
}

func TestSenseReaderPositive(t *testing.T) {
	slept := noSleep(t)
	adc := &scriptedADC{volts: map[Pair]float64{{0, 1}: 3.7}}
	r := NewSenseReader(adc, map[discharge.SlotID]Pair{1: {0, 1}}, 0)

	v, err := r.ReadVoltage(1)
	require.NoError(t, err)
	assert.Equal(t, 3.7, v)
	assert.Equal(t, []Pair{{0, 1}}, adc.reads)
	assert.Equal(t, []time.Duration{MinReadSettle}, *slept)
}

func TestSenseReaderNegative(t *testing.T) {
	noSleep(t)
	adc := &scriptedADC{volts: map[Pair]float64{{3, 2}: 0.02}}
	r := NewSenseReader(adc, map[discharge.SlotID]Pair{2: {2, 3}}, 0)

	v, err := r.ReadVoltage(2)
	require.NoError(t, err)
	assert.Equal(t, -0.02, v)
	assert.Equal(t, []Pair{{2, 3}, {3, 2}}, adc.reads)
}

func TestSenseReaderEmptySlot(t *testing.T) {
	noSleep(t)
	adc := &scriptedADC{}
	r := NewSenseReader(adc, map[discharge.SlotID]Pair{1: {0, 1}}, 0)

	v, err := r.ReadVoltage(1)
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)
	assert.False(t, math.Signbit(v))
}

func TestSenseReaderErrors(t *testing.T) {
	noSleep(t)
	adc := &scriptedADC{err: errors.New("spi timeout")}
	r := NewSenseReader(adc, map[discharge.SlotID]Pair{1: {0, 1}}, 0)

	var re *discharge.ReadError
	_, err := r.ReadVoltage(1)
	require.True(t, errors.As(err, &re))
	assert.Equal(t, discharge.SlotID(1), re.Slot)

	_, err = r.ReadVoltage(4)
	require.True(t, errors.As(err, &re))
	assert.Equal(t, discharge.SlotID(4), re.Slot)
}
