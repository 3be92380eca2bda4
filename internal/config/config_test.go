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

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/TheCacophonyProject/battery-tester/internal/discharge"
	"github.com/TheCacophonyProject/battery-tester/internal/hardware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "battery-tester.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func writeDeviceConfig(t *testing.T, content string) string {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0644))
	return dir
}

func requireConfigError(t *testing.T, err error, field string) {
	var ce *discharge.ConfigError
	require.True(t, errors.As(err, &ce), "expected a config error, got %v", err)
	assert.Equal(t, field, ce.Field)
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Len(t, cfg.Slots, 4)
	assert.Equal(t, discharge.Thresholds{Discharged: 1.0, MinCharged: 4.0, NoiseFloor: 0.05}, cfg.Thresholds())
}

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, found, err := Load(t.TempDir(), filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
slots:
  - id: 7
    relay_pin: GPIO26
    channels: [3, 2]
discharged_voltage: 0.9
poll_interval: 2s
relay_settle: 750ms
mqtt:
  broker: tcp://localhost:1883
`)
	cfg, found, err := Load(t.TempDir(), path)
	require.NoError(t, err)
	assert.True(t, found)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []Slot{{ID: 7, RelayPin: "GPIO26", Channels: []int{3, 2}}}, cfg.Slots)
	assert.Equal(t, 0.9, cfg.DischargedVoltage)
	assert.Equal(t, 4.0, cfg.MinChargedVoltage)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, 750*time.Millisecond, cfg.RelaySettle)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, "battery-tester", cfg.MQTT.ClientID)

	w := cfg.Wiring()
	assert.Equal(t, map[discharge.SlotID]string{7: "GPIO26"}, w.RelayPins)
	assert.Equal(t, map[discharge.SlotID]hardware.Pair{7: {Plus: 3, Minus: 2}}, w.SensePairs)
	assert.Equal(t, []discharge.SlotID{7}, cfg.Orchestrator().Slots)
}

func TestLoadBadYAML(t *testing.T) {
	_, found, err := Load(t.TempDir(), writeConfig(t, "slots: [oops"))
	assert.Error(t, err)
	assert.True(t, found)
}

func TestLoadDeviceConfigSection(t *testing.T) {
	dir := writeDeviceConfig(t, `
[windows]
power-on = "12:00"

[battery-tester]
discharged_voltage = 0.9
poll_interval = "2s"
csv_path = "/tmp/bench.csv"

[battery-tester.mqtt]
broker = "tcp://localhost:1883"

[[battery-tester.slots]]
id = 7
relay_pin = "GPIO26"
channels = [3, 2]
`)
	cfg, found, err := Load(dir, filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.True(t, found)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []Slot{{ID: 7, RelayPin: "GPIO26", Channels: []int{3, 2}}}, cfg.Slots)
	assert.Equal(t, 0.9, cfg.DischargedVoltage)
	assert.Equal(t, 4.0, cfg.MinChargedVoltage)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, "/tmp/bench.csv", cfg.CSVPath)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, "battery-tester", cfg.MQTT.ClientID)
}

func TestLoadDeviceConfigWithoutSectionKeepsDefaults(t *testing.T) {
	dir := writeDeviceConfig(t, `
[location]
latitude = -43.5
`)
	cfg, found, err := Load(dir, filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, Default(), cfg)
}

func TestBenchFileOverridesDeviceConfig(t *testing.T) {
	dir := writeDeviceConfig(t, `
[battery-tester]
discharged_voltage = 0.9
load_resistance = 8.0
`)
	cfg, found, err := Load(dir, writeConfig(t, "discharged_voltage: 0.7\n"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 0.7, cfg.DischargedVoltage)
	assert.Equal(t, 8.0, cfg.LoadResistance)
	assert.Len(t, cfg.Slots, 4)
}

func TestLoadBadDeviceConfig(t *testing.T) {
	dir := writeDeviceConfig(t, "[battery-tester\n")
	_, _, err := Load(dir, filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		modify func(c *Config)
		field  string
	}{
		{"no slots", func(c *Config) { c.Slots = nil }, "slots"},
		{"duplicate slot", func(c *Config) { c.Slots[1].ID = 1 }, "slots"},
		{"missing pin", func(c *Config) { c.Slots[0].RelayPin = "" }, "relay_pin"},
		{"shared pin", func(c *Config) { c.Slots[1].RelayPin = "GPIO5" }, "relay_pin"},
		{"one channel", func(c *Config) { c.Slots[0].Channels = []int{0} }, "channels"},
		{"channel out of range", func(c *Config) { c.Slots[3].Channels = []int{7, 8} }, "channels"},
		{"shared channel", func(c *Config) { c.Slots[1].Channels = []int{1, 0} }, "channels"},
		{"not a pair", func(c *Config) {
			c.Slots[0].Channels = []int{1, 2}
			c.Slots[1].Channels = []int{0, 3}
		}, "channels"},
		{"thresholds crossed", func(c *Config) { c.DischargedVoltage = 4.5 }, "thresholds"},
		{"thresholds equal", func(c *Config) { c.DischargedVoltage = c.MinChargedVoltage }, "thresholds"},
		{"noise above Vd", func(c *Config) { c.NoiseFloor = 1.2 }, "thresholds"},
		{"no load", func(c *Config) { c.LoadResistance = 0 }, "load_resistance"},
		{"no poll interval", func(c *Config) { c.PollInterval = 0 }, "poll_interval"},
		{"fast relay", func(c *Config) { c.RelaySettle = 100 * time.Millisecond }, "relay_settle"},
		{"fast read", func(c *Config) { c.ReadSettle = 10 * time.Millisecond }, "read_settle"},
		{"no vref", func(c *Config) { c.Vref = 0 }, "vref"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.modify(&cfg)
			requireConfigError(t, cfg.Validate(), tc.field)
		})
	}
}

func TestApplyOverrides(t *testing.T) {
	cfg := Default()
	vd, r := 0.8, 2.2
	poll := 5 * time.Second
	cfg.Apply(Overrides{DischargedVoltage: &vd, LoadResistance: &r, PollInterval: &poll})

	assert.Equal(t, 0.8, cfg.DischargedVoltage)
	assert.Equal(t, 4.0, cfg.MinChargedVoltage)
	assert.Equal(t, 2.2, cfg.LoadResistance)
	assert.Equal(t, poll, cfg.Orchestrator().PollInterval)
}
