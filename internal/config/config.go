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

// Package config loads the slot wiring and test thresholds of the tester.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/TheCacophonyProject/battery-tester/internal/discharge"
	"github.com/TheCacophonyProject/battery-tester/internal/hardware"
	goconfig "github.com/TheCacophonyProject/go-config"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPath = "/etc/cacophony/battery-tester.yaml"
	// Key is the section of the device config.toml read by the tester.
	Key = "battery-tester"
)

// Slot is the wiring of one battery slot.
type Slot struct {
	ID       int    `yaml:"id" mapstructure:"id"`
	RelayPin string `yaml:"relay_pin" mapstructure:"relay_pin"`
	// Channels are the positive and negative ADC inputs across the load sense resistor.
	Channels []int `yaml:"channels" mapstructure:"channels"`
}

type MQTT struct {
	// Broker is the URL of the MQTT broker, e.g. tcp://localhost:1883. Empty disables MQTT.
	Broker   string `yaml:"broker" mapstructure:"broker"`
	Topic    string `yaml:"topic" mapstructure:"topic"`
	ClientID string `yaml:"client_id" mapstructure:"client_id"`
}

type Config struct {
	Slots []Slot `yaml:"slots" mapstructure:"slots"`

	DischargedVoltage float64       `yaml:"discharged_voltage" mapstructure:"discharged_voltage"`
	MinChargedVoltage float64       `yaml:"min_charged_voltage" mapstructure:"min_charged_voltage"`
	NoiseFloor        float64       `yaml:"noise_floor" mapstructure:"noise_floor"`
	LoadResistance    float64       `yaml:"load_resistance" mapstructure:"load_resistance"`
	PollInterval      time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`

	RelayActiveLow bool          `yaml:"relay_active_low" mapstructure:"relay_active_low"`
	RelaySettle    time.Duration `yaml:"relay_settle" mapstructure:"relay_settle"`
	ReadSettle     time.Duration `yaml:"read_settle" mapstructure:"read_settle"`
	SPIPort        string        `yaml:"spi_port" mapstructure:"spi_port"`
	Vref           float64       `yaml:"vref" mapstructure:"vref"`

	CSVPath            string `yaml:"csv_path" mapstructure:"csv_path"`
	MaxCSVRows         int    `yaml:"max_csv_rows" mapstructure:"max_csv_rows"`
	RecentMeasurements int    `yaml:"recent_measurements" mapstructure:"recent_measurements"`

	MQTT MQTT `yaml:"mqtt" mapstructure:"mqtt"`
}

// Default returns the configuration of the four slot bench.
func Default() Config {
	return Config{
		Slots: []Slot{
			{ID: 1, RelayPin: "GPIO5", Channels: []int{0, 1}},
			{ID: 2, RelayPin: "GPIO6", Channels: []int{2, 3}},
			{ID: 3, RelayPin: "GPIO13", Channels: []int{4, 5}},
			{ID: 4, RelayPin: "GPIO19", Channels: []int{6, 7}},
		},
		DischargedVoltage:  1.0,
		MinChargedVoltage:  4.0,
		NoiseFloor:         0.05,
		LoadResistance:     4,
		PollInterval:       time.Second,
		RelayActiveLow:     true,
		RelaySettle:        hardware.MinRelaySettle,
		ReadSettle:         hardware.MinReadSettle,
		Vref:               5.0,
		CSVPath:            "/var/log/battery-tester.csv",
		MaxCSVRows:         20000,
		RecentMeasurements: 120,
		MQTT: MQTT{
			Topic:    "cacophony/battery-tester",
			ClientID: "battery-tester",
		},
	}
}

// Load builds the config from the defaults, then the battery-tester section of
// config.toml in configDir, then the bench file at path. Either source may be
// missing; found reports whether any was read. The result is not validated.
func Load(configDir, path string) (cfg Config, found bool, err error) {
	cfg = Default()
	foundDevice, err := loadDevice(configDir, &cfg)
	if err != nil {
		return cfg, foundDevice, err
	}
	foundFile, err := loadFile(path, &cfg)
	return cfg, foundDevice || foundFile, err
}

func loadDevice(dir string, cfg *Config) (bool, error) {
	if _, err := os.Stat(filepath.Join(dir, goconfig.ConfigFileName)); os.IsNotExist(err) {
		return false, nil
	}
	conf, err := goconfig.New(dir)
	if err != nil {
		return false, errors.Wrapf(err, "reading device config in %s", dir)
	}
	// A listed slot table replaces the default slots rather than merging into them.
	slots := cfg.Slots
	cfg.Slots = nil
	if err := conf.Unmarshal(Key, cfg); err != nil {
		cfg.Slots = slots
		return true, errors.Wrapf(err, "parsing [%s] in %s", Key, dir)
	}
	if cfg.Slots == nil {
		cfg.Slots = slots
	}
	return true, nil
}

func loadFile(path string, cfg *Config) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "reading config %s", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return true, errors.Wrapf(err, "parsing config %s", path)
	}
	return true, nil
}

// Validate checks the config before any hardware is touched.
func (c Config) Validate() error {
	if len(c.Slots) == 0 {
		return &discharge.ConfigError{Field: "slots", Reason: "no slots configured"}
	}
	ids := map[int]bool{}
	pins := map[string]int{}
	channels := map[int]int{}
	for _, s := range c.Slots {
		if ids[s.ID] {
			return configError("slots", "slot %d configured twice", s.ID)
		}
		ids[s.ID] = true

		if s.RelayPin == "" {
			return configError("relay_pin", "slot %d has no relay pin", s.ID)
		}
		if other, ok := pins[s.RelayPin]; ok {
			return configError("relay_pin", "%s is used by slots %d and %d", s.RelayPin, other, s.ID)
		}
		pins[s.RelayPin] = s.ID

		if len(s.Channels) != 2 {
			return configError("channels", "slot %d needs exactly two sense channels, has %d", s.ID, len(s.Channels))
		}
		for _, ch := range s.Channels {
			if ch < 0 || ch > 7 {
				return configError("channels", "slot %d channel %d out of range 0-7", s.ID, ch)
			}
			if other, ok := channels[ch]; ok {
				return configError("channels", "channel %d is used by slots %d and %d", ch, other, s.ID)
			}
			channels[ch] = s.ID
		}
		if s.Channels[0]/2 != s.Channels[1]/2 {
			return configError("channels", "slot %d channels %d and %d are not a differential pair", s.ID, s.Channels[0], s.Channels[1])
		}
	}

	if err := c.Thresholds().Validate(); err != nil {
		return err
	}
	if c.LoadResistance <= 0 {
		return configError("load_resistance", "%.3f ohms must be positive", c.LoadResistance)
	}
	if c.PollInterval <= 0 {
		return configError("poll_interval", "%s must be positive", c.PollInterval)
	}
	if c.RelaySettle < hardware.MinRelaySettle {
		return configError("relay_settle", "%s is shorter than %s", c.RelaySettle, hardware.MinRelaySettle)
	}
	if c.ReadSettle < hardware.MinReadSettle {
		return configError("read_settle", "%s is shorter than %s", c.ReadSettle, hardware.MinReadSettle)
	}
	if c.Vref <= 0 {
		return configError("vref", "%.3fV must be positive", c.Vref)
	}
	return nil
}

func (c Config) Thresholds() discharge.Thresholds {
	return discharge.Thresholds{
		Discharged: c.DischargedVoltage,
		MinCharged: c.MinChargedVoltage,
		NoiseFloor: c.NoiseFloor,
	}
}

func (c Config) SlotIDs() []discharge.SlotID {
	ids := make([]discharge.SlotID, len(c.Slots))
	for i, s := range c.Slots {
		ids[i] = discharge.SlotID(s.ID)
	}
	return ids
}

// Orchestrator is the test loop configuration.
func (c Config) Orchestrator() discharge.Config {
	return discharge.Config{
		Slots:              c.SlotIDs(),
		Thresholds:         c.Thresholds(),
		LoadResistance:     c.LoadResistance,
		PollInterval:       c.PollInterval,
		RecentMeasurements: c.RecentMeasurements,
	}
}

// Wiring is how the hardware drivers should be opened.
func (c Config) Wiring() hardware.Wiring {
	w := hardware.Wiring{
		RelayPins:   map[discharge.SlotID]string{},
		SensePairs:  map[discharge.SlotID]hardware.Pair{},
		ActiveLow:   c.RelayActiveLow,
		SPIPort:     c.SPIPort,
		Vref:        c.Vref,
		RelaySettle: c.RelaySettle,
		ReadSettle:  c.ReadSettle,
	}
	for _, s := range c.Slots {
		id := discharge.SlotID(s.ID)
		w.RelayPins[id] = s.RelayPin
		if len(s.Channels) == 2 {
			w.SensePairs[id] = hardware.Pair{Plus: s.Channels[0], Minus: s.Channels[1]}
		}
	}
	return w
}

func configError(field, format string, a ...interface{}) error {
	return &discharge.ConfigError{Field: field, Reason: fmt.Sprintf(format, a...)}
}

// Overrides are values given on the command line. Nil fields keep the file value.
type Overrides struct {
	DischargedVoltage *float64
	MinChargedVoltage *float64
	LoadResistance    *float64
	PollInterval      *time.Duration
}

func (c *Config) Apply(o Overrides) {
	if o.DischargedVoltage != nil {
		c.DischargedVoltage = *o.DischargedVoltage
	}
	if o.MinChargedVoltage != nil {
		c.MinChargedVoltage = *o.MinChargedVoltage
	}
	if o.LoadResistance != nil {
		c.LoadResistance = *o.LoadResistance
	}
	if o.PollInterval != nil {
		c.PollInterval = *o.PollInterval
	}
}
