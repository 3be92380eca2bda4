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
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/TheCacophonyProject/battery-tester/internal/config"
	"github.com/TheCacophonyProject/battery-tester/internal/hardware"
	goconfig "github.com/TheCacophonyProject/go-config"
	"github.com/alexflint/go-arg"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

var (
	log     = logrus.New()
	version = "<not set>"
)

type Args struct {
	Run   *subcommand `arg:"subcommand:run"   help:"Run the discharge tests."`
	Read  *subcommand `arg:"subcommand:read"  help:"Read the voltage of every slot under load."`
	Relay *RelayCmd   `arg:"subcommand:relay" help:"Switch the relay of a slot."`

	ConfigDir         string         `arg:"-c, --config-dir" help:"Directory of the device config.toml"`
	Config            string         `arg:"--config" help:"Path to the bench config file, overrides config.toml"`
	EnvFile           string         `arg:"--env-file" help:"File with MQTT_USERNAME and MQTT_PASSWORD"`
	DischargedVoltage *float64       `arg:"--discharged-voltage" help:"Batteries below this voltage are discharged"`
	MinChargedVoltage *float64       `arg:"--min-charged-voltage" help:"Batteries must be above this voltage to be tested"`
	LoadResistance    *float64       `arg:"--load-resistance" help:"Resistance of the load in ohms"`
	PollInterval      *time.Duration `arg:"--poll-interval" help:"Time between readings of a slot"`
	LogLevel          string         `arg:"-l, --loglevel" default:"info" help:"Set the logging level (debug, info, warn, error)"`
}

type subcommand struct {
}

type RelayCmd struct {
	Slot  int    `arg:"--slot,required" help:"Slot to switch"`
	State string `arg:"--state,required" help:"open or closed"`
}

func (Args) Version() string {
	return version
}

var defaultArgs = Args{
	ConfigDir: goconfig.DefaultConfigDir,
	Config:    config.DefaultPath,
	EnvFile:   "/etc/cacophony/battery-tester.env",
}

func procArgs(input []string) (Args, error) {
	args := defaultArgs

	parser, err := arg.NewParser(arg.Config{}, &args)
	if err != nil {
		return Args{}, err
	}
	err = parser.Parse(input)
	if errors.Is(err, arg.ErrHelp) {
		parser.WriteHelp(os.Stdout)
		os.Exit(0)
	}
	if errors.Is(err, arg.ErrVersion) {
		fmt.Println(version)
		os.Exit(0)
	}
	if err == nil && args.Run == nil && args.Read == nil && args.Relay == nil {
		err = errors.New("no subcommand given, use run, read or relay")
	}
	return args, err
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "info":
		log.SetLevel(logrus.InfoLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
		log.Warn("Unknown log level, defaulting to info")
	}
}

// customFormatter defines a new logrus formatter.
type customFormatter struct{}

// Format builds the log message string from the log entry.
func (f *customFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	msg := entry.Message
	if slot, ok := entry.Data["slot"]; ok {
		msg = fmt.Sprintf("slot %v: %s", slot, msg)
	}
	return []byte(fmt.Sprintf("[%s] %s\n", strings.ToUpper(entry.Level.String()), msg)), nil
}

// Logger is the logger of the tester, for main to report fatal errors with.
func Logger() *logrus.Logger {
	return log
}

func Run(inputArgs []string, ver string) error {
	version = ver
	log.SetFormatter(new(customFormatter))
	args, err := procArgs(inputArgs)
	if err != nil {
		return fmt.Errorf("failed to parse args: %v", err)
	}
	setLogLevel(args.LogLevel)
	hardware.SetLogger(log)

	log.Infof("Running version: %s", version)

	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}

	switch {
	case args.Read != nil:
		return readAll(cfg)
	case args.Relay != nil:
		return switchRelay(cfg, args.Relay)
	default:
		if err := godotenv.Load(args.EnvFile); err != nil {
			log.Debugf("Not loading %s: %v", args.EnvFile, err)
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runTests(ctx, cfg)
	}
}

func loadConfig(args Args) (config.Config, error) {
	cfg, found, err := config.Load(args.ConfigDir, args.Config)
	if err != nil {
		return cfg, err
	}
	if !found {
		log.Warnf("No [%s] config in %s or %s, using the default wiring", config.Key, args.ConfigDir, args.Config)
	}
	cfg.Apply(config.Overrides{
		DischargedVoltage: args.DischargedVoltage,
		MinChargedVoltage: args.MinChargedVoltage,
		LoadResistance:    args.LoadResistance,
		PollInterval:      args.PollInterval,
	})
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	log.Debugf("Testing %d slots, discharged below %.3fV, charged above %.3fV, %.2f ohm load, polling every %s",
		len(cfg.Slots), cfg.DischargedVoltage, cfg.MinChargedVoltage, cfg.LoadResistance, cfg.PollInterval)
	return cfg, nil
}
