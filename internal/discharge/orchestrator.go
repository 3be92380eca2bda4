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

package discharge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const DefaultPollInterval = time.Second

// Config is the startup configuration of the Orchestrator.
type Config struct {
	Slots          []SlotID
	Thresholds     Thresholds
	LoadResistance float64
	PollInterval   time.Duration
	// RecentMeasurements is how many measurements per slot the log keeps for queries.
	RecentMeasurements int
}

// Options are the optional collaborators of the Orchestrator.
type Options struct {
	Log      logrus.FieldLogger
	Recorder Recorder
	Clock    func() time.Time
	// After is used to wait between ticks, time.After if nil.
	After func(time.Duration) <-chan time.Time
}

// SlotStatus is a snapshot of a slot for reporting.
type SlotStatus struct {
	Slot        SlotID  `json:"slot"`
	State       State   `json:"state"`
	LastVoltage float64 `json:"lastVoltage"`
	RelayOpen   bool    `json:"relayOpen"`
	Testing     bool    `json:"testing"`
	Session     uint32  `json:"session"`
	Disabled    bool    `json:"disabled"`
	Fault       string  `json:"fault,omitempty"`
}

// Orchestrator polls every slot on a fixed cadence, runs each slot's Machine
// and routes what comes out to the MeasurementLog and the Sink.
// All slot processing happens on the goroutine calling Run, one slot at a time.
type Orchestrator struct {
	cfg      Config
	reader   VoltageReader
	relays   RelayActuator
	sink     Sink
	recorder Recorder
	log      logrus.FieldLogger
	now      func() time.Time
	after    func(time.Duration) <-chan time.Time

	measurements *MeasurementLog
	slots        []SlotID
	machines     map[SlotID]*Machine
	states       map[SlotID]*SlotState

	mu     sync.RWMutex
	status map[SlotID]SlotStatus
}

func NewOrchestrator(cfg Config, reader VoltageReader, relays RelayActuator, sink Sink, opts Options) (*Orchestrator, error) {
	if len(cfg.Slots) == 0 {
		return nil, configErrorf("slots", "no slots configured")
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	slots := make([]SlotID, len(cfg.Slots))
	copy(slots, cfg.Slots)
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })
	for i := 1; i < len(slots); i++ {
		if slots[i] == slots[i-1] {
			return nil, configErrorf("slots", "%s configured twice", slots[i])
		}
	}

	o := &Orchestrator{
		cfg:          cfg,
		reader:       reader,
		relays:       relays,
		sink:         sink,
		recorder:     opts.Recorder,
		log:          opts.Log,
		now:          opts.Clock,
		after:        opts.After,
		measurements: NewMeasurementLog(cfg.RecentMeasurements),
		slots:        slots,
		machines:     map[SlotID]*Machine{},
		states:       map[SlotID]*SlotState{},
		status:       map[SlotID]SlotStatus{},
	}
	if o.log == nil {
		o.log = logrus.StandardLogger()
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.after == nil {
		o.after = time.After
	}

	acc := Accumulator{SampleInterval: cfg.PollInterval, LoadResistance: cfg.LoadResistance}
	for _, id := range slots {
		m, err := NewMachine(id, cfg.Thresholds, relays, acc, o.measurements)
		if err != nil {
			return nil, err
		}
		o.machines[id] = m
		o.states[id] = NewSlotState()
		o.updateStatus(id)
	}
	return o, nil
}

// Measurements returns the log of every slot's measurements.
func (o *Orchestrator) Measurements() *MeasurementLog {
	return o.measurements
}

// Slots returns the configured slots in polling order.
func (o *Orchestrator) Slots() []SlotID {
	out := make([]SlotID, len(o.slots))
	copy(out, o.slots)
	return out
}

// Status returns a snapshot of every slot. It is safe to call from any goroutine.
func (o *Orchestrator) Status() []SlotStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]SlotStatus, 0, len(o.slots))
	for _, id := range o.slots {
		out = append(out, o.status[id])
	}
	return out
}

func (o *Orchestrator) updateStatus(id SlotID) {
	st := o.states[id]
	s := SlotStatus{
		Slot:        id,
		State:       st.State,
		LastVoltage: st.LastVoltage,
		RelayOpen:   st.RelayOpen,
		Testing:     st.Testing,
		Session:     st.Session,
		Disabled:    st.Disabled,
	}
	if st.Fault != nil {
		s.Fault = st.Fault.Error()
	}
	o.mu.Lock()
	o.status[id] = s
	o.mu.Unlock()
}

// Run primes the slots and then ticks every poll interval until ctx is done.
// The context is only checked between ticks. However Run returns, every relay
// is opened first.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer func() {
		if r := recover(); r != nil {
			o.log.Errorf("Panic in test loop, opening all relays: %v", r)
			if err := o.Shutdown(); err != nil {
				o.log.Error(err)
			}
			panic(r)
		}
	}()

	o.Prime()
	for {
		select {
		case <-ctx.Done():
			o.log.Info("Stopping, opening all relays")
			return o.Shutdown()
		case <-o.after(o.cfg.PollInterval):
		}
		o.Tick()
	}
}

// Prime puts every relay in a known open state and gives each slot a first
// reading. A charged battery already in a slot starts its test straight away.
func (o *Orchestrator) Prime() {
	o.log.Infof("Priming %d slots", len(o.slots))
	for _, id := range o.slots {
		if err := o.relays.Open(id); err != nil {
			o.fault(id, &ActuatorError{Slot: id, Op: "opening", Err: err})
			continue
		}
		o.states[id].RelayOpen = true
		o.tickSlot(id)
	}
}

// Tick processes every slot once, in slot order.
func (o *Orchestrator) Tick() {
	for _, id := range o.slots {
		o.tickSlot(id)
	}
}

func (o *Orchestrator) tickSlot(id SlotID) {
	st := o.states[id]
	if st.Disabled {
		return
	}
	log := o.log.WithField("slot", int(id))

	v, err := o.read(id)
	if err != nil {
		log.Error(err)
		return
	}

	tr, err := o.machines[id].Step(st, o.now(), v)
	o.record(tr.Measurement)
	if tr.From != tr.To {
		log.Infof("%s -> %s at %.3fV (session %d)", tr.From, tr.To, v, st.Session)
	} else {
		log.Debugf("%s at %.3fV", tr.To, v)
	}
	if tr.Closed != nil {
		o.measurements.CloseSession(*tr.Closed)
	}
	for _, e := range tr.Events {
		o.publish(log, e)
	}
	if err != nil {
		o.fault(id, err)
	}
	o.updateStatus(id)
}

func (o *Orchestrator) read(id SlotID) (float64, error) {
	v, err := o.reader.ReadVoltage(id)
	if err != nil {
		var re *ReadError
		if errors.As(err, &re) {
			return 0, err
		}
		return 0, &ReadError{Slot: id, Err: err}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &ReadError{Slot: id, Err: fmt.Errorf("invalid reading %v", v)}
	}
	return v, nil
}

func (o *Orchestrator) record(m Measurement) {
	o.measurements.Append(m)
	if o.recorder == nil {
		return
	}
	if err := o.recorder.Record(m); err != nil {
		o.log.Warnf("Failed to record measurement of %s: %v", m.Slot, err)
	}
}

func (o *Orchestrator) publish(log logrus.FieldLogger, e Event) {
	switch ev := e.(type) {
	case Warning:
		log.Warnf("Battery at %.3fV is not charged enough to test", ev.Voltage)
	case CapacityReport:
		if ev.Defined {
			log.Infof("Session %d tested at %.3f mAh over %s", ev.Session, ev.CapacityMAh, ev.Duration)
		} else {
			log.Warnf("Session %d capacity undefined: %v", ev.Session,
				&CapacityError{Slot: ev.Slot, Session: ev.Session, Samples: ev.Samples})
		}
	}
	if o.sink == nil {
		return
	}
	if err := o.sink.Publish(e); err != nil {
		log.Errorf("Failed to publish event: %v", err)
	}
}

// fault disables a slot whose relay failed, tells the operator and makes a
// last attempt at disconnecting the load.
func (o *Orchestrator) fault(id SlotID, err error) {
	st := o.states[id]
	st.Disabled = true
	if st.Fault == nil {
		st.Fault = err
	}
	log := o.log.WithField("slot", int(id))
	log.Errorf("Testing disabled: %v", err)
	o.publish(log, SlotFault{Slot: id, Time: o.now(), Err: err})
	if err := o.relays.Open(id); err != nil {
		log.Errorf("Relay still not responding: %v", err)
	} else {
		st.RelayOpen = true
	}
	o.updateStatus(id)
}

// Shutdown opens every relay whatever state its slot is in.
func (o *Orchestrator) Shutdown() error {
	var errs []error
	for _, id := range o.slots {
		if err := o.relays.Open(id); err != nil {
			errs = append(errs, &ActuatorError{Slot: id, Op: "opening", Err: err})
			continue
		}
		o.states[id].RelayOpen = true
		o.updateStatus(id)
	}
	return errors.Join(errs...)
}
