package sensor

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/ericogr/max31855-to-mqtt/pkg/config"
	"github.com/ericogr/max31855-to-mqtt/pkg/max31855"
	"github.com/ericogr/max31855-to-mqtt/pkg/pinio"
)

// Policy decides what a thermocouple fault does to the session.
type Policy int

const (
	// HaltOnFault stops the whole session on the first fault of any channel.
	HaltOnFault Policy = iota
	// QuarantineFaultingChannel stops reading a faulted channel and keeps
	// sampling the others.
	QuarantineFaultingChannel
)

func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case config.PolicyHalt, "":
		return HaltOnFault, nil
	case config.PolicyQuarantine:
		return QuarantineFaultingChannel, nil
	}
	return HaltOnFault, fmt.Errorf("invalid fault policy %q", s)
}

func (p Policy) String() string {
	if p == QuarantineFaultingChannel {
		return config.PolicyQuarantine
	}
	return config.PolicyHalt
}

// ErrAllQuarantined is returned by Read once every channel is quarantined.
var ErrAllQuarantined = errors.New("all channels quarantined")

// MAX31855Sensor samples a set of MAX31855 chips sharing one bit-banged bus.
type MAX31855Sensor struct {
	channels    []*Channel
	policy      Policy
	quarantined []max31855.Fault
	bus         io.Closer

	closeOnce sync.Once
	closeErr  error
}

// NewMAX31855Sensor claims the pins described by cfg on the host GPIO, or on
// a simulated bus when cfg.SensorType is "simulation".
func NewMAX31855Sensor(cfg config.Config) (Sensor, error) {
	unit, err := ParseUnit(cfg.Units)
	if err != nil {
		return nil, err
	}
	policy, err := ParsePolicy(cfg.FaultPolicy)
	if err != nil {
		return nil, err
	}
	var pins pinio.PinIO
	if cfg.SensorType == config.SensorSimulation {
		pins = NewSimulatedPins(cfg)
	} else {
		h, err := pinio.NewHost()
		if err != nil {
			return nil, err
		}
		pins = h
	}
	return NewSampler(pins, cfg.ClockPin, cfg.DataPin, cfg.ChipSelectPins, unit, policy)
}

// NewSampler builds one channel per chip-select pin, in the given order. On
// error every pin claimed so far is released.
func NewSampler(pins pinio.PinIO, clock, data int, cs []int, unit Unit, policy Policy) (*MAX31855Sensor, error) {
	bus, err := max31855.NewBus(pins, clock, data)
	if err != nil {
		_ = pinio.Release(pins, clock)
		return nil, err
	}
	channels := make([]*Channel, 0, len(cs))
	s := newSampler(channels, policy, bus)
	for i, pin := range cs {
		dev, err := max31855.New(bus, pin)
		if err != nil {
			_ = pinio.Release(pins, pin)
			_ = s.Close()
			return nil, errors.Wrapf(err, "channel %d", i)
		}
		s.channels = append(s.channels, NewChannel(i, dev, unit))
		s.quarantined = append(s.quarantined, max31855.FaultNone)
		log.WithFields(log.Fields{"channel": i, "device": dev}).Debug("channel ready")
	}
	return s, nil
}

func newSampler(channels []*Channel, policy Policy, bus io.Closer) *MAX31855Sensor {
	return &MAX31855Sensor{
		channels:    channels,
		policy:      policy,
		quarantined: make([]max31855.Fault, len(channels)),
		bus:         bus,
	}
}

func (s *MAX31855Sensor) Channels() []*Channel { return s.channels }

// Read samples every channel in configured order and stamps the readings
// with tick. A transport error aborts the tick and no readings are returned.
// Under HaltOnFault a fault still completes the tick; the readings are
// returned together with a *max31855.FaultError for the first faulted channel.
func (s *MAX31855Sensor) Read(tick int) ([]Reading, error) {
	out := make([]Reading, 0, len(s.channels))
	var halt error
	for i, ch := range s.channels {
		if f := s.quarantined[i]; f != max31855.FaultNone {
			out = append(out, Reading{
				Tick: tick, Channel: i, CS: ch.CS(), Unit: ch.Unit(),
				Fault: f, Quarantined: true, Timestamp: time.Now(),
			})
			continue
		}
		r, err := ch.ReadReading()
		if err != nil {
			return nil, errors.Wrapf(err, "channel %d (cs %d)", i, ch.CS())
		}
		r.Tick = tick
		if !r.OK() {
			entry := log.WithFields(log.Fields{"channel": i, "cs": ch.CS(), "tick": tick, "fault": r.Fault.String()})
			if s.policy == QuarantineFaultingChannel {
				entry.Warn("thermocouple fault, quarantining channel")
				// reported as a fresh fault on this tick, as quarantined from
				// the next one on
				s.quarantined[i] = r.Fault
			} else {
				entry.Error("thermocouple fault")
				if halt == nil {
					halt = &max31855.FaultError{CS: ch.CS(), Fault: r.Fault}
				}
			}
		}
		out = append(out, r)
	}
	if halt != nil {
		return out, halt
	}
	if s.policy == QuarantineFaultingChannel && s.allQuarantined() {
		return out, ErrAllQuarantined
	}
	return out, nil
}

func (s *MAX31855Sensor) allQuarantined() bool {
	for _, f := range s.quarantined {
		if f == max31855.FaultNone {
			return false
		}
	}
	return len(s.quarantined) > 0
}

// Close releases every chip-select line and then the bus. Safe to call more
// than once and on a partially built sampler.
func (s *MAX31855Sensor) Close() error {
	s.closeOnce.Do(func() {
		for _, ch := range s.channels {
			if err := ch.Close(); err != nil && s.closeErr == nil {
				s.closeErr = err
			}
		}
		if s.bus != nil {
			if err := s.bus.Close(); err != nil && s.closeErr == nil {
				s.closeErr = err
			}
		}
	})
	return s.closeErr
}
