package sensor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericogr/max31855-to-mqtt/pkg/config"
	"github.com/ericogr/max31855-to-mqtt/pkg/max31855"
	"github.com/ericogr/max31855-to-mqtt/pkg/pinio"
)

const (
	clk  = 23
	data = 22
)

func frame(tc, rj float64) max31855.Frame { return max31855.EncodeFrame(tc, rj, max31855.FaultNone) }

func newSimSampler(t *testing.T, unit Unit, policy Policy, sources map[int]max31855.FrameSource, cs ...int) (*max31855.SimBus, *MAX31855Sensor) {
	t.Helper()
	sim := max31855.NewSimBus(clk, data)
	for pin, src := range sources {
		sim.Attach(pin, src)
	}
	s, err := NewSampler(sim, clk, data, cs, unit, policy)
	require.NoError(t, err)
	return sim, s
}

func TestReadSamplesInConfiguredOrder(t *testing.T) {
	sim, s := newSimSampler(t, Celsius, HaltOnFault, map[int]max31855.FrameSource{
		17: max31855.Constant(frame(100.25, 22.5)),
		4:  max31855.Constant(frame(-10, 21)),
	}, 17, 4)

	rs, err := s.Read(7)
	require.NoError(t, err)
	require.Len(t, rs, 2)

	assert.Equal(t, 0, rs[0].Channel)
	assert.Equal(t, 17, rs[0].CS)
	assert.Equal(t, 100.25, rs[0].Value)
	assert.Equal(t, 22.5, rs[0].RefJunction)
	assert.Equal(t, 7, rs[0].Tick)

	assert.Equal(t, 1, rs[1].Channel)
	assert.Equal(t, 4, rs[1].CS)
	assert.Equal(t, -10.0, rs[1].Value)

	// one frame for the reference junction and one for the thermocouple
	assert.Equal(t, 2, sim.Frames(17))
	assert.Equal(t, 2, sim.Frames(4))
}

func TestReadConvertsUnits(t *testing.T) {
	_, s := newSimSampler(t, Fahrenheit, HaltOnFault, map[int]max31855.FrameSource{
		4: max31855.Constant(frame(100, 0)),
	}, 4)
	rs, err := s.Read(0)
	require.NoError(t, err)
	assert.Equal(t, 212.0, rs[0].Value)
	assert.Equal(t, 32.0, rs[0].RefJunction)
	assert.Equal(t, Fahrenheit, rs[0].Unit)
}

func TestReadHaltsOnFault(t *testing.T) {
	_, s := newSimSampler(t, Celsius, HaltOnFault, map[int]max31855.FrameSource{
		4:  max31855.Constant(max31855.EncodeFrame(0, 20, max31855.FaultOpenCircuit)),
		17: max31855.Constant(frame(50, 20)),
	}, 4, 17)

	rs, err := s.Read(1)
	var fe *max31855.FaultError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, 4, fe.CS)
	assert.Equal(t, max31855.FaultOpenCircuit, fe.Fault)

	// the tick is still complete so the fault can be reported
	require.Len(t, rs, 2)
	assert.Equal(t, max31855.FaultOpenCircuit, rs[0].Fault)
	assert.Equal(t, 20.0, rs[0].RefJunction)
	assert.False(t, rs[0].OK())
	assert.True(t, rs[1].OK())
}

func TestReadQuarantinesFaultingChannel(t *testing.T) {
	sim, s := newSimSampler(t, Celsius, QuarantineFaultingChannel, map[int]max31855.FrameSource{
		4: max31855.Sequence(
			frame(30, 20), frame(30, 20),
			frame(31, 20), max31855.EncodeFrame(0, 20, max31855.FaultShortToVCC),
		),
		17: max31855.Constant(frame(50, 20)),
	}, 4, 17)

	rs, err := s.Read(0)
	require.NoError(t, err)
	assert.True(t, rs[0].OK())

	rs, err = s.Read(1)
	require.NoError(t, err)
	assert.Equal(t, max31855.FaultShortToVCC, rs[0].Fault)
	assert.False(t, rs[0].Quarantined, "first faulted tick is a fresh fault")
	assert.True(t, rs[1].OK())

	rs, err = s.Read(2)
	require.NoError(t, err)
	require.Len(t, rs, 2)
	assert.True(t, rs[0].Quarantined)
	assert.Equal(t, max31855.FaultShortToVCC, rs[0].Fault)
	assert.Equal(t, 2, rs[0].Tick)
	assert.Equal(t, 4, sim.Frames(4), "quarantined channel is not read again")
	assert.Equal(t, 6, sim.Frames(17))
}

func TestReadAllQuarantined(t *testing.T) {
	_, s := newSimSampler(t, Celsius, QuarantineFaultingChannel, map[int]max31855.FrameSource{
		4: max31855.Constant(max31855.EncodeFrame(0, 20, max31855.FaultUnknown)),
	}, 4)
	rs, err := s.Read(0)
	assert.ErrorIs(t, err, ErrAllQuarantined)
	require.Len(t, rs, 1)
}

func TestReadTransportFailure(t *testing.T) {
	sim, s := newSimSampler(t, Celsius, HaltOnFault, map[int]max31855.FrameSource{
		4: max31855.Constant(frame(30, 20)),
	}, 4)
	sim.ReadErr = errors.New("gpio gone")

	rs, err := s.Read(0)
	assert.Nil(t, rs)
	assert.ErrorIs(t, err, max31855.ErrTransport)
}

func TestCloseReleasesAllPins(t *testing.T) {
	sim, s := newSimSampler(t, Celsius, HaltOnFault, nil, 4, 17)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	for _, pin := range []int{4, 17, clk, data} {
		assert.Equal(t, pinio.Input, sim.Direction(pin), "pin %d", pin)
	}
}

func TestNewSamplerReleasesOnError(t *testing.T) {
	sim := max31855.NewSimBus(clk, data)
	_, err := NewSampler(sim, clk, data, []int{4, clk}, Celsius, HaltOnFault)
	require.Error(t, err)
	assert.Equal(t, pinio.Input, sim.Direction(4))
	assert.Equal(t, pinio.Input, sim.Direction(clk))
}

func TestNewMAX31855SensorSimulation(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.SensorType = config.SensorSimulation
	cfg.Units = "k"
	s, err := NewMAX31855Sensor(cfg)
	require.NoError(t, err)
	defer s.Close()

	rs, err := s.Read(0)
	require.NoError(t, err)
	require.Len(t, rs, len(cfg.ChipSelectPins))
	for i, r := range rs {
		assert.Equal(t, cfg.ChipSelectPins[i], r.CS)
		assert.True(t, r.OK())
		assert.InDelta(t, 293.15+5*float64(i), r.Value, 5)
		assert.InDelta(t, 294.15, r.RefJunction, 1)
	}
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("quarantine")
	require.NoError(t, err)
	assert.Equal(t, QuarantineFaultingChannel, p)
	p, err = ParsePolicy("halt")
	require.NoError(t, err)
	assert.Equal(t, HaltOnFault, p)
	_, err = ParsePolicy("ignore")
	assert.Error(t, err)
}
