package loop

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericogr/max31855-to-mqtt/pkg/max31855"
	"github.com/ericogr/max31855-to-mqtt/pkg/pinio"
	"github.com/ericogr/max31855-to-mqtt/pkg/sensor"
	"github.com/ericogr/max31855-to-mqtt/pkg/series"
)

const (
	clk  = 23
	data = 22
)

// countingSensor wraps a sensor and counts Close calls.
type countingSensor struct {
	sensor.Sensor
	closes int
}

func (c *countingSensor) Close() error {
	c.closes++
	return c.Sensor.Close()
}

type recordingSink struct {
	ticks     [][]sensor.Reading
	onPublish func(n int)
}

func (s *recordingSink) Publish(rs []sensor.Reading) error {
	s.ticks = append(s.ticks, rs)
	if s.onPublish != nil {
		s.onPublish(len(s.ticks))
	}
	return nil
}

func ok(tc float64) max31855.Frame { return max31855.EncodeFrame(tc, 20, max31855.FaultNone) }

func setup(t *testing.T, policy sensor.Policy, sources map[int]max31855.FrameSource, cs ...int) (*max31855.SimBus, *countingSensor, *series.Buffer) {
	t.Helper()
	sim := max31855.NewSimBus(clk, data)
	for pin, src := range sources {
		sim.Attach(pin, src)
	}
	s, err := sensor.NewSampler(sim, clk, data, cs, sensor.Celsius, policy)
	require.NoError(t, err)
	return sim, &countingSensor{Sensor: s}, series.New(cs)
}

func TestRunCompletes(t *testing.T) {
	sim, s, buf := setup(t, sensor.HaltOnFault, map[int]max31855.FrameSource{
		4:  max31855.Constant(ok(25)),
		17: max31855.Constant(ok(30)),
	}, 4, 17)
	sink := &recordingSink{}
	c := New(s, buf, sink, Options{MaxTicks: 3})
	assert.Equal(t, Idle, c.State())

	res := c.Run(context.Background())
	assert.Equal(t, Completed, res.Reason)
	assert.NoError(t, res.Err)
	assert.Equal(t, 3, res.Ticks)
	assert.Equal(t, Stopped, c.State())

	assert.Equal(t, 3, buf.Ticks())
	assert.Len(t, buf.Column(0), 3)
	assert.Len(t, buf.Column(1), 3)
	assert.Equal(t, []float64{25, 25, 25}, buf.Values(0))
	assert.Len(t, sink.ticks, 3)
	for i, rs := range sink.ticks {
		require.Len(t, rs, 2)
		assert.Equal(t, i, rs[0].Tick)
	}

	assert.Equal(t, 1, s.closes)
	assert.Equal(t, pinio.Input, sim.Direction(clk))
}

func TestRunFaultHalt(t *testing.T) {
	_, s, buf := setup(t, sensor.HaltOnFault, map[int]max31855.FrameSource{
		4:  max31855.Sequence(ok(25), ok(25), ok(25), max31855.EncodeFrame(0, 20, max31855.FaultOpenCircuit)),
		17: max31855.Constant(ok(30)),
	}, 4, 17)
	sink := &recordingSink{}
	res := New(s, buf, sink, Options{MaxTicks: 10}).Run(context.Background())

	assert.Equal(t, FaultHalt, res.Reason)
	assert.Equal(t, 1, res.Ticks)
	var fe *max31855.FaultError
	require.True(t, errors.As(res.Err, &fe))
	assert.Equal(t, max31855.FaultOpenCircuit, fe.Fault)

	assert.Equal(t, 1, buf.Ticks())
	assert.Len(t, buf.Column(0), 1)
	assert.Len(t, buf.Column(1), 1)

	// the faulting tick still reached the sink
	require.Len(t, sink.ticks, 2)
	assert.Equal(t, max31855.FaultOpenCircuit, sink.ticks[1][0].Fault)
	assert.Equal(t, 1, s.closes)
}

func TestRunQuarantineContinues(t *testing.T) {
	_, s, buf := setup(t, sensor.QuarantineFaultingChannel, map[int]max31855.FrameSource{
		4:  max31855.Constant(max31855.EncodeFrame(0, 20, max31855.FaultShortToGround)),
		17: max31855.Constant(ok(30)),
	}, 4, 17)
	res := New(s, buf, nil, Options{MaxTicks: 4}).Run(context.Background())

	assert.Equal(t, Completed, res.Reason)
	assert.Equal(t, 4, buf.Ticks())
	for _, r := range buf.Column(0) {
		assert.Equal(t, max31855.FaultShortToGround, r.Fault)
	}
	assert.Equal(t, []float64{30, 30, 30, 30}, buf.Values(1))
}

func TestRunAllQuarantined(t *testing.T) {
	_, s, buf := setup(t, sensor.QuarantineFaultingChannel, map[int]max31855.FrameSource{
		4: max31855.Sequence(ok(1), ok(1), ok(1), max31855.EncodeFrame(0, 20, max31855.FaultUnknown)),
	}, 4)
	res := New(s, buf, nil, Options{MaxTicks: 10}).Run(context.Background())
	assert.Equal(t, FaultHalt, res.Reason)
	assert.ErrorIs(t, res.Err, sensor.ErrAllQuarantined)
	assert.Equal(t, 2, buf.Ticks())
}

func TestRunInterruptedBetweenCycles(t *testing.T) {
	_, s, buf := setup(t, sensor.HaltOnFault, map[int]max31855.FrameSource{
		4: max31855.Constant(ok(25)),
	}, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := &recordingSink{onPublish: func(n int) {
		if n == 1 {
			cancel()
		}
	}}
	res := New(s, buf, sink, Options{Interval: time.Hour}).Run(ctx)

	assert.Equal(t, Interrupted, res.Reason)
	assert.Equal(t, 1, res.Ticks, "tick in progress completes")
	assert.Equal(t, 1, buf.Ticks())
	assert.Equal(t, 1, s.closes)
}

func TestRunAlreadyCancelled(t *testing.T) {
	_, s, buf := setup(t, sensor.HaltOnFault, map[int]max31855.FrameSource{4: max31855.Constant(ok(25))}, 4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := New(s, buf, nil, Options{MaxTicks: 3}).Run(ctx)
	assert.Equal(t, Interrupted, res.Reason)
	assert.Equal(t, 0, buf.Ticks())
	assert.Equal(t, 1, s.closes)
}

func TestRunAbortsOnTransportFailure(t *testing.T) {
	sim, s, buf := setup(t, sensor.HaltOnFault, map[int]max31855.FrameSource{4: max31855.Constant(ok(25))}, 4)
	sim.ReadErr = errors.New("gpio gone")
	res := New(s, buf, nil, Options{MaxTicks: 3}).Run(context.Background())
	assert.Equal(t, Aborted, res.Reason)
	assert.ErrorIs(t, res.Err, max31855.ErrTransport)
	assert.Equal(t, 0, buf.Ticks())
	assert.Equal(t, 1, s.closes)
}

func TestRunTwice(t *testing.T) {
	_, s, buf := setup(t, sensor.HaltOnFault, map[int]max31855.FrameSource{4: max31855.Constant(ok(25))}, 4)
	c := New(s, buf, nil, Options{MaxTicks: 1})
	c.Run(context.Background())
	res := c.Run(context.Background())
	assert.Error(t, res.Err)
	assert.Equal(t, 1, s.closes)
}

func TestSleepCtx(t *testing.T) {
	assert.NoError(t, sleepCtx(context.Background(), time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, sleepCtx(ctx, time.Hour))
	assert.Error(t, sleepCtx(ctx, 0))
}
