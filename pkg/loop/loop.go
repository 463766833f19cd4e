// Package loop drives a sampling session at a fixed cadence.
package loop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/ericogr/max31855-to-mqtt/pkg/max31855"
	"github.com/ericogr/max31855-to-mqtt/pkg/sensor"
	"github.com/ericogr/max31855-to-mqtt/pkg/series"
)

type State int

const (
	Idle State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	}
	return "idle"
}

type StopReason int

const (
	NotStopped StopReason = iota
	// Completed: the configured number of ticks was sampled.
	Completed
	// FaultHalt: a thermocouple fault ended the session.
	FaultHalt
	// Interrupted: the context was cancelled between cycles.
	Interrupted
	// Aborted: the pin transport failed.
	Aborted
)

func (r StopReason) String() string {
	switch r {
	case Completed:
		return "completed"
	case FaultHalt:
		return "fault halt"
	case Interrupted:
		return "interrupted"
	case Aborted:
		return "aborted"
	}
	return "not stopped"
}

// Sink receives every tick's readings, synchronously, in channel order.
type Sink interface {
	Publish([]sensor.Reading) error
}

type Options struct {
	Interval time.Duration
	// MaxTicks ends the session after that many ticks; 0 runs until
	// interrupted or halted.
	MaxTicks int
}

// Result describes how a session ended. Ticks counts the ticks committed to
// the buffer.
type Result struct {
	Reason StopReason
	Ticks  int
	Err    error
}

type Controller struct {
	sensor sensor.Sensor
	buf    *series.Buffer
	sink   Sink
	opts   Options
	sleep  func(context.Context, time.Duration) error

	mu    sync.Mutex
	state State
	tick  int
}

func New(s sensor.Sensor, buf *series.Buffer, sink Sink, opts Options) *Controller {
	return &Controller{sensor: s, buf: buf, sink: sink, opts: opts, sleep: sleepCtx}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Tick() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tick
}

// Run samples until a stop condition is met. Cancelling ctx is honoured only
// between cycles: a tick in progress always finishes. Whatever the outcome,
// the sensor is closed exactly once before Run returns.
func (c *Controller) Run(ctx context.Context) Result {
	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		return Result{Reason: NotStopped, Err: errors.New("loop: already started")}
	}
	c.state = Running
	c.mu.Unlock()

	res := c.run(ctx)

	if err := c.sensor.Close(); err != nil {
		log.WithError(err).Warn("releasing pins")
	}

	c.mu.Lock()
	c.state = Stopped
	c.mu.Unlock()

	entry := log.WithFields(log.Fields{"reason": res.Reason, "ticks": res.Ticks})
	if res.Err != nil {
		entry = entry.WithError(res.Err)
	}
	entry.Info("session stopped")
	return res
}

func (c *Controller) run(ctx context.Context) Result {
	for {
		if ctx.Err() != nil {
			return c.stop(Interrupted, nil)
		}
		if c.opts.MaxTicks > 0 && c.Tick() >= c.opts.MaxTicks {
			return c.stop(Completed, nil)
		}

		tick := c.Tick()
		rs, err := c.sensor.Read(tick)
		var fe *max31855.FaultError
		switch {
		case err == nil:
		case errors.As(err, &fe):
			// the faulting tick is reported but not committed
			c.publish(rs)
			return c.stop(FaultHalt, err)
		case errors.Is(err, sensor.ErrAllQuarantined):
			c.publish(rs)
			c.commit(rs)
			return c.stop(FaultHalt, err)
		default:
			return c.stop(Aborted, err)
		}

		c.publish(rs)
		c.commit(rs)

		if c.opts.MaxTicks > 0 && c.Tick() >= c.opts.MaxTicks {
			return c.stop(Completed, nil)
		}
		if err := c.sleep(ctx, c.opts.Interval); err != nil {
			return c.stop(Interrupted, nil)
		}
	}
}

func (c *Controller) publish(rs []sensor.Reading) {
	if c.sink == nil {
		return
	}
	if err := c.sink.Publish(rs); err != nil {
		log.WithError(err).WithField("tick", c.Tick()).Warn("publish failed")
	}
}

func (c *Controller) commit(rs []sensor.Reading) {
	c.buf.AppendTick(rs)
	c.mu.Lock()
	c.tick++
	c.mu.Unlock()
}

func (c *Controller) stop(reason StopReason, err error) Result {
	return Result{Reason: reason, Ticks: c.Tick(), Err: err}
}

func (r Result) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s after %d ticks: %v", r.Reason, r.Ticks, r.Err)
	}
	return fmt.Sprintf("%s after %d ticks", r.Reason, r.Ticks)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
