package output

import (
	"github.com/pkg/errors"

	"github.com/ericogr/max31855-to-mqtt/pkg/sensor"
)

type Output interface {
	Publish([]sensor.Reading) error
	Close() error
}

// helper constructors are in subpackages

// Entry is an output published every Every ticks.
type Entry struct {
	Name   string
	Output Output
	Every  int
}

// Fanout publishes a tick to every entry whose interval is due. A tick where
// a fault first appears is published to every entry regardless of interval;
// later ticks of a quarantined channel follow the intervals again.
type Fanout struct {
	entries []Entry
}

func NewFanout(entries ...Entry) *Fanout {
	return &Fanout{entries: entries}
}

func (f *Fanout) Entries() []Entry { return f.entries }

func (f *Fanout) Publish(rs []sensor.Reading) error {
	if len(rs) == 0 {
		return nil
	}
	tick := rs[0].Tick
	faulted := false
	for _, r := range rs {
		if r.NewFault() {
			faulted = true
			break
		}
	}
	var first error
	for _, e := range f.entries {
		if !faulted && e.Every > 1 && tick%e.Every != 0 {
			continue
		}
		if err := e.Output.Publish(rs); err != nil && first == nil {
			first = errors.Wrapf(err, "output %s", e.Name)
		}
	}
	return first
}

func (f *Fanout) Close() error {
	var first error
	for _, e := range f.entries {
		if err := e.Output.Close(); err != nil && first == nil {
			first = errors.Wrapf(err, "close output %s", e.Name)
		}
	}
	return first
}

// EveryTicks converts an output interval into a tick count, at least 1.
func EveryTicks(intervalMs, tickMs int) int {
	if tickMs <= 0 || intervalMs <= tickMs {
		return 1
	}
	return (intervalMs + tickMs/2) / tickMs
}
