// Package series keeps the per-channel time series of a sampling session.
package series

import (
	"fmt"
	"math"
	"sync"

	"github.com/ericogr/max31855-to-mqtt/pkg/sensor"
)

// Buffer holds one append-only column per channel. After every AppendTick all
// columns have the same length, equal to the number of ticks appended.
type Buffer struct {
	mu      sync.RWMutex
	cs      []int
	columns [][]sensor.Reading
}

// New creates a buffer for channels identified by their chip-select pins, in
// configured order.
func New(cs []int) *Buffer {
	b := &Buffer{cs: append([]int(nil), cs...), columns: make([][]sensor.Reading, len(cs))}
	for i := range b.columns {
		b.columns[i] = make([]sensor.Reading, 0, 64)
	}
	return b
}

// AppendTick adds one entry per channel. rs must hold exactly one reading per
// channel in configured order; anything else is a programming error and
// panics.
func (b *Buffer) AppendTick(rs []sensor.Reading) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(rs) != len(b.columns) {
		panic(fmt.Sprintf("series: tick has %d entries, want %d", len(rs), len(b.columns)))
	}
	for i, r := range rs {
		if r.Channel != i {
			panic(fmt.Sprintf("series: entry %d belongs to channel %d", i, r.Channel))
		}
	}
	for i := range b.columns {
		b.columns[i] = append(b.columns[i], sensor.Reading{})
	}
	t := len(b.columns[0]) - 1
	for i, r := range rs {
		b.columns[i][t] = r
	}
}

// Ticks is the number of ticks appended so far.
func (b *Buffer) Ticks() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.columns) == 0 {
		return 0
	}
	return len(b.columns[0])
}

// Channels returns the chip-select pin of each column.
func (b *Buffer) Channels() []int {
	return append([]int(nil), b.cs...)
}

// Column returns a copy of channel i's readings.
func (b *Buffer) Column(i int) []sensor.Reading {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]sensor.Reading(nil), b.columns[i]...)
}

// Values returns channel i's temperatures with NaN where the tick faulted.
func (b *Buffer) Values(i int) []float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]float64, len(b.columns[i]))
	for t, r := range b.columns[i] {
		if r.OK() {
			out[t] = r.Value
		} else {
			out[t] = math.NaN()
		}
	}
	return out
}
