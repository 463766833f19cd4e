package sensor

import (
	"math/rand"
	"sync"

	"github.com/ericogr/max31855-to-mqtt/pkg/config"
	"github.com/ericogr/max31855-to-mqtt/pkg/max31855"
)

// NewSimulatedPins returns a simulated bus with one chip per configured
// chip-select pin. Each chip reports a thermocouple temperature wandering
// around its own starting point.
func NewSimulatedPins(cfg config.Config) *max31855.SimBus {
	sim := max31855.NewSimBus(cfg.ClockPin, cfg.DataPin)
	for i, cs := range cfg.ChipSelectPins {
		sim.Attach(cs, driftingSource(20+5*float64(i), rand.New(rand.NewSource(int64(cs)))))
	}
	return sim
}

func driftingSource(start float64, rng *rand.Rand) max31855.FrameSource {
	var mu sync.Mutex
	tc := start
	return func() max31855.Frame {
		mu.Lock()
		defer mu.Unlock()
		tc += rng.NormFloat64() * 0.25
		rj := 21 + rng.NormFloat64()*0.05
		return max31855.EncodeFrame(tc, rj, max31855.FaultNone)
	}
}
