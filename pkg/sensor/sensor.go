package sensor

import (
	"time"

	"github.com/ericogr/max31855-to-mqtt/pkg/max31855"
)

// Reading is one channel's result for one tick. When Fault is not
// max31855.FaultNone, Value carries no thermocouple temperature. Quarantined
// marks a channel that was not read because an earlier tick faulted; Fault
// then repeats that earlier fault.
type Reading struct {
	Tick        int            `json:"tick"`
	Channel     int            `json:"channel"`
	CS          int            `json:"cs"`
	Unit        Unit           `json:"unit"`
	Value       float64        `json:"value"`
	RefJunction float64        `json:"reference_junction"`
	Fault       max31855.Fault `json:"fault,omitempty"`
	Quarantined bool           `json:"quarantined,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// OK reports whether the reading carries a thermocouple temperature.
func (r Reading) OK() bool { return r.Fault == max31855.FaultNone }

// NewFault reports whether the reading carries a fault detected on this tick.
func (r Reading) NewFault() bool { return !r.OK() && !r.Quarantined }

// Sensor samples every configured channel once per call, in configured order.
type Sensor interface {
	Read(tick int) ([]Reading, error)
	Close() error
}
