package sensor

import (
	"time"

	"github.com/ericogr/max31855-to-mqtt/pkg/max31855"
)

// Device is one thermocouple converter as seen by a Channel.
// *max31855.Dev implements it.
type Device interface {
	CS() int
	ReferenceJunction() (float64, error)
	Thermocouple() (float64, max31855.Fault, error)
	Close() error
}

// Channel pairs a device with its position in the configured order and the
// unit its readings are reported in.
type Channel struct {
	index int
	dev   Device
	unit  Unit
}

func NewChannel(index int, dev Device, unit Unit) *Channel {
	return &Channel{index: index, dev: dev, unit: unit}
}

func (c *Channel) Index() int { return c.index }
func (c *Channel) CS() int    { return c.dev.CS() }
func (c *Channel) Unit() Unit { return c.unit }

// ReadReading takes two separate acquisitions: one for the reference
// junction and one for the thermocouple. The two values may therefore come
// from different conversions of the chip. A thermocouple fault is returned in
// the reading; the reference junction value is kept either way.
func (c *Channel) ReadReading() (Reading, error) {
	r := Reading{Channel: c.index, CS: c.dev.CS(), Unit: c.unit, Timestamp: time.Now()}

	rj, err := c.dev.ReferenceJunction()
	if err != nil {
		return r, err
	}
	r.RefJunction = Convert(rj, c.unit)

	tc, fault, err := c.dev.Thermocouple()
	if err != nil {
		return r, err
	}
	if fault != max31855.FaultNone {
		r.Fault = fault
		return r, nil
	}
	r.Value = Convert(tc, c.unit)
	return r, nil
}

func (c *Channel) Close() error { return c.dev.Close() }
