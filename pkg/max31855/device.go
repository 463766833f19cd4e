package max31855

import (
	"fmt"
	"sync"
)

// Dev is one MAX31855 selected by its own chip-select line on a shared Bus.
type Dev struct {
	bus *Bus
	cs  int

	mu     sync.Mutex
	closed bool
}

// New claims cs and attaches a chip to the bus.
func New(bus *Bus, cs int) (*Dev, error) {
	if err := bus.claim(cs); err != nil {
		return nil, err
	}
	return &Dev{bus: bus, cs: cs}, nil
}

func (d *Dev) String() string {
	return fmt.Sprintf("max31855{cs=%d clk=%d do=%d}", d.cs, d.bus.clock, d.bus.data)
}

// CS returns the chip-select pin, which identifies the device.
func (d *Dev) CS() int { return d.cs }

// ReadFrame performs one full 32 bit acquisition.
func (d *Dev) ReadFrame() (Frame, error) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}
	return d.bus.ReadFrame(d.cs)
}

// ReferenceJunction reads a frame and returns the internal temperature in °C.
// A fault on the thermocouple does not affect this value.
func (d *Dev) ReferenceJunction() (float64, error) {
	f, err := d.ReadFrame()
	if err != nil {
		return 0, err
	}
	return ReferenceJunctionField(f), nil
}

// Thermocouple reads a frame and returns the thermocouple temperature in °C,
// or the fault found in the frame. The temperature is 0 on a fault.
func (d *Dev) Thermocouple() (float64, Fault, error) {
	f, err := d.ReadFrame()
	if err != nil {
		return 0, FaultNone, err
	}
	if fault := Classify(f); fault != FaultNone {
		return 0, fault, nil
	}
	return ThermocoupleField(f), FaultNone, nil
}

// Close releases the chip-select line. It is safe to call more than once.
func (d *Dev) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.bus.release(d.cs)
}
