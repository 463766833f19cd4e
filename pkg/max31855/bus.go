package max31855

import (
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"

	"github.com/ericogr/max31855-to-mqtt/pkg/pinio"
)

var (
	// ErrTransport marks a failure of the underlying pin I/O. It is fatal:
	// no partial frame is ever returned.
	ErrTransport = errors.New("max31855: transport failure")
	// ErrClosed indicates the bus or device was closed.
	ErrClosed = errors.New("max31855: closed")
)

// Bus is the clock and data line pair shared by every chip on it. One frame
// read owns both lines from chip-select low to chip-select high.
type Bus struct {
	mu    sync.Mutex
	pins  pinio.PinIO
	clock int
	data  int
	open  bool
}

// NewBus claims the clock line as an output idling high and the data line
// as an input.
func NewBus(p pinio.PinIO, clock, data int) (*Bus, error) {
	b := &Bus{pins: p, clock: clock, data: data}
	if err := p.SetDirection(clock, pinio.Output); err != nil {
		return nil, transport(err, "claim clock")
	}
	if err := p.Write(clock, gpio.High); err != nil {
		return nil, transport(err, "idle clock")
	}
	if err := p.SetDirection(data, pinio.Input); err != nil {
		return nil, transport(err, "claim data")
	}
	b.open = true
	return b, nil
}

func (b *Bus) Clock() int { return b.clock }
func (b *Bus) Data() int  { return b.data }

// ReadFrame selects the chip on cs and clocks in 32 bits, MSB first.
func (b *Bus) ReadFrame(cs int) (Frame, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return 0, ErrClosed
	}

	if err := b.pins.Write(cs, gpio.Low); err != nil {
		return 0, transport(err, "select cs %d", cs)
	}
	var f Frame
	for i := 0; i < frameBits; i++ {
		if err := b.pins.Write(b.clock, gpio.Low); err != nil {
			return 0, transport(err, "clock low")
		}
		lvl, err := b.pins.Read(b.data)
		if err != nil {
			return 0, transport(err, "read data")
		}
		f <<= 1
		if lvl == gpio.High {
			f |= 1
		}
		if err := b.pins.Write(b.clock, gpio.High); err != nil {
			return 0, transport(err, "clock high")
		}
	}
	if err := b.pins.Write(cs, gpio.High); err != nil {
		return 0, transport(err, "deselect cs %d", cs)
	}
	return f, nil
}

// claim configures a chip-select line as an output left deselected (high).
func (b *Bus) claim(cs int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return ErrClosed
	}
	if cs == b.clock || cs == b.data {
		return errors.Errorf("max31855: cs %d collides with bus lines", cs)
	}
	if err := b.pins.SetDirection(cs, pinio.Output); err != nil {
		return transport(err, "claim cs %d", cs)
	}
	if err := b.pins.Write(cs, gpio.High); err != nil {
		return transport(err, "deselect cs %d", cs)
	}
	return nil
}

func (b *Bus) release(cs int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return pinio.Release(b.pins, cs)
}

// Close returns the clock line to input. The data line is already an input.
// Closing twice is a no-op.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return nil
	}
	b.open = false
	return pinio.Release(b.pins, b.clock)
}

type transportError struct {
	err error
}

func (e *transportError) Error() string { return ErrTransport.Error() + ": " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }
func (e *transportError) Is(target error) bool {
	return target == ErrTransport
}

func transport(err error, format string, args ...interface{}) error {
	return &transportError{err: errors.Wrapf(err, format, args...)}
}
