package pinio

import (
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Host is a PinIO backed by the periph.io host drivers.
type Host struct {
	mu   sync.Mutex
	pins map[int]gpio.PinIO
	// lookup resolves a pin name; gpioreg.ByName outside of tests.
	lookup func(name string) gpio.PinIO
}

// NewHost initialises the periph host drivers.
func NewHost() (*Host, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "host init")
	}
	return newHost(gpioreg.ByName), nil
}

func newHost(lookup func(string) gpio.PinIO) *Host {
	return &Host{pins: make(map[int]gpio.PinIO), lookup: lookup}
}

func (h *Host) pin(n int) (gpio.PinIO, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.pins[n]; ok {
		return p, nil
	}
	p := h.lookup(strconv.Itoa(n))
	if p == nil {
		return nil, errors.Errorf("gpio %d not found", n)
	}
	h.pins[n] = p
	return p, nil
}

func (h *Host) SetDirection(n int, dir Direction) error {
	p, err := h.pin(n)
	if err != nil {
		return err
	}
	if dir == Output {
		err = p.Out(gpio.High)
	} else {
		err = p.In(gpio.PullNoChange, gpio.NoEdge)
	}
	return errors.Wrapf(err, "gpio %d: set direction %s", n, dir)
}

func (h *Host) Write(n int, level gpio.Level) error {
	p, err := h.pin(n)
	if err != nil {
		return err
	}
	return errors.Wrapf(p.Out(level), "gpio %d: write", n)
}

func (h *Host) Read(n int) (gpio.Level, error) {
	p, err := h.pin(n)
	if err != nil {
		return gpio.Low, err
	}
	return p.Read(), nil
}

var _ PinIO = (*Host)(nil)
