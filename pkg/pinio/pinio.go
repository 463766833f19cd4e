// Package pinio is the pin-level I/O primitive the bit-banged transport runs on.
//
// Pins are addressed by their numeric id (BCM numbering on a Raspberry Pi).
// Levels use periph's gpio.Level so host and simulated implementations
// share one vocabulary.
package pinio

import (
	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
)

type Direction int

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	if d == Output {
		return "out"
	}
	return "in"
}

// PinIO drives and samples individual pins. A pin switched to Output starts
// high: chip-select and clock lines idle high, so no spurious select or clock
// edge is produced while claiming them.
type PinIO interface {
	SetDirection(pin int, dir Direction) error
	Write(pin int, level gpio.Level) error
	Read(pin int) (gpio.Level, error)
}

// Release returns every pin to input. All pins are attempted even if one
// fails; the first error is returned.
func Release(p PinIO, pins ...int) error {
	var first error
	for _, pin := range pins {
		if err := p.SetDirection(pin, Input); err != nil && first == nil {
			first = errors.Wrapf(err, "release pin %d", pin)
		}
	}
	return first
}
