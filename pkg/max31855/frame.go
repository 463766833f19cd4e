// Package max31855 talks to MAX31855 cold-junction compensated
// thermocouple-to-digital converters over a bit-banged, read-only SPI bus.
//
// The chip shifts out one 32 bit frame per chip-select cycle:
//
//	D31..D18  thermocouple temperature, 14 bit two's complement, 0.25°C/LSB
//	D16       fault (any of D0..D2)
//	D15..D4   reference junction temperature, 12 bit two's complement, 0.0625°C/LSB
//	D2        short to VCC
//	D1        short to GND
//	D0        open circuit
//
// Several chips may share the clock and data lines as long as each one has
// its own chip-select line.
//
// Datasheet: https://datasheets.maximintegrated.com/en/ds/MAX31855.pdf
package max31855

import "math"

// Frame is one raw 32 bit acquisition, MSB first on the wire.
type Frame uint32

const (
	frameBits = 32

	tcShift      = 18
	tcFieldMask  = 0x3FFF
	tcSignBit    = 0x2000
	tcMagnitude  = 0x1FFF
	tcResolution = 0.25

	rjShift      = 4
	rjFieldMask  = 0xFFF
	rjSignBit    = 0x800
	rjMagnitude  = 0x7FF
	rjResolution = 0.0625

	bitFault         = 1 << 16
	bitOpenCircuit   = 1 << 0
	bitShortToGround = 1 << 1
	bitShortToVCC    = 1 << 2
)

// ThermocoupleField returns the thermocouple temperature in °C. The fault
// bits must be checked first: the field is meaningless on a faulted frame.
func ThermocoupleField(f Frame) float64 {
	field := uint32(f>>tcShift) & tcFieldMask
	return decodeField(field, tcSignBit, tcMagnitude, tcResolution)
}

// ReferenceJunctionField returns the chip's internal (cold junction)
// temperature in °C.
func ReferenceJunctionField(f Frame) float64 {
	field := uint32(f>>rjShift) & rjFieldMask
	return decodeField(field, rjSignBit, rjMagnitude, rjResolution)
}

func decodeField(field, sign, magnitude uint32, resolution float64) float64 {
	if field&sign != 0 {
		m := (^field & magnitude) + 1
		return -float64(m) * resolution
	}
	return float64(field&magnitude) * resolution
}

// EncodeFrame builds the frame a chip would emit for the given temperatures
// and fault. Temperatures are rounded to the field resolution and clamped to
// the field range.
func EncodeFrame(tc, rj float64, fault Fault) Frame {
	f := Frame(encodeField(tc, tcResolution, tcFieldMask)) << tcShift
	f |= Frame(encodeField(rj, rjResolution, rjFieldMask)) << rjShift
	switch fault {
	case FaultNone:
	case FaultOpenCircuit:
		f |= bitFault | bitOpenCircuit
	case FaultShortToGround:
		f |= bitFault | bitShortToGround
	case FaultShortToVCC:
		f |= bitFault | bitShortToVCC
	default:
		f |= bitFault
	}
	return f
}

func encodeField(celsius, resolution float64, mask uint32) uint32 {
	limit := float64(mask >> 1)
	lsb := math.Round(celsius / resolution)
	lsb = math.Max(-limit-1, math.Min(limit, lsb))
	return uint32(int32(lsb)) & mask
}
