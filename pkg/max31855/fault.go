package max31855

import "fmt"

// Fault is the sensor fault reported in a frame's status bits.
type Fault int

const (
	FaultNone Fault = iota
	FaultOpenCircuit
	FaultShortToGround
	FaultShortToVCC
	FaultUnknown
)

func (f Fault) String() string {
	switch f {
	case FaultNone:
		return "ok"
	case FaultOpenCircuit:
		return "no connection"
	case FaultShortToGround:
		return "thermocouple short to ground"
	case FaultShortToVCC:
		return "thermocouple short to VCC"
	case FaultUnknown:
		return "unknown error"
	}
	return fmt.Sprintf("fault(%d)", int(f))
}

// Classify inspects the status bits of a frame. When the fault flag is set
// the individual bits are checked in the order open circuit, short to ground,
// short to VCC; open circuit wins when several are set.
func Classify(f Frame) Fault {
	switch {
	case f&bitFault == 0:
		return FaultNone
	case f&bitOpenCircuit != 0:
		return FaultOpenCircuit
	case f&bitShortToGround != 0:
		return FaultShortToGround
	case f&bitShortToVCC != 0:
		return FaultShortToVCC
	}
	// Fault flag without a cause, usually another device driving the data
	// line because its chip select was left floating.
	return FaultUnknown
}

// FaultError carries a sensor fault through an error return.
type FaultError struct {
	CS    int
	Fault Fault
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("max31855 cs=%d: %s", e.CS, e.Fault)
}

func (f Fault) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}
