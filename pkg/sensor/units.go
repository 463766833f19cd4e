package sensor

import (
	"fmt"
	"strings"
)

// Unit is the temperature scale readings are reported in.
type Unit int

const (
	Celsius Unit = iota
	Kelvin
	Fahrenheit
)

const kelvinOffset = 273.15

// ParseUnit accepts the short forms c, k, f as well as the full names.
func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "c", "celsius", "":
		return Celsius, nil
	case "k", "kelvin":
		return Kelvin, nil
	case "f", "fahrenheit":
		return Fahrenheit, nil
	}
	return Celsius, fmt.Errorf("invalid unit %q (want c, k or f)", s)
}

func (u Unit) String() string {
	switch u {
	case Kelvin:
		return "k"
	case Fahrenheit:
		return "f"
	}
	return "c"
}

// Symbol is the unit as displayed next to a value.
func (u Unit) Symbol() string {
	switch u {
	case Kelvin:
		return "K"
	case Fahrenheit:
		return "°F"
	}
	return "°C"
}

func (u Unit) MarshalText() ([]byte, error) { return []byte(u.String()), nil }

func (u *Unit) UnmarshalText(b []byte) error {
	v, err := ParseUnit(string(b))
	if err != nil {
		return err
	}
	*u = v
	return nil
}

// Convert maps a Celsius temperature to u.
func Convert(celsius float64, u Unit) float64 {
	switch u {
	case Kelvin:
		return celsius + kelvinOffset
	case Fahrenheit:
		return celsius*9/5 + 32
	}
	return celsius
}

// ToCelsius is the inverse of Convert.
func ToCelsius(v float64, u Unit) float64 {
	switch u {
	case Kelvin:
		return v - kelvinOffset
	case Fahrenheit:
		return (v - 32) * 5 / 9
	}
	return v
}
