package pinio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

func testHost(pins ...*gpiotest.Pin) *Host {
	byName := map[string]gpio.PinIO{}
	for _, p := range pins {
		byName[p.N] = p
	}
	return newHost(func(name string) gpio.PinIO { return byName[name] })
}

func TestHostWriteRead(t *testing.T) {
	cs := &gpiotest.Pin{N: "4", Num: 4}
	h := testHost(cs)

	require.NoError(t, h.SetDirection(4, Output))
	assert.Equal(t, gpio.High, cs.Read(), "outputs start deselected")

	require.NoError(t, h.Write(4, gpio.Low))
	lvl, err := h.Read(4)
	require.NoError(t, err)
	assert.Equal(t, gpio.Low, lvl)
}

func TestHostUnknownPin(t *testing.T) {
	h := testHost()
	assert.Error(t, h.SetDirection(99, Output))
	assert.Error(t, h.Write(99, gpio.High))
	_, err := h.Read(99)
	assert.Error(t, err)
}

func TestReleaseReturnsFirstError(t *testing.T) {
	cs := &gpiotest.Pin{N: "4", Num: 4}
	h := testHost(cs)

	err := Release(h, 4, 7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "release pin 7")
}
