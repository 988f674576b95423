// Package hostgpio wires the host build's status indicator and
// force-upgrade key to real GPIO lines via github.com/piotrjaromin/gpio,
// the same library and setup shape as the teacher's flash/mcu.go
// setupPins.
//
// A target firmware build instead wires bootorch's Indicator/KeyReader
// interfaces directly to MMIO GPIO registers; hostgpio exists purely
// for cmd/iapsim and host integration tests that want to observe or
// drive real pins.
package hostgpio

import (
	"github.com/piotrjaromin/gpio"
	"github.com/pkg/errors"
)

// IndicatorPin drives the status/progress indicator output described
// in spec.md §6.
type IndicatorPin struct {
	pin gpio.Pin
}

// NewIndicatorPin opens pinNum as an output, initially low.
func NewIndicatorPin(pinNum uint) (*IndicatorPin, error) {
	p, err := gpio.NewOutput(pinNum, false)
	if err != nil {
		return nil, errors.Wrap(err, "hostgpio: open indicator pin")
	}
	return &IndicatorPin{pin: p}, nil
}

// Set drives the indicator high (on) or low (off).
func (i *IndicatorPin) Set(on bool) {
	if on {
		i.pin.High()
	} else {
		i.pin.Low()
	}
}

// Close releases the pin.
func (i *IndicatorPin) Close() {
	i.pin.Cleanup()
}

// KeyPin reads the force-upgrade key input described in spec.md §6
// (high = pressed).
type KeyPin struct {
	pin gpio.Pin
}

// NewKeyPin opens pinNum as an input.
func NewKeyPin(pinNum uint) (*KeyPin, error) {
	p, err := gpio.NewInput(pinNum)
	if err != nil {
		return nil, errors.Wrap(err, "hostgpio: open key pin")
	}
	return &KeyPin{pin: p}, nil
}

// Pressed reports whether the key is currently asserted.
func (k *KeyPin) Pressed() bool {
	value, err := k.pin.Read()
	if err != nil {
		return false
	}
	return value != 0
}

// Close releases the pin.
func (k *KeyPin) Close() {
	k.pin.Cleanup()
}
