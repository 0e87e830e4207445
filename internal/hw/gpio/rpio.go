package gpio

import (
	"fmt"

	"github.com/cjeanneret/camcap/internal/debug"
	"github.com/stianeikeland/go-rpio/v4"
)

// RPiDriver reads Raspberry Pi GPIO inputs through go-rpio. Only pins
// configured with SetupPin can be read.
type RPiDriver struct {
	inputs map[int]rpio.Pin
}

// NewRPiRealDriver maps the GPIO registers. It needs /dev/gpiomem or root.
func NewRPiRealDriver() (*RPiDriver, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("open GPIO: %w (is this a Raspberry Pi?)", err)
	}
	debug.Info("Using go-rpio GPIO driver")
	return &RPiDriver{inputs: make(map[int]rpio.Pin)}, nil
}

func (r *RPiDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	p := rpio.Pin(pin)
	switch mode {
	case Input:
		p.Input()
		p.PullOff()
	case InputPullUp:
		p.Input()
		p.PullUp()
	default:
		return fmt.Errorf("pin %d: unknown mode %d", pin, mode)
	}
	r.inputs[pin] = p
	return nil
}

func (r *RPiDriver) ReadPin(pin int) (Level, error) {
	p, ok := r.inputs[pin]
	if !ok {
		return Low, fmt.Errorf("pin %d is not set up as an input", pin)
	}
	state := p.Read()
	debug.GPIO("ReadPin", pin, state)
	return Level(state == rpio.High), nil
}

// Close removes the pull resistors it enabled and unmaps the registers.
func (r *RPiDriver) Close() error {
	for pin, p := range r.inputs {
		debug.Trace("Releasing pull on pin %d", pin)
		p.PullOff()
	}
	return rpio.Close()
}
