package buttons

import (
	"fmt"
	"time"

	"github.com/cjeanneret/camcap/internal/debug"
	"github.com/cjeanneret/camcap/internal/hw/display"
	"github.com/cjeanneret/camcap/internal/hw/gpio"
)

// Pins are the BCM numbers of the push buttons. Buttons connect the pin to
// GND when pressed (active LOW, internal pull-up).
type Pins struct {
	Capture int
	Quit    int
}

// Surface adds GPIO push buttons to another display.Surface. A press of the
// capture button reads as display.KeySpace and a press of the quit button as
// display.KeyEscape. Keys from the wrapped surface take precedence.
type Surface struct {
	display.Surface
	gpio gpio.Driver
	pins Pins
	prev map[int]gpio.Level
}

// Check that Surface implements interface display.Surface.
var _ display.Surface = (*Surface)(nil)

// Wrap configures both pins as pulled-up inputs and returns the combined surface.
func Wrap(s display.Surface, g gpio.Driver, pins Pins) (*Surface, error) {
	for _, pin := range []int{pins.Capture, pins.Quit} {
		if err := g.SetupPin(pin, gpio.InputPullUp); err != nil {
			return nil, fmt.Errorf("setup button pin %d: %w", pin, err)
		}
	}
	debug.Verbose("Buttons: capture=%d quit=%d", pins.Capture, pins.Quit)
	return &Surface{
		Surface: s,
		gpio:    g,
		pins:    pins,
		prev: map[int]gpio.Level{
			pins.Capture: gpio.High,
			pins.Quit:    gpio.High,
		},
	}, nil
}

// PollKey polls the wrapped surface first, then samples the buttons.
// Quit wins if both buttons went down during the same poll.
func (b *Surface) PollKey(timeout time.Duration) display.Key {
	if k := b.Surface.PollKey(timeout); k != display.KeyNone {
		return k
	}
	quit := b.pressed(b.pins.Quit)
	capture := b.pressed(b.pins.Capture)
	switch {
	case quit:
		debug.Live("Quit button pressed")
		return display.KeyEscape
	case capture:
		debug.Live("Capture button pressed")
		return display.KeySpace
	}
	return display.KeyNone
}

// pressed reports a HIGH to LOW transition since the previous sample.
// Read errors count as released.
func (b *Surface) pressed(pin int) bool {
	level, err := b.gpio.ReadPin(pin)
	if err != nil {
		debug.Trace("read button pin %d: %v", pin, err)
		level = gpio.High
	}
	was := b.prev[pin]
	b.prev[pin] = level
	return was == gpio.High && level == gpio.Low
}
