package opencv

import (
	"fmt"
	"image"
	"time"

	"github.com/cjeanneret/camcap/internal/debug"
	"github.com/cjeanneret/camcap/internal/hw/display"
	"gocv.io/x/gocv"
)

// Window is a display.Surface backed by an OpenCV HighGUI window.
type Window struct {
	win *gocv.Window
}

// Check that Window implements interface display.Surface.
var _ display.Surface = (*Window)(nil)

// NewWindow opens a preview window with the given title.
func NewWindow(title string) *Window {
	debug.Verbose("Opening preview window %q", title)
	return &Window{win: gocv.NewWindow(title)}
}

// Show converts frame to a BGR Mat, draws the overlays and displays it.
// The overlays go on the converted copy, never on the caller's frame.
func (w *Window) Show(frame image.Image, overlays ...display.Overlay) {
	mat, err := gocv.ImageToMatRGB(frame)
	if err != nil {
		debug.Warn("Cannot convert frame for display: %v", err)
		return
	}
	defer mat.Close()

	for _, o := range overlays {
		gocv.PutText(&mat, o.Text, o.Origin, gocv.FontHersheySimplex, o.Scale, o.Color, o.Thickness)
	}
	w.win.IMShow(mat)
}

// PollKey waits up to timeout for a key press in the window.
func (w *Window) PollKey(timeout time.Duration) display.Key {
	ms := int(timeout / time.Millisecond)
	if ms < 1 {
		ms = 1 // WaitKey(0) blocks forever
	}
	code := w.win.WaitKey(ms)
	if code < 0 {
		return display.KeyNone
	}
	debug.Key(code)
	return display.Key(code & 0xFF)
}

// Close destroys the window.
func (w *Window) Close() error {
	if err := w.win.Close(); err != nil {
		return fmt.Errorf("close window: %w", err)
	}
	return nil
}
