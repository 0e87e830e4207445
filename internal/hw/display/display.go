package display

import (
	"image"
	"image/color"
	"time"
)

// Key is a key code returned by PollKey, reduced to its low byte.
type Key int

const (
	KeyNone   Key = -1
	KeyEscape Key = 27
	KeySpace  Key = 32
	KeyQ      Key = 'q'
)

// Overlay is a line of text drawn on top of a preview frame.
// Origin is the baseline-left corner, as in OpenCV's putText.
type Overlay struct {
	Text      string
	Origin    image.Point
	Scale     float64
	Color     color.RGBA
	Thickness int
}

// Overlay colours used by the capture loop.
var (
	Green = color.RGBA{G: 255, A: 255}
	Red   = color.RGBA{R: 255, A: 255}
	White = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// Surface renders preview frames and reports key presses.
// A Surface is owned by a single capture session and is not safe for
// concurrent use.
type Surface interface {
	// Show renders frame with the given overlays. The frame is not modified.
	Show(frame image.Image, overlays ...Overlay)

	// PollKey waits at most timeout for a key press and returns KeyNone if
	// nothing was pressed.
	PollKey(timeout time.Duration) Key

	// Close releases the surface.
	Close() error
}

// waitMillis converts a poll timeout to whole milliseconds, never below 1
// so that a poll never turns into an unbounded wait.
func waitMillis(timeout time.Duration) int {
	ms := int(timeout / time.Millisecond)
	if ms < 1 {
		return 1
	}
	return ms
}
