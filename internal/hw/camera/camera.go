package camera

import (
	"errors"
	"image"
)

// ErrNoFrame is returned by Read when the device has no frame to deliver.
var ErrNoFrame = errors.New("no frame available")

// Source is the high-level interface used by the rest of the application.
// It represents an opened video device, regardless of how frames are
// obtained (OpenCV, ffmpeg, etc.).
type Source interface {
	// Configure requests a frame size. The device may silently pick another
	// supported resolution; this is not an error.
	Configure(width, height int)

	// Read returns the next frame. The returned image is only valid until
	// the next call to Read.
	Read() (image.Image, error)

	// Release closes the device. It must be called exactly once.
	Release() error
}

// Opener opens the video device with the given index.
type Opener func(index int) (Source, error)
