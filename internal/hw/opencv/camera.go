package opencv

import (
	"fmt"
	"image"

	"github.com/cjeanneret/camcap/internal/debug"
	"github.com/cjeanneret/camcap/internal/hw/camera"
	"gocv.io/x/gocv"
)

// Camera is a camera.Source backed by an OpenCV VideoCapture.
type Camera struct {
	index int
	vc    *gocv.VideoCapture
	mat   gocv.Mat // reused between reads
}

// Check that Camera implements interface camera.Source.
var _ camera.Source = (*Camera)(nil)

// Open opens the camera with the given index. It matches camera.Opener.
func Open(index int) (camera.Source, error) {
	vc, err := gocv.OpenVideoCapture(index)
	if err != nil {
		return nil, fmt.Errorf("open video capture %d: %w", index, err)
	}
	if !vc.IsOpened() {
		_ = vc.Close()
		return nil, fmt.Errorf("video capture %d is not opened", index)
	}
	debug.Verbose("OpenCV capture %d opened", index)
	return &Camera{
		index: index,
		vc:    vc,
		mat:   gocv.NewMat(),
	}, nil
}

// Configure sets the requested frame size. OpenCV keeps the closest size
// the driver supports.
func (c *Camera) Configure(width, height int) {
	c.vc.Set(gocv.VideoCaptureFrameWidth, float64(width))
	c.vc.Set(gocv.VideoCaptureFrameHeight, float64(height))
	debug.Verbose("Camera %d: requested %dx%d, got %.0fx%.0f", c.index, width, height,
		c.vc.Get(gocv.VideoCaptureFrameWidth), c.vc.Get(gocv.VideoCaptureFrameHeight))
}

// Read grabs the next frame and converts it to an image.Image.
func (c *Camera) Read() (image.Image, error) {
	if ok := c.vc.Read(&c.mat); !ok || c.mat.Empty() {
		return nil, camera.ErrNoFrame
	}
	img, err := c.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	return img, nil
}

// Release closes the capture device and the frame buffer.
func (c *Camera) Release() error {
	debug.Trace("OpenCV capture %d released", c.index)
	matErr := c.mat.Close()
	if err := c.vc.Close(); err != nil {
		return fmt.Errorf("close video capture %d: %w", c.index, err)
	}
	return matErr
}
