package display

import (
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/cjeanneret/camcap/internal/debug"
	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Headless is a Surface without a window. Overlays are rendered with a
// fixed bitmap font (Scale and Thickness are ignored) and, when a preview
// path is configured, the last rendered frame is written there as JPEG.
// PollKey never reports a key; it only paces the caller.
type Headless struct {
	previewPath string
	sleep       func(time.Duration)
}

// Check that Headless implements interface Surface.
var _ Surface = (*Headless)(nil)

// NewHeadless creates a headless surface. previewPath may be empty.
func NewHeadless(previewPath string) *Headless {
	return &Headless{
		previewPath: previewPath,
		sleep:       time.Sleep,
	}
}

// Render returns a copy of frame with the overlays drawn on it.
func Render(frame image.Image, overlays ...Overlay) *image.NRGBA {
	dst := imaging.Clone(frame)
	for _, o := range overlays {
		d := &font.Drawer{
			Dst:  dst,
			Src:  image.NewUniform(o.Color),
			Face: basicfont.Face7x13,
			Dot:  fixed.P(dst.Bounds().Min.X+o.Origin.X, dst.Bounds().Min.Y+o.Origin.Y),
		}
		d.DrawString(o.Text)
	}
	return dst
}

// Show renders the overlays into the preview file. Without a preview path
// there is nothing to show and the frame is dropped.
func (h *Headless) Show(frame image.Image, overlays ...Overlay) {
	if h.previewPath == "" {
		return
	}
	rendered := Render(frame, overlays...)

	// Write next to the target then rename, so viewers never see a partial file.
	tmp := filepath.Join(filepath.Dir(h.previewPath), ".preview-"+filepath.Base(h.previewPath))
	if err := imaging.Save(rendered, tmp, imaging.JPEGQuality(80)); err != nil {
		debug.Warn("Cannot write preview %s: %v", h.previewPath, err)
		return
	}
	if err := os.Rename(tmp, h.previewPath); err != nil {
		debug.Warn("Cannot write preview %s: %v", h.previewPath, err)
	}
}

// PollKey sleeps for timeout and reports no key.
func (h *Headless) PollKey(timeout time.Duration) Key {
	h.sleep(time.Duration(waitMillis(timeout)) * time.Millisecond)
	return KeyNone
}

// Close is a no-op; the preview file is left in place.
func (h *Headless) Close() error {
	debug.Trace("Headless surface closed")
	return nil
}
