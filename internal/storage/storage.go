package storage

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
)

// TimestampLayout is the capture time format used in file names (YYYYMMDD_HHMMSS).
const TimestampLayout = "20060102_150405"

// EnsureDir creates dir and any missing parents. An existing directory is
// not an error; an existing non-directory is.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// BuildFilename returns <dir>/<prefix>_<index, 3 digits>_<timestamp>.jpg.
// Indexes above 999 keep all their digits.
func BuildFilename(dir, prefix string, index int, at time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%03d_%s.jpg", prefix, index, at.Format(TimestampLayout)))
}

// Writer encodes an image to a file.
type Writer interface {
	Write(path string, img image.Image) error
}

// JPEGWriter writes JPEG files with imaging. The image is encoded to a
// hidden temporary file in the target directory and renamed into place.
type JPEGWriter struct {
	Quality int // 1-100
}

// Check that JPEGWriter implements interface Writer.
var _ Writer = JPEGWriter{}

func (w JPEGWriter) Write(path string, img image.Image) error {
	quality := w.Quality
	if quality <= 0 {
		quality = 95
	}

	tmp := filepath.Join(filepath.Dir(path), ".tmp-"+filepath.Base(path))
	if err := imaging.Save(img, tmp, imaging.JPEGQuality(quality)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
