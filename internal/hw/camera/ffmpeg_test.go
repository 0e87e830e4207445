package camera

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// dropJPEG writes a w x h JPEG outside dir and renames it in, so the watcher
// only ever sees a complete file.
func dropJPEG(t *testing.T, dir, name string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	tmp := filepath.Join(t.TempDir(), name)
	f, err := os.Create(tmp)
	if err != nil {
		t.Fatal(err)
	}
	if err := jpeg.Encode(f, img, nil); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, name)); err != nil {
		t.Fatal(err)
	}
}

func newTestFrameDir(t *testing.T) *frameDir {
	t.Helper()
	fd, err := newFrameDir()
	if err != nil {
		t.Fatalf("newFrameDir: %v", err)
	}
	t.Cleanup(func() { _ = fd.close() })
	return fd
}

func TestFrameDir_TimeoutWithoutFrames(t *testing.T) {
	fd := newTestFrameDir(t)
	_, err := fd.next(20*time.Millisecond, nil)
	if !errors.Is(err, ErrNoFrame) {
		t.Errorf("next() error = %v, want ErrNoFrame", err)
	}
}

func TestFrameDir_DeliversWrittenFrame(t *testing.T) {
	fd := newTestFrameDir(t)
	dropJPEG(t, fd.dir, "frame000001.jpg", 32, 24)

	img, err := fd.next(2*time.Second, nil)
	if err != nil {
		t.Fatalf("next(): %v", err)
	}
	if b := img.Bounds(); b.Dx() != 32 || b.Dy() != 24 {
		t.Errorf("frame size = %v, want 32x24", b)
	}

	// Consumed frames are not returned twice.
	if _, err := fd.next(20*time.Millisecond, nil); !errors.Is(err, ErrNoFrame) {
		t.Errorf("second next() error = %v, want ErrNoFrame", err)
	}
}

func TestFrameDir_RemovesDecodedFiles(t *testing.T) {
	fd := newTestFrameDir(t)
	dropJPEG(t, fd.dir, "frame000001.jpg", 8, 8)
	if _, err := fd.next(2*time.Second, nil); err != nil {
		t.Fatalf("next(): %v", err)
	}
	if _, err := os.Stat(filepath.Join(fd.dir, "frame000001.jpg")); !os.IsNotExist(err) {
		t.Errorf("decoded frame file should be removed, stat err = %v", err)
	}
}

func TestFrameDir_IgnoresOtherFiles(t *testing.T) {
	fd := newTestFrameDir(t)
	if err := os.WriteFile(filepath.Join(fd.dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := fd.next(50*time.Millisecond, nil); !errors.Is(err, ErrNoFrame) {
		t.Errorf("next() error = %v, want ErrNoFrame", err)
	}
}

func TestFrameDir_CloseRemovesDir(t *testing.T) {
	fd, err := newFrameDir()
	if err != nil {
		t.Fatal(err)
	}
	if err := fd.close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(fd.dir); !os.IsNotExist(err) {
		t.Errorf("frame dir should be removed, stat err = %v", err)
	}
}

func TestFFmpegArgs(t *testing.T) {
	args := ffmpegArgs("/dev/video2", 1280, 720)
	joined := strings.Join(args, " ")
	for _, want := range []string{"-f v4l2", "-video_size 1280x720", "-i /dev/video2", "-f image2", "frame%06d.jpg"} {
		if !strings.Contains(joined, want) {
			t.Errorf("args %q missing %q", joined, want)
		}
	}
	if args[len(args)-1] != "frame%06d.jpg" {
		t.Errorf("output pattern must be last, got %q", args[len(args)-1])
	}
}

func TestOpenFFmpeg_MissingDevice(t *testing.T) {
	_, err := OpenFFmpeg(0, FFmpegOptions{Device: filepath.Join(t.TempDir(), "video99")})
	if err == nil {
		t.Fatal("expected error for missing device, got nil")
	}
	if !os.IsNotExist(errors.Unwrap(err)) {
		t.Errorf("expected not-exist cause, got %v", err)
	}
}

func TestOpenFFmpeg_MissingBinary(t *testing.T) {
	dev := filepath.Join(t.TempDir(), "video0")
	if err := os.WriteFile(dev, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := OpenFFmpeg(0, FFmpegOptions{Device: dev, Path: "camcap-no-such-ffmpeg"})
	if err == nil {
		t.Fatal("expected error for missing ffmpeg binary, got nil")
	}
	if !errors.Is(err, errInstallHint) {
		t.Errorf("expected install hint, got %v", err)
	}
}

func TestNewFFmpegOpener_ErrorIsNilInterface(t *testing.T) {
	open := NewFFmpegOpener(FFmpegOptions{Device: filepath.Join(t.TempDir(), "missing")})
	src, err := open(0)
	if err == nil {
		t.Fatal("expected error")
	}
	if src != nil {
		t.Errorf("source should be nil on error, got %#v", src)
	}
}

// writeStub writes an executable shell script standing in for ffmpeg and a
// fake device node, and returns both paths.
func writeStub(t *testing.T, body string) (bin, dev string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs /bin/sh")
	}
	dir := t.TempDir()
	bin = filepath.Join(dir, "ffmpeg")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	dev = filepath.Join(dir, "video0")
	if err := os.WriteFile(dev, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	return bin, dev
}

// frameStub returns a script body that counts its runs in countFile and
// drops one JPEG frame into its working directory before exiting.
func frameStub(t *testing.T, countFile string) string {
	t.Helper()
	src := filepath.Join(t.TempDir(), "src.jpg")
	f, err := os.Create(src)
	if err != nil {
		t.Fatal(err)
	}
	if err := jpeg.Encode(f, image.NewGray(image.Rect(0, 0, 8, 8)), nil); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return fmt.Sprintf("echo run >> %q\ncp %q .frame.tmp && mv .frame.tmp frame000001.jpg\nsleep 0.2\nexit 0\n", countFile, src)
}

func TestOpenFFmpeg_ProcessExitsWithoutFrame(t *testing.T) {
	bin, dev := writeStub(t, "exit 1\n")

	start := time.Now()
	src, err := OpenFFmpeg(0, FFmpegOptions{Path: bin, Device: dev, ReadTimeout: 5 * time.Second})
	if err == nil {
		src.Release()
		t.Fatal("expected error when ffmpeg exits without a frame")
	}
	if !errors.Is(err, ErrNoFrame) {
		t.Errorf("error = %v, want ErrNoFrame cause", err)
	}
	if waited := time.Since(start); waited > 3*time.Second {
		t.Errorf("open took %v, the exit should be noticed before the read timeout", waited)
	}
}

func TestOpenFFmpeg_SilentProcessTimesOut(t *testing.T) {
	bin, dev := writeStub(t, "sleep 5\n")

	if _, err := OpenFFmpeg(0, FFmpegOptions{Path: bin, Device: dev, ReadTimeout: 100 * time.Millisecond}); !errors.Is(err, ErrNoFrame) {
		t.Errorf("error = %v, want ErrNoFrame", err)
	}
}

func TestFFmpeg_RestartsAfterExit(t *testing.T) {
	count := filepath.Join(t.TempDir(), "runs")
	bin, dev := writeStub(t, frameStub(t, count))

	src, err := OpenFFmpeg(0, FFmpegOptions{Path: bin, Device: dev, ReadTimeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("OpenFFmpeg: %v", err)
	}
	defer src.Release()

	var img image.Image
	for i := 0; i < 5 && img == nil; i++ {
		img, _ = src.Read()
	}
	if img == nil {
		t.Fatal("no frame after ffmpeg exited, it should have been restarted")
	}

	data, err := os.ReadFile(count)
	if err != nil {
		t.Fatal(err)
	}
	if runs := strings.Count(string(data), "run"); runs < 2 {
		t.Errorf("ffmpeg started %d times, want at least 2", runs)
	}
}

func TestNewFFmpegOpener_DeadProcessFailsOpen(t *testing.T) {
	bin, dev := writeStub(t, "exit 1\n")

	open := NewFFmpegOpener(FFmpegOptions{Path: bin, Device: dev, ReadTimeout: time.Second})
	src, err := open(0)
	if err == nil {
		t.Fatal("expected open error")
	}
	if src != nil {
		t.Errorf("source should be nil on error, got %#v", src)
	}
}
