package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/cjeanneret/camcap/internal/debug"
	"github.com/fsnotify/fsnotify"
)

var errInstallHint = errors.New("executable not found, install with: sudo apt install -y ffmpeg v4l-utils")

// FFmpegOptions has options for the ffmpeg backend.
type FFmpegOptions struct {
	Path        string        // ffmpeg binary, "ffmpeg" if empty
	Device      string        // device path; /dev/video<index> if empty
	ReadTimeout time.Duration // how long Read waits for a new frame, 2s if zero
}

// FFmpeg is a Source that runs ffmpeg against a V4L2 device. ffmpeg writes
// JPEG files to a temporary directory; a file watcher decodes each one and
// keeps the newest frame for Read.
type FFmpeg struct {
	opts   FFmpegOptions
	device string
	width  int
	height int

	frames *frameDir
	cancel context.CancelFunc
	exited chan struct{} // closed when the current ffmpeg process exits
}

// Check that FFmpeg implements interface Source.
var _ Source = (*FFmpeg)(nil)

// NewFFmpegOpener returns an Opener for the ffmpeg backend.
func NewFFmpegOpener(opts FFmpegOptions) Opener {
	return func(index int) (Source, error) {
		src, err := OpenFFmpeg(index, opts)
		if err != nil {
			return nil, err
		}
		return src, nil
	}
}

// OpenFFmpeg checks that the device and the ffmpeg binary exist, starts
// ffmpeg and waits up to ReadTimeout for the first frame. It fails if ffmpeg
// exits or stays silent, which is how a busy or unusable device shows up.
func OpenFFmpeg(index int, opts FFmpegOptions) (*FFmpeg, error) {
	if opts.Path == "" {
		opts.Path = "ffmpeg"
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 2 * time.Second
	}
	device := opts.Device
	if device == "" {
		device = fmt.Sprintf("/dev/video%d", index)
	}

	if _, err := os.Stat(device); err != nil {
		return nil, fmt.Errorf("device %s: %w", device, err)
	}
	path, err := exec.LookPath(opts.Path)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			err = errInstallHint
		}
		return nil, fmt.Errorf("looking up %s: %w", opts.Path, err)
	}
	opts.Path = path

	frames, err := newFrameDir()
	if err != nil {
		return nil, err
	}

	f := &FFmpeg{
		opts:   opts,
		device: device,
		width:  640,
		height: 480,
		frames: frames,
	}
	debug.Verbose("ffmpeg source on %s, writing frames to %s", device, frames.dir)

	if err := f.start(); err != nil {
		_ = frames.close()
		return nil, err
	}
	if _, err := frames.next(opts.ReadTimeout, f.exited); err != nil {
		_ = f.Release()
		return nil, fmt.Errorf("no frame from %s: %w", device, err)
	}
	return f, nil
}

// Configure restarts ffmpeg with the requested size. A failed restart is
// reported as a warning; Read will try again.
func (f *FFmpeg) Configure(width, height int) {
	if f.alive() && width == f.width && height == f.height {
		return
	}
	f.width, f.height = width, height
	f.stop()
	if err := f.start(); err != nil {
		debug.Warn("Starting ffmpeg at %dx%d: %v", width, height, err)
	}
}

// Read returns the newest frame not returned before, waiting up to
// ReadTimeout for one to arrive. A dead ffmpeg process is restarted.
func (f *FFmpeg) Read() (image.Image, error) {
	if !f.alive() {
		if f.exited != nil {
			debug.Warn("ffmpeg is not running, restarting it")
		}
		f.stop()
		if err := f.start(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoFrame, err)
		}
	}
	return f.frames.next(f.opts.ReadTimeout, f.exited)
}

// Release stops ffmpeg, closes the watcher and removes the frame directory.
func (f *FFmpeg) Release() error {
	f.stop()
	return f.frames.close()
}

func (f *FFmpeg) start() error {
	args := ffmpegArgs(f.device, f.width, f.height)
	debug.Verbose("starting ffmpeg with args %s", args)

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, f.opts.Path, args...)
	cmd.Dir = f.frames.dir
	if debug.IsEnabled(debug.LevelTrace) {
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("starting command ffmpeg: %w", err)
	}
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			debug.Warn("ffmpeg exited: %v", err)
		}
	}()

	f.cancel = cancel
	f.exited = exited
	return nil
}

// alive reports whether an ffmpeg process was started and has not exited.
func (f *FFmpeg) alive() bool {
	if f.exited == nil {
		return false
	}
	select {
	case <-f.exited:
		return false
	default:
		return true
	}
}

// stop kills ffmpeg and waits for it to be reaped.
func (f *FFmpeg) stop() {
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	if f.exited != nil {
		<-f.exited
		f.exited = nil
	}
}

// ffmpegArgs builds the command line that streams MJPEG frames from a V4L2
// device into numbered JPEG files in the working directory.
func ffmpegArgs(device string, width, height int) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "v4l2",
		"-video_size", fmt.Sprintf("%dx%d", width, height),
		"-i", device,
		"-f", "image2",
		"-qscale:v", "2",
		"frame%06d.jpg",
	}
}

// frameDir watches a directory for JPEG files, decodes them and keeps the
// newest one.
type frameDir struct {
	dir     string
	watcher *fsnotify.Watcher

	mu       sync.Mutex
	latest   image.Image
	seq      uint64
	consumed uint64
	notify   chan struct{}
	done     chan struct{}
}

func newFrameDir() (fd *frameDir, rerr error) {
	dir, err := os.MkdirTemp("", "camcap-ffmpeg-")
	if err != nil {
		return nil, fmt.Errorf("making temp dir: %w", err)
	}
	// Ensure cleanup in case of failure.
	defer func() {
		if rerr != nil {
			os.RemoveAll(dir)
		}
	}()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("new file change watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("registering file change watcher for temp dir: %w", err)
	}

	fd = &frameDir{
		dir:     dir,
		watcher: watcher,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go fd.watch()
	return fd, nil
}

func (fd *frameDir) watch() {
	defer close(fd.done)
	for {
		select {
		case ev, ok := <-fd.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 || !strings.HasSuffix(ev.Name, ".jpg") {
				continue
			}
			fd.ingest(ev.Name)

		case err, ok := <-fd.watcher.Errors:
			if !ok {
				return
			}
			debug.Warn("watching for frames: %v", err)
		}
	}
}

// ingest decodes one written file. Partially written files fail to decode
// and are picked up again on the next write event.
func (fd *frameDir) ingest(name string) {
	file, err := os.Open(name)
	if err != nil {
		return
	}
	img, err := jpeg.Decode(file)
	file.Close()
	if err != nil {
		debug.Trace("decoding jpeg %q: %v (may be partially written)", name, err)
		return
	}
	if err := os.Remove(name); err != nil {
		debug.Trace("removing frame %s: %v", name, err)
	}

	fd.mu.Lock()
	fd.latest = img
	fd.seq++
	fd.mu.Unlock()

	select {
	case fd.notify <- struct{}{}:
	default:
	}
}

// next returns the newest frame that was not returned before. It gives up
// after timeout, or as soon as exited is closed and no frame is pending.
func (fd *frameDir) next(timeout time.Duration, exited <-chan struct{}) (image.Image, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		fd.mu.Lock()
		if fd.seq > fd.consumed {
			fd.consumed = fd.seq
			img := fd.latest
			fd.mu.Unlock()
			return img, nil
		}
		fd.mu.Unlock()

		select {
		case <-fd.notify:
		case <-exited:
			exited = nil
			// A frame may have landed just before the exit.
			select {
			case <-fd.notify:
			case <-time.After(50 * time.Millisecond):
				return nil, fmt.Errorf("%w: ffmpeg exited", ErrNoFrame)
			}
		case <-deadline.C:
			return nil, ErrNoFrame
		}
	}
}

func (fd *frameDir) close() error {
	err := fd.watcher.Close()
	<-fd.done
	if rmErr := os.RemoveAll(fd.dir); err == nil {
		err = rmErr
	}
	return err
}
