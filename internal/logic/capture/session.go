package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/cjeanneret/camcap/internal/debug"
	"github.com/cjeanneret/camcap/internal/hw/camera"
	"github.com/cjeanneret/camcap/internal/hw/display"
	"github.com/cjeanneret/camcap/internal/storage"
)

// RunConfig is the immutable configuration of one capture run.
type RunConfig struct {
	OutputDir   string
	Count       int // images to capture, >= 1
	DelaySec    int // countdown before each automatic capture, >= 0
	CameraIndex int
	Width       int
	Height      int
	Prefix      string
	Manual      bool // capture on key press instead of countdown
	Warmup      bool // discard WarmupFrames after opening the device

	WarmupFrames  int
	FlushFrames   int           // frames discarded after each capture
	ReadRetry     time.Duration // pause after a failed frame read
	PreviewRetry  time.Duration // pause after a frame dropped during countdown
	ManualPoll    time.Duration // key poll timeout in manual mode
	CountdownTick time.Duration // key poll timeout during countdown
}

// DefaultRunConfig returns the configuration of a run without any flags.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		OutputDir:     "captured_images",
		Count:         5,
		DelaySec:      3,
		Width:         640,
		Height:        480,
		Prefix:        "image",
		Warmup:        true,
		WarmupFrames:  5,
		FlushFrames:   5,
		ReadRetry:     200 * time.Millisecond,
		PreviewRetry:  50 * time.Millisecond,
		ManualPoll:    time.Millisecond,
		CountdownTick: 100 * time.Millisecond,
	}
}

// Validate checks the invariants of a run configuration.
func (c RunConfig) Validate() error {
	if c.Count < 1 {
		return fmt.Errorf("count must be >= 1, got %d", c.Count)
	}
	if c.DelaySec < 0 {
		return fmt.Errorf("delay must be >= 0, got %d", c.DelaySec)
	}
	if c.CameraIndex < 0 {
		return fmt.Errorf("camera index must be >= 0, got %d", c.CameraIndex)
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("frame size must be positive, got %dx%d", c.Width, c.Height)
	}
	if c.Prefix == "" {
		return fmt.Errorf("prefix is required")
	}
	if c.WarmupFrames < 0 || c.FlushFrames < 0 {
		return fmt.Errorf("discarded frame counts must be >= 0")
	}
	return nil
}

// Outcome is the result of one mode step.
type Outcome int

const (
	Continue  Outcome = iota // nothing captured, keep looping
	Captured                 // an image was written and the index advanced
	Cancelled                // the user asked to stop
)

func (o Outcome) String() string {
	switch o {
	case Continue:
		return "continue"
	case Captured:
		return "captured"
	case Cancelled:
		return "cancelled"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// CapturedImage describes a written image.
type CapturedImage struct {
	Index int
	Path  string
	At    time.Time
}

// Result summarizes a finished run.
type Result struct {
	Images    []CapturedImage
	Cancelled bool
	NextIndex int // index the next capture would have used
}

// Clock abstracts time for the countdown and retry pauses.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// Session drives one capture run. It exclusively owns the video source and
// the display surface and releases both exactly once.
type Session struct {
	cfg     RunConfig
	source  camera.Source
	surface display.Surface
	writer  storage.Writer
	clock   Clock

	index          int
	countdownStart time.Time
	images         []CapturedImage
	finalized      bool
}

// Open ensures the output directory exists, opens and configures the video
// source and discards warmup frames. Open takes ownership of surface: it is
// closed if Open fails, and by the session otherwise.
func Open(cfg RunConfig, open camera.Opener, surface display.Surface, writer storage.Writer) (*Session, error) {
	fail := func(err error) (*Session, error) {
		if cerr := surface.Close(); cerr != nil {
			debug.Warn("Closing display: %v", cerr)
		}
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return fail(fmt.Errorf("invalid run config: %w", err))
	}

	debug.Step(1, "Ensuring output directory")
	if err := storage.EnsureDir(cfg.OutputDir); err != nil {
		return fail(&DirectoryError{Path: cfg.OutputDir, Err: err})
	}

	debug.Step(2, "Opening video source")
	src, err := open(cfg.CameraIndex)
	if err != nil {
		return fail(&DeviceOpenError{Index: cfg.CameraIndex, Err: err})
	}
	src.Configure(cfg.Width, cfg.Height)

	s := &Session{
		cfg:     cfg,
		source:  src,
		surface: surface,
		writer:  writer,
		clock:   realClock{},
		index:   1,
	}

	if cfg.Warmup {
		debug.Step(3, "Warming up camera")
		s.discard(cfg.WarmupFrames, "warmup")
	}
	return s, nil
}

// Index returns the index of the next image to capture (1-based).
func (s *Session) Index() int {
	return s.index
}

// Run captures images until Count is reached or the user cancels, then
// finalizes the session. User cancellation, by key or by ctx, is not an
// error. A write failure stops the run with a *WriteError.
func (s *Session) Run(ctx context.Context) (res Result, err error) {
	defer func() {
		if cerr := s.Close(); cerr != nil {
			debug.Warn("Cleanup: %v", cerr)
		}
	}()

	debug.Info("Starting capture: output=%s, count=%d, delay=%ds, camera=%d",
		s.cfg.OutputDir, s.cfg.Count, s.cfg.DelaySec, s.cfg.CameraIndex)

	for s.index <= s.cfg.Count {
		// Without a countdown or a dead device there is no key poll to notice it.
		if ctx.Err() != nil {
			debug.Info("Capture interrupted.")
			return s.result(true), nil
		}

		frame, rerr := s.source.Read()
		if rerr != nil {
			debug.Warn("Failed to read frame, retrying...")
			debug.Trace("read error: %v", rerr)
			s.clock.Sleep(s.cfg.ReadRetry)
			continue
		}

		var out Outcome
		if s.cfg.Manual {
			out, err = s.manualStep(ctx, frame)
		} else {
			out, err = s.automaticStep(ctx, frame)
		}
		if err != nil {
			return s.result(false), err
		}

		switch out {
		case Cancelled:
			return s.result(true), nil
		case Captured:
			s.discard(s.cfg.FlushFrames, "pipeline lag")
		}
	}

	debug.Summary(fmt.Sprintf("Captured %d/%d images", len(s.images), s.cfg.Count))
	return s.result(false), nil
}

// Close releases the video source and closes the display surface. Only the
// first call has any effect.
func (s *Session) Close() error {
	if s.finalized {
		return nil
	}
	s.finalized = true

	srcErr := s.source.Release()
	if srcErr != nil {
		srcErr = fmt.Errorf("release video source: %w", srcErr)
	}
	surfErr := s.surface.Close()
	if surfErr != nil {
		surfErr = fmt.Errorf("close display: %w", surfErr)
	}
	debug.Info("Cleanup done.")
	return errors.Join(srcErr, surfErr)
}

// manualStep shows the preview and captures the frame on the capture key.
func (s *Session) manualStep(ctx context.Context, frame image.Image) (Outcome, error) {
	s.surface.Show(frame, manualOverlay(s.index, s.cfg.Count))

	key := s.surface.PollKey(s.cfg.ManualPoll)
	if s.cancelRequested(ctx, key) {
		return Cancelled, nil
	}
	if key != display.KeySpace {
		return Continue, nil
	}
	if err := s.save(frame); err != nil {
		return Continue, err
	}
	return Captured, nil
}

// automaticStep runs one countdown with a live preview, then captures a
// fresh frame. A failed final read skips the capture without advancing the
// index, so the slot gets a new countdown on the next step.
func (s *Session) automaticStep(ctx context.Context, frame image.Image) (Outcome, error) {
	s.countdownStart = s.clock.Now()
	preview := frame
	lastRemaining := s.cfg.DelaySec + 1

	for {
		elapsed := int(s.clock.Now().Sub(s.countdownStart) / time.Second)
		remaining := s.cfg.DelaySec - elapsed
		s.surface.Show(preview, countdownOverlays(remaining, s.index, s.cfg.Count, preview.Bounds())...)

		if remaining <= 0 {
			break
		}
		if remaining != lastRemaining {
			debug.Countdown(s.index, s.cfg.Count, remaining)
			lastRemaining = remaining
		}

		key := s.surface.PollKey(s.cfg.CountdownTick)
		if s.cancelRequested(ctx, key) {
			return Cancelled, nil
		}

		next, err := s.source.Read()
		if err != nil {
			debug.Warn("Frame dropped during countdown.")
			s.clock.Sleep(s.cfg.PreviewRetry)
			continue
		}
		preview = next
	}

	final, err := s.source.Read()
	if err != nil {
		debug.Warn("Failed to grab final frame, skipping this capture.")
		return Continue, nil
	}
	if err := s.save(final); err != nil {
		return Continue, err
	}
	return Captured, nil
}

// cancelRequested reports whether the user asked to stop, either with a
// quit key (ESC or q, in both modes) or by cancelling ctx.
func (s *Session) cancelRequested(ctx context.Context, key display.Key) bool {
	switch {
	case key == display.KeyEscape || key == display.KeyQ:
		debug.Info("Quitting by user request.")
		return true
	case ctx.Err() != nil:
		debug.Info("Capture interrupted.")
		return true
	}
	return false
}

// save writes frame under the current index and advances the index.
func (s *Session) save(frame image.Image) error {
	at := s.clock.Now()
	path := storage.BuildFilename(s.cfg.OutputDir, s.cfg.Prefix, s.index, at)
	if err := s.writer.Write(path, frame); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	debug.Captured(path)
	s.images = append(s.images, CapturedImage{Index: s.index, Path: path, At: at})
	s.index++
	return nil
}

// discard reads and drops n frames, ignoring failures.
func (s *Session) discard(n int, reason string) {
	if n <= 0 {
		return
	}
	debug.Discard(n, reason)
	for i := 0; i < n; i++ {
		_, _ = s.source.Read()
	}
}

func (s *Session) result(cancelled bool) Result {
	return Result{
		Images:    s.images,
		Cancelled: cancelled,
		NextIndex: s.index,
	}
}

func manualOverlay(index, count int) display.Overlay {
	return display.Overlay{
		Text:      fmt.Sprintf("Manual capture %d/%d - SPACE to capture, ESC to quit", index, count),
		Origin:    image.Pt(10, 30),
		Scale:     0.6,
		Color:     display.Green,
		Thickness: 2,
	}
}

// countdownOverlays returns the countdown text and the index counter, the
// latter anchored to the bottom-left corner of the frame.
func countdownOverlays(remaining, index, count int, bounds image.Rectangle) []display.Overlay {
	text := "Capturing..."
	if remaining > 0 {
		text = fmt.Sprintf("Capturing in %d sec", remaining)
	}
	return []display.Overlay{
		{
			Text:      text,
			Origin:    image.Pt(10, 30),
			Scale:     0.9,
			Color:     display.Red,
			Thickness: 2,
		},
		{
			Text:      fmt.Sprintf("%d/%d", index, count),
			Origin:    image.Pt(10, bounds.Dy()-10),
			Scale:     0.7,
			Color:     display.White,
			Thickness: 1,
		},
	}
}
