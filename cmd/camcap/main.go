package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/cjeanneret/camcap/internal/config"
	"github.com/cjeanneret/camcap/internal/debug"
	"github.com/cjeanneret/camcap/internal/hw/buttons"
	"github.com/cjeanneret/camcap/internal/hw/camera"
	"github.com/cjeanneret/camcap/internal/hw/display"
	"github.com/cjeanneret/camcap/internal/hw/gpio"
	"github.com/cjeanneret/camcap/internal/hw/opencv"
	"github.com/cjeanneret/camcap/internal/logic/capture"
	"github.com/cjeanneret/camcap/internal/storage"
)

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		cancel()
		log.Fatalf("ERROR: %v", err)
	}
}

// run loads the configuration, builds the hardware and runs one capture
// session. User cancellation is not an error.
func run(ctx context.Context, opts *cliOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", opts.configPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)
	debug.PrintStruct("Capture config", cfg.Capture)
	debug.PrintStruct("Camera config", cfg.Camera)

	var g gpio.Driver
	if cfg.Buttons.Enabled {
		debug.Value("Mock GPIO", cfg.Buttons.MockGPIO)
		g, err = gpio.NewDriver(cfg.Buttons.MockGPIO)
		if err != nil {
			return fmt.Errorf("init GPIO: %w", err)
		}
		defer func() {
			if err := g.Close(); err != nil {
				log.Printf("closing GPIO driver failed: %v", err)
			}
		}()
	}

	surface, err := newSurface(cfg, g)
	if err != nil {
		return err
	}

	session, err := capture.Open(
		runConfigFromConfig(cfg),
		newOpener(cfg),
		surface,
		storage.JPEGWriter{Quality: cfg.Capture.JPEGQuality},
	)
	if err != nil {
		return err
	}

	res, err := session.Run(ctx)
	if err != nil {
		return err
	}
	if res.Cancelled {
		debug.Verbose("Stopped with %d/%d images", len(res.Images), cfg.Capture.Count)
	}
	return nil
}

// flagAliases maps each short flag to the long flag sharing its value.
var flagAliases = map[string]string{
	"o": "output",
	"n": "count",
	"d": "delay",
	"c": "camera",
	"p": "prefix",
	"m": "manual",
}

// cliOptions holds the parsed command line. Only flags listed in set
// override the configuration.
type cliOptions struct {
	configPath string
	output     string
	count      int
	delay      int
	camera     int
	width      int
	height     int
	prefix     string
	manual     bool
	skipWarmup bool
	debugLevel int
	backend    string
	headless   bool

	set map[string]bool // long names of the flags given on the command line
}

func parseFlags(args []string, output io.Writer) (*cliOptions, error) {
	def := config.Default()
	o := &cliOptions{}

	fs := flag.NewFlagSet("camcap", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&o.configPath, "config", "", "optional YAML config file")
	fs.StringVar(&o.output, "output", def.Capture.Output, "output directory")
	fs.StringVar(&o.output, "o", def.Capture.Output, "shorthand for -output")
	fs.IntVar(&o.count, "count", def.Capture.Count, "number of images to capture")
	fs.IntVar(&o.count, "n", def.Capture.Count, "shorthand for -count")
	fs.IntVar(&o.delay, "delay", def.Capture.DelaySec, "countdown in seconds before each automatic capture")
	fs.IntVar(&o.delay, "d", def.Capture.DelaySec, "shorthand for -delay")
	fs.IntVar(&o.camera, "camera", def.Camera.Index, "camera index")
	fs.IntVar(&o.camera, "c", def.Camera.Index, "shorthand for -camera")
	fs.IntVar(&o.width, "width", def.Camera.Width, "requested frame width")
	fs.IntVar(&o.height, "height", def.Camera.Height, "requested frame height")
	fs.StringVar(&o.prefix, "prefix", def.Capture.Prefix, "filename prefix")
	fs.StringVar(&o.prefix, "p", def.Capture.Prefix, "shorthand for -prefix")
	fs.BoolVar(&o.manual, "manual", false, "capture on SPACE instead of a countdown")
	fs.BoolVar(&o.manual, "m", false, "shorthand for -manual")
	fs.BoolVar(&o.skipWarmup, "skip-warmup", false, "do not discard frames after opening the camera")
	fs.IntVar(&o.debugLevel, "debug", def.Defaults.DebugLevel, "debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)")
	fs.StringVar(&o.backend, "backend", def.Camera.Backend, "video source backend: opencv or ffmpeg")
	fs.BoolVar(&o.headless, "headless", false, "run without a preview window")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		err := fmt.Errorf("unexpected arguments: %v", fs.Args())
		fmt.Fprintln(output, err)
		return nil, err
	}

	o.set = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		name := f.Name
		if long, ok := flagAliases[name]; ok {
			name = long
		}
		o.set[name] = true
	})
	return o, nil
}

// loadConfig reads the optional config file, applies the explicit flags and
// validates the result.
func loadConfig(opts *cliOptions) (*config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		var err error
		cfg, err = config.Load(opts.configPath)
		if err != nil {
			return nil, fmt.Errorf("load config failed: %w", err)
		}
	}
	applyFlags(cfg, opts)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	return cfg, nil
}

// applyFlags copies the flags given on the command line into cfg.
func applyFlags(cfg *config.Config, opts *cliOptions) {
	if opts.set["output"] {
		cfg.Capture.Output = opts.output
	}
	if opts.set["count"] {
		cfg.Capture.Count = opts.count
	}
	if opts.set["delay"] {
		cfg.Capture.DelaySec = opts.delay
	}
	if opts.set["camera"] {
		cfg.Camera.Index = opts.camera
	}
	if opts.set["width"] {
		cfg.Camera.Width = opts.width
	}
	if opts.set["height"] {
		cfg.Camera.Height = opts.height
	}
	if opts.set["prefix"] {
		cfg.Capture.Prefix = opts.prefix
	}
	if opts.set["manual"] {
		cfg.Capture.Manual = opts.manual
	}
	if opts.set["skip-warmup"] {
		cfg.Capture.SkipWarmup = opts.skipWarmup
	}
	if opts.set["debug"] {
		cfg.Defaults.DebugLevel = opts.debugLevel
	}
	if opts.set["backend"] {
		cfg.Camera.Backend = opts.backend
	}
	if opts.set["headless"] {
		cfg.Display.Headless = opts.headless
	}
}

func runConfigFromConfig(cfg *config.Config) capture.RunConfig {
	return capture.RunConfig{
		OutputDir:     cfg.Capture.Output,
		Count:         cfg.Capture.Count,
		DelaySec:      cfg.Capture.DelaySec,
		CameraIndex:   cfg.Camera.Index,
		Width:         cfg.Camera.Width,
		Height:        cfg.Camera.Height,
		Prefix:        cfg.Capture.Prefix,
		Manual:        cfg.Capture.Manual,
		Warmup:        !cfg.Capture.SkipWarmup,
		WarmupFrames:  cfg.Capture.WarmupFrames,
		FlushFrames:   cfg.Capture.FlushFrames,
		ReadRetry:     cfg.ReadRetryDelay(),
		PreviewRetry:  cfg.PreviewRetryDelay(),
		ManualPoll:    cfg.ManualPoll(),
		CountdownTick: cfg.CountdownTick(),
	}
}

// newOpener selects the video source backend.
func newOpener(cfg *config.Config) camera.Opener {
	switch cfg.Camera.Backend {
	case config.BackendFFmpeg:
		debug.Value("Video backend", "ffmpeg "+cfg.DevicePath())
		return camera.NewFFmpegOpener(camera.FFmpegOptions{
			Path:   cfg.Camera.FFmpegPath,
			Device: cfg.Camera.Device,
		})
	default:
		debug.Value("Video backend", "opencv")
		return opencv.Open
	}
}

// newSurface builds the preview surface, adding the GPIO buttons when g is
// not nil.
func newSurface(cfg *config.Config, g gpio.Driver) (display.Surface, error) {
	var s display.Surface
	if cfg.Display.Headless {
		debug.Value("Preview", "headless "+cfg.Display.PreviewPath)
		s = display.NewHeadless(cfg.Display.PreviewPath)
	} else {
		s = opencv.NewWindow(cfg.Display.WindowTitle)
	}
	if g == nil {
		return s, nil
	}

	b, err := buttons.Wrap(s, g, buttons.Pins{
		Capture: cfg.Buttons.CapturePin,
		Quit:    cfg.Buttons.QuitPin,
	})
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("init buttons: %w", err)
	}
	return b, nil
}
