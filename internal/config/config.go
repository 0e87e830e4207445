package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes bounds the size of a config file accepted by Load.
const MaxConfigFileBytes = 64 * 1024

// Supported video source backends.
const (
	BackendOpenCV = "opencv"
	BackendFFmpeg = "ffmpeg"
)

// CaptureConfig describes what to capture and where to write it.
type CaptureConfig struct {
	Output       string `yaml:"output"`        // output directory
	Count        int    `yaml:"count"`         // number of images to capture (>= 1)
	DelaySec     int    `yaml:"delay_s"`       // countdown before each automatic capture (>= 0)
	Prefix       string `yaml:"prefix"`        // filename prefix
	Manual       bool   `yaml:"manual"`        // capture on key press instead of countdown
	SkipWarmup   bool   `yaml:"skip_warmup"`   // do not discard frames after opening the device
	WarmupFrames int    `yaml:"warmup_frames"` // frames discarded after open
	FlushFrames  int    `yaml:"flush_frames"`  // frames discarded after each capture
	JPEGQuality  int    `yaml:"jpeg_quality"`  // 1-100
}

// CameraConfig selects and sizes the video source.
type CameraConfig struct {
	Index      int    `yaml:"index"`       // camera index (e.g., 0 for /dev/video0)
	Width      int    `yaml:"width"`       // requested frame width, best-effort
	Height     int    `yaml:"height"`      // requested frame height, best-effort
	Backend    string `yaml:"backend"`     // "opencv" or "ffmpeg"
	FFmpegPath string `yaml:"ffmpeg_path"` // ffmpeg binary for the ffmpeg backend
	Device     string `yaml:"device"`      // explicit device path, overrides index for ffmpeg
}

// TimingConfig holds the pauses and poll timeouts of the capture loop.
type TimingConfig struct {
	ReadRetryMs     int `yaml:"read_retry_ms"`     // pause after a failed frame read
	PreviewRetryMs  int `yaml:"preview_retry_ms"`  // pause after a dropped preview frame
	ManualPollMs    int `yaml:"manual_poll_ms"`    // key poll timeout in manual mode
	CountdownTickMs int `yaml:"countdown_tick_ms"` // key poll timeout during countdown
}

// DisplayConfig controls the preview surface.
type DisplayConfig struct {
	Headless    bool   `yaml:"headless"`     // no preview window
	WindowTitle string `yaml:"window_title"` // preview window title
	PreviewPath string `yaml:"preview_path"` // headless only: write overlaid preview here
}

// ButtonsConfig describes optional GPIO push buttons (active LOW, internal pull-up).
type ButtonsConfig struct {
	Enabled    bool `yaml:"enabled"`
	MockGPIO   bool `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
	CapturePin int  `yaml:"capture_pin"` // BCM pin of the capture button
	QuitPin    int  `yaml:"quit_pin"`    // BCM pin of the quit button
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
}

// Config aggregates all application configuration.
type Config struct {
	Capture  CaptureConfig  `yaml:"capture"`
	Camera   CameraConfig   `yaml:"camera"`
	Timing   TimingConfig   `yaml:"timing"`
	Display  DisplayConfig  `yaml:"display"`
	Buttons  ButtonsConfig  `yaml:"buttons"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Capture: CaptureConfig{
			Output:       "captured_images",
			Count:        5,
			DelaySec:     3,
			Prefix:       "image",
			WarmupFrames: 5,
			FlushFrames:  5,
			JPEGQuality:  95,
		},
		Camera: CameraConfig{
			Width:      640,
			Height:     480,
			Backend:    BackendOpenCV,
			FFmpegPath: "ffmpeg",
		},
		Timing: TimingConfig{
			ReadRetryMs:     200,
			PreviewRetryMs:  50,
			ManualPollMs:    1,
			CountdownTickMs: 100,
		},
		Display: DisplayConfig{
			WindowTitle: "Webcam",
		},
		Buttons: ButtonsConfig{
			MockGPIO:   true,
			CapturePin: 17,
			QuitPin:    27,
		},
		Defaults: DefaultsConfig{
			DebugLevel: 1,
		},
	}
}

// Load reads a YAML file on top of Default and validates the result.
// Fields absent from the file keep their default value.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), MaxConfigFileBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and fills zero-valued tunables with their defaults.
func (c *Config) Validate() error {
	if c.Capture.Count < 1 {
		return fmt.Errorf("capture.count must be >= 1, got %d", c.Capture.Count)
	}
	if c.Capture.DelaySec < 0 {
		return fmt.Errorf("capture.delay_s must be >= 0, got %d", c.Capture.DelaySec)
	}
	if c.Capture.Output == "" {
		return fmt.Errorf("capture.output is required")
	}
	if c.Capture.Prefix == "" {
		return fmt.Errorf("capture.prefix is required")
	}
	if strings.ContainsAny(c.Capture.Prefix, `/\`) {
		return fmt.Errorf("capture.prefix must not contain path separators, got %q", c.Capture.Prefix)
	}
	if c.Capture.WarmupFrames < 0 || c.Capture.FlushFrames < 0 {
		return fmt.Errorf("capture.warmup_frames and capture.flush_frames must be >= 0")
	}
	if c.Capture.JPEGQuality == 0 {
		c.Capture.JPEGQuality = 95
	}
	if c.Capture.JPEGQuality < 1 || c.Capture.JPEGQuality > 100 {
		return fmt.Errorf("capture.jpeg_quality must be between 1 and 100, got %d", c.Capture.JPEGQuality)
	}

	if c.Camera.Index < 0 {
		return fmt.Errorf("camera.index must be >= 0, got %d", c.Camera.Index)
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return fmt.Errorf("camera.width and camera.height must be > 0, got %dx%d", c.Camera.Width, c.Camera.Height)
	}
	switch c.Camera.Backend {
	case "":
		c.Camera.Backend = BackendOpenCV
	case BackendOpenCV, BackendFFmpeg:
	default:
		return fmt.Errorf("unsupported camera.backend: %s", c.Camera.Backend)
	}
	if c.Camera.FFmpegPath == "" {
		c.Camera.FFmpegPath = "ffmpeg"
	}

	// Default values for loop timing
	if c.Timing.ReadRetryMs <= 0 {
		c.Timing.ReadRetryMs = 200
	}
	if c.Timing.PreviewRetryMs <= 0 {
		c.Timing.PreviewRetryMs = 50
	}
	if c.Timing.ManualPollMs <= 0 {
		c.Timing.ManualPollMs = 1
	}
	if c.Timing.CountdownTickMs <= 0 {
		c.Timing.CountdownTickMs = 100
	}

	if c.Display.WindowTitle == "" {
		c.Display.WindowTitle = "Webcam"
	}

	if c.Buttons.Enabled {
		if c.Buttons.CapturePin < 0 || c.Buttons.QuitPin < 0 {
			return fmt.Errorf("buttons pins must be >= 0")
		}
		if c.Buttons.CapturePin == c.Buttons.QuitPin {
			return fmt.Errorf("buttons.capture_pin and buttons.quit_pin must differ, both are %d", c.Buttons.CapturePin)
		}
	}

	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	return nil
}

// ReadRetryDelay returns the pause after a failed frame read.
func (c *Config) ReadRetryDelay() time.Duration {
	return time.Duration(c.Timing.ReadRetryMs) * time.Millisecond
}

// PreviewRetryDelay returns the pause after a frame dropped during countdown.
func (c *Config) PreviewRetryDelay() time.Duration {
	return time.Duration(c.Timing.PreviewRetryMs) * time.Millisecond
}

// ManualPoll returns the key poll timeout in manual mode.
func (c *Config) ManualPoll() time.Duration {
	return time.Duration(c.Timing.ManualPollMs) * time.Millisecond
}

// CountdownTick returns the key poll timeout used as the countdown pacing tick.
func (c *Config) CountdownTick() time.Duration {
	return time.Duration(c.Timing.CountdownTickMs) * time.Millisecond
}

// DevicePath returns the V4L2 device used by the ffmpeg backend.
func (c *Config) DevicePath() string {
	if c.Camera.Device != "" {
		return c.Camera.Device
	}
	return fmt.Sprintf("/dev/video%d", c.Camera.Index)
}
