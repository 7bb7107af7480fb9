// Package config loads scanview settings from a YAML file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all scanview settings.
type Config struct {
	Camera  CameraConfig  `yaml:"camera"`
	Screen  ScreenConfig  `yaml:"screen"`
	Framing FramingConfig `yaml:"framing"`
	Focus   FocusConfig   `yaml:"focus"`
	Scan    ScanConfig    `yaml:"scan"`
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Log     LogConfig     `yaml:"log"`
}

// CameraConfig selects the webcam.
type CameraConfig struct {
	Device  int `yaml:"device"`
	FPS     int `yaml:"fps"`
	MaxZoom int `yaml:"max_zoom,omitempty"`
}

// ScreenConfig is the display the preview is shown on. The framing
// rectangle and the preview resolution are chosen against it.
type ScreenConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// FramingConfig sizes the scan region.
type FramingConfig struct {
	// WidthScale is the side of the square as a fraction of the shorter
	// viewfinder side.
	WidthScale float64 `yaml:"width_scale"`
	// ManualWidth and ManualHeight, when both set, replace the square.
	ManualWidth  int `yaml:"manual_width,omitempty"`
	ManualHeight int `yaml:"manual_height,omitempty"`
}

// FocusConfig paces auto-focus.
type FocusConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// ScanConfig controls the decode loop.
type ScanConfig struct {
	Continuous      bool          `yaml:"continuous"`
	ResumeDelay     time.Duration `yaml:"resume_delay"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	SuppressRepeats bool          `yaml:"suppress_repeats"`
	ChangeThreshold float64       `yaml:"change_threshold,omitempty"`
}

// ServerConfig is the HTTP control surface.
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	StaticDir string `yaml:"static_dir,omitempty"`
}

// StoreConfig locates the settings database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// LogConfig sets the log level: debug, info, warn or error.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the settings used when no file overrides them.
func Default() Config {
	return Config{
		Camera: CameraConfig{
			Device: 0,
			FPS:    15,
		},
		Screen: ScreenConfig{
			Width:  1280,
			Height: 720,
		},
		Framing: FramingConfig{
			WidthScale: 0.5,
		},
		Focus: FocusConfig{
			Interval: 2 * time.Second,
		},
		Scan: ScanConfig{
			Continuous:      true,
			ResumeDelay:     1500 * time.Millisecond,
			RequestTimeout:  2 * time.Second,
			SuppressRepeats: true,
			ChangeThreshold: 5,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8750",
		},
		Store: StoreConfig{
			Path: "scanview.db",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.Camera.FPS <= 0:
		return fmt.Errorf("camera.fps must be positive, got %d", c.Camera.FPS)
	case c.Screen.Width <= 0 || c.Screen.Height <= 0:
		return fmt.Errorf("screen size must be positive, got %dx%d", c.Screen.Width, c.Screen.Height)
	case c.Framing.WidthScale <= 0 || c.Framing.WidthScale > 1:
		return fmt.Errorf("framing.width_scale must be in (0, 1], got %v", c.Framing.WidthScale)
	case c.Framing.ManualWidth < 0 || c.Framing.ManualHeight < 0:
		return errors.New("framing manual size must not be negative")
	case c.Focus.Interval <= 0:
		return fmt.Errorf("focus.interval must be positive, got %v", c.Focus.Interval)
	case c.Scan.ResumeDelay <= 0:
		return fmt.Errorf("scan.resume_delay must be positive, got %v", c.Scan.ResumeDelay)
	case c.Scan.RequestTimeout <= 0:
		return fmt.Errorf("scan.request_timeout must be positive, got %v", c.Scan.RequestTimeout)
	case c.Scan.ChangeThreshold < 0 || c.Scan.ChangeThreshold > 100:
		return fmt.Errorf("scan.change_threshold must be a percentage, got %v", c.Scan.ChangeThreshold)
	case c.Server.Addr == "":
		return errors.New("server.addr must be set")
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
}
