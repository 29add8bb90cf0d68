// Package config loads haarcam settings from defaults, an optional YAML
// file and HAARCAM_* environment variables. Command-line flags are applied
// on top by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/teslashibe/go-haarcam/pkg/detection"
	"github.com/teslashibe/go-haarcam/pkg/display"
	"github.com/teslashibe/go-haarcam/pkg/pipeline"
	"gopkg.in/yaml.v3"
)

// Defaults for the command-line tool.
const (
	DefaultInput      = "0"
	DefaultCascade    = "haarcascade_frontalface_default.xml"
	DefaultCascadeDir = "data/haarcascades"
	DefaultOutput     = "record.gif"
	DefaultFPS        = 25
	DefaultLogLevel   = "info"
)

// Config holds every setting of a haarcam run.
type Config struct {
	// Input is a capture device index, a video path or "synthetic:N".
	Input string `yaml:"input" json:"input"`

	// Cascade is the cascade file name, resolved inside CascadeDir.
	Cascade    string `yaml:"cascade" json:"cascade"`
	CascadeDir string `yaml:"cascade_dir" json:"cascade_dir"`

	// Backend is "auto", "haar" or "pigo".
	Backend string `yaml:"backend" json:"backend"`

	// Download fetches missing cascades from upstream.
	Download bool `yaml:"download" json:"download"`

	Record bool   `yaml:"record" json:"record"`
	Output string `yaml:"output" json:"output"`
	FPS    int    `yaml:"fps" json:"fps"`

	// Headless disables the OpenCV window.
	Headless bool `yaml:"headless" json:"headless"`

	// WebAddr enables the browser viewer when set, e.g. ":8080".
	WebAddr string `yaml:"web_addr" json:"web_addr"`

	// History is the SQLite file for session reports; empty disables it.
	History string `yaml:"history" json:"history"`

	LogLevel  string `yaml:"log_level" json:"log_level"`
	LogFormat string `yaml:"log_format" json:"log_format"`

	Detect Detect `yaml:"detect" json:"detect"`
}

// Detect holds the scan parameters.
type Detect struct {
	ScaleFactor  float64 `yaml:"scale_factor" json:"scale_factor"`
	MinNeighbors int     `yaml:"min_neighbors" json:"min_neighbors"`
	MinSize      int     `yaml:"min_size" json:"min_size"`
	MaxSize      int     `yaml:"max_size" json:"max_size"`
	ShiftFactor  float64 `yaml:"shift_factor" json:"shift_factor"`
	IoUThreshold float64 `yaml:"iou_threshold" json:"iou_threshold"`
	MinQuality   float32 `yaml:"min_quality" json:"min_quality"`
}

// Default returns the built-in settings.
func Default() Config {
	p := detection.DefaultParams()
	return Config{
		Input:      DefaultInput,
		Cascade:    DefaultCascade,
		CascadeDir: DefaultCascadeDir,
		Backend:    string(detection.BackendAuto),
		Download:   true,
		Output:     DefaultOutput,
		FPS:        DefaultFPS,
		LogLevel:   DefaultLogLevel,
		LogFormat:  "text",
		Detect: Detect{
			ScaleFactor:  p.ScaleFactor,
			MinNeighbors: p.MinNeighbors,
			MinSize:      p.MinSize,
			MaxSize:      p.MaxSize,
			ShiftFactor:  p.ShiftFactor,
			IoUThreshold: p.IoUThreshold,
			MinQuality:   p.MinQuality,
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path.
// An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides settings from HAARCAM_* environment variables.
func (c *Config) ApplyEnv() error {
	return c.applyEnv(os.Getenv)
}

func (c *Config) applyEnv(getenv func(string) string) error {
	strs := map[string]*string{
		"HAARCAM_INPUT":       &c.Input,
		"HAARCAM_CASCADE":     &c.Cascade,
		"HAARCAM_CASCADE_DIR": &c.CascadeDir,
		"HAARCAM_BACKEND":     &c.Backend,
		"HAARCAM_OUTPUT":      &c.Output,
		"HAARCAM_WEB_ADDR":    &c.WebAddr,
		"HAARCAM_HISTORY":     &c.History,
		"HAARCAM_LOG_LEVEL":   &c.LogLevel,
		"HAARCAM_LOG_FORMAT":  &c.LogFormat,
	}
	for key, dst := range strs {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	var errs []error
	bools := map[string]*bool{
		"HAARCAM_RECORD":   &c.Record,
		"HAARCAM_HEADLESS": &c.Headless,
		"HAARCAM_DOWNLOAD": &c.Download,
	}
	for key, dst := range bools {
		v := getenv(key)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		*dst = b
	}

	if v := getenv("HAARCAM_FPS"); v != "" {
		fps, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("HAARCAM_FPS: %w", err))
		} else {
			c.FPS = fps
		}
	}
	return errors.Join(errs...)
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Input) == "" {
		errs = append(errs, errors.New("input is required"))
	}
	if strings.TrimSpace(c.Cascade) == "" {
		errs = append(errs, errors.New("cascade is required"))
	}
	if _, err := detection.ParseBackend(c.Backend); err != nil {
		errs = append(errs, err)
	}
	if c.Record && c.Output == "" {
		errs = append(errs, errors.New("output is required when recording"))
	}
	if c.FPS <= 0 || c.FPS > 100 {
		errs = append(errs, fmt.Errorf("fps must be in 1..100, got %d", c.FPS))
	}
	if err := c.Params().Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Params returns the detection scan parameters.
func (c *Config) Params() detection.Params {
	return detection.Params{
		ScaleFactor:  c.Detect.ScaleFactor,
		MinNeighbors: c.Detect.MinNeighbors,
		MinSize:      c.Detect.MinSize,
		MaxSize:      c.Detect.MaxSize,
		ShiftFactor:  c.Detect.ShiftFactor,
		IoUThreshold: c.Detect.IoUThreshold,
		MinQuality:   c.Detect.MinQuality,
	}
}

// Detection returns the detector configuration. Call Validate first.
func (c *Config) Detection() detection.Config {
	backend, _ := detection.ParseBackend(c.Backend)
	return detection.Config{
		ModelDir: c.CascadeDir,
		Backend:  backend,
		Params:   c.Params(),
	}
}

// Pipeline returns the session configuration.
func (c *Config) Pipeline() pipeline.Config {
	return pipeline.Config{
		OutputPath: c.Output,
		RecordFPS:  c.FPS,
		CancelKey:  display.KeyEscape,
		Detection:  c.Detection(),
	}
}
