// Package pipeline drives a detection session: read a frame, normalize it,
// detect regions, annotate, display and optionally record, until the source
// ends or the user cancels.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/teslashibe/go-haarcam/pkg/capture"
	"github.com/teslashibe/go-haarcam/pkg/detection"
	"github.com/teslashibe/go-haarcam/pkg/display"
	"github.com/teslashibe/go-haarcam/pkg/overlay"
	"github.com/teslashibe/go-haarcam/pkg/record"
)

// Config holds session settings.
type Config struct {
	OutputPath string           // Recording destination
	RecordFPS  int              // Recording playback rate
	CancelKey  int              // Display key that stops the session
	Detection  detection.Config // Used by the default model loader
}

// DefaultConfig returns the settings of the command-line tool.
func DefaultConfig() Config {
	return Config{
		OutputPath: "record.gif",
		RecordFPS:  record.DefaultFPS,
		CancelKey:  display.KeyEscape,
		Detection:  detection.DefaultConfig(),
	}
}

// Opener opens a frame source by identifier.
type Opener func(identifier string, logger *slog.Logger) (capture.Source, error)

// Loader loads a detector for a named cascade.
type Loader func(name string) (detection.Detector, error)

// Option configures a Controller.
type Option func(*Controller)

// WithOpener replaces capture.Open.
func WithOpener(open Opener) Option {
	return func(c *Controller) {
		c.open = open
	}
}

// WithLoader replaces Config.Detection.Load.
func WithLoader(load Loader) Option {
	return func(c *Controller) {
		c.load = load
	}
}

// WithDisplay sets the live viewer. The default discards frames.
func WithDisplay(d display.Display) Option {
	return func(c *Controller) {
		c.display = d
	}
}

// WithObserver adds an observer for transitions and frames.
func WithObserver(o Observer) Option {
	return func(c *Controller) {
		c.observers = append(c.observers, o)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Controller owns one session's source, detector, recorder and display.
// It runs a single session; afterwards it is Closed for good.
type Controller struct {
	cfg       Config
	open      Opener
	load      Loader
	display   display.Display
	observers observers
	logger    *slog.Logger

	mu      sync.Mutex
	state   State
	started bool
}

// New creates an Idle controller.
func New(cfg Config, opts ...Option) *Controller {
	c := &Controller{
		cfg:     cfg,
		open:    capture.Open,
		load:    cfg.Detection.Load,
		display: display.Headless{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cfg.RecordFPS <= 0 {
		c.cfg.RecordFPS = record.DefaultFPS
	}
	if c.cfg.OutputPath == "" {
		c.cfg.OutputPath = "record.gif"
	}
	c.logger = c.logger.With("component", "pipeline")
	return c
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session is the state of one run.
type Session struct {
	ID        string
	Input     string
	Model     string
	Recording bool
	StartedAt time.Time

	source   capture.Source
	detector detection.Detector
	recorder *record.Recorder
	report   *Report
	logger   *slog.Logger
}

// RunSession opens input, loads modelName and processes frames until the
// source ends, the cancel key is pressed or ctx is cancelled. The report is
// returned on every path once the session started. Errors wrap
// capture.ErrSourceUnavailable, detection.ErrModelNotFound or record.ErrWrite.
func (c *Controller) RunSession(ctx context.Context, modelName, input string, recording bool) (*Report, error) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.started = true
	c.mu.Unlock()

	s := &Session{
		ID:        uuid.NewString(),
		Input:     input,
		Model:     modelName,
		Recording: recording,
		StartedAt: time.Now(),
		recorder:  record.New(record.WithFPS(c.cfg.RecordFPS), record.WithLogger(c.logger)),
	}
	s.logger = c.logger.With("session", s.ID)
	s.report = &Report{
		SessionID:   s.ID,
		Input:       input,
		Model:       modelName,
		Recording:   recording,
		StartedAt:   s.StartedAt,
		Transitions: []State{Idle},
	}
	if recording {
		s.recorder.Enable()
	}

	c.transition(s, Opening)
	if err := c.acquire(s); err != nil {
		s.report.EndReason = EndFatal
		c.transition(s, Closed)
		return s.finish(err), err
	}

	drained := false
	defer func() {
		// Only reached without draining when a stage panics.
		if !drained {
			c.release(s)
			c.transition(s, Closed)
		}
	}()

	c.transition(s, Running)
	s.report.EndReason = c.loop(ctx, s)

	err := c.drain(s)
	drained = true
	return s.finish(err), err
}

// acquire opens the source, then loads the model. Whatever was acquired is
// released again on failure.
func (c *Controller) acquire(s *Session) error {
	src, err := c.open(s.Input, s.logger)
	if err != nil {
		s.logger.Error("source unavailable", "input", s.Input, "error", err)
		return fmt.Errorf("pipeline: open %q: %w", s.Input, err)
	}

	det, err := c.load(s.Model)
	if err != nil {
		src.Close()
		s.logger.Error("model unavailable", "model", s.Model, "error", err)
		return fmt.Errorf("pipeline: load %q: %w", s.Model, err)
	}

	s.source, s.detector = src, det
	s.logger.Info("session started",
		"input", s.Input,
		"kind", src.Kind(),
		"model", s.Model,
		"recording", s.Recording,
	)
	return nil
}

// loop processes frames until a stop condition. No frame is read after it
// returns.
func (c *Controller) loop(ctx context.Context, s *Session) EndReason {
	for {
		if ctx.Err() != nil {
			return EndCancelled
		}

		frame, err := s.source.Next()
		if errors.Is(err, io.EOF) {
			return EndEOS
		}
		if err != nil {
			s.logger.Warn("frame read failed, draining", "frames", s.report.Frames, "error", err)
			return EndReadFailure
		}

		c.process(s, frame)

		if key := c.display.WaitKey(); key == c.cfg.CancelKey {
			s.logger.Info("cancel key pressed", "key", key)
			return EndCancelled
		}
		if ctx.Err() != nil {
			return EndCancelled
		}
	}
}

// process runs normalize, detect, annotate, display and record on one
// frame and takes ownership of it. Stage errors are logged; a failed
// detection counts as no regions.
func (c *Controller) process(s *Session, frame capture.Frame) {
	defer frame.Close()
	start := time.Now()

	regions := c.detect(s, frame)

	annotated := overlay.Annotate(frame, regions)
	defer annotated.Close()

	if err := c.display.Show(annotated); err != nil {
		s.logger.Warn("display failed", "frame", frame.Index, "error", err)
	}

	recorded := false
	if s.recorder.Enabled() {
		if err := s.recorder.Append(annotated); err != nil {
			s.logger.Warn("record append failed", "frame", frame.Index, "error", err)
		} else {
			recorded = true
			s.report.FramesRecorded++
		}
	}

	s.report.Frames++
	s.report.Regions += len(regions)
	if len(regions) > 0 {
		s.report.FramesWithRegions++
	}

	stat := FrameStat{
		SessionID: s.ID,
		Index:     frame.Index,
		Regions:   regions,
		Primary:   detection.Largest(regions),
		Recorded:  recorded,
		Elapsed:   time.Since(start),
	}
	attrs := []any{"frame", stat.Index, "regions", len(regions), "elapsed", stat.Elapsed}
	if stat.Primary != nil {
		attrs = append(attrs, "primary_center", stat.Primary.Center())
	}
	s.logger.Debug("frame processed", attrs...)
	c.observers.OnFrame(stat)
}

func (c *Controller) detect(s *Session, frame capture.Frame) []detection.Region {
	n, err := detection.Normalize(frame)
	if err != nil {
		s.logger.Warn("normalize failed", "frame", frame.Index, "error", err)
		return nil
	}
	defer n.Close()

	regions, err := s.detector.Detect(n)
	if err != nil {
		s.logger.Warn("detect failed", "frame", frame.Index, "error", err)
		return nil
	}
	return regions
}

// drain flushes the recording, releases everything and closes the session.
// A flush failure is returned but does not stop the release.
func (c *Controller) drain(s *Session) error {
	c.transition(s, Draining)

	var flushErr error
	if s.recorder.Enabled() {
		if err := s.recorder.Flush(c.cfg.OutputPath); err != nil {
			s.logger.Error("recording flush failed", "path", c.cfg.OutputPath, "error", err)
			flushErr = fmt.Errorf("pipeline: flush: %w", err)
		} else {
			s.report.OutputPath = c.cfg.OutputPath
		}
	}

	c.release(s)
	c.transition(s, Closed)
	return flushErr
}

// release closes the source, display and detector.
func (c *Controller) release(s *Session) {
	if s.source != nil {
		if err := s.source.Close(); err != nil {
			s.logger.Warn("source close failed", "error", err)
		}
		s.source = nil
	}
	if err := c.display.Close(); err != nil {
		s.logger.Warn("display close failed", "error", err)
	}
	if s.detector != nil {
		if err := s.detector.Close(); err != nil {
			s.logger.Warn("detector close failed", "error", err)
		}
		s.detector = nil
	}
}

func (c *Controller) transition(s *Session, to State) {
	c.mu.Lock()
	from := c.state
	if !canTransition(from, to) {
		c.mu.Unlock()
		s.logger.Error("illegal state transition", "from", from, "to", to)
		return
	}
	c.state = to
	c.mu.Unlock()

	s.report.Transitions = append(s.report.Transitions, to)
	s.logger.Debug("state transition", "from", from, "to", to)
	c.observers.OnTransition(s.ID, from, to)
}

// finish completes the report.
func (s *Session) finish(err error) *Report {
	s.report.Duration = time.Since(s.StartedAt)
	if err != nil {
		s.report.Error = err.Error()
	}
	s.logger.Info("session closed",
		"reason", s.report.EndReason,
		"frames", s.report.Frames,
		"regions", s.report.Regions,
		"recorded", s.report.FramesRecorded,
		"duration", s.report.Duration,
	)
	return s.report
}
