// haarcam detects objects (frontal faces by default) in a camera stream or a
// recorded video with a cascade classifier, draws bounding boxes and can
// record the annotated stream to an animated GIF.
//
// Usage:
//
//	haarcam [flags] [input]
//
// Press Esc in the window to stop.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/teslashibe/go-haarcam/internal/config"
	"github.com/teslashibe/go-haarcam/internal/log"
	"github.com/teslashibe/go-haarcam/pkg/display"
	"github.com/teslashibe/go-haarcam/pkg/history"
	"github.com/teslashibe/go-haarcam/pkg/pipeline"
	"github.com/teslashibe/go-haarcam/pkg/provision"
	"github.com/teslashibe/go-haarcam/pkg/web"
	"golang.org/x/sync/errgroup"
)

// windowTitle is shown on the OpenCV window.
const windowTitle = "HAAR Classifier Object Detection"

// highgui windows must be driven from the thread that created them, so the
// main goroutine, which runs the session, stays on the main OS thread.
func init() {
	runtime.LockOSThread()
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := parseFlags(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "haarcam: %v\n", err)
		os.Exit(2)
	}

	log.Init(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.Component("haarcam")
	logger.Info("starting",
		"input", cfg.Input,
		"cascade", cfg.Cascade,
		"record", cfg.Record,
		"web", cfg.WebAddr,
	)

	if err := run(ctx, cfg, log.L()); err != nil {
		logger.Error("session failed", "error", err)
		cancel()
		os.Exit(1)
	}
}

// parseFlags builds the configuration. Precedence, lowest first: defaults,
// the -config YAML file, HAARCAM_* environment, explicitly set flags.
func parseFlags(args []string, output io.Writer) (config.Config, error) {
	def := config.Default()
	fs := flag.NewFlagSet("haarcam", flag.ContinueOnError)
	fs.SetOutput(output)

	configPath := fs.String("config", "", "YAML configuration file")
	cascade := fs.String("cascade", def.Cascade, "Cascade model file name")
	input := fs.String("input", def.Input, "Camera device number, video path or synthetic:N")
	record := fs.Bool("record", false, "Save the annotated stream to an animated GIF")
	outputPath := fs.String("output", def.Output, "Recording path")
	cascadeDir := fs.String("cascade-dir", def.CascadeDir, "Directory holding cascade files")
	backend := fs.String("backend", def.Backend, "Classifier backend: auto, haar, pigo")
	scaleFactor := fs.Float64("scale-factor", def.Detect.ScaleFactor, "Window growth per scale step")
	minNeighbors := fs.Int("min-neighbors", def.Detect.MinNeighbors, "Neighbors required to keep a candidate")
	minSize := fs.Int("min-size", def.Detect.MinSize, "Smallest window in pixels")
	maxSize := fs.Int("max-size", def.Detect.MaxSize, "Largest window in pixels, 0 for frame size")
	fps := fs.Int("fps", def.FPS, "Recording playback rate")
	headless := fs.Bool("headless", false, "Do not open a window")
	webAddr := fs.String("web", "", "Serve the browser viewer on this address, e.g. :8080")
	historyPath := fs.String("history", "", "SQLite file for session history")
	noDownload := fs.Bool("no-download", false, "Do not download missing cascades")
	logLevel := fs.String("log-level", def.LogLevel, "Log level: debug, info, warn, error")
	debug := fs.Bool("debug", false, "Shorthand for -log-level debug")

	if err := fs.Parse(args); err != nil {
		return def, err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return cfg, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "cascade":
			cfg.Cascade = *cascade
		case "input":
			cfg.Input = *input
		case "record":
			cfg.Record = *record
		case "output":
			cfg.Output = *outputPath
		case "cascade-dir":
			cfg.CascadeDir = *cascadeDir
		case "backend":
			cfg.Backend = *backend
		case "scale-factor":
			cfg.Detect.ScaleFactor = *scaleFactor
		case "min-neighbors":
			cfg.Detect.MinNeighbors = *minNeighbors
		case "min-size":
			cfg.Detect.MinSize = *minSize
		case "max-size":
			cfg.Detect.MaxSize = *maxSize
		case "fps":
			cfg.FPS = *fps
		case "headless":
			cfg.Headless = *headless
		case "web":
			cfg.WebAddr = *webAddr
		case "history":
			cfg.History = *historyPath
		case "no-download":
			cfg.Download = !*noDownload
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})
	if *debug {
		cfg.LogLevel = "debug"
	}

	// Input may also be given positionally, as in "haarcam clip.mp4".
	if fs.NArg() > 0 {
		cfg.Input = fs.Arg(0)
	}

	return cfg, cfg.Validate()
}

// run provisions the cascade, wires the displays and runs one session.
func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Download {
		p := provision.New(cfg.CascadeDir, logger)
		if _, err := p.Ensure(ctx, cfg.Cascade); err != nil {
			// Loading reports the missing model.
			logger.Warn("cascade provisioning failed", "cascade", cfg.Cascade, "error", err)
		}
	}

	var store *history.Store
	if cfg.History != "" {
		s, err := history.Open(cfg.History)
		if err != nil {
			return err
		}
		defer s.Close()
		store = s
	}

	var displays display.Multi
	if !cfg.Headless {
		displays = append(displays, display.NewWindow(windowTitle, display.DefaultWaitMillis))
	}

	opts := []pipeline.Option{pipeline.WithLogger(logger)}

	var viewer *web.Server
	if cfg.WebAddr != "" {
		var lister web.HistoryLister
		if store != nil {
			lister = store
		}
		viewer = web.NewServer(lister, logger)
		displays = append(displays, viewer)
		opts = append(opts, pipeline.WithObserver(viewer))
	}
	opts = append(opts, pipeline.WithDisplay(displays))

	pcfg := cfg.Pipeline()
	pcfg.Detection.Logger = logger.With("component", "detection")
	ctrl := pipeline.New(pcfg, opts...)

	viewerCtx, stopViewer := context.WithCancel(ctx)
	defer stopViewer()
	g, gctx := errgroup.WithContext(viewerCtx)
	if viewer != nil {
		g.Go(func() error {
			return viewer.ListenAndServe(gctx, cfg.WebAddr)
		})
	}

	// The session stays on the main goroutine, locked to the main thread in init.
	report, runErr := ctrl.RunSession(gctx, cfg.Cascade, cfg.Input, cfg.Record)

	stopViewer()
	if err := g.Wait(); err != nil && runErr == nil {
		runErr = fmt.Errorf("viewer: %w", err)
	}

	if report != nil {
		logger.Info("session summary",
			"session", report.SessionID,
			"frames", report.Frames,
			"frames_with_regions", report.FramesWithRegions,
			"regions", report.Regions,
			"reason", report.EndReason,
			"output", report.OutputPath,
			"duration", report.Duration.Round(time.Millisecond),
		)
		if store != nil {
			saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := store.Save(saveCtx, report); err != nil {
				logger.Warn("history save failed", "error", err)
			}
			cancel()
		}
	}
	return runErr
}
