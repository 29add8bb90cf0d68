package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/teslashibe/go-haarcam/internal/config"
	"github.com/teslashibe/go-haarcam/pkg/detection"
)

func TestParseFlags_Defaults(t *testing.T) {
	t.Setenv("HAARCAM_INPUT", "")

	cfg, err := parseFlags(nil, io.Discard)
	if err != nil {
		t.Fatalf("parseFlags failed: %v", err)
	}
	if cfg != config.Default() {
		t.Errorf("cfg = %+v, want defaults", cfg)
	}
}

func TestParseFlags_Precedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "haarcam.yaml")
	yml := "input: from-file.mp4\ncascade: haarcascade_eye.xml\nfps: 10\n"
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HAARCAM_CASCADE", "from-env.xml")

	cfg, err := parseFlags([]string{"-config", path, "-fps", "20", "-record", "-debug"}, io.Discard)
	if err != nil {
		t.Fatalf("parseFlags failed: %v", err)
	}

	if cfg.Input != "from-file.mp4" {
		t.Errorf("Input = %q, want value from file", cfg.Input)
	}
	if cfg.Cascade != "from-env.xml" {
		t.Errorf("Cascade = %q, env should override file", cfg.Cascade)
	}
	if cfg.FPS != 20 {
		t.Errorf("FPS = %d, flag should override file", cfg.FPS)
	}
	if !cfg.Record || cfg.LogLevel != "debug" {
		t.Errorf("Record = %v, LogLevel = %q", cfg.Record, cfg.LogLevel)
	}
}

func TestParseFlags_PositionalInput(t *testing.T) {
	cfg, err := parseFlags([]string{"-headless", "-no-download", "clips/hallway.mp4"}, io.Discard)
	if err != nil {
		t.Fatalf("parseFlags failed: %v", err)
	}
	if cfg.Input != "clips/hallway.mp4" {
		t.Errorf("Input = %q", cfg.Input)
	}
	if !cfg.Headless || cfg.Download {
		t.Errorf("Headless = %v, Download = %v", cfg.Headless, cfg.Download)
	}
}

func TestParseFlags_Invalid(t *testing.T) {
	if _, err := parseFlags([]string{"-backend", "dnn"}, io.Discard); err == nil {
		t.Error("unknown backend should fail")
	}
	if _, err := parseFlags([]string{"-scale-factor", "1"}, io.Discard); !errors.Is(err, detection.ErrInvalidParams) {
		t.Errorf("scale factor 1: err = %v, want ErrInvalidParams", err)
	}
	if _, err := parseFlags([]string{"-h"}, io.Discard); !errors.Is(err, flag.ErrHelp) {
		t.Errorf("-h: err = %v, want flag.ErrHelp", err)
	}
}

func TestRun_MissingModelFails(t *testing.T) {
	cfg := config.Default()
	cfg.Input = "synthetic:3"
	cfg.CascadeDir = t.TempDir()
	cfg.Download = false
	cfg.Headless = true
	cfg.History = filepath.Join(t.TempDir(), "history.db")

	err := run(context.Background(), cfg, nil)
	if !errors.Is(err, detection.ErrModelNotFound) {
		t.Fatalf("run = %v, want ErrModelNotFound", err)
	}
}
