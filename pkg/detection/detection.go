// Package detection provides cascade classifier object detection.
package detection

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
)

// Sentinel errors for detection.
var (
	// ErrModelNotFound is returned when a cascade definition is missing or unreadable.
	ErrModelNotFound = errors.New("detection: model not found")

	// ErrEmptyFrame is returned when normalizing or detecting on an empty image.
	ErrEmptyFrame = errors.New("detection: empty frame")

	// ErrInvalidParams is returned by Params.Validate.
	ErrInvalidParams = errors.New("detection: invalid params")
)

// Region is an axis-aligned rectangle in frame pixel coordinates.
type Region struct {
	X, Y          int
	Width, Height int
}

// RegionFromRect converts an image.Rectangle to a Region.
func RegionFromRect(r image.Rectangle) Region {
	r = r.Canon()
	return Region{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

// Rect returns the region as an image.Rectangle.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// Center returns the center point of the region
func (r Region) Center() image.Point {
	return image.Pt(r.X+r.Width/2, r.Y+r.Height/2)
}

// Area returns the area of the bounding box
func (r Region) Area() int {
	return r.Width * r.Height
}

// Within reports whether the region is non-empty and lies fully inside bounds.
func (r Region) Within(bounds image.Rectangle) bool {
	return r.Width > 0 && r.Height > 0 &&
		r.X >= bounds.Min.X && r.Y >= bounds.Min.Y &&
		r.X+r.Width <= bounds.Max.X && r.Y+r.Height <= bounds.Max.Y
}

// clip intersects every rectangle with bounds and drops empty results.
// Overlapping rectangles are kept as returned by the classifier.
func clip(rects []image.Rectangle, bounds image.Rectangle) []Region {
	regions := make([]Region, 0, len(rects))
	for _, r := range rects {
		r = r.Canon().Intersect(bounds)
		if r.Empty() {
			continue
		}
		regions = append(regions, RegionFromRect(r))
	}
	return regions
}

// Largest returns the region with the biggest area, or nil for no regions.
func Largest(regions []Region) *Region {
	if len(regions) == 0 {
		return nil
	}
	best := &regions[0]
	for i := range regions[1:] {
		if regions[i+1].Area() > best.Area() {
			best = &regions[i+1]
		}
	}
	return best
}

// Detector finds regions in normalized frames.
type Detector interface {
	// Detect returns the regions found in n. The result may be empty and
	// may contain overlapping regions.
	Detect(n *Normalized) ([]Region, error)

	// Close releases resources
	Close() error
}

// Params are the multi-scale sliding-window scan parameters.
type Params struct {
	ScaleFactor  float64 // Window growth per scale step (> 1)
	MinNeighbors int     // Haar: overlapping hits required to keep a candidate
	MinSize      int     // Smallest window side in pixels
	MaxSize      int     // Largest window side in pixels, 0 = frame size

	// Pigo only
	ShiftFactor  float64 // Window shift as a fraction of its size
	IoUThreshold float64 // Overlap threshold for clustering raw hits
	MinQuality   float32 // Minimum detection score kept after clustering
}

// DefaultParams returns the scan defaults commonly used with OpenCV face cascades.
func DefaultParams() Params {
	return Params{
		ScaleFactor:  1.1,
		MinNeighbors: 3,
		MinSize:      30,
		MaxSize:      0,
		ShiftFactor:  0.1,
		IoUThreshold: 0.2,
		MinQuality:   5.0,
	}
}

// Validate checks the parameters are usable for a scan.
func (p Params) Validate() error {
	switch {
	case p.ScaleFactor <= 1:
		return fmt.Errorf("%w: scale_factor must be > 1, got %v", ErrInvalidParams, p.ScaleFactor)
	case p.MinNeighbors < 0:
		return fmt.Errorf("%w: min_neighbors must be >= 0, got %d", ErrInvalidParams, p.MinNeighbors)
	case p.MinSize < 0 || p.MaxSize < 0:
		return fmt.Errorf("%w: window sizes must be >= 0", ErrInvalidParams)
	case p.MaxSize > 0 && p.MaxSize < p.MinSize:
		return fmt.Errorf("%w: max_size %d below min_size %d", ErrInvalidParams, p.MaxSize, p.MinSize)
	case p.ShiftFactor <= 0 || p.ShiftFactor >= 1:
		return fmt.Errorf("%w: shift_factor must be in (0, 1), got %v", ErrInvalidParams, p.ShiftFactor)
	case p.IoUThreshold < 0 || p.IoUThreshold > 1:
		return fmt.Errorf("%w: iou_threshold must be in [0, 1], got %v", ErrInvalidParams, p.IoUThreshold)
	}
	return nil
}

// Config holds detector configuration
type Config struct {
	ModelDir string       // Directory holding cascade files
	Backend  Backend      // Classifier implementation
	Params   Params       // Scan parameters
	Logger   *slog.Logger // Optional, defaults to slog.Default
}

// DefaultConfig returns production defaults for OpenCV Haar cascades.
func DefaultConfig() Config {
	return Config{
		ModelDir: "data/haarcascades",
		Backend:  BackendAuto,
		Params:   DefaultParams(),
	}
}

// Load loads the named cascade from ModelDir and binds it to Params.
func (c Config) Load(name string) (Detector, error) {
	if err := c.Params.Validate(); err != nil {
		return nil, err
	}
	model, err := LoadModel(c.ModelDir, name, c.Backend, c.Logger)
	if err != nil {
		return nil, err
	}
	return NewCascadeDetector(model, c.Params), nil
}
