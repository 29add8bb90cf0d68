package detection

import (
	"fmt"
	"image"

	pigo "github.com/esimov/pigo/core"
)

// CascadeDetector binds a loaded Model to scan parameters.
type CascadeDetector struct {
	model  *Model
	params Params
}

// NewCascadeDetector creates a detector scanning with model and params.
// The detector owns the model and closes it on Close.
func NewCascadeDetector(model *Model, params Params) *CascadeDetector {
	return &CascadeDetector{model: model, params: params}
}

// Detect runs a multi-scale scan over n.
func (d *CascadeDetector) Detect(n *Normalized) ([]Region, error) {
	return Detect(n, d.model, d.params)
}

// Model returns the underlying cascade.
func (d *CascadeDetector) Model() *Model {
	return d.model
}

// Params returns the scan parameters.
func (d *CascadeDetector) Params() Params {
	return d.params
}

// Close releases the model.
func (d *CascadeDetector) Close() error {
	return d.model.Close()
}

// Detect scans n with model m using params p. Every returned region lies
// inside the frame bounds.
func Detect(n *Normalized, m *Model, p Params) ([]Region, error) {
	if n == nil || n.mat.Empty() {
		return nil, ErrEmptyFrame
	}
	if m == nil {
		return nil, fmt.Errorf("%w: nil model", ErrModelNotFound)
	}

	var (
		rects []image.Rectangle
		err   error
	)
	switch m.backend {
	case BackendHaar:
		rects, err = detectHaar(n, m, p)
	case BackendPigo:
		rects = detectPigo(n, m, p)
	default:
		err = fmt.Errorf("detection: unsupported backend %q", m.backend)
	}
	if err != nil {
		return nil, err
	}

	return clip(rects, n.Bounds()), nil
}

func detectHaar(n *Normalized, m *Model, p Params) ([]image.Rectangle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("detection: model %s is closed", m.name)
	}

	return m.haar.DetectMultiScaleWithParams(
		n.mat,
		p.ScaleFactor,
		p.MinNeighbors,
		0,
		image.Pt(p.MinSize, p.MinSize),
		image.Pt(p.MaxSize, p.MaxSize),
	), nil
}

func detectPigo(n *Normalized, m *Model, p Params) []image.Rectangle {
	rows, cols := n.size.Y, n.size.X

	maxSize := p.MaxSize
	if maxSize <= 0 {
		maxSize = min(rows, cols)
	}

	params := pigo.CascadeParams{
		MinSize:     max(p.MinSize, 1),
		MaxSize:     maxSize,
		ShiftFactor: p.ShiftFactor,
		ScaleFactor: p.ScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: n.Pixels(),
			Rows:   rows,
			Cols:   cols,
			Dim:    cols,
		},
	}

	dets := m.pigo.RunCascade(params, 0.0)
	dets = m.pigo.ClusterDetections(dets, p.IoUThreshold)
	return pigoRects(dets, p.MinQuality)
}

// pigoRects converts Pigo detections (center and side length) to
// rectangles, dropping those scored below minQuality.
func pigoRects(dets []pigo.Detection, minQuality float32) []image.Rectangle {
	rects := make([]image.Rectangle, 0, len(dets))
	for _, det := range dets {
		if det.Q < minQuality {
			continue
		}
		half := det.Scale / 2
		rects = append(rects, image.Rect(det.Col-half, det.Row-half, det.Col+half, det.Row+half))
	}
	return rects
}

var _ Detector = (*CascadeDetector)(nil)
