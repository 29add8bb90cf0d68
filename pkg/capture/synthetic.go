package capture

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// Painter draws the content of synthetic frame index (1-based) onto img.
type Painter func(index int, img *gocv.Mat)

// SyntheticSource generates a fixed number of BGR frames in memory.
// It is used for tests and for the "synthetic:N" demo identifier.
type SyntheticSource struct {
	id     string
	frames int
	size   image.Point
	paint  Painter
	failAt int

	mu     sync.Mutex
	next   int
	done   bool
	closed bool
}

// SyntheticOption configures a SyntheticSource.
type SyntheticOption func(*SyntheticSource)

// WithPainter replaces the default FacePattern painter.
func WithPainter(p Painter) SyntheticOption {
	return func(s *SyntheticSource) {
		s.paint = p
	}
}

// WithReadFailureAt makes the read of frame index (1-based) fail with
// ErrFrameRead, like a device dropping out mid-stream.
func WithReadFailureAt(index int) SyntheticOption {
	return func(s *SyntheticSource) {
		s.failAt = index
	}
}

// NewSynthetic creates a source producing frames frames of the given size.
func NewSynthetic(frames int, size image.Point, opts ...SyntheticOption) *SyntheticSource {
	s := &SyntheticSource{
		id:     fmt.Sprintf("%s%d", syntheticPrefix, frames),
		frames: frames,
		size:   size,
		paint:  FacePattern,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Next returns the next generated frame or io.EOF once all frames were produced.
func (s *SyntheticSource) Next() (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done || s.closed {
		return Frame{}, io.EOF
	}
	if s.next >= s.frames {
		s.done = true
		return Frame{}, io.EOF
	}

	index := s.next + 1
	if s.failAt > 0 && index == s.failAt {
		s.done = true
		return Frame{}, fmt.Errorf("%w: synthetic failure at frame %d", ErrFrameRead, index)
	}

	mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(110, 115, 120, 0), s.size.Y, s.size.X, gocv.MatTypeCV8UC3)
	if s.paint != nil {
		s.paint(index, &mat)
	}

	s.next = index
	return Frame{Mat: mat, Index: int64(index), Timestamp: time.Now()}, nil
}

// Produced returns how many frames have been handed out.
func (s *SyntheticSource) Produced() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Size returns the generated frame size.
func (s *SyntheticSource) Size() image.Point {
	return s.size
}

// Identifier returns "synthetic:N".
func (s *SyntheticSource) Identifier() string {
	return s.id
}

// Kind returns KindSynthetic.
func (s *SyntheticSource) Kind() Kind {
	return KindSynthetic
}

// Close stops the source.
func (s *SyntheticSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *SyntheticSource) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// FaceBounds returns the rectangle covered by the face drawn by FacePattern
// for the given frame size and index.
func FaceBounds(size image.Point, index int) image.Rectangle {
	center := faceCenter(size, index)
	axes := faceAxes(size)
	top := center.Y - axes.Y - axes.Y/8
	return image.Rect(center.X-axes.X-2, top, center.X+axes.X+3, center.Y+axes.Y+1).
		Intersect(image.Rectangle{Max: size})
}

func faceCenter(size image.Point, index int) image.Point {
	// Drift a few pixels per frame so consecutive frames differ.
	return image.Pt(size.X/2+(index%5)*2-4, size.Y/2)
}

func faceAxes(size image.Point) image.Point {
	return image.Pt(size.X/6, size.Y/4)
}

// FacePattern draws a frontal face: a light oval under a dark hair line,
// with brows, eyes, a nose shade and a mouth, softened with a blur so the
// edges look like camera edges rather than hard strokes.
func FacePattern(index int, img *gocv.Mat) {
	size := image.Pt(img.Cols(), img.Rows())
	center := faceCenter(size, index)
	axes := faceAxes(size)

	hair := color.RGBA{R: 35, G: 30, B: 30}
	skin := color.RGBA{R: 215, G: 205, B: 195}
	shade := color.RGBA{R: 150, G: 140, B: 135}
	dark := color.RGBA{R: 25, G: 25, B: 25}

	gocv.Ellipse(img, image.Pt(center.X, center.Y-axes.Y/8), image.Pt(axes.X+2, axes.Y), 0, 180, 360, hair, -1)
	gocv.Ellipse(img, center, axes, 0, 0, 360, skin, -1)

	eyeY := center.Y - axes.Y/5
	eyeDX := axes.X * 9 / 20
	eye := image.Pt(max(axes.X/4, 1), max(axes.Y/12, 1))
	brow := image.Pt(max(axes.X/4, 1), max(axes.Y/24, 1))
	browY := eyeY - axes.Y/6
	for _, x := range []int{center.X - eyeDX, center.X + eyeDX} {
		gocv.Ellipse(img, image.Pt(x, browY), brow, 0, 0, 360, dark, -1)
		gocv.Ellipse(img, image.Pt(x, eyeY), eye, 0, 0, 360, dark, -1)
	}

	nose := image.Pt(max(axes.X/6, 1), max(axes.Y/10, 1))
	gocv.Ellipse(img, image.Pt(center.X, center.Y+axes.Y/5), nose, 0, 0, 360, shade, -1)

	mouth := image.Pt(axes.X*2/5, max(axes.Y/12, 1))
	gocv.Ellipse(img, image.Pt(center.X, center.Y+axes.Y*9/20), mouth, 0, 0, 360, dark, -1)

	gocv.GaussianBlur(*img, img, image.Pt(5, 5), 0, 0, gocv.BorderDefault)
}
