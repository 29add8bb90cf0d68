// Package capture provides frame sources for the detection pipeline.
//
// A source is either a live capture device, a recorded video file or a
// synthetic in-memory generator. The kind is resolved from the identifier:
//   - "0", "1", ...      capture device index
//   - "synthetic:N"      N generated frames with a face-like pattern
//   - anything else      path to a recorded video
package capture

import (
	"image"
	"time"

	"gocv.io/x/gocv"
)

// Frame is one captured image in interleaved BGR order.
// The holder of a Frame owns its Mat and must Close it.
type Frame struct {
	// Mat holds the pixels (gocv.MatTypeCV8UC3 for camera and file sources).
	Mat gocv.Mat

	// Index is 1-based and increases by one per frame read from the source.
	Index int64

	// Timestamp records when the frame was read.
	Timestamp time.Time
}

// Width returns the frame width in pixels.
func (f Frame) Width() int {
	return f.Mat.Cols()
}

// Height returns the frame height in pixels.
func (f Frame) Height() int {
	return f.Mat.Rows()
}

// Size returns the frame dimensions as a point (X=width, Y=height).
func (f Frame) Size() image.Point {
	return image.Pt(f.Mat.Cols(), f.Mat.Rows())
}

// Bounds returns the frame rectangle anchored at the origin.
func (f Frame) Bounds() image.Rectangle {
	return image.Rectangle{Max: f.Size()}
}

// Empty reports whether the frame carries no pixels.
func (f Frame) Empty() bool {
	return f.Mat.Empty()
}

// Clone returns a deep copy with the same index and timestamp.
func (f Frame) Clone() Frame {
	return Frame{
		Mat:       f.Mat.Clone(),
		Index:     f.Index,
		Timestamp: f.Timestamp,
	}
}

// Close releases the underlying Mat.
func (f *Frame) Close() error {
	return f.Mat.Close()
}
