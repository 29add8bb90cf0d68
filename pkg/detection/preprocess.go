package detection

import (
	"fmt"
	"image"

	"github.com/teslashibe/go-haarcam/pkg/capture"
	"gocv.io/x/gocv"
)

// Normalized is a single-channel, histogram-equalized copy of a frame.
// It can only be built with Normalize, so detectors never see raw frames.
type Normalized struct {
	mat  gocv.Mat
	size image.Point
}

// Normalize converts a frame to luminance and equalizes its histogram.
// The result has the frame's dimensions and must be closed by the caller.
func Normalize(f capture.Frame) (*Normalized, error) {
	if f.Mat.Empty() {
		return nil, ErrEmptyFrame
	}

	gray := gocv.NewMat()
	defer gray.Close()

	switch ch := f.Mat.Channels(); ch {
	case 1:
		f.Mat.CopyTo(&gray)
	case 3:
		gocv.CvtColor(f.Mat, &gray, gocv.ColorBGRToGray)
	case 4:
		gocv.CvtColor(f.Mat, &gray, gocv.ColorBGRAToGray)
	default:
		return nil, fmt.Errorf("detection: unsupported channel count %d", ch)
	}

	equalized := gocv.NewMat()
	gocv.EqualizeHist(gray, &equalized)

	return &Normalized{
		mat:  equalized,
		size: image.Pt(equalized.Cols(), equalized.Rows()),
	}, nil
}

// Mat returns the grayscale image. The caller must not close or modify it.
func (n *Normalized) Mat() gocv.Mat {
	return n.mat
}

// Size returns the image dimensions.
func (n *Normalized) Size() image.Point {
	return n.size
}

// Bounds returns the image rectangle anchored at the origin.
func (n *Normalized) Bounds() image.Rectangle {
	return image.Rectangle{Max: n.size}
}

// Channels is always 1.
func (n *Normalized) Channels() int {
	return n.mat.Channels()
}

// Pixels returns a copy of the grayscale pixels in row-major order.
func (n *Normalized) Pixels() []byte {
	return n.mat.ToBytes()
}

// Close releases the grayscale image.
func (n *Normalized) Close() error {
	return n.mat.Close()
}
