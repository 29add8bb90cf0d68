// Package overlay draws detection results onto frames.
package overlay

import (
	"image/color"

	"github.com/teslashibe/go-haarcam/pkg/capture"
	"github.com/teslashibe/go-haarcam/pkg/detection"
	"gocv.io/x/gocv"
)

// Every region is outlined in green with a 3 px stroke.
const boxThickness = 3

var boxColor = color.RGBA{R: 0, G: 255, B: 0, A: 0}

// Annotate returns a copy of f with each region outlined. f is not modified
// and the caller owns both frames.
func Annotate(f capture.Frame, regions []detection.Region) capture.Frame {
	out := f.Clone()
	for _, r := range regions {
		gocv.Rectangle(&out.Mat, r.Rect(), boxColor, boxThickness)
	}
	return out
}
