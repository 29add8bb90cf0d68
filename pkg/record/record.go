// Package record buffers annotated frames and writes them as an animated GIF.
package record

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio/v2"
	"github.com/teslashibe/go-haarcam/pkg/capture"
	"gocv.io/x/gocv"
)

// Sentinel errors for recording.
var (
	// ErrWrite is returned when the output file cannot be encoded or written.
	ErrWrite = errors.New("record: write failed")

	// ErrAlreadyFlushed is returned by Flush after the buffer was consumed.
	ErrAlreadyFlushed = errors.New("record: already flushed")

	// ErrFrameSize is returned by Append when a frame's size differs from the first one.
	ErrFrameSize = errors.New("record: frame size changed")
)

// DefaultFPS is the playback rate of the output animation.
const DefaultFPS = 25

// Recorder accumulates frames for one session. Append and Flush may be
// called from different goroutines.
type Recorder struct {
	fps    int
	logger *slog.Logger

	mu      sync.Mutex
	enabled bool
	flushed bool
	size    image.Point
	frames  []*image.RGBA
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithFPS sets the playback rate. Values <= 0 keep the default.
func WithFPS(fps int) Option {
	return func(r *Recorder) {
		if fps > 0 {
			r.fps = fps
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a disabled recorder.
func New(opts ...Option) *Recorder {
	r := &Recorder{
		fps:    DefaultFPS,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Enable turns recording on. Frames appended before Enable are not kept.
func (r *Recorder) Enable() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = true
}

// Enabled reports whether recording is on.
func (r *Recorder) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

// FPS returns the playback rate.
func (r *Recorder) FPS() int {
	return r.fps
}

// Len returns the number of buffered frames.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

// Append snapshots f in RGB order. It is a no-op when recording is disabled.
func (r *Recorder) Append(f capture.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.enabled {
		return nil
	}
	if r.flushed {
		return ErrAlreadyFlushed
	}
	if f.Empty() {
		return fmt.Errorf("record: empty frame %d", f.Index)
	}

	size := f.Size()
	if len(r.frames) == 0 {
		r.size = size
	} else if size != r.size {
		return fmt.Errorf("%w: %v, want %v", ErrFrameSize, size, r.size)
	}

	img, err := toRGBA(f.Mat)
	if err != nil {
		return err
	}
	r.frames = append(r.frames, img)
	return nil
}

// toRGBA converts a BGR, BGRA or gray Mat to a display-ready RGBA image.
func toRGBA(src gocv.Mat) (*image.RGBA, error) {
	var code gocv.ColorConversionCode
	switch ch := src.Channels(); ch {
	case 1:
		code = gocv.ColorGrayToRGBA
	case 3:
		code = gocv.ColorBGRToRGBA
	case 4:
		code = gocv.ColorBGRAToRGBA
	default:
		return nil, fmt.Errorf("record: unsupported channel count %d", ch)
	}

	rgba := gocv.NewMat()
	defer rgba.Close()
	gocv.CvtColor(src, &rgba, code)

	img, err := rgba.ToImage()
	if err != nil {
		return nil, fmt.Errorf("record: convert frame: %w", err)
	}
	if out, ok := img.(*image.RGBA); ok {
		return out, nil
	}
	out := image.NewRGBA(img.Bounds())
	draw.Draw(out, out.Bounds(), img, img.Bounds().Min, draw.Src)
	return out, nil
}

// Flush encodes the buffer to path and discards it. It may be called once.
// A disabled recorder writes nothing. An empty buffer produces a valid
// animation with no frames.
func (r *Recorder) Flush(path string) error {
	r.mu.Lock()
	if r.flushed {
		r.mu.Unlock()
		return ErrAlreadyFlushed
	}
	r.flushed = true
	enabled, frames, size := r.enabled, r.frames, r.size
	r.frames = nil
	r.mu.Unlock()

	if !enabled {
		return nil
	}

	var buf bytes.Buffer
	if len(frames) == 0 {
		writeEmptyGIF(&buf, size)
	} else if err := gif.EncodeAll(&buf, r.animation(frames)); err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrWrite, path, err)
	}

	if err := writeAtomic(path, buf.Bytes()); err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}

	r.logger.Info("recording written",
		"path", path,
		"frames", len(frames),
		"fps", r.fps,
		"bytes", buf.Len(),
	)
	return nil
}

// delay returns the per-frame delay in hundredths of a second.
func (r *Recorder) delay() int {
	return max(100/r.fps, 1)
}

func (r *Recorder) animation(frames []*image.RGBA) *gif.GIF {
	anim := &gif.GIF{
		Image: make([]*image.Paletted, 0, len(frames)),
		Delay: make([]int, 0, len(frames)),
	}
	delay := r.delay()
	for _, img := range frames {
		bounds := img.Bounds()
		p := image.NewPaletted(bounds, palette.Plan9)
		draw.FloydSteinberg.Draw(p, bounds, img, bounds.Min)
		anim.Image = append(anim.Image, p)
		anim.Delay = append(anim.Delay, delay)
	}
	return anim
}

// writeEmptyGIF writes a GIF89a stream with a logical screen and no image
// blocks. image/gif refuses to encode zero frames.
func writeEmptyGIF(buf *bytes.Buffer, size image.Point) {
	buf.WriteString("GIF89a")
	binary.Write(buf, binary.LittleEndian, uint16(size.X))
	binary.Write(buf, binary.LittleEndian, uint16(size.Y))
	buf.Write([]byte{
		0x00, // no global color table
		0x00, // background color index
		0x00, // pixel aspect ratio
		0x3B, // trailer
	})
}

func writeAtomic(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}

	pf, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer pf.Cleanup()

	if _, err := pf.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	return pf.CloseAtomicallyReplace()
}
