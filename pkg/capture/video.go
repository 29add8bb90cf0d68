package capture

import (
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// VideoSource reads frames through OpenCV from a device or a video file.
type VideoSource struct {
	id     string
	kind   Kind
	device int
	logger *slog.Logger

	mu      sync.Mutex
	vc      *gocv.VideoCapture
	size    image.Point
	index   int64
	done    bool
	closed  bool
	release func()
}

func openDevice(id string, device int, logger *slog.Logger) (*VideoSource, error) {
	release, err := claimDevice(device)
	if err != nil {
		return nil, err
	}

	vc, err := gocv.VideoCaptureDevice(device)
	if err != nil {
		release()
		return nil, fmt.Errorf("%w: device %d: %v", ErrSourceUnavailable, device, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		release()
		return nil, fmt.Errorf("%w: device %d not opened", ErrSourceUnavailable, device)
	}

	return newVideoSource(id, KindDevice, device, vc, release, logger), nil
}

func openFile(id, path string, logger *slog.Logger) (*VideoSource, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, path, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("%w: %s not opened", ErrSourceUnavailable, path)
	}

	return newVideoSource(id, KindFile, -1, vc, func() {}, logger), nil
}

func newVideoSource(id string, kind Kind, device int, vc *gocv.VideoCapture, release func(), logger *slog.Logger) *VideoSource {
	s := &VideoSource{
		id:      id,
		kind:    kind,
		device:  device,
		vc:      vc,
		release: release,
		logger:  logger,
		size: image.Pt(
			int(vc.Get(gocv.VideoCaptureFrameWidth)),
			int(vc.Get(gocv.VideoCaptureFrameHeight)),
		),
	}

	logger.Info("frame source opened",
		"identifier", id,
		"kind", kind,
		"width", s.size.X,
		"height", s.size.Y,
		"fps", vc.Get(gocv.VideoCaptureFPS),
	)
	return s
}

// Next reads the next frame.
func (s *VideoSource) Next() (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done || s.closed {
		return Frame{}, io.EOF
	}

	mat := gocv.NewMat()
	if ok := s.vc.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		s.done = true
		if s.kind == KindDevice {
			return Frame{}, fmt.Errorf("%w: device %d returned no frame", ErrFrameRead, s.device)
		}
		return Frame{}, io.EOF
	}

	// Frame size is fixed for the lifetime of a session.
	size := image.Pt(mat.Cols(), mat.Rows())
	if s.index == 0 {
		s.size = size
	} else if size != s.size {
		mat.Close()
		s.done = true
		return Frame{}, fmt.Errorf("%w: frame size changed from %v to %v", ErrFrameRead, s.size, size)
	}

	s.index++
	return Frame{Mat: mat, Index: s.index, Timestamp: time.Now()}, nil
}

// Size returns the capture dimensions.
func (s *VideoSource) Size() image.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Identifier returns the identifier the source was opened with.
func (s *VideoSource) Identifier() string {
	return s.id
}

// Kind returns KindDevice or KindFile.
func (s *VideoSource) Kind() Kind {
	return s.kind
}

// Close releases the capture handle and the device claim.
func (s *VideoSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	err := s.vc.Close()
	s.release()

	s.logger.Info("frame source released",
		"identifier", s.id,
		"frames", s.index,
	)
	return err
}
