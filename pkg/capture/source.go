package capture

import (
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"strconv"
	"strings"
)

// Sentinel errors for source handling.
var (
	// ErrSourceUnavailable is returned when a device or file cannot be opened.
	ErrSourceUnavailable = errors.New("capture: source unavailable")

	// ErrDeviceBusy is returned when another session already holds the device.
	ErrDeviceBusy = fmt.Errorf("%w: device busy", ErrSourceUnavailable)

	// ErrFrameRead is returned once when a live device stops delivering frames.
	ErrFrameRead = errors.New("capture: frame read failed")
)

// Kind identifies how a source obtains frames.
type Kind string

const (
	// KindDevice reads from a capture device by index.
	KindDevice Kind = "device"
	// KindFile reads a recorded video.
	KindFile Kind = "file"
	// KindSynthetic generates frames in memory.
	KindSynthetic Kind = "synthetic"
)

// syntheticPrefix selects the synthetic source, e.g. "synthetic:10".
const syntheticPrefix = "synthetic:"

// DefaultSyntheticSize is the frame size used for "synthetic:N" identifiers.
var DefaultSyntheticSize = image.Pt(320, 240)

// Source is a sequence of frames from a camera, a file or a generator.
type Source interface {
	// Next returns the next frame. io.EOF marks the end of the stream and is
	// returned again on every later call. A live device that fails mid-stream
	// returns an error wrapping ErrFrameRead once, then io.EOF.
	Next() (Frame, error)

	// Size returns the frame dimensions, or the zero point if not yet known.
	Size() image.Point

	// Identifier returns the identifier the source was opened with.
	Identifier() string

	// Kind returns the resolved source kind.
	Kind() Kind

	// Close releases the device or file. It is safe to call Close multiple times.
	io.Closer
}

// Target is a resolved source identifier.
type Target struct {
	Kind   Kind
	Device int    // set for KindDevice
	Path   string // set for KindFile
	Frames int    // set for KindSynthetic
}

// Resolve maps an identifier to a source target without opening anything.
func Resolve(identifier string) (Target, error) {
	id := strings.TrimSpace(identifier)
	if id == "" {
		return Target{}, fmt.Errorf("%w: empty identifier", ErrSourceUnavailable)
	}

	if n, err := strconv.Atoi(id); err == nil {
		if n < 0 {
			return Target{}, fmt.Errorf("%w: negative device index %d", ErrSourceUnavailable, n)
		}
		return Target{Kind: KindDevice, Device: n}, nil
	}

	if rest, ok := strings.CutPrefix(id, syntheticPrefix); ok {
		n, err := strconv.Atoi(rest)
		if err != nil || n < 0 {
			return Target{}, fmt.Errorf("%w: bad synthetic frame count %q", ErrSourceUnavailable, rest)
		}
		return Target{Kind: KindSynthetic, Frames: n}, nil
	}

	return Target{Kind: KindFile, Path: id}, nil
}

// Open resolves identifier and opens the matching source.
// Failures wrap ErrSourceUnavailable.
func Open(identifier string, logger *slog.Logger) (Source, error) {
	if logger == nil {
		logger = slog.Default()
	}

	target, err := Resolve(identifier)
	if err != nil {
		return nil, err
	}

	logger.Info("opening frame source",
		"identifier", identifier,
		"kind", target.Kind,
	)

	switch target.Kind {
	case KindDevice:
		return openDevice(identifier, target.Device, logger)
	case KindFile:
		return openFile(identifier, target.Path, logger)
	case KindSynthetic:
		return NewSynthetic(target.Frames, DefaultSyntheticSize), nil
	default:
		return nil, fmt.Errorf("%w: unsupported kind %s", ErrSourceUnavailable, target.Kind)
	}
}
