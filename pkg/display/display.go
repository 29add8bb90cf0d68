// Package display shows annotated frames and reports key presses.
package display

import (
	"errors"
	"sync"

	"github.com/teslashibe/go-haarcam/pkg/capture"
	"gocv.io/x/gocv"
)

// KeyEscape is the key code that stops a session.
const KeyEscape = 27

// NoKey is returned by WaitKey when nothing was pressed.
const NoKey = -1

// Display is a live viewer for annotated frames.
type Display interface {
	// Show presents f. The display must not keep f after returning.
	Show(f capture.Frame) error

	// WaitKey polls for a key press and returns its code, or NoKey.
	WaitKey() int

	// Close releases the viewer. It is safe to call Close multiple times.
	Close() error
}

// DefaultWaitMillis is how long Window.WaitKey blocks for input.
const DefaultWaitMillis = 10

// Window shows frames in an OpenCV highgui window. The window is created on
// the first Show so a session that never starts never opens one.
type Window struct {
	title string
	delay int

	mu     sync.Mutex
	window *gocv.Window
	closed bool
}

// NewWindow creates a lazily opened window.
func NewWindow(title string, waitMillis int) *Window {
	if waitMillis <= 0 {
		waitMillis = DefaultWaitMillis
	}
	return &Window{title: title, delay: waitMillis}
}

// Show displays f in the window.
func (w *Window) Show(f capture.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.New("display: window closed")
	}
	if w.window == nil {
		w.window = gocv.NewWindow(w.title)
	}
	w.window.IMShow(f.Mat)
	return nil
}

// WaitKey pumps the window event loop for the configured delay.
func (w *Window) WaitKey() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.window == nil || w.closed {
		return NoKey
	}
	return w.window.WaitKey(w.delay)
}

// Close destroys the window if it was opened.
func (w *Window) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	if w.window == nil {
		return nil
	}
	return w.window.Close()
}

// Headless discards frames. It is used when no window system is available.
type Headless struct{}

// Show does nothing.
func (Headless) Show(capture.Frame) error { return nil }

// WaitKey always returns NoKey.
func (Headless) WaitKey() int { return NoKey }

// Close does nothing.
func (Headless) Close() error { return nil }

// Multi fans frames out to several displays.
type Multi []Display

// Show presents f on every display and returns the joined errors.
func (m Multi) Show(f capture.Frame) error {
	var errs []error
	for _, d := range m {
		if err := d.Show(f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WaitKey returns the first key reported by any display. Every display is
// polled so each can pump its own event loop.
func (m Multi) WaitKey() int {
	key := NoKey
	for _, d := range m {
		if k := d.WaitKey(); k >= 0 && key < 0 {
			key = k
		}
	}
	return key
}

// Close closes every display.
func (m Multi) Close() error {
	var errs []error
	for _, d := range m {
		if err := d.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ Display = (*Window)(nil)
	_ Display = Headless{}
	_ Display = Multi(nil)
)
