package detection

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	pigo "github.com/esimov/pigo/core"
	"gocv.io/x/gocv"
)

// Backend selects the cascade classifier implementation.
type Backend string

const (
	// BackendAuto picks Haar for ".xml" cascades and Pigo otherwise.
	BackendAuto Backend = "auto"
	// BackendHaar uses OpenCV's CascadeClassifier (Haar or LBP XML cascades).
	BackendHaar Backend = "haar"
	// BackendPigo uses the pure Go pixel intensity comparison cascade.
	BackendPigo Backend = "pigo"
)

// ParseBackend maps a config string to a Backend. Empty means auto.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(s))); b {
	case "", BackendAuto:
		return BackendAuto, nil
	case BackendHaar, BackendPigo:
		return b, nil
	default:
		return "", fmt.Errorf("detection: unsupported backend %q", s)
	}
}

// ResolveBackend returns the concrete backend for a cascade file name.
func ResolveBackend(b Backend, name string) Backend {
	if b != BackendAuto && b != "" {
		return b
	}
	if strings.EqualFold(filepath.Ext(name), ".xml") {
		return BackendHaar
	}
	return BackendPigo
}

// Model is a loaded cascade definition. It is never modified after
// LoadModel returns and may be shared by concurrent Detect calls.
type Model struct {
	name    string
	path    string
	backend Backend

	// OpenCV's classifier keeps per-call scratch buffers, so Haar scans
	// are serialized. Pigo scans only read the unpacked cascade.
	mu     sync.Mutex
	haar   gocv.CascadeClassifier
	pigo   *pigo.Pigo
	closed bool
}

// LoadModel reads the cascade name from dir. Missing or unparsable
// definitions fail with ErrModelNotFound. A nil logger uses slog.Default.
func LoadModel(dir, name string, backend Backend, logger *slog.Logger) (*Model, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: empty model name", ErrModelNotFound)
	}

	path := name
	if !filepath.IsAbs(name) {
		path = filepath.Join(dir, name)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, path)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrModelNotFound, path)
	}

	m := &Model{
		name:    name,
		path:    path,
		backend: ResolveBackend(backend, name),
	}

	switch m.backend {
	case BackendHaar:
		classifier := gocv.NewCascadeClassifier()
		if !classifier.Load(path) {
			classifier.Close()
			return nil, fmt.Errorf("%w: %s: cascade did not load", ErrModelNotFound, path)
		}
		m.haar = classifier
	case BackendPigo:
		classifier, err := unpackPigo(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrModelNotFound, path, err)
		}
		m.pigo = classifier
	default:
		return nil, fmt.Errorf("detection: unsupported backend %q", m.backend)
	}

	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("cascade model loaded",
		"model", name,
		"path", path,
		"backend", m.backend,
	)
	return m, nil
}

// unpackPigo reads and unpacks a Pigo cascade. Unpack indexes the raw
// buffer directly, so truncated files surface as a panic.
func unpackPigo(path string) (classifier *pigo.Pigo, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			classifier, err = nil, fmt.Errorf("malformed cascade: %v", r)
		}
	}()

	return pigo.NewPigo().Unpack(data)
}

// Name returns the cascade name the model was loaded with.
func (m *Model) Name() string {
	return m.name
}

// Path returns the cascade file path.
func (m *Model) Path() string {
	return m.path
}

// Backend returns the concrete backend (never BackendAuto).
func (m *Model) Backend() Backend {
	return m.backend
}

// Close releases the native classifier. It is safe to call Close multiple times.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	if m.backend == BackendHaar {
		return m.haar.Close()
	}
	return nil
}
