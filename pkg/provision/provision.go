// Package provision makes cascade files available locally, downloading
// them from their upstream repositories on first use.
package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
	"github.com/teslashibe/go-haarcam/internal/httpc"
	"golang.org/x/sync/singleflight"
)

// ErrDownload is returned when a cascade cannot be fetched or stored.
var ErrDownload = errors.New("provision: download failed")

// Upstream locations of the published cascades.
const (
	HaarBaseURL = "https://raw.githubusercontent.com/opencv/opencv/4.x/data/haarcascades/"
	PigoBaseURL = "https://raw.githubusercontent.com/esimov/pigo/master/cascade/"
)

// DefaultMaxBytes caps a downloaded cascade. The largest OpenCV cascade is
// well under 3 MB.
const DefaultMaxBytes = 16 << 20

// Provisioner resolves cascade names to local files.
type Provisioner struct {
	Dir         string       // Local cache directory
	HaarBaseURL string       // Base URL for ".xml" cascades
	PigoBaseURL string       // Base URL for Pigo cascades
	Client      *http.Client // nil selects httpc.Client
	Logger      *slog.Logger
	MaxBytes    int64

	group singleflight.Group
}

// New creates a provisioner caching into dir.
func New(dir string, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{
		Dir:         dir,
		HaarBaseURL: HaarBaseURL,
		PigoBaseURL: PigoBaseURL,
		Logger:      logger.With("component", "provision"),
		MaxBytes:    DefaultMaxBytes,
	}
}

// URL returns the upstream location of name.
func (p *Provisioner) URL(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: invalid cascade name %q", ErrDownload, name)
	}
	base := p.PigoBaseURL
	if strings.EqualFold(filepath.Ext(name), ".xml") {
		base = p.HaarBaseURL
	}
	return url.JoinPath(base, name)
}

// Path returns where name is stored locally.
func (p *Provisioner) Path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(p.Dir, name)
}

// Ensure returns the local path of name, downloading it first if missing.
// Absolute paths are returned unchanged and never downloaded. Concurrent
// calls for the same name share one download.
func (p *Provisioner) Ensure(ctx context.Context, name string) (string, error) {
	path := p.Path(name)
	if filepath.IsAbs(name) {
		return path, nil
	}
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		return path, nil
	}

	_, err, _ := p.group.Do(name, func() (any, error) {
		return nil, p.download(ctx, name, path)
	})
	if err != nil {
		return "", err
	}
	return path, nil
}

func (p *Provisioner) download(ctx context.Context, name, path string) error {
	src, err := p.URL(name)
	if err != nil {
		return err
	}

	p.Logger.Info("cascade not available locally, downloading", "name", name, "url", src)

	resp, err := httpc.Get(ctx, p.Client, src)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDownload, src, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s: status %d", ErrDownload, src, resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: create directory: %v", ErrDownload, err)
	}

	pf, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDownload, err)
	}
	defer pf.Cleanup()

	limit := p.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	n, err := io.Copy(pf, io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDownload, src, err)
	}
	if n > limit {
		return fmt.Errorf("%w: %s: larger than %d bytes", ErrDownload, src, limit)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s: empty body", ErrDownload, src)
	}

	if err := pf.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("%w: %v", ErrDownload, err)
	}

	p.Logger.Info("cascade downloaded", "name", name, "path", path, "bytes", n)
	return nil
}
