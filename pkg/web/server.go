// Package web serves a live viewer for a detection session: annotated
// frames over a websocket, session status and recent history.
package web

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/teslashibe/go-haarcam/pkg/capture"
	"github.com/teslashibe/go-haarcam/pkg/detection"
	"github.com/teslashibe/go-haarcam/pkg/display"
	"github.com/teslashibe/go-haarcam/pkg/history"
	"github.com/teslashibe/go-haarcam/pkg/hub"
	"github.com/teslashibe/go-haarcam/pkg/pipeline"
	"gocv.io/x/gocv"
)

// Status is the viewer's view of the current session.
type Status struct {
	SessionID   string            `json:"session_id,omitempty"`
	State       pipeline.State    `json:"state"`
	Frames      int64             `json:"frames"`
	Regions     int               `json:"regions"`
	LastRegions int               `json:"last_regions"`
	LastFrame   int64             `json:"last_frame"`
	Primary     *detection.Region `json:"primary,omitempty"`
	Viewers     int               `json:"viewers"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// HistoryLister returns recent sessions. *history.Store implements it.
type HistoryLister interface {
	Recent(ctx context.Context, limit int) ([]history.SessionRecord, error)
}

// Server is the viewer. It is a display.Display for annotated frames and a
// pipeline.Observer for session events.
type Server struct {
	app     *fiber.App
	logger  *slog.Logger
	history HistoryLister

	status   Status
	statusMu sync.RWMutex

	frameHub  *hub.Hub
	statusHub *hub.Hub
}

// NewServer creates the viewer. hist may be nil.
func NewServer(hist HistoryLister, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		logger:    logger.With("component", "web"),
		history:   hist,
		frameHub:  hub.New("frames", logger),
		statusHub: hub.New("status", logger),
	}

	app := fiber.New(fiber.Config{
		AppName:               "haarcam viewer",
		DisableStartupMessage: true,
	})
	app.Use(cors.New())

	app.Get("/", s.handleIndex)

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/history", s.handleHistory)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/frames", websocket.New(s.handleFramesWS))
	app.Get("/ws/status", websocket.New(s.handleStatusWS))

	s.app = app
	return s
}

// App returns the fiber app for tests and embedding.
func (s *Server) App() *fiber.App {
	return s.app
}

// Serve runs the hubs and serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go s.frameHub.Run(ctx)
	go s.statusHub.Run(ctx)

	errc := make(chan error, 1)
	go func() {
		errc <- s.app.Listener(ln)
	}()

	s.logger.Info("viewer listening", "url", "http://"+ln.Addr().String())

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		if err := s.app.ShutdownWithTimeout(5 * time.Second); err != nil {
			return err
		}
		<-errc
		return nil
	}
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Show encodes f as JPEG and broadcasts it to frame viewers. Encoding is
// skipped while nobody is watching.
func (s *Server) Show(f capture.Frame) error {
	if s.frameHub.ClientCount() == 0 || f.Empty() {
		return nil
	}
	data, err := encodeJPEG(f)
	if err != nil {
		return err
	}
	s.frameHub.BroadcastBinary(data)
	return nil
}

// WaitKey always returns display.NoKey; the viewer has no stop control.
func (s *Server) WaitKey() int {
	return display.NoKey
}

// Close is a no-op. The server outlives a session and stops with Serve's context.
func (s *Server) Close() error {
	return nil
}

// OnTransition records the new state and pushes it to status viewers.
func (s *Server) OnTransition(sessionID string, _, to pipeline.State) {
	s.updateStatus(func(st *Status) {
		if st.SessionID != sessionID {
			*st = Status{SessionID: sessionID}
		}
		st.State = to
	})
}

// OnFrame updates the frame counters. Status is only pushed on
// transitions and every 25th frame to keep the socket quiet.
func (s *Server) OnFrame(stat pipeline.FrameStat) {
	st := s.updateStatusQuiet(func(st *Status) {
		st.Frames++
		st.Regions += len(stat.Regions)
		st.LastRegions = len(stat.Regions)
		st.LastFrame = stat.Index
		st.Primary = nil
		if stat.Primary != nil {
			primary := *stat.Primary
			st.Primary = &primary
		}
	})
	if st.Frames%25 == 1 {
		s.broadcastStatus(st)
	}
}

// CurrentStatus returns a copy of the status.
func (s *Server) CurrentStatus() Status {
	s.statusMu.RLock()
	st := s.status
	s.statusMu.RUnlock()
	st.Viewers = s.frameHub.ClientCount()
	return st
}

func (s *Server) updateStatus(update func(*Status)) {
	s.broadcastStatus(s.updateStatusQuiet(update))
}

func (s *Server) broadcastStatus(v any) {
	if err := s.statusHub.BroadcastJSON(v); err != nil {
		s.logger.Debug("status broadcast failed", "error", err)
	}
}

func (s *Server) updateStatusQuiet(update func(*Status)) Status {
	s.statusMu.Lock()
	update(&s.status)
	s.status.UpdatedAt = time.Now()
	st := s.status
	s.statusMu.Unlock()
	st.Viewers = s.frameHub.ClientCount()
	return st
}

func encodeJPEG(f capture.Frame) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, f.Mat)
	if err != nil {
		return nil, err
	}
	defer buf.Close()
	data := bytes.Clone(buf.GetBytes())
	if len(data) == 0 {
		return nil, errors.New("web: empty jpeg")
	}
	return data, nil
}

var (
	_ display.Display   = (*Server)(nil)
	_ pipeline.Observer = (*Server)(nil)
)
