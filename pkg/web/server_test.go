package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/teslashibe/go-haarcam/pkg/capture"
	"github.com/teslashibe/go-haarcam/pkg/detection"
	"github.com/teslashibe/go-haarcam/pkg/history"
	"github.com/teslashibe/go-haarcam/pkg/pipeline"
	"gocv.io/x/gocv"
)

type mockHistory struct {
	recs  []history.SessionRecord
	err   error
	limit int
}

func (m *mockHistory) Recent(_ context.Context, limit int) ([]history.SessionRecord, error) {
	m.limit = limit
	return m.recs, m.err
}

func TestIndex(t *testing.T) {
	s := NewServer(nil, nil)

	resp, err := s.App().Test(httptest.NewRequest("GET", "/", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "/ws/frames") {
		t.Error("index page should connect to /ws/frames")
	}
}

func TestStatus_TracksObserverEvents(t *testing.T) {
	s := NewServer(nil, nil)

	s.OnTransition("abc", pipeline.Idle, pipeline.Opening)
	s.OnTransition("abc", pipeline.Opening, pipeline.Running)
	s.OnFrame(pipeline.FrameStat{SessionID: "abc", Index: 1, Regions: make([]detection.Region, 2)})
	s.OnFrame(pipeline.FrameStat{SessionID: "abc", Index: 2, Regions: make([]detection.Region, 1)})

	resp, err := s.App().Test(httptest.NewRequest("GET", "/api/status", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	var st Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if st.SessionID != "abc" || st.State != pipeline.Running {
		t.Errorf("status = %+v", st)
	}
	if st.Frames != 2 || st.Regions != 3 || st.LastRegions != 1 || st.LastFrame != 2 {
		t.Errorf("counters = %+v", st)
	}
}

func TestStatus_PrimaryRegion(t *testing.T) {
	s := NewServer(nil, nil)
	s.OnTransition("abc", pipeline.Idle, pipeline.Running)

	regions := []detection.Region{
		{X: 0, Y: 0, Width: 10, Height: 10},
		{X: 20, Y: 20, Width: 40, Height: 30},
	}
	s.OnFrame(pipeline.FrameStat{SessionID: "abc", Index: 1, Regions: regions, Primary: detection.Largest(regions)})

	st := s.CurrentStatus()
	if st.Primary == nil || *st.Primary != regions[1] {
		t.Fatalf("Primary = %+v, want %+v", st.Primary, regions[1])
	}

	// Later changes to the frame's regions do not leak into the status.
	regions[1].Width = 1
	if st := s.CurrentStatus(); st.Primary.Width != 40 {
		t.Errorf("Primary aliases the frame regions: %+v", st.Primary)
	}

	s.OnFrame(pipeline.FrameStat{SessionID: "abc", Index: 2})
	if st := s.CurrentStatus(); st.Primary != nil {
		t.Errorf("Primary = %+v after a frame without regions, want nil", st.Primary)
	}
}

func TestStatus_BroadcastErrorLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s := NewServer(nil, logger)

	s.broadcastStatus(make(chan int))

	if !strings.Contains(buf.String(), "status broadcast failed") {
		t.Errorf("expected broadcast failure in the log, got %q", buf.String())
	}
}

func TestStatus_NewSessionResets(t *testing.T) {
	s := NewServer(nil, nil)
	s.OnTransition("one", pipeline.Idle, pipeline.Opening)
	s.OnFrame(pipeline.FrameStat{SessionID: "one", Index: 1})
	s.OnTransition("two", pipeline.Idle, pipeline.Opening)

	st := s.CurrentStatus()
	if st.SessionID != "two" || st.Frames != 0 {
		t.Errorf("status = %+v, want fresh session two", st)
	}
}

func TestHistory(t *testing.T) {
	tests := []struct {
		name       string
		hist       HistoryLister
		query      string
		wantStatus int
		wantLen    int
	}{
		{name: "no store", hist: nil, wantStatus: 200, wantLen: 0},
		{
			name:       "records",
			hist:       &mockHistory{recs: []history.SessionRecord{{ID: "a"}, {ID: "b"}}},
			wantStatus: 200,
			wantLen:    2,
		},
		{name: "bad limit", hist: &mockHistory{}, query: "?limit=0", wantStatus: 400},
		{name: "store error", hist: &mockHistory{err: errors.New("disk")}, wantStatus: 500},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := NewServer(tc.hist, nil)
			resp, err := s.App().Test(httptest.NewRequest("GET", "/api/history"+tc.query, nil))
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.wantStatus)
			}
			if tc.wantStatus != 200 {
				return
			}
			var recs []history.SessionRecord
			if err := json.NewDecoder(resp.Body).Decode(&recs); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(recs) != tc.wantLen {
				t.Errorf("len = %d, want %d", len(recs), tc.wantLen)
			}
		})
	}
}

func TestHistory_LimitPassedThrough(t *testing.T) {
	m := &mockHistory{}
	s := NewServer(m, nil)
	if _, err := s.App().Test(httptest.NewRequest("GET", "/api/history?limit=5", nil)); err != nil {
		t.Fatal(err)
	}
	if m.limit != 5 {
		t.Errorf("limit = %d, want 5", m.limit)
	}
}

func TestWebSocket_UpgradeRequired(t *testing.T) {
	s := NewServer(nil, nil)
	resp, err := s.App().Test(httptest.NewRequest("GET", "/ws/frames", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != 426 {
		t.Errorf("status = %d, want 426", resp.StatusCode)
	}
}

func TestShow_NoViewersSkipsEncoding(t *testing.T) {
	s := NewServer(nil, nil)
	// An empty Mat would fail to encode; without viewers it is never touched.
	if err := s.Show(capture.Frame{Mat: gocv.NewMat()}); err != nil {
		t.Errorf("Show = %v", err)
	}
	if s.WaitKey() >= 0 {
		t.Error("WaitKey should report no key")
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close = %v", err)
	}
}

func startServer(t *testing.T, s *Server) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Serve(ctx, ln)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return "ws://" + ln.Addr().String()
}

func TestWebSocket_FrameBroadcast(t *testing.T) {
	s := NewServer(nil, nil)
	base := startServer(t, s)

	var ws *websocket.Conn
	var err error
	for i := 0; i < 20; i++ {
		ws, _, err = websocket.DefaultDialer.Dial(base+"/ws/frames", nil)
		if err == nil {
			break
		}
		time.Sleep(25 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	defer ws.Close()

	deadline := time.Now().Add(time.Second)
	for s.frameHub.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("viewer was not registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 128, 0, 0), 48, 64, gocv.MatTypeCV8UC3)
	frame := capture.Frame{Mat: mat, Index: 1}
	defer frame.Close()

	if err := s.Show(frame); err != nil {
		t.Fatalf("Show failed: %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if msgType != websocket.BinaryMessage {
		t.Errorf("message type = %d, want binary", msgType)
	}
	if len(data) < 2 || data[0] != 0xFF || data[1] != 0xD8 {
		t.Errorf("frame is not a JPEG: % x", data[:min(len(data), 4)])
	}
}

func TestWebSocket_StatusSnapshot(t *testing.T) {
	s := NewServer(nil, nil)
	s.OnTransition("snap", pipeline.Idle, pipeline.Opening)
	base := startServer(t, s)

	var ws *websocket.Conn
	var err error
	for i := 0; i < 20; i++ {
		ws, _, err = websocket.DefaultDialer.Dial(base+"/ws/status", nil)
		if err == nil {
			break
		}
		time.Sleep(25 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	defer ws.Close()

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var st Status
	if err := ws.ReadJSON(&st); err != nil {
		t.Fatalf("read status: %v", err)
	}
	if st.SessionID != "snap" || st.State != pipeline.Opening {
		t.Errorf("status = %+v", st)
	}
}
