package pipeline

import (
	"time"

	"github.com/teslashibe/go-haarcam/pkg/detection"
)

// Report summarizes a finished session.
type Report struct {
	SessionID         string        `json:"session_id"`
	Input             string        `json:"input"`
	Model             string        `json:"model"`
	Recording         bool          `json:"recording"`
	Frames            int           `json:"frames"`
	FramesRecorded    int           `json:"frames_recorded"`
	Regions           int           `json:"regions"`
	FramesWithRegions int           `json:"frames_with_regions"`
	EndReason         EndReason     `json:"end_reason"`
	Transitions       []State       `json:"transitions"`
	OutputPath        string        `json:"output_path,omitempty"`
	StartedAt         time.Time     `json:"started_at"`
	Duration          time.Duration `json:"duration"`
	Error             string        `json:"error,omitempty"`
}

// FrameStat describes one processed frame.
type FrameStat struct {
	SessionID string
	Index     int64
	Regions   []detection.Region
	Primary   *detection.Region // Largest region, nil when none
	Recorded  bool
	Elapsed   time.Duration
}

// Observer receives lifecycle and per-frame events. Calls are made from the
// session goroutine and must not block.
type Observer interface {
	OnTransition(sessionID string, from, to State)
	OnFrame(stat FrameStat)
}

// observers fans events out to several observers.
type observers []Observer

func (o observers) OnTransition(sessionID string, from, to State) {
	for _, obs := range o {
		obs.OnTransition(sessionID, from, to)
	}
}

func (o observers) OnFrame(stat FrameStat) {
	for _, obs := range o {
		obs.OnFrame(stat)
	}
}
