package history

import (
	"context"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/teslashibe/go-haarcam/pkg/pipeline"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testReport(id string, started time.Time) *pipeline.Report {
	return &pipeline.Report{
		SessionID:         id,
		Input:             "synthetic:10",
		Model:             "haarcascade_frontalface_default.xml",
		Recording:         true,
		Frames:            10,
		FramesRecorded:    10,
		Regions:           12,
		FramesWithRegions: 9,
		EndReason:         pipeline.EndEOS,
		Transitions:       []pipeline.State{pipeline.Idle, pipeline.Opening, pipeline.Running, pipeline.Draining, pipeline.Closed},
		OutputPath:        "record.gif",
		StartedAt:         started,
		Duration:          1500 * time.Millisecond,
	}
}

func TestStore_SaveAndGet(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	started := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	if err := store.Save(ctx, testReport("a", started)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	rec, err := store.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Frames != 10 || rec.Regions != 12 || rec.FramesWithRegions != 9 {
		t.Errorf("counts = %+v", rec)
	}
	if rec.EndReason != "eos" {
		t.Errorf("EndReason = %q, want eos", rec.EndReason)
	}
	if rec.Transitions != "idle,opening,running,draining,closed" {
		t.Errorf("Transitions = %q", rec.Transitions)
	}
	if rec.DurationMillis != 1500 {
		t.Errorf("DurationMillis = %d, want 1500", rec.DurationMillis)
	}
	if !rec.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", rec.StartedAt, started)
	}
}

func TestStore_GetNotFound(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get = %v, want ErrNotFound", err)
	}
}

func TestStore_SaveReplaces(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	r := testReport("same", time.Now())
	if err := store.Save(ctx, r); err != nil {
		t.Fatal(err)
	}
	r.Frames = 42
	if err := store.Save(ctx, r); err != nil {
		t.Fatal(err)
	}

	n, err := store.Count(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Count = %d, %v; want 1", n, err)
	}
	rec, _ := store.Get(ctx, "same")
	if rec.Frames != 42 {
		t.Errorf("Frames = %d, want 42", rec.Frames)
	}
}

func TestStore_RecentNewestFirst(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"first", "second", "third"} {
		if err := store.Save(ctx, testReport(id, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatal(err)
		}
	}

	recs, err := store.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len = %d, want 2", len(recs))
	}
	if recs[0].ID != "third" || recs[1].ID != "second" {
		t.Errorf("order = %s, %s", recs[0].ID, recs[1].ID)
	}
}

func TestStore_SaveNil(t *testing.T) {
	store := openTestStore(t)
	if err := store.Save(context.Background(), nil); err == nil {
		t.Error("Save(nil) should fail")
	}
}

func TestOpen_NotADatabase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.db")
	if err := os.WriteFile(path, bytes.Repeat([]byte("not a database "), 128), 0o644); err != nil {
		t.Fatal(err)
	}

	store, err := Open(path)
	if err == nil {
		store.Close()
		t.Fatal("Open should fail on a file that is not a database")
	}
	if store != nil {
		t.Error("store should be nil on error")
	}

	// The failed open released the file, so it can be replaced by a fresh store.
	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	again, err := Open(path)
	if err != nil {
		t.Fatalf("Open after replace failed: %v", err)
	}
	again.Close()
}
