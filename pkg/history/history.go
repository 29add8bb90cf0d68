// Package history persists session reports in SQLite.
package history

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/teslashibe/go-haarcam/pkg/pipeline"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when a session is not in the store.
var ErrNotFound = errors.New("history: session not found")

// SessionRecord is one stored session.
type SessionRecord struct {
	ID                string    `gorm:"primaryKey;size:36" json:"id"`
	Input             string    `json:"input"`
	Model             string    `json:"model"`
	Recording         bool      `json:"recording"`
	Frames            int       `json:"frames"`
	FramesRecorded    int       `json:"frames_recorded"`
	Regions           int       `json:"regions"`
	FramesWithRegions int       `json:"frames_with_regions"`
	EndReason         string    `gorm:"size:32" json:"end_reason"`
	Transitions       string    `json:"transitions"`
	OutputPath        string    `json:"output_path,omitempty"`
	Error             string    `json:"error,omitempty"`
	StartedAt         time.Time `gorm:"index" json:"started_at"`
	DurationMillis    int64     `json:"duration_ms"`
	CreatedAt         time.Time `json:"created_at"`
}

// FromReport converts a pipeline report.
func FromReport(r *pipeline.Report) SessionRecord {
	transitions := ""
	for i, s := range r.Transitions {
		if i > 0 {
			transitions += ","
		}
		transitions += s.String()
	}
	return SessionRecord{
		ID:                r.SessionID,
		Input:             r.Input,
		Model:             r.Model,
		Recording:         r.Recording,
		Frames:            r.Frames,
		FramesRecorded:    r.FramesRecorded,
		Regions:           r.Regions,
		FramesWithRegions: r.FramesWithRegions,
		EndReason:         string(r.EndReason),
		Transitions:       transitions,
		OutputPath:        r.OutputPath,
		Error:             r.Error,
		StartedAt:         r.StartedAt,
		DurationMillis:    r.Duration.Milliseconds(),
	}
}

// Store is a SQLite-backed session log.
type Store struct {
	db *gorm.DB
}

// Open opens or creates the database at path. ":memory:" keeps it in memory.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("history: create directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&SessionRecord{}); err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			sqlDB.Close()
		}
		return nil, fmt.Errorf("history: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Save stores a report, replacing any record with the same session id.
func (s *Store) Save(ctx context.Context, r *pipeline.Report) error {
	if r == nil {
		return errors.New("history: nil report")
	}
	rec := FromReport(r)
	if err := s.db.WithContext(ctx).Save(&rec).Error; err != nil {
		return fmt.Errorf("history: save %s: %w", rec.ID, err)
	}
	return nil
}

// Get returns the record for a session id.
func (s *Store) Get(ctx context.Context, id string) (*SessionRecord, error) {
	var rec SessionRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("history: get %s: %w", id, err)
	}
	return &rec, nil
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var recs []SessionRecord
	err := s.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	return recs, nil
}

// Count returns the number of stored sessions.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&SessionRecord{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("history: count: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
