package recording

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// gormRecording is the persisted shape; it mirrors the teacher's
// models.Camera in spirit (plain GORM model) but for the
// recording-metadata port of §6 instead of camera CRUD, which is out of
// scope here. It has no soft-delete column; Delete removes rows outright.
type gormRecording struct {
	ID             uint64 `gorm:"primaryKey"`
	Stream         string `gorm:"index;not null"`
	Path           string `gorm:"not null"`
	StartTime      time.Time
	PlannedEndTime time.Time
	ActualEndTime  time.Time
	Size           int64
	Trigger        string
	Complete       bool `gorm:"index"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (gormRecording) TableName() string { return "recordings" }

// GormStore is the concrete Store backed by Postgres via GORM, the same
// stack the teacher used for its camera/user tables.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore auto-migrates the recordings table and returns a Store.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&gormRecording{}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// AddRecording inserts a new incomplete recording row. If a row for the
// same stream and path already exists, its ID is returned and no second
// row is created, so a repeated call leaves one row behind.
func (s *GormStore) AddRecording(stream, path string, start time.Time, trigger Trigger) (uint64, error) {
	var existing gormRecording
	if err := s.db.Where("stream = ? AND path = ?", stream, path).Limit(1).Find(&existing).Error; err != nil {
		return 0, err
	}
	if existing.ID != 0 {
		return existing.ID, nil
	}
	rec := gormRecording{
		Stream:    stream,
		Path:      path,
		StartTime: start,
		Trigger:   string(trigger),
		Complete:  false,
	}
	if err := s.db.Create(&rec).Error; err != nil {
		return 0, err
	}
	return rec.ID, nil
}

// MarkComplete closes out a recording row. Applying it twice with the
// same end/size is a no-op past the first write (§8 round-trip
// property): once Complete is true, a second call finds the row already
// matching and GORM's Updates is naturally idempotent on identical values.
func (s *GormStore) MarkComplete(id uint64, end time.Time, size int64) error {
	return s.db.Model(&gormRecording{}).Where("id = ?", id).Updates(map[string]interface{}{
		"actual_end_time": end,
		"size":            size,
		"complete":        true,
	}).Error
}

// ListIncompleteForStream returns the IDs of rows left complete=false,
// for startup reconciliation (§6).
func (s *GormStore) ListIncompleteForStream(stream string) ([]uint64, error) {
	var ids []uint64
	err := s.db.Model(&gormRecording{}).
		Where("stream = ? AND complete = ?", stream, false).
		Pluck("id", &ids).Error
	return ids, err
}

// Get fetches one recording by ID.
func (s *GormStore) Get(id uint64) (Recording, error) {
	var row gormRecording
	if err := s.db.First(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Recording{}, ErrNotFound
		}
		return Recording{}, err
	}
	return Recording{
		ID:             row.ID,
		Stream:         row.Stream,
		Path:           row.Path,
		StartTime:      row.StartTime,
		PlannedEndTime: row.PlannedEndTime,
		ActualEndTime:  row.ActualEndTime,
		Size:           row.Size,
		Trigger:        Trigger(row.Trigger),
		Complete:       row.Complete,
	}, nil
}

// ErrNotFound is returned by Get for an unknown ID.
var ErrNotFound = errors.New("recording: not found")

// ListCompletedOlderThan implements Purger for the retention sweeper.
func (s *GormStore) ListCompletedOlderThan(stream string, cutoff time.Time) ([]PurgeCandidate, error) {
	var rows []gormRecording
	err := s.db.Where("stream = ? AND complete = ? AND start_time < ?", stream, true, cutoff).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]PurgeCandidate, 0, len(rows))
	for _, r := range rows {
		out = append(out, PurgeCandidate{ID: r.ID, Path: r.Path})
	}
	return out, nil
}

// Delete implements Purger.
func (s *GormStore) Delete(id uint64) error {
	return s.db.Unscoped().Delete(&gormRecording{}, id).Error
}
