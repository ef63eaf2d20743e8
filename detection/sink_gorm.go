package detection

import (
	"time"

	"gorm.io/gorm"
)

type gormResult struct {
	ID         uint64 `gorm:"primaryKey"`
	Stream     string `gorm:"index;not null"`
	Timestamp  time.Time
	Label      string
	Confidence float64
	BoxX, BoxY, BoxW, BoxH float64
	TrackID    string
	ZoneID     string
	CreatedAt  time.Time
}

func (gormResult) TableName() string { return "detection_results" }

// GormSink persists detection results through GORM/Postgres, the same
// stack the teacher used for camera/user rows.
type GormSink struct {
	db *gorm.DB
}

// NewGormSink auto-migrates the detection_results table.
func NewGormSink(db *gorm.DB) (*GormSink, error) {
	if err := db.AutoMigrate(&gormResult{}); err != nil {
		return nil, err
	}
	return &GormSink{db: db}, nil
}

// Append inserts one row per detection, or a zero-detection liveness
// marker row with Label="" when results is empty — §6 requires the sink
// to accept that case.
func (s *GormSink) Append(stream string, timestamp time.Time, results []Result) error {
	if len(results) == 0 {
		return s.db.Create(&gormResult{Stream: stream, Timestamp: timestamp}).Error
	}
	rows := make([]gormResult, 0, len(results))
	for _, r := range results {
		row := gormResult{
			Stream:     stream,
			Timestamp:  timestamp,
			Label:      r.Label,
			Confidence: r.Confidence,
			BoxX:       r.Box.X,
			BoxY:       r.Box.Y,
			BoxW:       r.Box.W,
			BoxH:       r.Box.H,
		}
		if r.TrackID != nil {
			row.TrackID = *r.TrackID
		}
		if r.ZoneID != nil {
			row.ZoneID = *r.ZoneID
		}
		rows = append(rows, row)
	}
	return s.db.Create(&rows).Error
}
