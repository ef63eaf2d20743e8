package recording

import (
	"os"
	"time"

	"edge-nvr/logging"
)

// Purger is an optional capability a Store implementation may provide to
// support the retention sweep; it is deliberately kept separate from the
// canonical §6 Store port (AddRecording/MarkComplete/
// ListIncompleteForStream/Get) since retention is a supplemented feature,
// not one of the spec's required port operations.
type Purger interface {
	// ListCompletedOlderThan returns (id, path) pairs for complete
	// recordings of stream whose start_time predates cutoff.
	ListCompletedOlderThan(stream string, cutoff time.Time) ([]PurgeCandidate, error)
	// Delete removes the metadata row for id.
	Delete(id uint64) error
}

// PurgeCandidate is one row eligible for retention deletion.
type PurgeCandidate struct {
	ID   uint64
	Path string
}

// RetentionSweeper periodically deletes recordings (file + metadata row)
// older than retentionDays for one stream, honoring the retention_days
// config key of §6 that the distilled spec names but never wires to an
// operation.
type RetentionSweeper struct {
	stream        string
	purger        Purger
	retentionDays int
	log           *logging.Logger
	stop          chan struct{}
}

// NewRetentionSweeper returns a sweeper for stream; if retentionDays <= 0
// retention is disabled and Run returns immediately.
func NewRetentionSweeper(stream string, purger Purger, retentionDays int) *RetentionSweeper {
	return &RetentionSweeper{
		stream:        stream,
		purger:        purger,
		retentionDays: retentionDays,
		log:           logging.New("retention", stream),
		stop:          make(chan struct{}),
	}
}

// Run sweeps once per interval until Stop is called. It is meant to run
// on its own low-priority goroutine, entirely decoupled from the worker
// hot path.
func (s *RetentionSweeper) Run(interval time.Duration) {
	if s.retentionDays <= 0 || s.purger == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweepOnce()
		case <-s.stop:
			return
		}
	}
}

// Stop ends the sweep loop.
func (s *RetentionSweeper) Stop() {
	close(s.stop)
}

func (s *RetentionSweeper) sweepOnce() {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	candidates, err := s.purger.ListCompletedOlderThan(s.stream, cutoff)
	if err != nil {
		s.log.Printf("list candidates failed: %v", err)
		return
	}
	for _, c := range candidates {
		if err := os.Remove(c.Path); err != nil && !os.IsNotExist(err) {
			s.log.Printf("delete file failed for %s: %v", c.Path, err)
			continue
		}
		if err := s.purger.Delete(c.ID); err != nil {
			s.log.Printf("delete row failed for %d: %v", c.ID, err)
		}
	}
}
