package recording

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakePurger struct {
	candidates []PurgeCandidate
	deleted    []uint64
}

func (f *fakePurger) ListCompletedOlderThan(stream string, cutoff time.Time) ([]PurgeCandidate, error) {
	return f.candidates, nil
}

func (f *fakePurger) Delete(id uint64) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func TestRetentionSweepDeletesFileAndRow(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old.mp4")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o644))

	purger := &fakePurger{candidates: []PurgeCandidate{{ID: 7, Path: old}}}
	sweeper := NewRetentionSweeper("cam0", purger, 30)
	sweeper.sweepOnce()

	_, err := os.Stat(old)
	require.True(t, os.IsNotExist(err))
	require.Equal(t, []uint64{7}, purger.deleted)
}

func TestRetentionSweepMissingFileStillDeletesRow(t *testing.T) {
	purger := &fakePurger{candidates: []PurgeCandidate{{ID: 9, Path: "/nonexistent"}}}
	sweeper := NewRetentionSweeper("cam0", purger, 30)
	sweeper.sweepOnce()
	require.Equal(t, []uint64{9}, purger.deleted)
}
