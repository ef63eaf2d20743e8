package recording

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	recs map[uint64]Recording
	next uint64
}

func newFakeStore() *fakeStore { return &fakeStore{recs: make(map[uint64]Recording)} }

func (f *fakeStore) AddRecording(stream, path string, start time.Time, trigger Trigger) (uint64, error) {
	f.next++
	f.recs[f.next] = Recording{ID: f.next, Stream: stream, Path: path, StartTime: start, Trigger: trigger}
	return f.next, nil
}

func (f *fakeStore) MarkComplete(id uint64, end time.Time, size int64) error {
	r := f.recs[id]
	r.ActualEndTime = end
	r.Size = size
	r.Complete = true
	f.recs[id] = r
	return nil
}

func (f *fakeStore) ListIncompleteForStream(stream string) ([]uint64, error) {
	var ids []uint64
	for id, r := range f.recs {
		if r.Stream == stream && !r.Complete {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeStore) Get(id uint64) (Recording, error) {
	r, ok := f.recs[id]
	if !ok {
		return Recording{}, ErrNotFound
	}
	return r, nil
}

func TestReconcileStartupClosesDanglingRecording(t *testing.T) {
	store := newFakeStore()
	dir := t.TempDir()
	path := filepath.Join(dir, "leftover.mp4")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o644))

	id, err := store.AddRecording("cam0", path, time.Now().Add(-time.Hour), TriggerScheduled)
	require.NoError(t, err)

	require.NoError(t, ReconcileStartup(store, "cam0"))

	rec, err := store.Get(id)
	require.NoError(t, err)
	require.True(t, rec.Complete)
	require.Equal(t, int64(10), rec.Size)
}

func TestReconcileStartupMissingFileStillCloses(t *testing.T) {
	store := newFakeStore()
	id, err := store.AddRecording("cam0", "/nonexistent/path.mp4", time.Now(), TriggerScheduled)
	require.NoError(t, err)

	require.NoError(t, ReconcileStartup(store, "cam0"))

	rec, err := store.Get(id)
	require.NoError(t, err)
	require.True(t, rec.Complete)
	require.Equal(t, int64(0), rec.Size)
}
