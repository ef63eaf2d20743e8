package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"edge-nvr/config"
	"edge-nvr/detection"
	"edge-nvr/recording"
	"edge-nvr/shutdown"
	"edge-nvr/streamstate"
)

type fakeRecStore struct{}

func (fakeRecStore) AddRecording(stream, path string, start time.Time, trigger recording.Trigger) (uint64, error) {
	return 1, nil
}
func (fakeRecStore) MarkComplete(id uint64, end time.Time, size int64) error { return nil }
func (fakeRecStore) ListIncompleteForStream(stream string) ([]uint64, error) { return nil, nil }
func (fakeRecStore) Get(id uint64) (recording.Recording, error)              { return recording.Recording{}, nil }

type fakeSink struct{}

func (fakeSink) Append(stream string, ts time.Time, results []detection.Result) error { return nil }

func TestCoordinatorStateMapping(t *testing.T) {
	require.Equal(t, shutdown.StateStarting, coordinatorState(PhaseInitializing))
	require.Equal(t, shutdown.StateStarting, coordinatorState(PhaseConnecting))
	require.Equal(t, shutdown.StateRunning, coordinatorState(PhaseRunning))
	require.Equal(t, shutdown.StateRunning, coordinatorState(PhaseReconnecting))
	require.Equal(t, shutdown.StateStopping, coordinatorState(PhaseStopping))
	require.Equal(t, shutdown.StateStopped, coordinatorState(PhaseStopped))
}

func TestSleepCancelableReturnsEarlyOnStop(t *testing.T) {
	start := time.Now()
	var called int
	stop := func() bool {
		called++
		return called > 2
	}
	sleepCancelable(time.Minute, stop)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestSleepCancelableRunsFullDurationWithoutStop(t *testing.T) {
	start := time.Now()
	sleepCancelable(150*time.Millisecond, func() bool { return false })
	require.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestWorkerStopReachesStoppedDespiteUnreachableStream(t *testing.T) {
	cfg := config.StreamConfig{
		Name:    "cam0",
		URL:     "rtsp://127.0.0.1:1/nonexistent",
		HLSRoot: t.TempDir(),
		RecRoot: t.TempDir(),
	}
	require.NoError(t, cfg.Validate())

	deps := Deps{
		State:       streamstate.New(),
		Coordinator: shutdown.New(),
		RecStore:    fakeRecStore{},
		DetSink:     fakeSink{},
	}

	w := New(cfg, deps)
	go w.Run()

	// give it a moment to enter the connect/backoff loop
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, PhaseConnecting, w.Phase())

	w.Stop()

	select {
	case <-w.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop within 5s of Stop()")
	}
	require.Equal(t, PhaseStopped, w.Phase())
}
