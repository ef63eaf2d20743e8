package supervisor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"edge-nvr/config"
	"edge-nvr/shutdown"
	"edge-nvr/streamstate"
	"edge-nvr/worker"
)

type fakeWorker struct {
	mu    sync.Mutex
	phase worker.Phase
	done  chan struct{}
	err   error
}

func newFakeWorker() *fakeWorker {
	return &fakeWorker{phase: worker.PhaseInitializing, done: make(chan struct{})}
}

func (f *fakeWorker) Run() {
	f.mu.Lock()
	f.phase = worker.PhaseRunning
	f.mu.Unlock()
}

func (f *fakeWorker) Stop() {
	f.mu.Lock()
	f.phase = worker.PhaseStopped
	f.mu.Unlock()
	close(f.done)
}

func (f *fakeWorker) Done() <-chan struct{} { return f.done }

func (f *fakeWorker) Phase() worker.Phase {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.phase
}

func (f *fakeWorker) LastError() error { return f.err }

func newTestSupervisor(maxStreams int) (*Supervisor, map[string]*fakeWorker) {
	workers := make(map[string]*fakeWorker)
	var mu sync.Mutex
	factory := func(cfg config.StreamConfig) Worker {
		w := newFakeWorker()
		mu.Lock()
		workers[cfg.Name] = w
		mu.Unlock()
		return w
	}
	sup := New(streamstate.New(), shutdown.New(), maxStreams, factory)
	return sup, workers
}

func TestStartIsIdempotent(t *testing.T) {
	sup, workers := newTestSupervisor(16)
	cfg := config.StreamConfig{Name: "cam0"}

	require.NoError(t, sup.Start(cfg))
	require.NoError(t, sup.Start(cfg))
	require.Len(t, workers, 1)
}

func TestStartRejectsOverCapacity(t *testing.T) {
	sup, _ := newTestSupervisor(1)
	require.NoError(t, sup.Start(config.StreamConfig{Name: "cam0"}))
	err := sup.Start(config.StreamConfig{Name: "cam1"})
	require.Error(t, err)
}

func TestStopUnknownStreamSucceeds(t *testing.T) {
	sup, _ := newTestSupervisor(16)
	require.NoError(t, sup.Stop("nonexistent"))
}

func TestStopReleasesAndAllowsRestart(t *testing.T) {
	sup, workers := newTestSupervisor(16)
	cfg := config.StreamConfig{Name: "cam0"}

	require.NoError(t, sup.Start(cfg))
	time.Sleep(10 * time.Millisecond) // let the fake worker's goroutine mark itself running

	require.NoError(t, sup.Stop("cam0"))
	require.False(t, sup.IsActive("cam0"))

	require.NoError(t, sup.Start(cfg))
	require.Len(t, workers, 1) // same map entry key, replaced value on restart path
}

func TestIsActiveRequiresRunningPhase(t *testing.T) {
	sup, _ := newTestSupervisor(16)
	cfg := config.StreamConfig{Name: "cam0"}
	require.NoError(t, sup.Start(cfg))

	require.Eventually(t, func() bool {
		return sup.IsActive("cam0")
	}, time.Second, time.Millisecond)
}

func TestListReturnsAllActiveStreams(t *testing.T) {
	sup, _ := newTestSupervisor(16)
	require.NoError(t, sup.Start(config.StreamConfig{Name: "cam0"}))
	require.NoError(t, sup.Start(config.StreamConfig{Name: "cam1"}))

	statuses := sup.List()
	require.Len(t, statuses, 2)
}
