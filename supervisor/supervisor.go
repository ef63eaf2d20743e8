// Package supervisor implements the Per-stream Supervisor of §4.I: a
// bounded registry of active workers, keyed by stream name, with
// idempotent start/stop/restart and a status view used by the
// operational API.
package supervisor

import (
	"fmt"
	"sync"
	"time"

	"edge-nvr/config"
	"edge-nvr/logging"
	"edge-nvr/nvrerr"
	"edge-nvr/shutdown"
	"edge-nvr/streamstate"
	"edge-nvr/worker"
)

// stopPollInterval and stopWait implement §4.I's "wait up to 5s with
// 500ms polls for thread_exited".
const (
	stopWait         = 5 * time.Second
	stopPollInterval = 500 * time.Millisecond
	restartDrain     = 500 * time.Millisecond
)

// WorkerFactory builds a worker for a stream; Supervisor depends on this
// instead of worker.New directly so tests can substitute a fake.
type WorkerFactory func(cfg config.StreamConfig) Worker

// Worker is the subset of *worker.Worker the supervisor drives.
type Worker interface {
	Run()
	Stop()
	Done() <-chan struct{}
	Phase() worker.Phase
	LastError() error
}

// Status is the supervisor's per-stream view, the backing for the
// admin API's stream list/status endpoints (§6).
type Status struct {
	Name      string
	Active    bool
	Phase     worker.Phase
	LastError error
}

type slot struct {
	cfg    config.StreamConfig
	w      Worker
	handle streamstate.Handle
}

// Supervisor holds at most MaxStreams active workers.
type Supervisor struct {
	state       *streamstate.Manager
	coordinator *shutdown.Coordinator
	factory     WorkerFactory
	maxStreams  int
	log         *logging.Logger

	mu    sync.Mutex
	slots map[string]*slot
}

// New returns a Supervisor bounded to maxStreams concurrent workers
// (default 16, per §4.I's "e.g. 16").
func New(state *streamstate.Manager, coordinator *shutdown.Coordinator, maxStreams int, factory WorkerFactory) *Supervisor {
	if maxStreams <= 0 {
		maxStreams = 16
	}
	return &Supervisor{
		state:       state,
		coordinator: coordinator,
		factory:     factory,
		maxStreams:  maxStreams,
		log:         logging.New("supervisor", ""),
		slots:       make(map[string]*slot),
	}
}

// Start allocates a slot and spawns a worker for cfg.Name. It rejects
// the stream if its state is STOPPING (§4.I), reuses the existing
// worker if one is already running, and fails with ErrConfigInvalid
// (wrapped) if the registry is already at MaxStreams.
func (s *Supervisor) Start(cfg config.StreamConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.state.GetOrCreate(cfg.Name)
	if h.Phase() == streamstate.PhaseStopping {
		return fmt.Errorf("%w: stream %q is stopping", nvrerr.ErrAlreadyStopping, cfg.Name)
	}

	if existing, ok := s.slots[cfg.Name]; ok {
		select {
		case <-existing.w.Done():
			// worker already exited; fall through and replace the slot.
		default:
			return nil // already running: start is idempotent
		}
	}

	if len(s.slots) >= s.maxStreams {
		return fmt.Errorf("%w: at capacity (%d streams)", nvrerr.ErrConfigInvalid, s.maxStreams)
	}

	if err := s.state.AddRef(h, streamstate.ComponentHLS); err != nil {
		return err
	}

	w := s.factory(cfg)
	s.slots[cfg.Name] = &slot{cfg: cfg, w: w, handle: h}
	go w.Run()
	return nil
}

// Stop tears down the worker for name, if any, following §4.I's
// sequence: set cancel flag, disable callbacks, mark_stopping, wait up
// to 5s polling every 500ms for the worker to exit, reclaim the slot,
// release the HLS reference, unmark stopping, and re-enable callbacks
// so a later Start on the same name begins a clean lifecycle. Stopping
// a name with no active worker returns success without touching state.
func (s *Supervisor) Stop(name string) error {
	s.mu.Lock()
	sl, ok := s.slots[name]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.slots, name)
	s.mu.Unlock()

	sl.w.Stop()
	s.state.MarkStopping(name)

	deadline := time.Now().Add(stopWait)
	for exited := false; !exited; {
		select {
		case <-sl.w.Done():
			exited = true
		default:
			if time.Now().After(deadline) {
				s.log.Printf("worker %q did not report exit within %s, reclaiming anyway", name, stopWait)
				exited = true
				continue
			}
			time.Sleep(stopPollInterval)
		}
	}

	s.state.ReleaseRef(sl.handle, streamstate.ComponentHLS)
	s.state.UnmarkStopping(name)
	s.state.SetCallbacksEnabled(sl.handle, true)
	s.state.Forget(name)
	return nil
}

// Restart stops and restarts name, draining for restartDrain in between
// so HLS directory permissions are re-verified on the fresh Start
// rather than reusing any assumption from the old worker (§4.I).
func (s *Supervisor) Restart(cfg config.StreamConfig) error {
	if err := s.Stop(cfg.Name); err != nil {
		return err
	}
	time.Sleep(restartDrain)
	return s.Start(cfg)
}

// IsActive reports whether name has a worker that exists, is running,
// and has a valid connection (§4.I: "worker exists AND running AND
// connection_valid").
func (s *Supervisor) IsActive(name string) bool {
	s.mu.Lock()
	sl, ok := s.slots[name]
	s.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case <-sl.w.Done():
		return false
	default:
	}
	return sl.w.Phase() == worker.PhaseRunning
}

// Status returns the current view for name, or ok=false if no slot
// exists (the stream was never started, or has been stopped). A worker
// that exited on its own keeps its slot and reports Active=false.
func (s *Supervisor) Status(name string) (Status, bool) {
	s.mu.Lock()
	sl, ok := s.slots[name]
	s.mu.Unlock()
	if !ok {
		return Status{}, false
	}
	return Status{
		Name:      name,
		Active:    s.IsActive(name),
		Phase:     sl.w.Phase(),
		LastError: sl.w.LastError(),
	}, true
}

// List returns a Status for every currently registered stream.
func (s *Supervisor) List() []Status {
	s.mu.Lock()
	names := make([]string, 0, len(s.slots))
	for name := range s.slots {
		names = append(names, name)
	}
	s.mu.Unlock()

	out := make([]Status, 0, len(names))
	for _, name := range names {
		if st, ok := s.Status(name); ok {
			out = append(out, st)
		}
	}
	return out
}

// StopAll tears down every active stream, for use during process
// shutdown alongside the Coordinator (§4.A).
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	names := make([]string, 0, len(s.slots))
	for name := range s.slots {
		names = append(names, name)
	}
	s.mu.Unlock()

	for _, name := range names {
		if err := s.Stop(name); err != nil {
			s.log.Printf("stop %q during shutdown: %v", name, err)
		}
	}
}
