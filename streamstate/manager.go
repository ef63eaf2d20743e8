// Package streamstate implements the reference-counted Stream State
// Manager of §4.B. It replaces the source's "freed contexts" list and
// file-scope stop_mutex with a single reference-counted state per
// stream: a worker context is freed exactly once, when the worker
// thread exits AND the supervisor has released its reference.
package streamstate

import (
	"sync"

	"edge-nvr/nvrerr"
)

// Phase is the stream's lifecycle phase (§3 StreamState).
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseStarting
	PhaseRunning
	PhaseStopping
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseStarting:
		return "STARTING"
	case PhaseRunning:
		return "RUNNING"
	case PhaseStopping:
		return "STOPPING"
	case PhaseStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// ComponentTag identifies which subsystem holds a reference, purely for
// observability (refs_per_component in §3).
type ComponentTag string

const (
	ComponentSupervisor ComponentTag = "supervisor"
	ComponentHLS        ComponentTag = "hls"
	ComponentMP4        ComponentTag = "mp4"
	ComponentDetection  ComponentTag = "detection"
)

// State is the mutable per-stream record of §3. All fields are guarded
// by the owning entry's mutex; the worker's hot-path checks of phase and
// callbacks take that mutex as well.
type State struct {
	mu sync.Mutex

	name             string
	phase            Phase
	callbacksEnabled bool
	refs             map[ComponentTag]uint32
	lastError        error
}

// Handle is the opaque reference returned by GetOrCreate. Other
// components only ever see a *State through this handle's methods, never
// a raw pointer with arbitrary field access outside the package, which
// is what keeps ownership unambiguous.
type Handle struct {
	state *State
}

// Name returns the stream name this handle refers to.
func (h Handle) Name() string { return h.state.name }

// Phase returns the current lifecycle phase.
func (h Handle) Phase() Phase {
	h.state.mu.Lock()
	defer h.state.mu.Unlock()
	return h.state.phase
}

// CallbacksEnabled reports whether packet-delivery paths should still
// accept new work for this stream (§4.B set_callbacks_enabled).
func (h Handle) CallbacksEnabled() bool {
	h.state.mu.Lock()
	defer h.state.mu.Unlock()
	return h.state.callbacksEnabled
}

// LastError returns the most recently recorded non-fatal error surfaced
// to the supervisor (§7).
func (h Handle) LastError() error {
	h.state.mu.Lock()
	defer h.state.mu.Unlock()
	return h.state.lastError
}

// SetLastError records a surfaced error (§7 propagation policy); it does
// not change phase or callbacks.
func (h Handle) SetLastError(err error) {
	h.state.mu.Lock()
	defer h.state.mu.Unlock()
	h.state.lastError = err
}

// Manager owns one State per active stream plus the global stopping set
// used as a cross-thread teardown barrier (§4.B mark_stopping/is_stopping).
type Manager struct {
	mu       sync.Mutex
	states   map[string]*State
	stopping map[string]struct{}
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{
		states:   make(map[string]*State),
		stopping: make(map[string]struct{}),
	}
}

// GetOrCreate returns the Handle for name, creating it idempotently. The
// returned handle refers to the same *State for the lifetime of the
// stream: calling GetOrCreate again for the same name before it reaches
// PhaseStopped-and-reclaimed returns a handle to the identical state.
func (m *Manager) GetOrCreate(name string) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[name]
	if !ok {
		st = &State{
			name:             name,
			phase:            PhaseIdle,
			callbacksEnabled: true,
			refs:             make(map[ComponentTag]uint32),
		}
		m.states[name] = st
	}
	return Handle{state: st}
}

// AddRef acquires a reference for component on h's stream. It fails with
// nvrerr.ErrAlreadyStopping if the phase is STOPPING or STOPPED — a new
// reference can never be acquired during teardown (§3 invariant).
func (m *Manager) AddRef(h Handle, component ComponentTag) error {
	st := h.state
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.phase == PhaseStopping || st.phase == PhaseStopped {
		return nvrerr.ErrAlreadyStopping
	}
	st.refs[component]++
	if st.phase == PhaseIdle {
		st.phase = PhaseStarting
	}
	return nil
}

// totalRefs must be called with st.mu held.
func totalRefs(st *State) uint32 {
	var n uint32
	for _, v := range st.refs {
		n += v
	}
	return n
}

// ReleaseRef releases component's reference. When the total reference
// count drops to zero the phase transitions STOPPING -> STOPPED (§3/§4.B);
// if the stream was never marked stopping (a bare over-release outside
// the normal teardown path) it simply drops the count without forcing a
// phase transition, since STOPPED is only reachable via STOPPING.
func (m *Manager) ReleaseRef(h Handle, component ComponentTag) {
	st := h.state
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.refs[component] > 0 {
		st.refs[component]--
	}
	if totalRefs(st) == 0 && st.phase == PhaseStopping {
		st.phase = PhaseStopped
	}
}

// RefCount returns the current total reference count, for tests and
// diagnostics (§8 invariant 5: total refs reach zero exactly once per
// start/stop cycle).
func (m *Manager) RefCount(h Handle) uint32 {
	st := h.state
	st.mu.Lock()
	defer st.mu.Unlock()
	return totalRefs(st)
}

// MarkRunning transitions a STARTING stream to RUNNING once the worker's
// RTSP session has connected successfully (§4.H "mark connection_valid").
// It is a no-op once the stream has begun stopping, since STOPPING/STOPPED
// must never move backward to RUNNING.
func (m *Manager) MarkRunning(h Handle) {
	st := h.state
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.phase == PhaseStarting {
		st.phase = PhaseRunning
	}
}

// MarkStopping flags name as stopping process-wide: it moves the state's
// phase to STOPPING (unless already stopped), disables callbacks, and
// adds name to the global stopping set used by IsStopping as a
// cross-thread barrier during teardown.
func (m *Manager) MarkStopping(name string) {
	m.mu.Lock()
	st, ok := m.states[name]
	if ok {
		m.stopping[name] = struct{}{}
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	st.mu.Lock()
	if st.phase != PhaseStopped {
		st.phase = PhaseStopping
	}
	st.callbacksEnabled = false
	st.mu.Unlock()
}

// UnmarkStopping removes name from the global stopping set once teardown
// has fully completed and the slot has been reclaimed (§4.I stop()).
func (m *Manager) UnmarkStopping(name string) {
	m.mu.Lock()
	delete(m.stopping, name)
	m.mu.Unlock()
}

// IsStopping reports whether name is in the global stopping set.
func (m *Manager) IsStopping(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.stopping[name]
	return ok
}

// SetCallbacksEnabled toggles whether packet-delivery paths accept new
// work for h's stream. Workers treat false as cooperative cancellation:
// every write path checks this before doing I/O.
func (m *Manager) SetCallbacksEnabled(h Handle, enabled bool) {
	st := h.state
	st.mu.Lock()
	defer st.mu.Unlock()
	st.callbacksEnabled = enabled
}

// Forget removes name's state entirely once it is STOPPED and all
// owners have released it, so a later GetOrCreate starts a fresh
// lifecycle rather than resurrecting the old state. This is what makes
// "start(x); stop(x); start(x)" begin a brand new reference-count cycle
// instead of silently reusing a STOPPED state forever.
func (m *Manager) Forget(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, name)
	delete(m.stopping, name)
}
