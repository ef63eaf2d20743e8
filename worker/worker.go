// Package worker implements the Unified Stream Worker of §4.H: the
// per-stream state machine that owns one RTSP session and fans its
// packets out to the HLS writer, the MP4 writer, and the detection
// sampler, all under cooperative cancellation (§5).
package worker

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"edge-nvr/config"
	"edge-nvr/detection"
	"edge-nvr/hls"
	"edge-nvr/logging"
	"edge-nvr/mediapacket"
	"edge-nvr/nvrerr"
	"edge-nvr/recording"
	"edge-nvr/rtsp"
	"edge-nvr/shutdown"
	"edge-nvr/streamstate"
	"edge-nvr/timestamp"
	"edge-nvr/wshub"
)

// Phase is the worker's own state, distinct from (and richer than) the
// Stream State Manager's coarser Phase — §4.H names these six states
// explicitly.
type Phase string

const (
	PhaseInitializing Phase = "INITIALIZING"
	PhaseConnecting   Phase = "CONNECTING"
	PhaseRunning      Phase = "RUNNING"
	PhaseReconnecting Phase = "RECONNECTING"
	PhaseStopping     Phase = "STOPPING"
	PhaseStopped      Phase = "STOPPED"
)

// Deps bundles the per-worker collaborators that live outside the
// worker package, so New stays a single call instead of half a dozen
// setters.
type Deps struct {
	State       *streamstate.Manager
	Coordinator *shutdown.Coordinator
	RecStore    recording.Store
	DetSink     detection.Sink
	DetModel    detection.Model // nil disables detection entirely
	Events      *wshub.Hub      // nil disables live event publishing
}

// Worker drives one stream end to end. All mutable fields are only ever
// touched by the single goroutine running Run, except phase (read by
// Supervisor for status) and cancel (the cooperative-cancellation flag),
// both accessed atomically, and lastError, which is guarded by mu.
type Worker struct {
	cfg  config.StreamConfig
	deps Deps
	log  *logging.Logger

	handle streamstate.Handle
	compID shutdown.ID

	cancel atomic.Bool
	phase  atomic.Value // Phase

	mu        sync.Mutex
	lastError error

	session          *rtsp.Session
	hlsWriter        *hls.Writer
	mp4Writer        *recording.Writer
	sampler          *detection.Sampler
	videoTrack       *timestamp.Tracker
	audioTrack       *timestamp.Tracker
	lastPlaylistFlush time.Time

	done chan struct{}
}

// New constructs a Worker; it does not connect until Run is called.
func New(cfg config.StreamConfig, deps Deps) *Worker {
	w := &Worker{
		cfg:        cfg,
		deps:       deps,
		log:        logging.New("worker", cfg.Name),
		handle:     deps.State.GetOrCreate(cfg.Name),
		videoTrack: timestamp.New(),
		audioTrack: timestamp.New(),
		done:       make(chan struct{}),
	}
	w.setPhase(PhaseInitializing)
	return w
}

// Stop requests cooperative cancellation; it does not block. Callers
// that need to wait for full teardown should wait on Done.
func (w *Worker) Stop() {
	w.cancel.Store(true)
}

// Done returns a channel closed once the worker reaches PhaseStopped.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Phase returns the worker's current state, for the supervisor's status
// surface (§4.I).
func (w *Worker) Phase() Phase {
	if p, ok := w.phase.Load().(Phase); ok {
		return p
	}
	return PhaseInitializing
}

// LastError returns the most recently observed non-fatal error.
func (w *Worker) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastError
}

func (w *Worker) setError(err error) {
	w.mu.Lock()
	w.lastError = err
	w.mu.Unlock()
	w.handle.SetLastError(err)
}

func (w *Worker) setPhase(p Phase) {
	if prev, ok := w.phase.Swap(p).(Phase); ok && prev == p {
		return
	}
	if w.deps.Events != nil {
		w.deps.Events.Broadcast(wshub.Event{
			Type:      wshub.EventStreamPhase,
			Stream:    w.cfg.Name,
			Timestamp: time.Now(),
			Payload:   string(p),
		})
	}
}

// Run executes the state machine until the stream stops, either because
// Stop was called, the owning Coordinator initiated a process-wide
// shutdown, or the Stream State Manager disabled callbacks for this
// stream (§4.B/§4.H). It is meant to run on its own goroutine; callers
// get notified of completion via Done.
func (w *Worker) Run() {
	w.compID = w.deps.Coordinator.Register(w.cfg.Name, shutdown.KindWorker, 10*time.Second)
	defer w.deps.Coordinator.Unregister(w.compID)
	defer close(w.done)

	if err := w.deps.State.AddRef(w.handle, streamstate.ComponentSupervisor); err != nil {
		w.log.Printf("cannot start: %v", err)
		w.setPhase(PhaseStopped)
		return
	}
	defer w.deps.State.ReleaseRef(w.handle, streamstate.ComponentSupervisor)

	if err := w.buildWriters(); err != nil {
		w.log.Printf("cannot start: %v", err)
		w.setError(err)
		w.setPhase(PhaseStopped)
		return
	}
	defer w.closeWriters()

	if w.hlsWriter == nil {
		w.log.Printf("hls writer disabled for this stream: %v", w.LastError())
	}

	attempt := 0
	phase := PhaseConnecting
	w.setPhase(phase)

	for {
		if phase == PhaseStopped {
			return
		}
		if w.shouldStop() && phase != PhaseStopping {
			phase = PhaseStopping
			w.setPhase(phase)
		}

		switch phase {
		case PhaseConnecting:
			phase = w.runConnecting(&attempt)
		case PhaseRunning:
			phase = w.runRunning()
		case PhaseReconnecting:
			phase = w.runReconnecting(&attempt)
		case PhaseStopping:
			phase = w.runStopping()
		default:
			phase = PhaseStopping
		}
		w.setPhase(phase)
		w.deps.Coordinator.UpdateState(w.compID, coordinatorState(phase))
	}
}

func coordinatorState(p Phase) shutdown.State {
	switch p {
	case PhaseStopping:
		return shutdown.StateStopping
	case PhaseStopped:
		return shutdown.StateStopped
	case PhaseInitializing, PhaseConnecting:
		return shutdown.StateStarting
	default:
		return shutdown.StateRunning
	}
}

// buildWriters constructs the HLS writer, the MP4 writer, and (if
// configured) the detection sampler. A PermissionDenied from the HLS
// writer is not fatal to the worker (spec: "disables that writer for
// this stream", not the "fatal to the worker" ConfigInvalid/Bug bucket)
// — it is recorded via setError and w.hlsWriter is left nil, and the
// worker proceeds to CONNECTING with the HLS branch of dispatch
// skipped. Any other error is treated as fatal and propagated to Run.
func (w *Worker) buildWriters() error {
	writer, err := hls.NewWriter(hls.Config{
		StreamName:     w.cfg.Name,
		HLSRoot:        w.cfg.HLSRoot,
		SegmentSeconds: w.cfg.HLSSegmentSeconds,
	})
	if err != nil {
		if errors.Is(err, nvrerr.ErrPermissionDenied) {
			w.setError(err)
			w.hlsWriter = nil
		} else {
			return err
		}
	} else {
		w.hlsWriter = writer
	}

	w.mp4Writer = recording.NewWriter(recording.WriterConfig{
		Stream:         w.cfg.Name,
		RecRoot:        w.cfg.RecRoot,
		SegmentSeconds: w.cfg.MP4SegmentSeconds,
		HasAudio:       w.cfg.HasAudio,
	}, w.deps.RecStore)

	if w.deps.DetModel != nil {
		w.sampler = detection.NewSampler(detection.SamplerConfig{
			Stream:            w.cfg.Name,
			HLSRoot:           w.cfg.HLSRoot,
			StartupDelay:      time.Duration(w.cfg.StartupDelaySeconds) * time.Second,
			DetectionInterval: time.Duration(w.cfg.DetectionIntervalSeconds) * time.Second,
			Labels:            w.cfg.DetectionLabels,
			Threshold:         w.cfg.DetectionThreshold,
		}, w.deps.DetModel, w.deps.DetSink, w.onMotion, w.setError)
	}
	return nil
}

// onMotion switches the MP4 writer's trigger so the *next* rotation
// (or, if none is open yet, the segment about to be opened) is recorded
// as motion-triggered; pre/post-buffer timing is bounded by the normal
// segment rotation cadence rather than an independent clip extractor,
// since the MP4 Writer (§4.F) is the sole owner of file lifecycle.
func (w *Worker) onMotion(results []detection.Result) {
	if w.mp4Writer == nil {
		return
	}
	w.mp4Writer.SetTrigger(recording.TriggerDetection)
}

func (w *Worker) closeWriters() {
	if w.hlsWriter != nil {
		if err := w.hlsWriter.Close(); err != nil {
			w.log.Printf("hls writer close: %v", err)
		}
	}
	if w.mp4Writer != nil {
		if err := w.mp4Writer.Close(); err != nil {
			w.log.Printf("mp4 writer close: %v", err)
		}
	}
}

func (w *Worker) shouldStop() bool {
	return w.cancel.Load() || w.deps.Coordinator.ShouldStop(w.compID) || !w.handle.CallbacksEnabled()
}

// runConnecting attempts to open the RTSP session once. On success it
// initializes the writers from the session's codec parameters and moves
// to RUNNING; on failure it sleeps the backoff for *attempt and stays in
// CONNECTING (§4.D/§4.H).
func (w *Worker) runConnecting(attempt *int) Phase {
	if w.shouldStop() {
		return PhaseStopping
	}

	session, err := rtsp.Open(w.cfg)
	if err != nil {
		*attempt++
		w.setError(err)
		w.log.Printf("connect attempt %d failed: %v", *attempt, err)
		sleepCancelable(rtsp.Backoff(*attempt), w.shouldStop)
		return PhaseConnecting
	}

	codecs := session.CodecData()
	if w.hlsWriter != nil {
		if err := w.hlsWriter.Init(codecs); err != nil {
			w.log.Printf("hls init failed: %v", err)
			session.Close()
			*attempt++
			w.setError(err)
			sleepCancelable(rtsp.Backoff(*attempt), w.shouldStop)
			return PhaseConnecting
		}
	}
	if err := w.mp4Writer.Init(codecs); err != nil {
		w.log.Printf("mp4 init failed: %v", err)
	}

	w.session = session
	*attempt = 0
	w.deps.State.MarkRunning(w.handle)
	w.setError(nil)
	return PhaseRunning
}

// runRunning reads exactly one packet per call so the outer loop's
// shouldStop/UpdateState bookkeeping runs between every packet, then
// advances the sampler once per call. The "no packet in 5s" liveness
// bound of §4.H is enforced inside rtsp.Session.NextPacket itself: it
// never blocks past its own read timeout before returning ErrTransient,
// so a stall always reaches RECONNECTING within one call here.
func (w *Worker) runRunning() Phase {
	if w.sampler != nil {
		w.sampler.Tick()
	}

	pkt, err := w.session.NextPacket()
	if err != nil {
		if err != rtsp.ErrTransient && err != rtsp.ErrEnd {
			w.setError(err)
		}
		return PhaseReconnecting
	}

	if err := w.dispatch(pkt); err != nil {
		w.log.Printf("dispatch failed: %v", err)
	}
	return PhaseRunning
}

func (w *Worker) dispatch(pkt mediapacket.Packet) error {
	tracker := w.audioTrack
	if pkt.IsVideo {
		tracker = w.videoTrack
	}
	out := tracker.Normalize(timestamp.Sample{
		DTS:       pkt.DTS,
		PTS:       pkt.PTS,
		IsAudio:   !pkt.IsVideo,
		WallClock: time.Now(),
	})
	dts, pts := out.DTS, out.PTS
	pkt.DTS = &dts
	pkt.PTS = &pts

	if pkt.IsVideo {
		if w.hlsWriter != nil {
			if err := w.hlsWriter.WritePacket(pkt); err != nil {
				w.log.Printf("hls write failed: %v", err)
			}
		}
		if err := w.mp4Writer.WritePacket(pkt); err != nil {
			w.log.Printf("mp4 write failed: %v", err)
		}
		w.maybeFlushPlaylist()
		return nil
	}

	if !w.cfg.HasAudio {
		w.log.Printf("dropping non-video packet: audio disabled")
		return nil // dropped with debug log per §4.H; Printf stands in for debug level
	}
	return w.mp4Writer.WritePacket(pkt)
}

// maybeFlushPlaylist republishes index.m3u8 at most once per second,
// since every video packet rewriting the playlist would be wasteful but
// the rolling window (§3) still needs to stay current between segment
// rotations for players mid-watch.
func (w *Worker) maybeFlushPlaylist() {
	if w.hlsWriter == nil {
		return
	}
	if time.Since(w.lastPlaylistFlush) < time.Second {
		return
	}
	if err := w.hlsWriter.FlushPlaylist(); err != nil {
		w.log.Printf("playlist flush failed: %v", err)
	}
	w.lastPlaylistFlush = time.Now()
}

// runReconnecting tears down the stale session and the per-stream
// timestamp trackers (§3: "after a reconnect, the tracker is reset so
// the next packet defines a new origin") before handing back to
// CONNECTING with attempt already primed to 1.
func (w *Worker) runReconnecting(attempt *int) Phase {
	if w.session != nil {
		w.session.Close()
		w.session = nil
	}
	w.videoTrack.Reset()
	w.audioTrack.Reset()
	*attempt = 1
	return PhaseConnecting
}

func (w *Worker) runStopping() Phase {
	w.deps.State.MarkStopping(w.cfg.Name)
	if w.session != nil {
		w.session.Close()
		w.session = nil
	}
	return PhaseStopped
}

// sleepCancelable sleeps d in small increments so a cancellation
// request is observed within one polling tick rather than only after the
// full backoff elapses (§5 cooperative cancellation at suspension
// points).
func sleepCancelable(d time.Duration, stop func() bool) {
	const tick = 100 * time.Millisecond
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if stop() {
			return
		}
		remaining := time.Until(deadline)
		if remaining > tick {
			time.Sleep(tick)
		} else if remaining > 0 {
			time.Sleep(remaining)
		}
	}
}
