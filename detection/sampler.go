package detection

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"edge-nvr/logging"
	"edge-nvr/nvrerr"
)

// stuckTimeout is how long detection_in_progress may stay set before the
// sampler force-clears it (§4.G).
const stuckTimeout = 60 * time.Second

// SamplerConfig is the subset of StreamConfig the sampler needs.
type SamplerConfig struct {
	Stream              string
	HLSRoot             string
	StartupDelay        time.Duration
	DetectionInterval   time.Duration
	Labels              []string // whitelist; empty means accept any label
	Threshold           float64
}

// OnMotion is invoked with the subset of Detect results that cleared the
// whitelist+threshold gate, so the caller (the worker) can switch the MP4
// writer's trigger for the recording policy of §4.F. It is never called
// for an empty slice.
type OnMotion func(results []Result)

// OnError is invoked once, the first time the model reports an
// unrecoverable nvrerr.ErrDetectionModelLoad, so the caller (the worker)
// can surface it as the stream's last_error (§7). After it fires the
// sampler disables itself permanently; a new Sampler is required to
// retry (e.g. after a worker restart picks up corrected config).
type OnError func(err error)

// Sampler drives the §4.G state machine: IDLE -> CLAIM -> RUN -> PUBLISH
// -> RELEASE -> IDLE, ticked cooperatively by the owning worker rather
// than on its own goroutine, so it never competes with packet handling
// for the worker's attention.
type Sampler struct {
	cfg   SamplerConfig
	model Model
	sink  Sink
	onMotion OnMotion
	onError  OnError
	log   *logging.Logger

	startedAt time.Time

	inProgress int32 // atomic 0/1, the CLAIM flag
	claimedAt  atomicTime
	disabled   int32 // atomic 0/1, set once on ErrDetectionModelLoad

	mu                sync.Mutex
	lastDetectionTime time.Time
	lastSegmentPath   string
}

// NewSampler returns a Sampler for one stream. model may be nil if the
// stream has no detection configured, in which case Tick is a no-op.
// onError may be nil if the caller doesn't need model-load failures
// surfaced anywhere beyond the sampler's own log.
func NewSampler(cfg SamplerConfig, model Model, sink Sink, onMotion OnMotion, onError OnError) *Sampler {
	if cfg.DetectionInterval <= 0 {
		cfg.DetectionInterval = 5 * time.Second
	}
	return &Sampler{
		cfg:       cfg,
		model:     model,
		sink:      sink,
		onMotion:  onMotion,
		onError:   onError,
		log:       logging.New("detection", cfg.Stream),
		startedAt: time.Now(),
	}
}

// Tick advances the state machine by one step; call it ~1 Hz from the
// worker's RUNNING loop (§4.H "each tick also advances the sampler").
func (s *Sampler) Tick() {
	if s.model == nil || atomic.LoadInt32(&s.disabled) == 1 {
		return
	}

	if s.claimedFor() > stuckTimeout {
		s.log.Printf("detection stuck for over %s, forcing release", stuckTimeout)
		s.release()
	}

	if !s.due() {
		return
	}
	if !s.claim() {
		return
	}
	defer s.release()

	results, matched, err := s.run()
	if err != nil {
		if errors.Is(err, nvrerr.ErrDetectionModelLoad) {
			s.log.Printf("detection model load failed, disabling sampler: %v", err)
			atomic.StoreInt32(&s.disabled, 1)
			if s.onError != nil {
				s.onError(err)
			}
			return
		}
		s.log.Printf("detection failed: %v", err)
		return
	}

	s.publish(results, matched)
}

func (s *Sampler) claimedFor() time.Duration {
	if atomic.LoadInt32(&s.inProgress) == 0 {
		return 0
	}
	at := s.claimedAt.Load()
	if at.IsZero() {
		return 0
	}
	return time.Since(at)
}

func (s *Sampler) due() bool {
	if time.Since(s.startedAt) < s.cfg.StartupDelay {
		return false
	}
	s.mu.Lock()
	last := s.lastDetectionTime
	s.mu.Unlock()
	return time.Since(last) >= s.cfg.DetectionInterval
}

// claim performs the atomic 0->1 transition; false means another tick
// (or a stuck-but-not-yet-released prior claim) already holds it.
func (s *Sampler) claim() bool {
	if !atomic.CompareAndSwapInt32(&s.inProgress, 0, 1) {
		return false
	}
	s.claimedAt.Store(time.Now())
	return true
}

func (s *Sampler) release() {
	s.mu.Lock()
	s.lastDetectionTime = time.Now()
	s.mu.Unlock()
	s.claimedAt.Store(time.Time{})
	atomic.StoreInt32(&s.inProgress, 0)
}

// run locates input (a frame for local/remote models, nothing for
// ONVIF), invokes the model, and gates results against the stream's
// label whitelist and confidence threshold (§4.G).
func (s *Sampler) run() (all []Result, matched []Result, err error) {
	var frame Frame
	if s.model.Kind() != KindOnvif {
		data, ok, findErr := s.readNewestSegment()
		if findErr != nil {
			return nil, nil, findErr
		}
		if !ok {
			return nil, nil, nil
		}
		frame = Frame{Data: data, Timestamp: time.Now()}
	}

	results, err := s.model.Detect(frame)
	if err != nil {
		return nil, nil, err
	}

	for _, r := range results {
		if r.Confidence < s.cfg.Threshold {
			continue
		}
		if !s.labelAllowed(r.Label) {
			continue
		}
		matched = append(matched, r)
	}
	return results, matched, nil
}

func (s *Sampler) labelAllowed(label string) bool {
	if len(s.cfg.Labels) == 0 {
		return true
	}
	for _, l := range s.cfg.Labels {
		if l == label {
			return true
		}
	}
	return false
}

func (s *Sampler) publish(all []Result, matched []Result) {
	if err := s.sink.Append(s.cfg.Stream, time.Now(), all); err != nil {
		s.log.Printf("sink append failed: %v", err)
	}
	if len(matched) > 0 && s.onMotion != nil {
		s.onMotion(matched)
	}
}

// readNewestSegment locates the newest finished HLS segment under the
// canonical layout, falling back to the legacy nested layout for read
// only (§3, §9); it returns ok=false, rather than an error, when the
// newest segment is unchanged since the last tick or the file vanished
// between scan and open (§4.G).
func (s *Sampler) readNewestSegment() (data []byte, ok bool, err error) {
	dir := filepath.Join(s.cfg.HLSRoot, s.cfg.Stream)
	path := newestSegmentIn(dir)
	if path == "" {
		legacy := filepath.Join(s.cfg.HLSRoot, "hls", s.cfg.Stream)
		path = newestSegmentIn(legacy)
	}
	if path == "" {
		return nil, false, nil
	}

	s.mu.Lock()
	unchanged := path == s.lastSegmentPath
	s.mu.Unlock()
	if unchanged {
		return nil, false, nil
	}

	data, readErr := os.ReadFile(path)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return nil, false, nil
		}
		return nil, false, readErr
	}

	s.mu.Lock()
	s.lastSegmentPath = path
	s.mu.Unlock()
	return data, true, nil
}

// newestSegmentIn returns the lexically-largest .ts/.m4s filename in dir
// (segment files are zero-padded sequential, so lexical order is
// chronological order), or "" if dir has none.
func newestSegmentIn(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".ts") || strings.HasSuffix(name, ".m4s") {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return filepath.Join(dir, names[len(names)-1])
}

// atomicTime is a minimal atomic.Value wrapper for time.Time so the
// claim timestamp can be read/written without widening Sampler's mutex
// to cover the hot CAS path.
type atomicTime struct {
	v atomic.Value
}

func (a *atomicTime) Store(t time.Time) { a.v.Store(t) }

func (a *atomicTime) Load() time.Time {
	v := a.v.Load()
	if v == nil {
		return time.Time{}
	}
	return v.(time.Time)
}
