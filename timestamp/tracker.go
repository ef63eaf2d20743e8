// Package timestamp implements the per-stream PTS/DTS normalization of
// §4.C: a uniform monotonicity rule that replaces the source's ad-hoc
// audio counters, plus the time-base-scaled audio synthesis refinement
// noted as an open question in §9.
package timestamp

import "time"

// Sample is one packet's input timestamps, in the stream's own time base
// (not yet normalized).
type Sample struct {
	DTS      *int64 // nil if missing
	PTS      *int64 // nil if missing
	IsAudio  bool
	// FrameDuration is the audio frame's duration in the stream's time
	// base (sample_count / sample_rate, scaled), used only for audio: to
	// synthesize a missing timestamp and to step past a non-increasing
	// one (§9 refinement over naive dts+1).
	FrameDuration int64
	// WallClock is used only to detect the ">1s gap with >1s backward
	// jump" discontinuity rule of §4.C step 3; tests can inject a fixed
	// clock instead of time.Now.
	WallClock time.Time
}

// Output is the normalized pair written to the muxers.
type Output struct {
	DTS            int64
	PTS            int64
	Discontinuity  bool
}

// Tracker holds the per-stream state of §3's TimestampTracker. It is not
// safe for concurrent use; each worker owns exactly one per live stream
// and per stream-side (video and audio get independent Trackers since
// §4.F tracks audio separately).
type Tracker struct {
	reset bool // true until the first sample after New/Reset

	firstDTS     int64
	lastOutDTS   int64
	lastOutPTS   int64
	lastWallClock time.Time

	lastAudioDTS int64
	lastAudioPTS int64
	haveAudio    bool

	discontinuityCount uint64
}

// New returns a Tracker in its initial (reset) state.
func New() *Tracker {
	return &Tracker{reset: true}
}

// Reset re-arms the tracker so the next packet defines a new origin
// (§3 invariant: "after a reconnect, the tracker is reset so the next
// packet defines a new origin").
func (t *Tracker) Reset() {
	*t = Tracker{reset: true}
}

// DiscontinuityCount returns how many times monotonicity repair or a
// backward-jump discontinuity has fired since the last Reset.
func (t *Tracker) DiscontinuityCount() uint64 {
	return t.discontinuityCount
}

// Normalize applies the §4.C rule to one sample and returns the output
// timestamps to hand to the muxers. Video and audio packets of the same
// stream must be fed to Trackers that share Reset timing (both reset to
// the same origin) — in this implementation the worker resets both on
// every reconnect together.
func (t *Tracker) Normalize(s Sample) Output {
	if s.IsAudio {
		return t.normalizeAudio(s)
	}
	return t.normalizeVideo(s)
}

func (t *Tracker) normalizeVideo(s Sample) Output {
	dts := valueOr(s.DTS, 0)
	pts := valueOr(s.PTS, dts)

	if t.reset {
		t.firstDTS = dts
		t.reset = false
		out := Output{DTS: 0, PTS: max64(0, pts-t.firstDTS)}
		t.lastOutDTS = out.DTS
		t.lastOutPTS = out.PTS
		t.lastWallClock = s.WallClock
		return out
	}

	// Step 3: a >1s wall-clock gap combined with a backward jump is a
	// discontinuity rather than silent repair-by-increment; we still
	// don't reset firstDTS, we just make sure it gets counted below.
	discontinuity := false
	if s.DTS != nil && !t.lastWallClock.IsZero() && !s.WallClock.IsZero() {
		gap := s.WallClock.Sub(t.lastWallClock)
		candidate := dts - t.firstDTS
		if gap > time.Second && candidate < t.lastOutDTS-int64(time.Second) {
			discontinuity = true
		}
	}

	var candidate int64
	if s.DTS != nil {
		candidate = dts - t.firstDTS
	} else {
		candidate = t.lastOutDTS + 1
	}
	if candidate <= t.lastOutDTS {
		candidate = t.lastOutDTS + 1
		discontinuity = true
	}

	outPTS := max64(candidate, pts-t.firstDTS)

	if discontinuity {
		t.discontinuityCount++
	}

	t.lastOutDTS = candidate
	t.lastOutPTS = outPTS
	if !s.WallClock.IsZero() {
		t.lastWallClock = s.WallClock
	}
	return Output{DTS: candidate, PTS: outPTS, Discontinuity: discontinuity}
}

// normalizeAudio applies the same monotonicity rule, but synthesizes a
// missing timestamp from the previous audio output plus the frame's
// duration (time-base scaled) instead of the naive dts+1 the source
// used, per the §9 refinement — this avoids colliding with real ticks
// under high audio sample rates.
func (t *Tracker) normalizeAudio(s Sample) Output {
	step := s.FrameDuration
	if step <= 0 {
		step = 1
	}

	if !t.haveAudio {
		dts := valueOr(s.DTS, 0)
		pts := valueOr(s.PTS, dts)
		if t.reset {
			t.firstDTS = dts
			t.reset = false
		}
		out := Output{DTS: max64(0, dts-t.firstDTS), PTS: max64(0, pts-t.firstDTS)}
		if out.PTS < out.DTS {
			out.PTS = out.DTS
		}
		t.haveAudio = true
		t.lastAudioDTS = out.DTS
		t.lastAudioPTS = out.PTS
		return out
	}

	var dts int64
	if s.DTS != nil {
		dts = *s.DTS - t.firstDTS
	} else {
		dts = t.lastAudioDTS + step
	}
	discontinuity := false
	if dts <= t.lastAudioDTS {
		dts = t.lastAudioDTS + step
		discontinuity = true
	}

	var pts int64
	if s.PTS != nil {
		pts = *s.PTS - t.firstDTS
	} else {
		pts = t.lastAudioPTS + step
	}
	if pts < dts {
		pts = dts
	}

	if discontinuity {
		t.discontinuityCount++
	}

	t.lastAudioDTS = dts
	t.lastAudioPTS = pts
	return Output{DTS: dts, PTS: pts, Discontinuity: discontinuity}
}

func valueOr(p *int64, def int64) int64 {
	if p == nil {
		return def
	}
	return *p
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
