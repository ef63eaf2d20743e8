package detection

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"edge-nvr/nvrerr"
)

type fakeModel struct {
	kind    Kind
	results []Result
	err     error
	calls   int
}

func (m *fakeModel) Kind() Kind { return m.kind }

func (m *fakeModel) Detect(Frame) ([]Result, error) {
	m.calls++
	return m.results, m.err
}

func (m *fakeModel) Close() error { return nil }

type fakeSink struct {
	mu    sync.Mutex
	calls [][]Result
}

func (s *fakeSink) Append(stream string, ts time.Time, results []Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, results)
	return nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func writeSegment(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("ts-data"), 0o644))
}

func TestSamplerSkipsBeforeStartupGrace(t *testing.T) {
	root := t.TempDir()
	writeSegment(t, filepath.Join(root, "cam1"), "segment_00000001.ts")

	model := &fakeModel{kind: KindLocal, results: []Result{{Label: "person", Confidence: 0.9}}}
	sink := &fakeSink{}
	s := NewSampler(SamplerConfig{
		Stream:            "cam1",
		HLSRoot:           root,
		StartupDelay:      time.Hour,
		DetectionInterval: time.Millisecond,
		Threshold:         0.5,
	}, model, sink, nil, nil)

	s.Tick()
	require.Equal(t, 0, model.calls)
	require.Equal(t, 0, sink.count())
}

func TestSamplerRunsAndPublishesOnDueTick(t *testing.T) {
	root := t.TempDir()
	writeSegment(t, filepath.Join(root, "cam1"), "segment_00000001.ts")

	model := &fakeModel{kind: KindLocal, results: []Result{{Label: "person", Confidence: 0.9}}}
	sink := &fakeSink{}
	var motionCalls int
	s := NewSampler(SamplerConfig{
		Stream:            "cam1",
		HLSRoot:           root,
		DetectionInterval: time.Millisecond,
		Labels:            []string{"person"},
		Threshold:         0.5,
	}, model, sink, func(results []Result) { motionCalls++ }, nil)

	s.Tick()
	require.Equal(t, 1, model.calls)
	require.Equal(t, 1, sink.count())
	require.Equal(t, 1, motionCalls)
}

func TestSamplerSkipsWhenNoNewSegment(t *testing.T) {
	root := t.TempDir()
	writeSegment(t, filepath.Join(root, "cam1"), "segment_00000001.ts")

	model := &fakeModel{kind: KindLocal, results: []Result{{Label: "person", Confidence: 0.9}}}
	sink := &fakeSink{}
	s := NewSampler(SamplerConfig{
		Stream:            "cam1",
		HLSRoot:           root,
		DetectionInterval: 0, // defaults to 5s, but we drive due() manually via two ticks below
	}, model, sink, nil, nil)
	s.cfg.DetectionInterval = time.Millisecond

	s.Tick()
	require.Equal(t, 1, model.calls)

	time.Sleep(2 * time.Millisecond)
	s.Tick()
	// same segment file, still present: second tick finds nothing new and
	// must not call Detect again.
	require.Equal(t, 1, model.calls)
}

func TestSamplerFallsBackToLegacyPath(t *testing.T) {
	root := t.TempDir()
	writeSegment(t, filepath.Join(root, "hls", "cam1"), "segment_00000001.ts")

	model := &fakeModel{kind: KindLocal, results: nil}
	sink := &fakeSink{}
	s := NewSampler(SamplerConfig{
		Stream:            "cam1",
		HLSRoot:           root,
		DetectionInterval: time.Millisecond,
		Threshold:         0.5,
	}, model, sink, nil, nil)

	s.Tick()
	require.Equal(t, 1, model.calls)
	require.Equal(t, 1, sink.count())
}

func TestSamplerOnvifSkipsSegmentRead(t *testing.T) {
	root := t.TempDir() // deliberately no segment files anywhere

	model := &fakeModel{kind: KindOnvif, results: []Result{{Label: "motion", Confidence: 1}}}
	sink := &fakeSink{}
	s := NewSampler(SamplerConfig{
		Stream:            "cam1",
		HLSRoot:           root,
		DetectionInterval: time.Millisecond,
		Threshold:         0.5,
	}, model, sink, nil, nil)

	s.Tick()
	require.Equal(t, 1, model.calls)
	require.Equal(t, 1, sink.count())
}

func TestSamplerForceReleasesStuckDetection(t *testing.T) {
	s := NewSampler(SamplerConfig{Stream: "cam1", DetectionInterval: time.Hour}, &fakeModel{kind: KindLocal}, &fakeSink{}, nil, nil)

	require.True(t, s.claim())
	s.claimedAt.Store(time.Now().Add(-2 * stuckTimeout))

	s.Tick()
	require.Equal(t, int32(0), s.inProgress)
}

func TestSamplerDisablesOnDetectionModelLoadError(t *testing.T) {
	model := &fakeModel{kind: KindOnvif, err: fmt.Errorf("%w: bad credentials", nvrerr.ErrDetectionModelLoad)}
	sink := &fakeSink{}
	var gotErr error
	s := NewSampler(SamplerConfig{
		Stream:            "cam1",
		DetectionInterval: time.Millisecond,
	}, model, sink, nil, func(err error) { gotErr = err })

	s.Tick()
	require.Equal(t, 1, model.calls)
	require.ErrorIs(t, gotErr, nvrerr.ErrDetectionModelLoad)
	require.Equal(t, int32(1), s.disabled)

	// A second tick must not call Detect again: the sampler is disabled.
	time.Sleep(2 * time.Millisecond)
	s.Tick()
	require.Equal(t, 1, model.calls)
}
