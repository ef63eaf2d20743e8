package timestamp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func ptr(v int64) *int64 { return &v }

func TestNormalizeVideoMonotonic(t *testing.T) {
	tr := New()
	base := time.Unix(1000, 0)

	out := tr.Normalize(Sample{DTS: ptr(5000), PTS: ptr(5000), WallClock: base})
	require.Equal(t, int64(0), out.DTS)
	require.Equal(t, int64(0), out.PTS)

	out = tr.Normalize(Sample{DTS: ptr(5100), PTS: ptr(5100), WallClock: base.Add(100 * time.Millisecond)})
	require.Equal(t, int64(100), out.DTS)
	require.True(t, out.PTS >= out.DTS)
}

func TestNormalizeVideoRepairsNonMonotonic(t *testing.T) {
	tr := New()
	base := time.Unix(1000, 0)

	tr.Normalize(Sample{DTS: ptr(5000), PTS: ptr(5000), WallClock: base})
	out := tr.Normalize(Sample{DTS: ptr(4000), PTS: ptr(4000), WallClock: base.Add(40 * time.Millisecond)}) // goes backward
	require.Equal(t, int64(1), out.DTS)                                                                    // lastOutDTS(0) + 1
	require.GreaterOrEqual(t, out.PTS, out.DTS)
	require.Equal(t, uint64(1), tr.DiscontinuityCount())
}

func TestNormalizeVideoMissingDTSIncrements(t *testing.T) {
	tr := New()
	base := time.Unix(1000, 0)
	tr.Normalize(Sample{DTS: ptr(5000), PTS: ptr(5000), WallClock: base})
	out := tr.Normalize(Sample{DTS: nil, PTS: nil, WallClock: base.Add(40 * time.Millisecond)})
	require.Equal(t, int64(1), out.DTS)
}

func TestResetStartsNewOrigin(t *testing.T) {
	tr := New()
	base := time.Unix(1000, 0)
	tr.Normalize(Sample{DTS: ptr(99999), PTS: ptr(99999), WallClock: base})
	tr.Reset()
	out := tr.Normalize(Sample{DTS: ptr(42), PTS: ptr(42), WallClock: base})
	require.Equal(t, int64(0), out.DTS)
}

func TestNormalizeAudioSynthesizesFromFrameDuration(t *testing.T) {
	tr := New()
	base := time.Unix(1000, 0)
	out := tr.Normalize(Sample{IsAudio: true, DTS: ptr(0), PTS: ptr(0), FrameDuration: 1024, WallClock: base})
	require.Equal(t, int64(0), out.DTS)

	out = tr.Normalize(Sample{IsAudio: true, DTS: nil, PTS: nil, FrameDuration: 1024, WallClock: base.Add(20 * time.Millisecond)})
	require.Equal(t, int64(1024), out.DTS)
	require.Equal(t, int64(1024), out.PTS)
}

func TestNormalizePTSNeverBelowDTS(t *testing.T) {
	tr := New()
	base := time.Unix(1000, 0)
	tr.Normalize(Sample{DTS: ptr(1000), PTS: ptr(900), WallClock: base})
	out := tr.Normalize(Sample{DTS: ptr(1100), PTS: ptr(900), WallClock: base.Add(100 * time.Millisecond)})
	require.GreaterOrEqual(t, out.PTS, out.DTS)
}
