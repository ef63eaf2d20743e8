package hls

import (
	"fmt"
	"strings"
	"time"
)

// Segment is one published HLS segment (§3).
type Segment struct {
	Index     uint64
	Filename  string
	StartTime time.Time
	Duration  time.Duration
	Size      int64
}

// Playlist is the rolling window of §3/§4.E: it publishes only the
// latest N segments for live viewing, and renders the terminating
// #EXT-X-ENDLIST marker only once Close has been called.
type Playlist struct {
	window   int
	segments []Segment
	closed   bool
}

// NewPlaylist returns a Playlist with the given rolling window size
// (§3 default 6).
func NewPlaylist(window int) *Playlist {
	if window <= 0 {
		window = 6
	}
	return &Playlist{window: window}
}

// Append adds a newly finished segment and drops the oldest once the
// window is exceeded, returning any segment that just fell out of the
// window (the caller is responsible for pruning its file after the
// grace period of §3).
func (p *Playlist) Append(seg Segment) (evicted *Segment) {
	p.segments = append(p.segments, seg)
	if len(p.segments) > p.window {
		old := p.segments[0]
		p.segments = p.segments[1:]
		return &old
	}
	return nil
}

// Close marks the playlist as finished so Render emits #EXT-X-ENDLIST
// (§3: "plus an end marker at shutdown").
func (p *Playlist) Close() {
	p.closed = true
}

// Segments returns a copy of the currently published window, newest
// last.
func (p *Playlist) Segments() []Segment {
	out := make([]Segment, len(p.segments))
	copy(out, p.segments)
	return out
}

// Render produces the m3u8 text for the current window.
func (p *Playlist) Render(targetDuration int) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", targetDuration)
	if len(p.segments) > 0 {
		fmt.Fprintf(&b, "#EXT-X-MEDIA-SEQUENCE:%d\n", p.segments[0].Index)
	}
	for _, seg := range p.segments {
		fmt.Fprintf(&b, "#EXTINF:%.3f,\n%s\n", seg.Duration.Seconds(), seg.Filename)
	}
	if p.closed {
		b.WriteString("#EXT-X-ENDLIST\n")
	}
	return b.String()
}
