// Package mediapacket defines the Packet value type of §3 and the
// conversions to/from github.com/deepch/vdk/av.Packet, the wire type the
// RTSP session and the HLS/MP4 writers actually exchange.
//
// vdk expresses packet timing as time.Duration (Time, CompositionTime)
// rather than a separate (pts, dts, time_base) rational triple; this
// package adopts time.Duration as the fixed time base (equivalent to a
// rational of 1/1e9), which keeps the wrapper a zero-cost view over
// av.Packet instead of a second parallel representation.
package mediapacket

import (
	"time"

	"github.com/deepch/vdk/av"
)

// Packet is the moved-not-aliased value §3 specifies. StreamIdx and
// IsVideo are resolved once from the session's codec list so downstream
// components never need to re-consult it per packet.
type Packet struct {
	StreamIdx  int8
	IsVideo    bool
	IsKeyFrame bool
	DTS        *int64 // nanoseconds; nil means "missing" per §4.C
	PTS        *int64 // nanoseconds; nil means "missing"
	Payload    []byte
}

// FromAV adapts a vdk av.Packet plus whether its stream index is video
// into our Packet. av never reports a missing timestamp (Time is always
// set), so DTS is always non-nil coming off the wire; PTS is derived
// from Time+CompositionTime exactly as vdk's own muxers do.
func FromAV(p av.Packet, isVideo bool) Packet {
	dts := int64(p.Time)
	pts := int64(p.Time + p.CompositionTime)
	return Packet{
		StreamIdx:  p.Idx,
		IsVideo:    isVideo,
		IsKeyFrame: p.IsKeyFrame,
		DTS:        &dts,
		PTS:        &pts,
		Payload:    p.Data,
	}
}

// ToAV renders the packet back into vdk's wire type using the already
// normalized DTS/PTS (outputs of timestamp.Tracker.Normalize, which never
// leave them nil), for handing to the ts/mp4 muxers.
func (p Packet) ToAV() av.Packet {
	var dts, pts int64
	if p.DTS != nil {
		dts = *p.DTS
	}
	if p.PTS != nil {
		pts = *p.PTS
	}
	return av.Packet{
		IsKeyFrame:      p.IsKeyFrame,
		Idx:             p.StreamIdx,
		Time:            time.Duration(dts),
		CompositionTime: time.Duration(pts - dts),
		Data:            p.Payload,
	}
}
