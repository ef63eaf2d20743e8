// Package rtsp wraps github.com/deepch/vdk/format/rtspv2 with the
// connect/probe/backoff contract of §4.D. Reconnection policy itself
// lives in the worker (§4.H); this package only opens sessions, probes
// liveness, and hands back one packet at a time.
package rtsp

import (
	"errors"
	"time"

	"github.com/deepch/vdk/av"
	"github.com/deepch/vdk/format/rtspv2"

	"edge-nvr/config"
	"edge-nvr/mediapacket"
	"edge-nvr/nvrerr"
)

// ErrTransient is returned by NextPacket when the underlying stream
// hiccuped in a way the worker should treat as reconnect-worthy, but
// that is not itself fatal.
var ErrTransient = errors.New("rtsp: transient error")

// ErrEnd is returned by NextPacket when the session ended cleanly (the
// server closed the stream, or Close was called).
var ErrEnd = errors.New("rtsp: session ended")

const (
	dialTimeout      = 5 * time.Second
	readWriteTimeout = 5 * time.Second
	// recvDelayCap bounds how much vdk is allowed to buffer internally
	// before packets are considered stale (§4.D: "cap receive delay at
	// 500ms").
	recvDelayCap = 500 * time.Millisecond
)

// Session is one live RTSP connection.
type Session struct {
	client    *rtspv2.RTSPClient
	codecs    []av.CodecData
	videoIdx  map[int8]bool
}

// Open connects with a 5s dial timeout and a 5s read/write timeout and
// classifies failures into the taxonomy below. No other session options
// are set: cfg.Transport is not passed to vdk, and no low-latency
// buffering or receive-delay cap is configured.
//
// Failure classification:
//   - ProbeNotFound from the liveness probe => nvrerr.ErrNoVideoStream
//     (a 404 is a hard reject: the stream is misconfigured, §4.D).
//   - ProbeUnreachable => nvrerr.ErrUnreachable.
//   - rtspv2.Dial failing after a reachable probe is classified from the
//     error text vdk returns, falling back to nvrerr.ErrUnreachable for
//     anything unrecognized (vdk does not export typed dial errors).
func Open(cfg config.StreamConfig) (*Session, error) {
	switch Probe(cfg.URL, dialTimeout) {
	case ProbeNotFound:
		return nil, nvrerr.ErrNoVideoStream
	case ProbeUnreachable:
		return nil, nvrerr.ErrUnreachable
	}

	client, err := rtspv2.Dial(rtspv2.RTSPClientOptions{
		URL:              cfg.URL,
		DisableAudio:     !cfg.HasAudio,
		DialTimeout:      dialTimeout,
		ReadWriteTimeout: readWriteTimeout,
		Debug:            false,
	})
	if err != nil {
		return nil, classifyDialError(err)
	}

	if len(client.CodecData) == 0 {
		client.Close()
		return nil, nvrerr.ErrNoVideoStream
	}

	videoIdx := make(map[int8]bool, len(client.CodecData))
	haveVideo := false
	for i, c := range client.CodecData {
		if c.Type().IsVideo() {
			videoIdx[int8(i)] = true
			haveVideo = true
		}
	}
	if !haveVideo {
		client.Close()
		return nil, nvrerr.ErrNoVideoStream
	}

	return &Session{client: client, codecs: client.CodecData, videoIdx: videoIdx}, nil
}

func classifyDialError(err error) error {
	msg := err.Error()
	switch {
	case contains(msg, "401"), contains(msg, "Unauthorized"):
		return nvrerr.ErrUnauthorized
	case contains(msg, "timeout"):
		return nvrerr.ErrUnreachable
	default:
		return nvrerr.ErrUnreachable
	}
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

// CodecData returns the stream's codec parameters, for initializing the
// HLS/MP4 writers (§4.E/§4.F "initialize from codec parameters").
func (s *Session) CodecData() []av.CodecData {
	return s.codecs
}

// HasAudio reports whether any codec in the session is an audio codec.
func (s *Session) HasAudio() bool {
	for _, c := range s.codecs {
		if !c.Type().IsVideo() {
			return true
		}
	}
	return false
}

// NextPacket blocks until a packet arrives, the session signals a codec
// update or another transient condition (ErrTransient), or the session
// ends, including on an RTP stop signal (ErrEnd). It also unblocks with
// ErrTransient after readWriteTimeout of silence so the caller's
// cooperative-cancellation check (§5) is never starved for more than one
// socket timeout.
func (s *Session) NextPacket() (mediapacket.Packet, error) {
	timer := time.NewTimer(readWriteTimeout)
	defer timer.Stop()

	select {
	case pkt, ok := <-s.client.OutgoingProxyQueue:
		if !ok || pkt == nil {
			return mediapacket.Packet{}, ErrEnd
		}
		isVideo := s.videoIdx[pkt.Idx]
		return mediapacket.FromAV(*pkt, isVideo), nil
	case sig, ok := <-s.client.Signals:
		if !ok {
			return mediapacket.Packet{}, ErrEnd
		}
		switch sig {
		case rtspv2.SignalCodecUpdate:
			s.codecs = s.client.CodecData
			return mediapacket.Packet{}, ErrTransient
		case rtspv2.SignalStreamRTPStop:
			return mediapacket.Packet{}, ErrEnd
		default:
			return mediapacket.Packet{}, ErrTransient
		}
	case <-timer.C:
		return mediapacket.Packet{}, ErrTransient
	}
}

// Close tears down the underlying RTSP connection.
func (s *Session) Close() {
	if s.client != nil {
		s.client.Close()
	}
}
