package detection

import "time"

// Sink is the injected detection-result sink port of §6. It must accept
// zero detections (a tick with no positives may still be recorded for
// liveness).
type Sink interface {
	Append(stream string, timestamp time.Time, results []Result) error
}

// MultiSink fans a single Append out to every configured sink (e.g. the
// GORM-backed store and the websocket broadcaster), matching the
// teacher's pattern of wiring several independent services off one
// event (see CameraHandler's simultaneous MediaMTX/MJPEG/WebRTC
// services).
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink returns a Sink that forwards to every sink in order,
// continuing past individual failures so one sink's outage never blocks
// the others.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Append(stream string, timestamp time.Time, results []Result) error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Append(stream, timestamp, results); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
