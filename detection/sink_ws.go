package detection

import (
	"time"

	"edge-nvr/wshub"
)

// WsSink broadcasts every Append as a live wshub event; it never fails
// (broadcast is best-effort), so Append always returns nil.
type WsSink struct {
	hub *wshub.Hub
}

// NewWsSink returns a Sink that publishes to hub.
func NewWsSink(hub *wshub.Hub) *WsSink {
	return &WsSink{hub: hub}
}

func (s *WsSink) Append(stream string, timestamp time.Time, results []Result) error {
	s.hub.Broadcast(wshub.Event{
		Type:      wshub.EventDetection,
		Stream:    stream,
		Timestamp: timestamp,
		Payload:   results,
	})
	return nil
}
