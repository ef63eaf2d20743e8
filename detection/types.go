// Package detection implements the Detection Sampler of §4.G: a model
// abstraction over local/remote/ONVIF backends, the single-flight
// sampling state machine with stuck-detection rescue, and the injected
// result sink port.
package detection

import "time"

// BBox is a normalized bounding box, all fields in [0,1] (§3).
type BBox struct {
	X, Y, W, H float64
}

// Result is one detection (§3 DetectionResult).
type Result struct {
	Label      string
	Confidence float64
	Box        BBox
	TrackID    *string
	ZoneID     *string
	Timestamp  time.Time
}

// Frame is the input handed to a model's Detect method. For Local/Remote
// models Data holds the raw bytes of the newest finished HLS segment file
// (.ts/.m4s), as read from disk; no image frame is decoded or extracted
// from it. ONVIF models never receive a Frame (see Kind).
type Frame struct {
	Data      []byte
	Timestamp time.Time
}

// Kind tags the three model variants of §4.G/§9, replacing the source's
// inheritance-like dispatch over SOD/TFLite/ONVIF/HTTP with a tagged
// union over a single capability: detect(frame) -> []Result.
type Kind string

const (
	KindLocal  Kind = "local"
	KindRemote Kind = "remote"
	KindOnvif  Kind = "onvif"
)

// Model is the common capability every backend exposes (§9: "a tagged
// variant ... with a common detect(frame) -> DetectionResult operation").
type Model interface {
	Kind() Kind
	// Detect runs inference on frame. ONVIF-backed models ignore frame
	// entirely and instead poll the camera directly (§4.G); callers pass
	// a zero Frame for ONVIF models.
	Detect(frame Frame) ([]Result, error)
	Close() error
}
