package detection

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"edge-nvr/nvrerr"
)

// localDetection is the wire shape a local model binary is expected to
// print to stdout as a JSON array, one object per detection.
type localDetection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	W          float64 `json:"w"`
	H          float64 `json:"h"`
	TrackID    string  `json:"track_id,omitempty"`
}

// LocalModel runs a model binary per frame, in the same
// os/exec-subprocess style the teacher uses for ffmpeg: the binary
// receives the frame on stdin and must print a JSON array of detections
// on stdout. This keeps the model backend pluggable without committing
// to one on-device inference runtime (SOD/TFLite/etc, per §9).
type LocalModel struct {
	binaryPath string
}

// NewLocalModel returns a Model that shells out to binaryPath.
func NewLocalModel(binaryPath string) *LocalModel {
	return &LocalModel{binaryPath: binaryPath}
}

func (m *LocalModel) Kind() Kind { return KindLocal }

func (m *LocalModel) Detect(frame Frame) ([]Result, error) {
	cmd := exec.Command(m.binaryPath)
	cmd.Stdin = bytes.NewReader(frame.Data)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: local model binary %q not found: %v", nvrerr.ErrDetectionModelLoad, m.binaryPath, err)
		}
		return nil, fmt.Errorf("local model %q failed: %w", m.binaryPath, err)
	}

	var raw []localDetection
	if err := json.Unmarshal(stdout.Bytes(), &raw); err != nil {
		return nil, fmt.Errorf("local model %q produced invalid output: %w", m.binaryPath, err)
	}

	ts := frame.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return toResults(raw, ts), nil
}

func (m *LocalModel) Close() error { return nil }

func toResults(raw []localDetection, ts time.Time) []Result {
	out := make([]Result, 0, len(raw))
	for _, r := range raw {
		var trackID *string
		if r.TrackID != "" {
			id := r.TrackID
			trackID = &id
		}
		out = append(out, Result{
			Label:      r.Label,
			Confidence: r.Confidence,
			Box:        BBox{X: r.X, Y: r.Y, W: r.W, H: r.H},
			TrackID:    trackID,
			Timestamp:  ts,
		})
	}
	return out
}
