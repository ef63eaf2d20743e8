package detection

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"edge-nvr/nvrerr"
)

// RemoteModel posts a frame to an HTTP inference endpoint and expects
// back a JSON array of localDetection, the same wire shape LocalModel
// uses so both share toResults.
type RemoteModel struct {
	url    string
	client *http.Client
}

// NewRemoteModel returns a Model backed by an HTTP inference service.
func NewRemoteModel(url string) *RemoteModel {
	return &RemoteModel{url: url, client: &http.Client{Timeout: 10 * time.Second}}
}

func (m *RemoteModel) Kind() Kind { return KindRemote }

func (m *RemoteModel) Detect(frame Frame) ([]Result, error) {
	req, err := http.NewRequest(http.MethodPost, m.url, bytes.NewReader(frame.Data))
	if err != nil {
		return nil, fmt.Errorf("remote model request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: remote model %q unreachable: %v", nvrerr.ErrDetectionModelLoad, m.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: remote model %q returned status %d", nvrerr.ErrDetectionModelLoad, m.url, resp.StatusCode)
	}

	var raw []localDetection
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("remote model %q produced invalid response: %w", m.url, err)
	}

	ts := frame.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return toResults(raw, ts), nil
}

func (m *RemoteModel) Close() error { return nil }
