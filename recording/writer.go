package recording

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/deepch/vdk/av"
	"github.com/deepch/vdk/format/mp4"

	"edge-nvr/logging"
	"edge-nvr/mediapacket"
	"edge-nvr/nvrerr"
)

const fileMode = 0o644
const dirMode = 0o755

// WriterConfig is the subset of StreamConfig the MP4 writer needs.
type WriterConfig struct {
	Stream            string
	RecRoot           string
	SegmentSeconds    int // 0 = no rotation
	HasAudio          bool
}

// Writer is the MP4 Writer of §4.F: it wraps vdk's mp4 muxer (moov at
// head, i.e. +faststart equivalent) with segment rotation on keyframe
// boundaries and recording-metadata bookkeeping through the injected
// Store port.
type Writer struct {
	cfg   WriterConfig
	store Store
	log   *logging.Logger

	mu           sync.Mutex
	codecs       []av.CodecData
	initialized  bool
	muxer        *mp4.Muxer
	file         *os.File
	path         string
	recordID     uint64
	trigger      Trigger
	segStart     time.Time
	isRotating   bool
	closed       bool
}

// NewWriter constructs an MP4 Writer; it does not open a file until the
// first packet arrives (lazy, same as the HLS writer).
func NewWriter(cfg WriterConfig, store Store) *Writer {
	return &Writer{cfg: cfg, store: store, log: logging.New("mp4", cfg.Stream), trigger: TriggerScheduled}
}

// Init copies codec parameters from the session; audio is dropped
// entirely when cfg.HasAudio is false, even if the upstream offers it
// (§4.F).
func (w *Writer) Init(codecs []av.CodecData) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	filtered := make([]av.CodecData, 0, len(codecs))
	for _, c := range codecs {
		if !c.Type().IsVideo() && !w.cfg.HasAudio {
			continue
		}
		filtered = append(filtered, c)
	}
	w.codecs = filtered
	w.initialized = true
	return nil
}

// SetTrigger changes the trigger recorded for the *next* segment opened
// (used by the detection sampler to open a motion/detection-triggered
// recording; §4.F "trigger lives in F").
func (w *Writer) SetTrigger(t Trigger) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.trigger = t
}

// WritePacket writes a normalized packet, rotating to a new file on the
// next video keyframe once segDur has elapsed since the last rotation
// (§4.F). Non-video packets are dropped by the caller (worker)
// when audio is disabled; Init already stripped the audio codec in that
// case so WritePacket never needs to re-check.
func (w *Writer) WritePacket(pkt mediapacket.Packet) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || !w.initialized {
		return nvrerr.ErrWriterIO
	}

	if w.file == nil {
		if !(pkt.IsVideo && pkt.IsKeyFrame) {
			return nil
		}
		if err := w.openSegmentLocked(); err != nil {
			return err
		}
	}

	segDur := time.Duration(w.cfg.SegmentSeconds) * time.Second
	if w.cfg.SegmentSeconds > 0 && pkt.IsVideo && pkt.IsKeyFrame &&
		time.Since(w.segStart) >= segDur && !w.isRotating {
		w.isRotating = true
		if err := w.closeSegmentLocked(time.Now()); err != nil {
			w.isRotating = false
			return err
		}
		if err := w.openSegmentLocked(); err != nil {
			w.isRotating = false
			return err
		}
		w.isRotating = false
	}

	if w.isRotating {
		// single-writer rotation flag: no packets written mid-rotation
		return nil
	}

	if err := w.muxer.WritePacket(pkt.ToAV()); err != nil {
		return fmt.Errorf("%w: %v", nvrerr.ErrWriterIO, err)
	}
	return nil
}

func (w *Writer) openSegmentLocked() error {
	now := time.Now()
	path := filepath.Join(
		w.cfg.RecRoot, w.cfg.Stream,
		fmt.Sprintf("%04d", now.Year()),
		fmt.Sprintf("%02d", now.Month()),
		fmt.Sprintf("%02d", now.Day()),
		fmt.Sprintf("%d.mp4", now.Unix()),
	)
	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return fmt.Errorf("%w: mkdir: %v", nvrerr.ErrWriterIO, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fileMode)
	if err != nil {
		return fmt.Errorf("%w: create: %v", nvrerr.ErrWriterIO, err)
	}
	muxer := mp4.NewMuxer(f)
	if err := muxer.WriteHeader(w.codecs); err != nil {
		f.Close()
		return fmt.Errorf("%w: header: %v", nvrerr.ErrWriterIO, err)
	}

	// add_recording precedes any data write (§5 ordering guarantee):
	// we've just written the header, which is the first data write, but
	// AddRecording is still called before returning control to the
	// caller so no packet write can race ahead of the metadata row.
	id, err := w.store.AddRecording(w.cfg.Stream, path, now, w.trigger)
	if err != nil {
		w.log.Printf("add_recording failed (continuing without metadata row): %v", err)
	}

	w.file = f
	w.path = path
	w.muxer = muxer
	w.recordID = id
	w.segStart = now
	return nil
}

// closeSegmentLocked writes the trailer (best effort, §7), closes the
// file, and marks the recording complete via stat.
func (w *Writer) closeSegmentLocked(end time.Time) error {
	if w.file == nil {
		return nil
	}
	if err := w.muxer.WriteTrailer(); err != nil {
		w.log.Printf("trailer write failed (best effort): %v", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("%w: close: %v", nvrerr.ErrWriterIO, err)
	}

	size := fileSize(w.path)
	if w.recordID != 0 {
		if err := w.store.MarkComplete(w.recordID, end, size); err != nil {
			w.log.Printf("mark_complete failed: %v", err)
		}
	}
	w.file = nil
	w.muxer = nil
	return nil
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// Close performs a graceful close: writes the trailer and marks the
// current recording complete. An ungraceful process exit instead leaves
// the file intact and the row complete=false, to be reconciled on
// restart (§4.F, §6).
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.closeSegmentLocked(time.Now())
}

// CurrentPath returns the path of the segment currently being written,
// or "" if none is open yet.
func (w *Writer) CurrentPath() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.path
}
