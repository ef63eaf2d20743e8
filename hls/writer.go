// Package hls implements the HLS Writer of §4.E: it wraps
// github.com/deepch/vdk/format/ts, which mirrors the teacher's own
// RTSP-to-HLS path in services/rtsp_service.go — that service shelled
// out to ffmpeg's HLS muxer; this one uses vdk's ts muxer directly so
// segment rotation can be driven by the keyframe-boundary rule §4.E
// requires instead of ffmpeg's wall-clock-only -hls_time.
package hls

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/deepch/vdk/av"
	"github.com/deepch/vdk/format/ts"

	"edge-nvr/logging"
	"edge-nvr/mediapacket"
	"edge-nvr/nvrerr"
)

const dirMode = 0o777
const fileMode = 0o666

// pruneGraceMultiple is the "2x segment_duration" grace period of §3
// before an evicted segment's file may be deleted.
const pruneGraceMultiple = 2

// Writer produces a segmented HLS stream on disk for one live stream.
type Writer struct {
	streamName string
	dir        string
	segDur     time.Duration
	playlist   *Playlist
	log        *logging.Logger

	mu                 sync.Mutex
	codecs             []av.CodecData
	initialized        bool
	muxer              *ts.Muxer
	tmpFile            *os.File
	tmpPath            string
	finalPath          string
	segIndex           uint64
	segStart           time.Time
	waitingForKeyframe bool
	closed             bool

	// pendingPrune holds evicted segments not yet eligible for deletion.
	pendingPrune []prunableSegment
}

type prunableSegment struct {
	path      string
	eligibleAt time.Time
}

// Config is the subset of StreamConfig the HLS writer needs.
type Config struct {
	StreamName        string
	HLSRoot           string
	SegmentSeconds    int
	WindowSegments    int
}

// NewWriter creates the output directory (mode 0777, so a fronting web
// server can read it) and verifies writability by touching a dotfile, as
// §4.E requires.
func NewWriter(cfg Config) (*Writer, error) {
	dir := filepath.Join(cfg.HLSRoot, cfg.StreamName)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return nil, fmt.Errorf("%w: mkdir %s: %v", nvrerr.ErrPermissionDenied, dir, err)
	}
	// MkdirAll doesn't apply mode through umask reliably; force it.
	_ = os.Chmod(dir, dirMode)

	probe := filepath.Join(dir, ".write-check")
	if err := os.WriteFile(probe, []byte("ok"), fileMode); err != nil {
		return nil, fmt.Errorf("%w: %s not writable: %v", nvrerr.ErrPermissionDenied, dir, err)
	}
	_ = os.Remove(probe)

	window := cfg.WindowSegments
	if window <= 0 {
		window = 6
	}
	segSeconds := cfg.SegmentSeconds
	if segSeconds <= 0 {
		segSeconds = 2
	}

	return &Writer{
		streamName:         cfg.StreamName,
		dir:                dir,
		segDur:             time.Duration(segSeconds) * time.Second,
		playlist:           NewPlaylist(window),
		log:                logging.New("hls", cfg.StreamName),
		waitingForKeyframe: true, // the very first segment also starts at a keyframe
	}, nil
}

// Init records the codec parameters the first segment's muxer header
// will use, and rejects streams with no video (§4.E).
func (w *Writer) Init(codecs []av.CodecData) error {
	haveVideo := false
	for _, c := range codecs {
		if c.Type().IsVideo() {
			haveVideo = true
		}
	}
	if !haveVideo {
		return nvrerr.ErrNoVideoStream
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.codecs = codecs
	w.initialized = true
	return nil
}

// WritePacket writes one already-timestamp-normalized packet into the
// current segment, rotating to a new segment at the next keyframe once
// the current one has run past segDur (§4.E "defers rotation until the
// next keyframe").
func (w *Writer) WritePacket(pkt mediapacket.Packet) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || !w.initialized {
		return nvrerr.ErrWriterIO
	}

	if w.tmpFile == nil {
		if !(pkt.IsVideo && pkt.IsKeyFrame) {
			// can't start the very first segment except on a keyframe
			return nil
		}
		if err := w.startSegmentLocked(); err != nil {
			return err
		}
	} else if w.waitingForKeyframe && pkt.IsVideo && pkt.IsKeyFrame && time.Since(w.segStart) >= w.segDur {
		if err := w.rotateLocked(); err != nil {
			return err
		}
		if err := w.startSegmentLocked(); err != nil {
			return err
		}
	}

	if pkt.IsVideo && time.Since(w.segStart) >= w.segDur {
		w.waitingForKeyframe = true
	}

	if err := w.muxer.WritePacket(pkt.ToAV()); err != nil {
		return fmt.Errorf("%w: %v", nvrerr.ErrWriterIO, err)
	}
	return nil
}

func (w *Writer) startSegmentLocked() error {
	w.segIndex++
	name := fmt.Sprintf("segment_%08d.ts", w.segIndex)
	finalPath := filepath.Join(w.dir, name)
	tmpPath := finalPath + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fileMode)
	if err != nil {
		return fmt.Errorf("%w: create segment: %v", nvrerr.ErrWriterIO, err)
	}

	muxer := ts.NewMuxer(f)
	if err := muxer.WriteHeader(w.codecs); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: segment header: %v", nvrerr.ErrWriterIO, err)
	}

	w.tmpFile = f
	w.tmpPath = tmpPath
	w.finalPath = finalPath
	w.muxer = muxer
	w.segStart = time.Now()
	w.waitingForKeyframe = false
	return nil
}

// rotateLocked finalizes the current segment: writes the trailer, closes
// the file, and atomically renames it into place so readers never
// observe a half-written segment (§4.E concurrency note).
func (w *Writer) rotateLocked() error {
	if w.tmpFile == nil {
		return nil
	}
	duration := time.Since(w.segStart)
	if err := w.muxer.WriteTrailer(); err != nil {
		w.log.Printf("trailer write failed (best effort): %v", err)
	}
	if err := w.tmpFile.Close(); err != nil {
		return fmt.Errorf("%w: close segment: %v", nvrerr.ErrWriterIO, err)
	}
	if err := os.Rename(w.tmpPath, w.finalPath); err != nil {
		return fmt.Errorf("%w: publish segment: %v", nvrerr.ErrWriterIO, err)
	}

	info, _ := os.Stat(w.finalPath)
	var size int64
	if info != nil {
		size = info.Size()
	}

	seg := Segment{
		Index:     w.segIndex,
		Filename:  filepath.Base(w.finalPath),
		StartTime: w.segStart,
		Duration:  duration,
		Size:      size,
	}
	if evicted := w.playlist.Append(seg); evicted != nil {
		w.pendingPrune = append(w.pendingPrune, prunableSegment{
			path:       filepath.Join(w.dir, evicted.Filename),
			eligibleAt: time.Now().Add(pruneGraceMultiple * w.segDur),
		})
	}
	w.prunePendingLocked()

	w.tmpFile = nil
	w.muxer = nil
	return nil
}

func (w *Writer) prunePendingLocked() {
	now := time.Now()
	remaining := w.pendingPrune[:0]
	for _, p := range w.pendingPrune {
		if now.After(p.eligibleAt) {
			if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
				w.log.Printf("prune failed for %s: %v", p.path, err)
			}
			continue
		}
		remaining = append(remaining, p)
	}
	w.pendingPrune = remaining
}

// PlaylistText renders the current rolling playlist (§3).
func (w *Writer) PlaylistText() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	segSeconds := int(w.segDur / time.Second)
	if segSeconds <= 0 {
		segSeconds = 2
	}
	return w.playlist.Render(segSeconds)
}

// FlushPlaylist writes the current playlist to <dir>/index.m3u8.
func (w *Writer) FlushPlaylist() error {
	text := w.PlaylistText()
	path := filepath.Join(w.dir, "index.m3u8")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(text), fileMode); err != nil {
		return fmt.Errorf("%w: %v", nvrerr.ErrWriterIO, err)
	}
	return os.Rename(tmp, path)
}

// Close finalizes the last segment (if any), publishes the end-of-list
// playlist (§3), and frees writer-internal state. A missing trailer on
// the last segment is best-effort per §7 and does not fail Close.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	err := w.rotateLocked()
	w.playlist.Close()
	w.mu.Unlock()

	if flushErr := w.FlushPlaylist(); flushErr != nil && err == nil {
		err = flushErr
	}
	return err
}

// Dir returns the writer's output directory, for the detection sampler
// (§4.G) to scan for the newest finished segment.
func (w *Writer) Dir() string {
	return w.dir
}
