// Package nvrerr defines the error taxonomy of the live pipeline (§7).
// These are labels, not exhaustive types: callers match with errors.Is
// against the sentinels below and wrap with fmt.Errorf("...: %w", ...)
// the way the teacher wraps GORM and HTTP errors.
package nvrerr

import "errors"

var (
	ErrConfigInvalid          = errors.New("config invalid")
	ErrUnreachable            = errors.New("stream unreachable")
	ErrUnauthorized           = errors.New("stream unauthorized")
	ErrNoVideoStream          = errors.New("no video stream offered")
	ErrWriterIO               = errors.New("writer io error")
	ErrPermissionDenied       = errors.New("permission denied")
	ErrTimestampDiscontinuity = errors.New("timestamp discontinuity")
	ErrDecoderMismatch        = errors.New("decoder mismatch")
	ErrDetectionStuck         = errors.New("detection stuck")
	ErrDetectionModelLoad     = errors.New("detection model load error")
	ErrShutdownRequested      = errors.New("shutdown requested")
	ErrBug                    = errors.New("invariant violation")

	// ErrAlreadyStopping is returned by streamstate.Manager.AddRef when a
	// reference is requested for a stream in STOPPING or STOPPED phase.
	ErrAlreadyStopping = errors.New("stream is stopping or stopped")
)
