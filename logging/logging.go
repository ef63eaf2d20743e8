// Package logging provides the bracketed-tag logger used across the
// core packages, in the same style as the teacher's "[MediaMTX]",
// "[WebRTC]", "[Auth]" prefixes.
package logging

import (
	"log"
	"os"
)

// Logger prefixes every line with a component tag, e.g. "[rtsp:cam0]".
type Logger struct {
	tag string
	std *log.Logger
}

// New returns a Logger tagged with component and, optionally, a stream name.
func New(component, stream string) *Logger {
	tag := "[" + component + "]"
	if stream != "" {
		tag = "[" + component + ":" + stream + "]"
	}
	return &Logger{tag: tag, std: log.New(os.Stderr, "", log.LstdFlags)}
}

func (l *Logger) Printf(format string, args ...interface{}) {
	l.std.Printf(l.tag+" "+format, args...)
}

func (l *Logger) Println(args ...interface{}) {
	all := append([]interface{}{l.tag}, args...)
	l.std.Println(all...)
}
