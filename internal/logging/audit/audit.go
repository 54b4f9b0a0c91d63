// Package audit writes a JSON audit trail of store mutations.
package audit

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Logger provides structured audit logging for operations that change what
// a store holds. Every entry carries an event_type and a result so the log
// can be filtered with standard JSON tools.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new audit logger from a zerolog.Logger.
func NewLogger(logger zerolog.Logger) *Logger {
	return &Logger{logger: logger}
}

// Nop returns a logger that discards every entry.
func Nop() *Logger {
	return &Logger{logger: zerolog.Nop()}
}

// OpenFile appends JSON audit entries to path, creating it if needed. The
// returned closer closes the file.
func OpenFile(path string) (*Logger, io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, nil, fmt.Errorf("create audit log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0640)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit log: %w", err)
	}
	logger := zerolog.New(f).With().Timestamp().Logger()
	return NewLogger(logger), f, nil
}

// event starts an entry at info level, or warn when err is set.
func (l *Logger) event(eventType, storeID string, err error) *zerolog.Event {
	level := zerolog.InfoLevel
	result := "ok"
	if err != nil {
		level = zerolog.WarnLevel
		result = "error"
	}

	event := l.logger.WithLevel(level).
		Str("event_type", eventType).
		Str("store_id", storeID).
		Str("result", result)
	if err != nil {
		event = event.Str("details", err.Error())
	}
	return event
}

// LogObjectWrite logs an object write.
// start and stripes describe the stripe range the object was given.
func (l *Logger) LogObjectWrite(storeID, name string, size, start, stripes int64, err error) {
	l.event("object_write", storeID, err).
		Str("object", name).
		Int64("size", size).
		Int64("start_stripe", start).
		Int64("stripes", stripes).
		Msg("Object write")
}

// LogNodeFailure logs a simulated node failure and how many blocks it
// removed.
func (l *Logger) LogNodeFailure(storeID string, node, blocks int, err error) {
	l.event("node_failure", storeID, err).
		Int("node", node).
		Int("blocks", blocks).
		Msg("Node failure")
}

// LogDiskFailure logs a simulated single-block failure.
func (l *Logger) LogDiskFailure(storeID string, node int, stripe int64, err error) {
	l.event("disk_failure", storeID, err).
		Int("node", node).
		Int64("stripe", stripe).
		Msg("Disk failure")
}

// LogRepair logs the outcome of a reconstruction pass.
func (l *Logger) LogRepair(storeID string, scanned, repaired int64, rebuilt int, unrecoverable []int64, err error) {
	event := l.event("repair", storeID, err).
		Int64("stripes_scanned", scanned).
		Int64("stripes_repaired", repaired).
		Int("blocks_rebuilt", rebuilt)

	if len(unrecoverable) > 0 {
		event = event.Ints64("unrecoverable_stripes", unrecoverable)
	}

	event.Msg("Repair")
}
