// Package audit writes structured audit events for authentication and for operations
// that change or destroy stored content.
package audit

import (
	"github.com/rs/zerolog"
)

// Results recorded on audit events.
const (
	ResultAllowed = "allowed"
	ResultDenied  = "denied"
	ResultOK      = "ok"
	ResultFailed  = "failed"
	ResultSkipped = "skipped"
)

// Logger provides structured audit logging. All events carry an event_type field for
// filtering. A nil *Logger discards everything.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates an audit logger writing to logger.
func NewLogger(logger zerolog.Logger) *Logger {
	return &Logger{logger: logger}
}

// LogAuth logs an authentication attempt.
// method: how the identity was presented (e.g. "bearer", "blob_token")
// result: ResultAllowed or ResultDenied
func (l *Logger) LogAuth(userID, method, result, details, sourceIP string) {
	if l == nil {
		return
	}
	level := zerolog.InfoLevel
	if result == ResultDenied {
		level = zerolog.WarnLevel
	}

	event := l.logger.WithLevel(level).
		Str("event_type", "auth").
		Str("user_id", userID).
		Str("method", method).
		Str("result", result).
		Str("source_ip", sourceIP)
	if details != "" {
		event = event.Str("details", details)
	}
	event.Msg("Authentication event")
}

// LogDriveOp logs a mutating operation on a folder or file.
// operation: e.g. "upload", "trash", "restore", "rename", "star", "delete"
// itemType: "folder" or "file" (empty for batch operations)
// result: ResultOK or ResultFailed
func (l *Logger) LogDriveOp(ownerID, operation, itemType, itemID, result, details, sourceIP string) {
	if l == nil {
		return
	}
	level := zerolog.InfoLevel
	if result == ResultFailed {
		level = zerolog.WarnLevel
	}

	event := l.logger.WithLevel(level).
		Str("event_type", "drive_operation").
		Str("owner_id", ownerID).
		Str("operation", operation).
		Str("result", result)
	if itemType != "" {
		event = event.Str("item_type", itemType)
	}
	if itemID != "" {
		event = event.Str("item_id", itemID)
	}
	if details != "" {
		event = event.Str("details", details)
	}
	if sourceIP != "" {
		event = event.Str("source_ip", sourceIP)
	}
	event.Msg("Drive operation")
}

// LogPurge logs the outcome for one expired trash item.
func (l *Logger) LogPurge(ownerID, itemType, itemID, result, details string) {
	if l == nil {
		return
	}
	level := zerolog.InfoLevel
	if result == ResultFailed {
		level = zerolog.ErrorLevel
	}

	event := l.logger.WithLevel(level).
		Str("event_type", "purge").
		Str("component", "purge").
		Str("owner_id", ownerID).
		Str("item_type", itemType).
		Str("item_id", itemID).
		Str("result", result)
	if details != "" {
		event = event.Str("details", details)
	}
	event.Msg("Trash purge")
}

// LogPurgeSweep logs the totals of one purge sweep.
func (l *Logger) LogPurgeSweep(folders, files int, bytes int64, failed, skipped int) {
	if l == nil {
		return
	}
	l.logger.Info().
		Str("event_type", "purge_sweep").
		Str("component", "purge").
		Int("folders", folders).
		Int("files", files).
		Int64("bytes", bytes).
		Int("failed", failed).
		Int("skipped", skipped).
		Msg("Trash purge sweep")
}
