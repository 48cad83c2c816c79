package logging

import (
	"context"
	"log/slog"
	"time"
)

type Attr = slog.Attr

func Any(key string, value any) Attr { return slog.Any(key, value) }

func Bool(key string, value bool) Attr { return slog.Bool(key, value) }

func Duration(key string, value time.Duration) Attr { return slog.Duration(key, value) }

func Float64(key string, value float64) Attr { return slog.Float64(key, value) }

func Int(key string, value int) Attr { return slog.Int(key, value) }

func Int64(key string, value int64) Attr { return slog.Int64(key, value) }

func String(key string, value string) Attr { return slog.String(key, value) }

// RecordID tags a line with a file record id under FieldRecordID.
func RecordID(id int64) Attr { return slog.Int64(FieldRecordID, id) }

func Error(err error) Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.Any("error", err)
}

func Args(attrs ...Attr) []any {
	args := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		args = append(args, attr)
	}
	return args
}

// NewNop returns a logger that discards everything.
func NewNop() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// NewComponentLogger creates a logger with a standardized component attribute.
// If logger is nil, a no-op logger is used as the base.
func NewComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	return logger.With(String(FieldComponent, component))
}

// HasAttrKey returns true if any attribute in attrs has the given key.
func HasAttrKey(attrs []Attr, key string) bool {
	for _, a := range attrs {
		if a.Key == key {
			return true
		}
	}
	return false
}

const fallbackHint = "check logs for details"

// eventHints holds the operator hint used when a WARN or ERROR line for the
// event type carries none of its own.
var eventHints = map[string]string{
	"download_failed":       "the transfer is retried on the next sync; check remote connectivity and local free space",
	"crawl_failed":          "check that the remote path exists and the sftp user can read it",
	"route_failed":          "run 'nasferry route --retry-errors' once the cause is fixed",
	"hash_failed":           "check that the file is still present and readable",
	"verify_failed":         "check that the file is still present and readable",
	"catalog_search_failed": "check tmdb.api_key and network access",
	"metrics_export_failed": "check metrics.textfile_path permissions",
	"watch_cycle_failed":    "the next tick retries; check remote and store connectivity",
}

// HintFor returns the default operator hint for an event type.
func HintFor(eventType string) string {
	if hint, ok := eventHints[eventType]; ok {
		return hint
	}
	return fallbackHint
}

// WarnWithContext logs a warning with enforced event_type and error_hint fields.
// Missing fields are filled with defaults so every WARN line says what
// happened and what to check next.
func WarnWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	logEvent(logger, slog.LevelWarn, msg, eventType, attrs)
}

// ErrorWithContext logs an error with enforced event_type and error_hint fields.
func ErrorWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	logEvent(logger, slog.LevelError, msg, eventType, attrs)
}

func logEvent(logger *slog.Logger, level slog.Level, msg, eventType string, attrs []Attr) {
	if logger == nil {
		return
	}
	if !HasAttrKey(attrs, FieldEventType) {
		attrs = append(attrs, String(FieldEventType, eventType))
	}
	if !HasAttrKey(attrs, FieldErrorHint) {
		attrs = append(attrs, String(FieldErrorHint, HintFor(eventType)))
	}
	logger.LogAttrs(context.Background(), level, msg, attrs...)
}
