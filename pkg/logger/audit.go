package logger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// AuditLogger writes audit records as structured log lines
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// Log emits one audit line. Failure events (those carrying success=false)
// are logged at warn level.
func (al *AuditLogger) Log(ctx context.Context, id, event string, at time.Time, data map[string]any) {
	attrs := []slog.Attr{
		slog.String("audit_id", id),
		slog.String("event_type", event),
		slog.String("timestamp", at.UTC().Format(time.RFC3339)),
	}

	// Sorted so identical events produce identical lines
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, attrFor(k, data[k]))
	}

	level := slog.LevelInfo
	if ok, isBool := data["success"].(bool); isBool && !ok {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(ctx, level, "audit", attrs...)
}

func attrFor(key string, v any) slog.Attr {
	switch val := v.(type) {
	case string:
		return slog.String(key, val)
	case bool:
		return slog.Bool(key, val)
	case int:
		return slog.Int(key, val)
	case int64:
		return slog.Int64(key, val)
	case float64:
		return slog.Float64(key, val)
	case time.Duration:
		return slog.Duration(key, val)
	case fmt.Stringer:
		return slog.String(key, val.String())
	default:
		return slog.Any(key, val)
	}
}
