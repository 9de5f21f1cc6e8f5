// Package audit keeps the bounded in-memory audit trail of coordinator
// activity and mirrors it to the structured log and optional external sinks.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/pkg/logger"
	"github.com/google/uuid"
)

const sinkQueueSize = 256

// Sink receives every audit entry after it is recorded
type Sink interface {
	Write(ctx context.Context, entry *models.AuditLogEntry) error
}

// Log is an append-only ring buffer; past capacity the oldest entry is
// overwritten.
type Log struct {
	mu      sync.RWMutex
	entries []models.AuditLogEntry
	start   int
	size    int

	auditLogger *logger.AuditLogger
	logger      *slog.Logger
	now         func() time.Time

	sinks   []Sink
	queue   chan models.AuditLogEntry
	wg      sync.WaitGroup
	closeMu sync.Mutex
	closed  bool
}

// NewLog creates a Log holding at most capacity entries. Entries are
// forwarded to sinks from a background goroutine so recording never blocks
// on a slow sink.
func NewLog(capacity int, log *slog.Logger, sinks ...Sink) *Log {
	if capacity <= 0 {
		capacity = 1000
	}
	l := &Log{
		entries:     make([]models.AuditLogEntry, capacity),
		auditLogger: logger.NewAuditLogger(log),
		logger:      log,
		now:         time.Now,
		sinks:       sinks,
	}
	if len(sinks) > 0 {
		l.queue = make(chan models.AuditLogEntry, sinkQueueSize)
		l.wg.Add(1)
		go l.forward()
	}
	return l
}

// SetClock replaces the time source
func (l *Log) SetClock(now func() time.Time) {
	l.now = now
}

// Record appends an entry and returns it
func (l *Log) Record(ctx context.Context, event string, data map[string]any) models.AuditLogEntry {
	entry := models.AuditLogEntry{
		ID:        uuid.New().String(),
		Event:     event,
		Data:      models.AuditData(data),
		Timestamp: l.now(),
	}

	l.auditLogger.Log(ctx, entry.ID, entry.Event, entry.Timestamp, data)

	l.mu.Lock()
	idx := (l.start + l.size) % len(l.entries)
	l.entries[idx] = entry
	if l.size < len(l.entries) {
		l.size++
	} else {
		l.start = (l.start + 1) % len(l.entries)
	}
	l.mu.Unlock()

	l.enqueue(entry)
	return entry
}

func (l *Log) enqueue(entry models.AuditLogEntry) {
	if l.queue == nil {
		return
	}
	l.closeMu.Lock()
	defer l.closeMu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- entry:
	default:
		l.logger.Warn("audit sink queue full, dropping entry", slog.String("audit_id", entry.ID))
	}
}

func (l *Log) forward() {
	defer l.wg.Done()
	for entry := range l.queue {
		for _, sink := range l.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := sink.Write(ctx, &entry); err != nil {
				l.logger.Error("failed to forward audit entry",
					slog.String("audit_id", entry.ID),
					slog.Any("error", err))
			}
			cancel()
		}
	}
}

// Close stops forwarding after draining queued entries
func (l *Log) Close() {
	l.closeMu.Lock()
	if l.closed || l.queue == nil {
		l.closed = true
		l.closeMu.Unlock()
		return
	}
	l.closed = true
	close(l.queue)
	l.closeMu.Unlock()
	l.wg.Wait()
}

// EvictOlderThan drops entries recorded before cutoff and returns how many
// were removed. Entries are time ordered, so eviction only trims the front.
func (l *Log) EvictOlderThan(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for l.size > 0 {
		oldest := &l.entries[l.start]
		if !oldest.Timestamp.Before(cutoff) {
			break
		}
		*oldest = models.AuditLogEntry{}
		l.start = (l.start + 1) % len(l.entries)
		l.size--
		removed++
	}
	return removed
}

// Recent returns up to n entries, newest first. n <= 0 returns all.
func (l *Log) Recent(n int) []models.AuditLogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || n > l.size {
		n = l.size
	}
	out := make([]models.AuditLogEntry, 0, n)
	for i := 0; i < n; i++ {
		idx := (l.start + l.size - 1 - i) % len(l.entries)
		out = append(out, l.entries[idx])
	}
	return out
}

// Len returns the number of retained entries
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}

// Capacity returns the maximum number of retained entries
func (l *Log) Capacity() int {
	return len(l.entries)
}
