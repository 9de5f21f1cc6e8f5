package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/BradenHooton/sentinel/internal/models"
)

// Collections persisted through an EntityStore
const (
	CollectionMFAMethods = "mfa_methods"
	CollectionSessions   = "sessions"
	CollectionDevices    = "devices"
	CollectionIncidents  = "incidents"
	CollectionEmergency  = "emergency_responses"
)

// EntityStore is the optional persistence collaborator: opaque documents
// keyed by (collection, id). Get returns models.ErrNotFound for a miss.
type EntityStore interface {
	Get(ctx context.Context, collection, id string) ([]byte, error)
	Put(ctx context.Context, collection, id string, data []byte) error
	Delete(ctx context.Context, collection, id string) error
}

// rowScanner abstracts pgx.Row and pgx.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

// Repository is a typed JSON view over one collection of an EntityStore.
// A Repository without a store is valid: reads miss and writes are dropped,
// leaving the caller's in-memory state authoritative.
type Repository[T any] struct {
	store      EntityStore
	collection string
	logger     *slog.Logger
}

// NewRepository creates a Repository; store may be nil
func NewRepository[T any](store EntityStore, collection string, logger *slog.Logger) *Repository[T] {
	return &Repository[T]{store: store, collection: collection, logger: logger}
}

// Enabled reports whether writes reach a backing store
func (r *Repository[T]) Enabled() bool {
	return r != nil && r.store != nil
}

// Get loads and decodes one entity
func (r *Repository[T]) Get(ctx context.Context, id string) (*T, error) {
	if !r.Enabled() {
		return nil, models.ErrNotFound
	}
	data, err := r.store.Get(ctx, r.collection, id)
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to decode %s/%s: %w", r.collection, id, err)
	}
	return &v, nil
}

// Put encodes and stores one entity
func (r *Repository[T]) Put(ctx context.Context, id string, v *T) error {
	if !r.Enabled() {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", r.collection, id, err)
	}
	return r.store.Put(ctx, r.collection, id, data)
}

// Delete removes one entity; deleting a missing entity is not an error
func (r *Repository[T]) Delete(ctx context.Context, id string) error {
	if !r.Enabled() {
		return nil
	}
	err := r.store.Delete(ctx, r.collection, id)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	return err
}

// Save is Put with failures logged instead of returned. In-memory state
// stays authoritative, so a failed write-through never fails the caller.
func (r *Repository[T]) Save(ctx context.Context, id string, v *T) {
	if err := r.Put(ctx, id, v); err != nil {
		r.logger.Error("failed to persist entity",
			slog.String("collection", r.collection),
			slog.String("id", id),
			slog.Any("error", err),
		)
	}
}

// Remove is Delete with failures logged instead of returned
func (r *Repository[T]) Remove(ctx context.Context, id string) {
	if err := r.Delete(ctx, id); err != nil {
		r.logger.Error("failed to delete entity",
			slog.String("collection", r.collection),
			slog.String("id", id),
			slog.Any("error", err),
		)
	}
}

// Load is Get that treats any failure as a miss; non-NotFound failures
// are logged
func (r *Repository[T]) Load(ctx context.Context, id string) (*T, bool) {
	v, err := r.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			r.logger.Error("failed to load entity",
				slog.String("collection", r.collection),
				slog.String("id", id),
				slog.Any("error", err),
			)
		}
		return nil, false
	}
	return v, true
}

// MemoryStore is an in-process EntityStore, used in tests and as the
// default backend
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func memoryKey(collection, id string) string {
	return collection + "/" + id
}

func (s *MemoryStore) Get(_ context.Context, collection, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[memoryKey(collection, id)]
	if !ok {
		return nil, models.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryStore) Put(_ context.Context, collection, id string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[memoryKey(collection, id)] = append([]byte(nil), data...)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := memoryKey(collection, id)
	if _, ok := s.data[key]; !ok {
		return models.ErrNotFound
	}
	delete(s.data, key)
	return nil
}

// Len returns the number of stored documents
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
