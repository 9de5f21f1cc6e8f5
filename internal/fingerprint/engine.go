// Package fingerprint derives stable device identifiers from client
// environment signals and remembers which devices have been seen.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/internal/repositories"
)

const deviceIDPrefix = "dev_"

// Engine is the known-device registry. Recorded fingerprints are never
// mutated.
type Engine struct {
	mu      sync.RWMutex
	devices map[string]models.DeviceFingerprint
	repo    *repositories.Repository[models.DeviceFingerprint]
	logger  *slog.Logger
	now     func() time.Time
}

// NewEngine creates an Engine; store may be nil
func NewEngine(store repositories.EntityStore, logger *slog.Logger) *Engine {
	return &Engine{
		devices: make(map[string]models.DeviceFingerprint),
		repo:    repositories.NewRepository[models.DeviceFingerprint](store, repositories.CollectionDevices, logger),
		logger:  logger,
		now:     time.Now,
	}
}

// SetClock replaces the time source
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Derive hashes the signals into (deviceID, signalsHash). Equal signals
// always produce the same pair.
func Derive(signals models.DeviceSignals) (string, string) {
	canonical := strings.Join([]string{
		"ua=" + strings.TrimSpace(signals.UserAgent),
		"platform=" + strings.ToLower(strings.TrimSpace(signals.Platform)),
		"lang=" + strings.ToLower(strings.TrimSpace(signals.Language)),
		"tz=" + strings.TrimSpace(signals.Timezone),
		"screen=" + strings.TrimSpace(signals.ScreenResolution),
		fmt.Sprintf("depth=%d", signals.ColorDepth),
		fmt.Sprintf("cores=%d", signals.HardwareCores),
		fmt.Sprintf("mem=%d", signals.DeviceMemoryGB),
		fmt.Sprintf("touch=%d", signals.TouchPoints),
		"render=" + strings.TrimSpace(signals.RendererHash),
	}, "|")

	sum := sha256.Sum256([]byte(canonical))
	signalsHash := hex.EncodeToString(sum[:])
	return deviceIDPrefix + signalsHash[:32], signalsHash
}

// Identify derives the device ID for signals and records it
func (e *Engine) Identify(ctx context.Context, signals models.DeviceSignals) (models.DeviceFingerprint, bool) {
	deviceID, signalsHash := Derive(signals)
	return e.observe(ctx, deviceID, signalsHash)
}

// Observe records deviceID if it has not been seen and reports whether this
// call was the first sighting. Check and insert are atomic.
func (e *Engine) Observe(ctx context.Context, deviceID string) (models.DeviceFingerprint, bool) {
	return e.observe(ctx, deviceID, "")
}

func (e *Engine) observe(ctx context.Context, deviceID, signalsHash string) (models.DeviceFingerprint, bool) {
	if fp, ok := e.Lookup(ctx, deviceID); ok {
		return fp, false
	}

	e.mu.Lock()
	if fp, ok := e.devices[deviceID]; ok {
		e.mu.Unlock()
		return fp, false
	}
	fp := models.DeviceFingerprint{
		DeviceID:    deviceID,
		SignalsHash: signalsHash,
		FirstSeenAt: e.now(),
	}
	e.devices[deviceID] = fp
	e.mu.Unlock()

	e.repo.Save(ctx, deviceID, &fp)
	e.logger.InfoContext(ctx, "new device recorded", slog.String("device_id", deviceID))
	return fp, true
}

// Lookup returns the recorded fingerprint, consulting the store on a miss
func (e *Engine) Lookup(ctx context.Context, deviceID string) (models.DeviceFingerprint, bool) {
	e.mu.RLock()
	fp, ok := e.devices[deviceID]
	e.mu.RUnlock()
	if ok {
		return fp, true
	}

	stored, ok := e.repo.Load(ctx, deviceID)
	if !ok {
		return models.DeviceFingerprint{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.devices[deviceID]; ok {
		return existing, true
	}
	e.devices[deviceID] = *stored
	return *stored, true
}

// IsKnown reports whether deviceID has been recorded
func (e *Engine) IsKnown(ctx context.Context, deviceID string) bool {
	_, ok := e.Lookup(ctx, deviceID)
	return ok
}

// Count returns the number of devices held in memory
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.devices)
}
