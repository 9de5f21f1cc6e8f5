// Package detection runs the registered threat detectors once per
// monitoring tick and gathers their findings.
package detection

import (
	"context"

	"github.com/BradenHooton/sentinel/internal/models"
)

// Detector inspects some signal source and reports findings. Scan is called
// once per tick; implementations must be safe for concurrent use with the
// rest of the system.
type Detector interface {
	Name() string
	Scan(ctx context.Context) ([]models.Finding, error)
}

// Shipped detector names
const (
	DetectorAnomaly    = "anomaly"
	DetectorBruteForce = "brute_force"
	DetectorMalware    = "malware"
	DetectorNetwork    = "network"
	DetectorBehavioral = "behavioral"
	DetectorContent    = "content"
	DetectorInjection  = "injection"
)

// StubDetector satisfies Detector and reports nothing. It holds a registry
// slot until a real implementation is plugged in.
type StubDetector struct {
	name string
}

// NewStubDetector creates a StubDetector
func NewStubDetector(name string) *StubDetector {
	return &StubDetector{name: name}
}

func (d *StubDetector) Name() string {
	return d.name
}

func (d *StubDetector) Scan(ctx context.Context) ([]models.Finding, error) {
	return nil, ctx.Err()
}

// DefaultDetectors returns the shipped registry with bruteForce in its slot
func DefaultDetectors(bruteForce *BruteForceDetector) []Detector {
	return []Detector{
		NewStubDetector(DetectorAnomaly),
		bruteForce,
		NewStubDetector(DetectorMalware),
		NewStubDetector(DetectorNetwork),
		NewStubDetector(DetectorBehavioral),
		NewStubDetector(DetectorContent),
		NewStubDetector(DetectorInjection),
	}
}
