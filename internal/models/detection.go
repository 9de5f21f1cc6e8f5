package models

import "time"

// DetectorStats is the run history of one detector
type DetectorStats struct {
	Runs     int64 `json:"runs"`
	Findings int64 `json:"findings"`
	Failures int64 `json:"failures"`
}

// DetectionStats feeds the dashboard
type DetectionStats struct {
	Runs       int64                    `json:"runs"`
	Findings   int64                    `json:"findings"`
	Failures   int64                    `json:"failures"`
	LastRunAt  *time.Time               `json:"last_run_at,omitempty"`
	ByDetector map[string]DetectorStats `json:"by_detector"`
}
