package models

import "time"

// DeviceSignals are the client environment hints a fingerprint is derived
// from. Empty fields are allowed; they simply contribute nothing.
type DeviceSignals struct {
	UserAgent        string `json:"user_agent"`
	Platform         string `json:"platform"`
	Language         string `json:"language"`
	Timezone         string `json:"timezone"`
	ScreenResolution string `json:"screen_resolution"`
	ColorDepth       int    `json:"color_depth"`
	HardwareCores    int    `json:"hardware_cores"`
	DeviceMemoryGB   int    `json:"device_memory_gb"`
	TouchPoints      int    `json:"touch_points"`
	RendererHash     string `json:"renderer_hash"` // canvas/WebGL rendering surface digest
}

// DeviceFingerprint is immutable once recorded
type DeviceFingerprint struct {
	DeviceID    string    `json:"device_id"`
	SignalsHash string    `json:"signals_hash"`
	FirstSeenAt time.Time `json:"first_seen_at"`
}
