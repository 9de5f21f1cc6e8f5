package models

import "time"

// Session is an authenticated user session tracked by the risk engine
type Session struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	DeviceID       string    `json:"device_id"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	RiskScore      int       `json:"risk_score"`
	IsActive       bool      `json:"is_active"`
	NovelDevice    bool      `json:"novel_device"` // device was first seen by this session
	RiskAlerted    bool      `json:"risk_alerted"` // high-risk finding already raised
}

// SessionStats feeds the dashboard
type SessionStats struct {
	Active           int     `json:"active"`
	HighRisk         int     `json:"high_risk"`
	AverageRiskScore float64 `json:"average_risk_score"`
	Created          int64   `json:"created"`
	Expired          int64   `json:"expired"`
	Terminated       int64   `json:"terminated"`
	KnownDevices     int     `json:"known_devices"`
	FlaggedDevices   int     `json:"flagged_devices"`
}
