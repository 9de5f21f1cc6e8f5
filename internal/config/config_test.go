package config

import (
	"strings"
	"testing"
	"time"
)

const testEncryptionKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("IDP_JWT_SECRET", "test-secret-32-characters-long!")
	t.Setenv("MFA_ENCRYPTION_KEY", testEncryptionKey)
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	durations := []struct {
		name     string
		actual   time.Duration
		expected time.Duration
	}{
		{"ReadTimeout", cfg.Server.ReadTimeout, 15 * time.Second},
		{"WriteTimeout", cfg.Server.WriteTimeout, 15 * time.Second},
		{"IdleTimeout", cfg.Server.IdleTimeout, 60 * time.Second},
		{"SessionMaxDuration", cfg.Session.MaxDuration, 8 * time.Hour},
		{"SessionIdleTimeout", cfg.Session.IdleTimeout, 30 * time.Minute},
		{"TickInterval", cfg.Monitoring.TickInterval, 60 * time.Second},
		{"CorrelationWindow", cfg.Incident.CorrelationWindow, time.Hour},
		{"MFAFailureFloor", cfg.MFA.FailureFloor, 250 * time.Millisecond},
		{"AuditDBRetention", cfg.Audit.DBRetention, 90 * 24 * time.Hour},
	}
	for _, tt := range durations {
		if tt.actual != tt.expected {
			t.Errorf("%s: got %v, want %v", tt.name, tt.actual, tt.expected)
		}
	}

	ints := []struct {
		name     string
		actual   int
		expected int
	}{
		{"BackupCodeCount", cfg.MFA.BackupCodeCount, 10},
		{"CorrelationThreshold", cfg.Incident.CorrelationThreshold, 3},
		{"NovelDeviceWeight", cfg.Session.NovelDeviceWeight, 30},
		{"AnomalyWeight", cfg.Session.AnomalyWeight, 15},
		{"OffHoursWeight", cfg.Session.OffHoursWeight, 10},
		{"OffHoursStart", cfg.Session.OffHoursStart, 6},
		{"OffHoursEnd", cfg.Session.OffHoursEnd, 22},
		{"MFAVerifyPerMinute", cfg.Server.MFAVerifyPerMinute, 10},
	}
	for _, tt := range ints {
		if tt.actual != tt.expected {
			t.Errorf("%s: got %d, want %d", tt.name, tt.actual, tt.expected)
		}
	}

	if cfg.Storage.Backend != BackendMemory {
		t.Errorf("Storage.Backend: got %q, want %q", cfg.Storage.Backend, BackendMemory)
	}
	if len(cfg.MFA.EncryptionKey) != 32 {
		t.Errorf("EncryptionKey length: got %d, want 32", len(cfg.MFA.EncryptionKey))
	}

	weights := cfg.Monitoring.AuthWeight + cfg.Monitoring.SessionWeight + cfg.Monitoring.IncidentWeight
	if weights < 0.999 || weights > 1.001 {
		t.Errorf("score weights should sum to 1, got %v", weights)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SESSION_IDLE_TIMEOUT", "10m")
	t.Setenv("MFA_BACKUP_CODE_COUNT", "12")
	t.Setenv("SCORE_WEIGHT_AUTH", "0.5")
	t.Setenv("ESCALATION_SECURITY_TEAM", "soc@example.com, +15551234567 ,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	if cfg.Session.IdleTimeout != 10*time.Minute {
		t.Errorf("IdleTimeout: got %v, want 10m", cfg.Session.IdleTimeout)
	}
	if cfg.MFA.BackupCodeCount != 12 {
		t.Errorf("BackupCodeCount: got %d, want 12", cfg.MFA.BackupCodeCount)
	}
	if cfg.Monitoring.AuthWeight != 0.5 {
		t.Errorf("AuthWeight: got %v, want 0.5", cfg.Monitoring.AuthWeight)
	}

	want := []string{"soc@example.com", "+15551234567"}
	if len(cfg.Escalation.SecurityTeam) != len(want) {
		t.Fatalf("SecurityTeam: got %v, want %v", cfg.Escalation.SecurityTeam, want)
	}
	for i := range want {
		if cfg.Escalation.SecurityTeam[i] != want[i] {
			t.Errorf("SecurityTeam[%d]: got %q, want %q", i, cfg.Escalation.SecurityTeam[i], want[i])
		}
	}
}

func TestLoad_InvalidDurationFallsBack(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SERVER_READ_TIMEOUT", "not-a-duration")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("ReadTimeout with invalid value: got %v, want %v", cfg.Server.ReadTimeout, 15*time.Second)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "missing jwt secret",
			env:     map[string]string{"IDP_JWT_SECRET": "", "MFA_ENCRYPTION_KEY": testEncryptionKey},
			wantErr: "IDP_JWT_SECRET is required",
		},
		{
			name:    "missing encryption key",
			env:     map[string]string{"IDP_JWT_SECRET": "test-secret-32-characters-long!", "MFA_ENCRYPTION_KEY": ""},
			wantErr: "MFA_ENCRYPTION_KEY is required",
		},
		{
			name:    "short encryption key",
			env:     map[string]string{"IDP_JWT_SECRET": "test-secret-32-characters-long!", "MFA_ENCRYPTION_KEY": "abcd"},
			wantErr: "32 bytes",
		},
		{
			name:    "non-hex encryption key",
			env:     map[string]string{"IDP_JWT_SECRET": "test-secret-32-characters-long!", "MFA_ENCRYPTION_KEY": "zz"},
			wantErr: "hex encoded",
		},
		{
			name: "postgres without password",
			env: map[string]string{
				"IDP_JWT_SECRET": "test-secret-32-characters-long!", "MFA_ENCRYPTION_KEY": testEncryptionKey,
				"STORAGE_BACKEND": "postgres", "DB_PASSWORD": "",
			},
			wantErr: "DB_PASSWORD is required",
		},
		{
			name: "unknown backend",
			env: map[string]string{
				"IDP_JWT_SECRET": "test-secret-32-characters-long!", "MFA_ENCRYPTION_KEY": testEncryptionKey,
				"STORAGE_BACKEND": "cassandra",
			},
			wantErr: "STORAGE_BACKEND",
		},
		{
			name: "weak production secret",
			env: map[string]string{
				"IDP_JWT_SECRET": "short-but-16-chars", "MFA_ENCRYPTION_KEY": testEncryptionKey,
				"ENV": "production",
			},
			wantErr: "at least 32 characters",
		},
		{
			name: "unknown timezone",
			env: map[string]string{
				"IDP_JWT_SECRET": "test-secret-32-characters-long!", "MFA_ENCRYPTION_KEY": testEncryptionKey,
				"RISK_TIMEZONE": "Mars/Olympus_Mons",
			},
			wantErr: "RISK_TIMEZONE",
		},
		{
			name: "inverted business hours",
			env: map[string]string{
				"IDP_JWT_SECRET": "test-secret-32-characters-long!", "MFA_ENCRYPTION_KEY": testEncryptionKey,
				"RISK_BUSINESS_HOURS_START": "22", "RISK_BUSINESS_HOURS_END": "6",
			},
			wantErr: "RISK_BUSINESS_HOURS",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			if err == nil {
				t.Fatalf("Load() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %q, want it to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}
