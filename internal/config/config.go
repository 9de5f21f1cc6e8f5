package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	Identity   IdentityConfig
	MFA        MFAConfig
	Session    SessionConfig
	Detection  DetectionConfig
	Incident   IncidentConfig
	Monitoring MonitoringConfig
	Escalation EscalationConfig
	Storage    StorageConfig
	Audit      AuditConfig
	Notify     NotifyConfig
}

type ServerConfig struct {
	Port         string
	Env          string
	LogLevel     string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	TrustedProxies     []string // CIDR ranges allowed to set X-Forwarded-For
	MFAVerifyPerMinute int      // per client IP on MFA verification endpoints
}

// IdentityConfig describes the upstream identity provider whose bearer
// tokens carry the authenticated user ID.
type IdentityConfig struct {
	JWTSecret string
	Issuer    string
}

type MFAConfig struct {
	EncryptionKey      []byte // 32 bytes for AES-256-GCM
	Issuer             string
	BackupCodeCount    int
	BackupCodeCost     int // bcrypt cost
	SetupTokenExpiry   time.Duration
	DeliveryCodeExpiry time.Duration
	ChallengeExpiry    time.Duration
	BiometricAvailable bool
	FailureFloor       time.Duration // minimum response time of a rejected code
	FailureJitter      time.Duration
}

type SessionConfig struct {
	MaxDuration         time.Duration
	IdleTimeout         time.Duration
	NovelDeviceWeight   int
	AnomalyWeight       int
	OffHoursWeight      int
	FlaggedDeviceWeight int
	OffHoursStart       int // first hour considered normal
	OffHoursEnd         int // first hour considered off-hours again
	RiskAlertThreshold  int
	Location            *time.Location
}

type DetectionConfig struct {
	BruteForceThreshold int
	BruteForceWindow    time.Duration
}

type IncidentConfig struct {
	CorrelationThreshold int
	CorrelationWindow    time.Duration
	ResolvedRetention    time.Duration
}

type MonitoringConfig struct {
	TickInterval   time.Duration
	AuthWeight     float64
	SessionWeight  float64
	IncidentWeight float64
	AuditCapacity  int
	AuditRetention time.Duration
}

// EscalationConfig maps each escalation role to its contact addresses
type EscalationConfig struct {
	SecurityTeam []string
	Management   []string
	Legal        []string
}

type StorageConfig struct {
	Backend  string // memory, postgres or redis
	Database DatabaseConfig
	Redis    RedisConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

type AuditConfig struct {
	KafkaBrokers []string
	KafkaTopic   string
	DBRetention  time.Duration // rows older than this are purged from the audit table
}

type NotifyConfig struct {
	AWSRegion string
	FromEmail string
}

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("IDP_JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("IDP_JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	encKey, err := parseEncryptionKey(getEnv("MFA_ENCRYPTION_KEY", ""))
	if err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(getEnv("RISK_TIMEZONE", "UTC"))
	if err != nil {
		return nil, fmt.Errorf("RISK_TIMEZONE is invalid: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Env:          env,
			LogLevel:     getEnv("LOG_LEVEL", "info"),
			ReadTimeout:  getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),

			TrustedProxies:     getEnvAsList("TRUSTED_PROXIES"),
			MFAVerifyPerMinute: getEnvAsInt("MFA_VERIFY_RATE_LIMIT", 10),
		},
		Identity: IdentityConfig{
			JWTSecret: jwtSecret,
			Issuer:    getEnv("IDP_ISSUER", ""),
		},
		MFA: MFAConfig{
			EncryptionKey:      encKey,
			Issuer:             getEnv("MFA_ISSUER", "Sentinel"),
			BackupCodeCount:    getEnvAsInt("MFA_BACKUP_CODE_COUNT", 10),
			BackupCodeCost:     getEnvAsInt("MFA_BACKUP_CODE_COST", 10),
			SetupTokenExpiry:   getEnvAsDuration("MFA_SETUP_TOKEN_EXPIRY", 15*time.Minute),
			DeliveryCodeExpiry: getEnvAsDuration("MFA_DELIVERY_CODE_EXPIRY", 5*time.Minute),
			ChallengeExpiry:    getEnvAsDuration("MFA_CHALLENGE_EXPIRY", 2*time.Minute),
			BiometricAvailable: getEnvAsBool("MFA_BIOMETRIC_AVAILABLE", false),
			FailureFloor:       getEnvAsDuration("MFA_FAILURE_FLOOR", 250*time.Millisecond),
			FailureJitter:      getEnvAsDuration("MFA_FAILURE_JITTER", 100*time.Millisecond),
		},
		Session: SessionConfig{
			MaxDuration:         getEnvAsDuration("SESSION_MAX_DURATION", 8*time.Hour),
			IdleTimeout:         getEnvAsDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),
			NovelDeviceWeight:   getEnvAsInt("RISK_NOVEL_DEVICE_WEIGHT", 30),
			AnomalyWeight:       getEnvAsInt("RISK_ANOMALY_WEIGHT", 15),
			OffHoursWeight:      getEnvAsInt("RISK_OFF_HOURS_WEIGHT", 10),
			FlaggedDeviceWeight: getEnvAsInt("RISK_FLAGGED_DEVICE_WEIGHT", 40),
			OffHoursStart:       getEnvAsInt("RISK_BUSINESS_HOURS_START", 6),
			OffHoursEnd:         getEnvAsInt("RISK_BUSINESS_HOURS_END", 22),
			RiskAlertThreshold:  getEnvAsInt("RISK_ALERT_THRESHOLD", 70),
			Location:            loc,
		},
		Detection: DetectionConfig{
			BruteForceThreshold: getEnvAsInt("BRUTE_FORCE_THRESHOLD", 5),
			BruteForceWindow:    getEnvAsDuration("BRUTE_FORCE_WINDOW", 15*time.Minute),
		},
		Incident: IncidentConfig{
			CorrelationThreshold: getEnvAsInt("CORRELATION_THRESHOLD", 3),
			CorrelationWindow:    getEnvAsDuration("CORRELATION_WINDOW", time.Hour),
			ResolvedRetention:    getEnvAsDuration("INCIDENT_RETENTION", 7*24*time.Hour),
		},
		Monitoring: MonitoringConfig{
			TickInterval:   getEnvAsDuration("MONITOR_INTERVAL", 60*time.Second),
			AuthWeight:     getEnvAsFloat("SCORE_WEIGHT_AUTH", 0.4),
			SessionWeight:  getEnvAsFloat("SCORE_WEIGHT_SESSION", 0.3),
			IncidentWeight: getEnvAsFloat("SCORE_WEIGHT_INCIDENT", 0.3),
			AuditCapacity:  getEnvAsInt("AUDIT_CAPACITY", 1000),
			AuditRetention: getEnvAsDuration("AUDIT_RETENTION", 24*time.Hour),
		},
		Escalation: EscalationConfig{
			SecurityTeam: getEnvAsList("ESCALATION_SECURITY_TEAM"),
			Management:   getEnvAsList("ESCALATION_MANAGEMENT"),
			Legal:        getEnvAsList("ESCALATION_LEGAL"),
		},
		Storage: StorageConfig{
			Backend: getEnv("STORAGE_BACKEND", BackendMemory),
			Database: DatabaseConfig{
				Host:              getEnv("DB_HOST", "localhost"),
				Port:              getEnvAsInt("DB_PORT", 5432),
				User:              getEnv("DB_USER", "postgres"),
				Password:          getEnv("DB_PASSWORD", ""),
				Name:              getEnv("DB_NAME", "sentinel"),
				SSLMode:           getEnv("DB_SSLMODE", "disable"),
				MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
				MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
				MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
				MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
				HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			},
			Redis: RedisConfig{
				Addr:      getEnv("REDIS_ADDR", "localhost:6379"),
				Password:  getEnv("REDIS_PASSWORD", ""),
				DB:        getEnvAsInt("REDIS_DB", 0),
				KeyPrefix: getEnv("REDIS_KEY_PREFIX", "sentinel"),
				TTL:       getEnvAsDuration("REDIS_TTL", 7*24*time.Hour),
			},
		},
		Audit: AuditConfig{
			KafkaBrokers: getEnvAsList("AUDIT_KAFKA_BROKERS"),
			KafkaTopic:   getEnv("AUDIT_KAFKA_TOPIC", "security-audit"),
			DBRetention:  getEnvAsDuration("AUDIT_DB_RETENTION", 90*24*time.Hour),
		},
		Notify: NotifyConfig{
			AWSRegion: getEnv("AWS_REGION", ""),
			FromEmail: getEnv("NOTIFY_FROM_EMAIL", ""),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case BackendMemory, BackendRedis:
	case BackendPostgres:
		if c.Storage.Database.Password == "" {
			return fmt.Errorf("DB_PASSWORD is required for the postgres storage backend")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be one of memory, postgres, redis (got %q)", c.Storage.Backend)
	}

	if c.MFA.BackupCodeCount <= 0 {
		return fmt.Errorf("MFA_BACKUP_CODE_COUNT must be positive")
	}
	if c.Session.IdleTimeout <= 0 || c.Session.MaxDuration <= 0 {
		return fmt.Errorf("session timeouts must be positive")
	}
	if c.Session.OffHoursStart < 0 || c.Session.OffHoursEnd > 24 || c.Session.OffHoursStart >= c.Session.OffHoursEnd {
		return fmt.Errorf("RISK_BUSINESS_HOURS_START/END must satisfy 0 <= start < end <= 24")
	}
	if c.Incident.CorrelationThreshold < 2 {
		return fmt.Errorf("CORRELATION_THRESHOLD must be at least 2")
	}
	if c.Monitoring.TickInterval <= 0 {
		return fmt.Errorf("MONITOR_INTERVAL must be positive")
	}
	return nil
}

// parseEncryptionKey decodes the hex-encoded AES-256 key for TOTP secrets
func parseEncryptionKey(raw string) ([]byte, error) {
	if raw == "" {
		return nil, fmt.Errorf("MFA_ENCRYPTION_KEY is required")
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("MFA_ENCRYPTION_KEY must be hex encoded: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("MFA_ENCRYPTION_KEY must decode to 32 bytes (got %d)", len(key))
	}
	return key, nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("IDP_JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("IDP_JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

// getEnvAsList splits a comma-separated value, dropping blanks
func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
