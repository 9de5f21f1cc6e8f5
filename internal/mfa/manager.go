// Package mfa implements the multi-factor method lifecycle: setup,
// activation, login-time verification and backup-code recovery.
package mfa

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/internal/notify"
	"github.com/BradenHooton/sentinel/internal/repositories"
	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
	"github.com/BradenHooton/sentinel/pkg/logger"
)

const (
	deliveryCodeDigits = 6
	challengeSize      = 32
)

// AttemptRecorder receives every verification outcome
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, attempt models.MFAAttempt)
}

// AuditRecorder appends entries to the audit trail
type AuditRecorder interface {
	Record(ctx context.Context, event string, data map[string]any) models.AuditLogEntry
}

// Config holds MFA tuning
type Config struct {
	BackupCodeCount    int
	BackupCodeCost     int
	DeliveryCodeExpiry time.Duration
	ChallengeExpiry    time.Duration
}

// Deps are the collaborators of a Manager. Notifier, Authenticator,
// Recorder and Store may be nil.
type Deps struct {
	TOTP          *auth.TOTPManager
	Tokens        *auth.TokenManager
	Notifier      notify.Notifier
	Authenticator Authenticator
	Recorder      AttemptRecorder
	Store         repositories.EntityStore
	Audit         AuditRecorder
}

type methodEntry struct {
	mu      sync.Mutex
	method  *models.MFAMethod
	removed bool
}

// Manager owns all MFA method records. Membership is guarded by mu and
// each record by its own lock; a record lock may be held while taking mu,
// never the reverse.
type Manager struct {
	mu         sync.RWMutex
	methods    map[string]*methodEntry
	activeUser map[string]int // active method count per user

	config Config
	deps   Deps
	repo   *repositories.Repository[models.MFAMethod]
	logger *slog.Logger
	now    func() time.Time

	verifySuccesses     atomic.Int64
	verifyFailures      atomic.Int64
	backupCodesConsumed atomic.Int64
}

// NewManager creates a Manager
func NewManager(cfg Config, deps Deps, logger *slog.Logger) *Manager {
	if cfg.BackupCodeCount <= 0 {
		cfg.BackupCodeCount = 10
	}
	return &Manager{
		methods:    make(map[string]*methodEntry),
		activeUser: make(map[string]int),
		config:     cfg,
		deps:       deps,
		repo:       repositories.NewRepository[models.MFAMethod](deps.Store, repositories.CollectionMFAMethods, logger),
		logger:     logger,
		now:        time.Now,
	}
}

// SetClock replaces the time source
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// SetupMethod registers a new inactive method for userID. An inactive
// method of the same kind is replaced; an active one is a conflict.
func (m *Manager) SetupMethod(ctx context.Context, userID string, kind models.MFAKind, contact string) (*models.MFASetupResult, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	if _, err := models.ParseMFAKind(string(kind)); err != nil {
		return nil, err
	}
	if err := validateContact(kind, contact); err != nil {
		return nil, err
	}
	if kind == models.MFAKindBiometric || kind == models.MFAKindHardwareKey {
		if m.deps.Authenticator == nil || !m.deps.Authenticator.Supports(kind) {
			return nil, fmt.Errorf("%w: %s not available on this platform", models.ErrUnsupportedEnvironment, kind)
		}
	}

	entry := m.lockOrCreate(ctx, userID, kind)
	defer entry.mu.Unlock()

	if entry.method != nil && entry.method.IsActive {
		return nil, fmt.Errorf("%w: %s already active", models.ErrConflict, kind)
	}

	backupCodes, hashed, err := m.newBackupCodes()
	if err != nil {
		m.logger.Error("failed to generate backup codes", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	now := m.now()
	result := &models.MFASetupResult{BackupCodes: backupCodes}
	var deliveryCode string

	var secret models.MethodSecret
	switch kind {
	case models.MFAKindTOTP:
		enrollment, err := m.deps.TOTP.Enroll(userID)
		if err != nil {
			m.logger.Error("failed to enroll TOTP", slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		secret = models.TOTPSecret{Encrypted: enrollment.Encrypted, Nonce: enrollment.Nonce}
		result.ProvisioningURI = enrollment.ProvisioningURI
		result.QRCode = enrollment.QRCode

	case models.MFAKindSMS, models.MFAKindEmail:
		code, pending, err := m.newDeliverySecret(contact, now)
		if err != nil {
			m.logger.Error("failed to generate delivery code", slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		secret = pending
		deliveryCode = code

	case models.MFAKindBiometric, models.MFAKindHardwareKey:
		cred, err := m.deps.Authenticator.Register(ctx, userID, kind)
		if err != nil {
			m.logger.Error("failed to register credential",
				slog.String("kind", string(kind)),
				slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		challenge, err := newChallenge()
		if err != nil {
			return nil, models.ErrInternalServer
		}
		secret = models.CredentialSecret{
			CredentialID:       cred.ID,
			PublicKey:          cred.PublicKey,
			Challenge:          challenge,
			ChallengeExpiresAt: now.Add(m.config.ChallengeExpiry),
		}
		result.Challenge = challenge
	}

	token, err := m.deps.Tokens.GenerateSetupToken(userID, kind)
	if err != nil {
		m.logger.Error("failed to sign setup token", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	result.SetupToken = token

	entry.method = &models.MFAMethod{
		UserID:             userID,
		Kind:               kind,
		Secret:             secret,
		BackupCodes:        hashed,
		IsActive:           false,
		CreatedAt:          now,
		PendingBackupCodes: backupCodes,
	}
	m.repo.Save(ctx, models.MFAMethodKey(userID, kind), entry.method)

	if deliveryCode != "" {
		m.deliver(ctx, kind, contact, deliveryCode)
	}

	m.audit(ctx, models.AuditEventMFASetup, map[string]any{
		"user_id": userID,
		"kind":    string(kind),
	})
	m.logger.Info("MFA setup initiated",
		slog.String("user_id", userID),
		slog.String("kind", string(kind)))

	return result, nil
}

// VerifySetup confirms a pending method. A wrong code is not an error: it
// returns Activated=false. The user's first activation surfaces the backup
// codes generated at setup.
func (m *Manager) VerifySetup(ctx context.Context, userID string, kind models.MFAKind, code string) (*models.MFASetupVerification, error) {
	entry, err := m.lockExisting(ctx, userID, kind)
	if err != nil {
		return nil, err
	}
	defer entry.mu.Unlock()

	method := entry.method
	if method.IsActive {
		return nil, fmt.Errorf("%w: %s already active", models.ErrConflict, kind)
	}

	now := m.now()
	ok, step := m.checkSecret(method, code, now)
	if !ok {
		m.verifyFailures.Add(1)
		m.report(ctx, method, false, "invalid_code")
		m.audit(ctx, models.AuditEventMFASetupFailed, map[string]any{
			"user_id": userID,
			"kind":    string(kind),
			"success": false,
		})
		m.logger.Warn("invalid code during MFA setup",
			slog.String("user_id", userID),
			slog.String("kind", string(kind)))
		return &models.MFASetupVerification{Activated: false}, nil
	}

	method.IsActive = true
	method.ActivatedAt = &now
	method.LastUsedAt = &now
	if step > 0 {
		method.LastUsedStep = step
	}
	clearPending(method)

	first := m.markActive(userID)
	verification := &models.MFASetupVerification{Activated: true}
	if first {
		verification.BackupCodes = method.PendingBackupCodes
	}
	method.PendingBackupCodes = nil

	m.repo.Save(ctx, models.MFAMethodKey(userID, kind), method)
	m.verifySuccesses.Add(1)
	m.report(ctx, method, true, "")
	m.audit(ctx, models.AuditEventMFASetupVerified, map[string]any{
		"user_id":      userID,
		"kind":         string(kind),
		"first_method": first,
		"success":      true,
	})
	m.logger.Info("MFA method activated",
		slog.String("user_id", userID),
		slog.String("kind", string(kind)))

	return verification, nil
}

// Verify checks a login-time code against an active method. The method's
// own factor is tried first, then the backup codes; an accepted backup code
// is consumed.
func (m *Manager) Verify(ctx context.Context, userID string, kind models.MFAKind, code string) (bool, error) {
	entry, err := m.lockExisting(ctx, userID, kind)
	if err != nil {
		return false, err
	}
	defer entry.mu.Unlock()

	method := entry.method
	if !method.IsActive {
		return false, fmt.Errorf("%w: %s not activated", models.ErrNotFound, kind)
	}

	now := m.now()
	if ok, step := m.checkSecret(method, code, now); ok {
		if step > 0 {
			method.LastUsedStep = step
		}
		method.LastUsedAt = &now
		clearPending(method)
		m.repo.Save(ctx, models.MFAMethodKey(userID, kind), method)

		m.verifySuccesses.Add(1)
		m.report(ctx, method, true, "")
		m.audit(ctx, models.AuditEventMFAVerify, map[string]any{
			"user_id": userID,
			"kind":    string(kind),
			"success": true,
		})
		return true, nil
	}

	if idx := m.matchBackupCode(method, code); idx >= 0 {
		method.BackupCodes = append(method.BackupCodes[:idx], method.BackupCodes[idx+1:]...)
		method.LastUsedAt = &now
		m.repo.Save(ctx, models.MFAMethodKey(userID, kind), method)

		m.verifySuccesses.Add(1)
		m.backupCodesConsumed.Add(1)
		m.report(ctx, method, true, "")
		m.audit(ctx, models.AuditEventBackupCodeUsed, map[string]any{
			"user_id":   userID,
			"kind":      string(kind),
			"remaining": len(method.BackupCodes),
			"success":   true,
		})
		m.logger.Info("backup code used",
			slog.String("user_id", userID),
			slog.Int("remaining", len(method.BackupCodes)))
		return true, nil
	}

	m.verifyFailures.Add(1)
	m.report(ctx, method, false, "invalid_code")
	m.audit(ctx, models.AuditEventMFAVerifyFailed, map[string]any{
		"user_id": userID,
		"kind":    string(kind),
		"success": false,
	})
	m.logger.Warn("invalid MFA code",
		slog.String("user_id", userID),
		slog.String("kind", string(kind)))
	return false, nil
}

// RemoveMethod deletes a method
func (m *Manager) RemoveMethod(ctx context.Context, userID string, kind models.MFAKind) error {
	entry, err := m.lockExisting(ctx, userID, kind)
	if err != nil {
		return err
	}
	defer entry.mu.Unlock()

	key := models.MFAMethodKey(userID, kind)
	wasActive := entry.method.IsActive
	entry.removed = true

	m.mu.Lock()
	delete(m.methods, key)
	if wasActive {
		m.activeUser[userID]--
		if m.activeUser[userID] <= 0 {
			delete(m.activeUser, userID)
		}
	}
	m.mu.Unlock()

	m.repo.Remove(ctx, key)
	m.audit(ctx, models.AuditEventMFARemoved, map[string]any{
		"user_id": userID,
		"kind":    string(kind),
	})
	m.logger.Info("MFA method removed",
		slog.String("user_id", userID),
		slog.String("kind", string(kind)))
	return nil
}

// IssueChallenge starts a new verification round: a fresh code is sent for
// sms and email, a fresh challenge returned for credential methods.
func (m *Manager) IssueChallenge(ctx context.Context, userID string, kind models.MFAKind) ([]byte, error) {
	entry, err := m.lockExisting(ctx, userID, kind)
	if err != nil {
		return nil, err
	}
	defer entry.mu.Unlock()

	method := entry.method
	now := m.now()

	switch secret := method.Secret.(type) {
	case models.DeliverySecret:
		code, pending, err := m.newDeliverySecret(secret.Contact, now)
		if err != nil {
			m.logger.Error("failed to generate delivery code", slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		method.Secret = pending
		m.repo.Save(ctx, models.MFAMethodKey(userID, kind), method)
		m.deliver(ctx, kind, secret.Contact, code)
		return nil, nil

	case models.CredentialSecret:
		challenge, err := newChallenge()
		if err != nil {
			return nil, models.ErrInternalServer
		}
		secret.Challenge = challenge
		secret.ChallengeExpiresAt = now.Add(m.config.ChallengeExpiry)
		method.Secret = secret
		m.repo.Save(ctx, models.MFAMethodKey(userID, kind), method)
		return challenge, nil

	case models.TOTPSecret:
		return nil, fmt.Errorf("%w: totp codes are generated by the authenticator app", models.ErrBadRequest)
	}
	return nil, fmt.Errorf("%w: %s", models.ErrUnsupportedMethod, kind)
}

// RegenerateBackupCodes replaces the whole backup code set of a method
func (m *Manager) RegenerateBackupCodes(ctx context.Context, userID string, kind models.MFAKind) ([]string, error) {
	entry, err := m.lockExisting(ctx, userID, kind)
	if err != nil {
		return nil, err
	}
	defer entry.mu.Unlock()

	if !entry.method.IsActive {
		return nil, fmt.Errorf("%w: %s not activated", models.ErrNotFound, kind)
	}

	codes, hashed, err := m.newBackupCodes()
	if err != nil {
		m.logger.Error("failed to generate backup codes", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	entry.method.BackupCodes = hashed
	m.repo.Save(ctx, models.MFAMethodKey(userID, kind), entry.method)

	m.audit(ctx, models.AuditEventBackupCodesRenewed, map[string]any{
		"user_id": userID,
		"kind":    string(kind),
		"count":   len(codes),
	})
	return codes, nil
}

// Status lists the methods registered for userID
func (m *Manager) Status(userID string) *models.MFAStatus {
	status := &models.MFAStatus{UserID: userID, Methods: []models.MFAMethodInfo{}}
	for _, entry := range m.snapshotEntries() {
		entry.mu.Lock()
		if !entry.removed && entry.method != nil && entry.method.UserID == userID {
			status.Methods = append(status.Methods, models.MFAMethodInfo{
				Kind:                 entry.method.Kind,
				IsActive:             entry.method.IsActive,
				CreatedAt:            entry.method.CreatedAt,
				ActivatedAt:          entry.method.ActivatedAt,
				RemainingBackupCodes: len(entry.method.BackupCodes),
			})
			if entry.method.IsActive {
				status.Enabled = true
			}
		}
		entry.mu.Unlock()
	}
	return status
}

// Stats summarizes enrollment and verification counters
func (m *Manager) Stats() models.MFAStats {
	stats := models.MFAStats{
		ActiveByKind:        make(map[string]int),
		VerifySuccesses:     m.verifySuccesses.Load(),
		VerifyFailures:      m.verifyFailures.Load(),
		BackupCodesConsumed: m.backupCodesConsumed.Load(),
	}
	for _, entry := range m.snapshotEntries() {
		entry.mu.Lock()
		if !entry.removed && entry.method != nil {
			stats.Methods++
			if entry.method.IsActive {
				stats.ActiveMethods++
				stats.ActiveByKind[string(entry.method.Kind)]++
			}
		}
		entry.mu.Unlock()
	}

	m.mu.RLock()
	stats.UsersEnrolled = len(m.activeUser)
	m.mu.RUnlock()
	return stats
}

// VerifySetupToken checks that token was issued by SetupMethod for
// (userID, kind)
func (m *Manager) VerifySetupToken(token, userID string, kind models.MFAKind) error {
	return m.deps.Tokens.ValidateSetupToken(token, userID, kind)
}

// checkSecret validates code against the method's own factor. For TOTP the
// matched time step is returned so the caller can advance the replay guard.
func (m *Manager) checkSecret(method *models.MFAMethod, code string, now time.Time) (bool, int64) {
	code = strings.TrimSpace(code)

	switch secret := method.Secret.(type) {
	case models.TOTPSecret:
		plain, err := m.deps.TOTP.DecryptSecret(secret.Encrypted, secret.Nonce)
		if err != nil {
			m.logger.Error("failed to decrypt TOTP secret",
				slog.String("user_id", method.UserID),
				slog.Any("error", err))
			return false, 0
		}
		step, ok, err := m.deps.TOTP.ValidateTOTP(string(plain), code, now, method.LastUsedStep)
		if err != nil {
			m.logger.Error("TOTP validation error", slog.Any("error", err))
			return false, 0
		}
		return ok, step

	case models.DeliverySecret:
		if secret.PendingCodeHash == "" || now.After(secret.PendingExpiresAt) {
			return false, 0
		}
		return auth.MatchCode(secret.PendingCodeHash, code), 0

	case models.CredentialSecret:
		if len(secret.Challenge) == 0 || now.After(secret.ChallengeExpiresAt) {
			return false, 0
		}
		sig, err := decodeSignature(code)
		if err != nil || len(secret.PublicKey) != ed25519.PublicKeySize {
			return false, 0
		}
		return ed25519.Verify(ed25519.PublicKey(secret.PublicKey), secret.Challenge, sig), 0
	}
	return false, 0
}

// matchBackupCode returns the index of the backup code matching code, or -1.
// Only inputs shaped like a backup code are hashed against the set.
func (m *Manager) matchBackupCode(method *models.MFAMethod, code string) int {
	normalized := auth.NormalizeBackupCode(code)
	if len(normalized) != 8 {
		return -1
	}
	for i, bc := range method.BackupCodes {
		if auth.MatchCode(bc.CodeHash, normalized) {
			return i
		}
	}
	return -1
}

func (m *Manager) newBackupCodes() ([]string, []models.BackupCode, error) {
	codes, err := auth.GenerateBackupCodes(m.config.BackupCodeCount)
	if err != nil {
		return nil, nil, err
	}
	now := m.now()
	hashed := make([]models.BackupCode, len(codes))
	for i, code := range codes {
		hash, err := auth.HashCode(code, m.config.BackupCodeCost)
		if err != nil {
			return nil, nil, err
		}
		hashed[i] = models.BackupCode{CodeHash: hash, CreatedAt: now}
	}
	return codes, hashed, nil
}

func (m *Manager) newDeliverySecret(contact string, now time.Time) (string, models.DeliverySecret, error) {
	code, err := auth.GenerateNumericCode(deliveryCodeDigits)
	if err != nil {
		return "", models.DeliverySecret{}, err
	}
	hash, err := auth.HashCode(code, m.config.BackupCodeCost)
	if err != nil {
		return "", models.DeliverySecret{}, err
	}
	return code, models.DeliverySecret{
		Contact:          contact,
		PendingCodeHash:  hash,
		PendingExpiresAt: now.Add(m.config.DeliveryCodeExpiry),
	}, nil
}

// deliver sends a one-time code. Failures are logged; the user can request
// another code through IssueChallenge.
func (m *Manager) deliver(ctx context.Context, kind models.MFAKind, contact, code string) {
	if m.deps.Notifier == nil {
		m.logger.Warn("no notifier configured, verification code not delivered",
			slog.String("kind", string(kind)))
		return
	}

	channel := models.ChannelEmail
	if kind == models.MFAKindSMS {
		channel = models.ChannelSMS
	}
	msg := notify.Message{
		To:      contact,
		Channel: channel,
		Subject: "Your verification code",
		Body:    fmt.Sprintf("Your verification code is %s. It expires in %s.", code, m.config.DeliveryCodeExpiry),
	}
	if err := m.deps.Notifier.Notify(ctx, msg); err != nil {
		m.logger.Error("failed to deliver verification code",
			slog.String("to", logger.SanitizedContact(contact)),
			slog.Any("error", err))
	}
}

func (m *Manager) report(ctx context.Context, method *models.MFAMethod, success bool, reason string) {
	if m.deps.Recorder == nil {
		return
	}
	m.deps.Recorder.RecordAttempt(ctx, models.MFAAttempt{
		UserID:    method.UserID,
		Kind:      method.Kind,
		Success:   success,
		Reason:    reason,
		IPAddress: pkghttp.ClientIPFromContext(ctx),
		Timestamp: m.now(),
	})
}

func (m *Manager) audit(ctx context.Context, event string, data map[string]any) {
	if m.deps.Audit != nil {
		m.deps.Audit.Record(ctx, event, data)
	}
}

// markActive records an activation and reports whether it is the user's
// first active method
func (m *Manager) markActive(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeUser[userID]++
	return m.activeUser[userID] == 1
}

// lockOrCreate returns the locked entry for (userID, kind), creating an
// empty one when no record exists in memory or in the store
func (m *Manager) lockOrCreate(ctx context.Context, userID string, kind models.MFAKind) *methodEntry {
	for {
		entry := m.entry(ctx, userID, kind, true)
		entry.mu.Lock()
		if !entry.removed {
			return entry
		}
		entry.mu.Unlock()
	}
}

// lockExisting returns the locked entry for (userID, kind) or ErrNotFound
func (m *Manager) lockExisting(ctx context.Context, userID string, kind models.MFAKind) (*methodEntry, error) {
	for {
		entry := m.entry(ctx, userID, kind, false)
		if entry == nil {
			return nil, fmt.Errorf("%w: no %s method for user", models.ErrNotFound, kind)
		}
		entry.mu.Lock()
		if entry.removed {
			entry.mu.Unlock()
			continue
		}
		if entry.method == nil {
			entry.mu.Unlock()
			return nil, fmt.Errorf("%w: no %s method for user", models.ErrNotFound, kind)
		}
		return entry, nil
	}
}

func (m *Manager) entry(ctx context.Context, userID string, kind models.MFAKind, create bool) *methodEntry {
	key := models.MFAMethodKey(userID, kind)

	m.mu.RLock()
	entry, ok := m.methods[key]
	m.mu.RUnlock()
	if ok {
		return entry
	}

	// Read through to the store on a miss
	loaded, found := m.repo.Load(ctx, key)
	if !found && !create {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.methods[key]; ok {
		return entry
	}
	entry = &methodEntry{}
	if found {
		entry.method = loaded
		if loaded.IsActive {
			m.activeUser[userID]++
		}
	}
	m.methods[key] = entry
	return entry
}

func (m *Manager) snapshotEntries() []*methodEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]*methodEntry, 0, len(m.methods))
	for _, e := range m.methods {
		entries = append(entries, e)
	}
	return entries
}

// clearPending drops single-use verification material once it is consumed
func clearPending(method *models.MFAMethod) {
	switch secret := method.Secret.(type) {
	case models.DeliverySecret:
		secret.PendingCodeHash = ""
		secret.PendingExpiresAt = time.Time{}
		method.Secret = secret
	case models.CredentialSecret:
		secret.Challenge = nil
		secret.ChallengeExpiresAt = time.Time{}
		method.Secret = secret
	case models.TOTPSecret:
	}
}

func newChallenge() ([]byte, error) {
	challenge := make([]byte, challengeSize)
	if _, err := rand.Read(challenge); err != nil {
		return nil, fmt.Errorf("failed to generate challenge: %w", err)
	}
	return challenge, nil
}

func decodeSignature(code string) ([]byte, error) {
	if sig, err := base64.RawURLEncoding.DecodeString(code); err == nil {
		return sig, nil
	}
	return base64.StdEncoding.DecodeString(code)
}
