package mfa

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/google/uuid"
)

// Credential is a public-key credential registered by a platform
// authenticator for a biometric or hardware_key method
type Credential struct {
	ID        string
	PublicKey ed25519.PublicKey
}

// Authenticator is the platform capability backing credential methods.
// The private key never leaves the authenticator; verification checks an
// ed25519 signature over the issued challenge.
type Authenticator interface {
	Supports(kind models.MFAKind) bool
	Register(ctx context.Context, userID string, kind models.MFAKind) (Credential, error)
}

// SoftwareAuthenticator keeps credential keys in process memory. It backs
// local development and tests, where no platform authenticator exists.
type SoftwareAuthenticator struct {
	biometric bool

	mu   sync.Mutex
	keys map[string]ed25519.PrivateKey
}

// NewSoftwareAuthenticator creates a SoftwareAuthenticator. Biometric
// registration is only offered when biometric is true.
func NewSoftwareAuthenticator(biometric bool) *SoftwareAuthenticator {
	return &SoftwareAuthenticator{
		biometric: biometric,
		keys:      make(map[string]ed25519.PrivateKey),
	}
}

func (a *SoftwareAuthenticator) Supports(kind models.MFAKind) bool {
	switch kind {
	case models.MFAKindHardwareKey:
		return true
	case models.MFAKindBiometric:
		return a.biometric
	}
	return false
}

func (a *SoftwareAuthenticator) Register(ctx context.Context, userID string, kind models.MFAKind) (Credential, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Credential{}, fmt.Errorf("failed to generate credential key: %w", err)
	}

	id := uuid.New().String()
	a.mu.Lock()
	a.keys[id] = priv
	a.mu.Unlock()

	return Credential{ID: id, PublicKey: pub}, nil
}

// Sign answers a challenge with the credential's private key
func (a *SoftwareAuthenticator) Sign(credentialID string, challenge []byte) ([]byte, error) {
	a.mu.Lock()
	priv, ok := a.keys[credentialID]
	a.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: credential %s", models.ErrNotFound, credentialID)
	}
	return ed25519.Sign(priv, challenge), nil
}
