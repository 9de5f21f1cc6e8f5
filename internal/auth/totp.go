package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"
	"golang.org/x/crypto/bcrypt"
)

const (
	totpPeriod = 30
	totpSkew   = 1

	// Charset: 2-9 and A-Z without the ambiguous 0/O, 1/I/L
	backupCodeCharset = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"
	backupCodeLength  = 8
)

// TOTPManager handles TOTP generation, encryption, and validation
type TOTPManager struct {
	encryptionKey []byte // 32-byte AES-256 key
	issuer        string // Issuer name for TOTP QR codes
}

// TOTPEnrollment is the material produced when a TOTP method is set up
type TOTPEnrollment struct {
	Encrypted       []byte
	Nonce           []byte
	Secret          string // base32, shown to the user once
	ProvisioningURI string
	QRCode          string // PNG data URL
}

// NewTOTPManager creates a new TOTP manager
// encryptionKey must be exactly 32 bytes for AES-256
func NewTOTPManager(encryptionKey []byte, issuer string) (*TOTPManager, error) {
	if len(encryptionKey) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes, got %d", len(encryptionKey))
	}

	return &TOTPManager{
		encryptionKey: encryptionKey,
		issuer:        issuer,
	}, nil
}

// Enroll generates a fresh shared secret for accountName, encrypts it and
// renders the provisioning QR code
func (tm *TOTPManager) Enroll(accountName string) (*TOTPEnrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      tm.issuer,
		AccountName: accountName,
		SecretSize:  32, // 256 bits
		Period:      totpPeriod,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	encrypted, nonce, err := tm.EncryptSecret([]byte(key.Secret()))
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt secret: %w", err)
	}

	qr, err := qrcode.New(key.URL(), qrcode.Highest)
	if err != nil {
		return nil, fmt.Errorf("failed to create QR code: %w", err)
	}
	qrImage, err := qr.PNG(200)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}

	return &TOTPEnrollment{
		Encrypted:       encrypted,
		Nonce:           nonce,
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
		QRCode:          "data:image/png;base64," + base64.StdEncoding.EncodeToString(qrImage),
	}, nil
}

// EncryptSecret encrypts a TOTP secret using AES-256-GCM
// Returns: (encryptedBytes, nonce, error)
func (tm *TOTPManager) EncryptSecret(secretBytes []byte) ([]byte, []byte, error) {
	gcm, err := tm.gcm()
	if err != nil {
		return nil, nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nil, nonce, secretBytes, nil), nonce, nil
}

// DecryptSecret decrypts an encrypted TOTP secret
func (tm *TOTPManager) DecryptSecret(encryptedBytes, nonce []byte) ([]byte, error) {
	gcm, err := tm.gcm()
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("invalid nonce length %d", len(nonce))
	}

	plaintext, err := gcm.Open(nil, nonce, encryptedBytes, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt secret: %w", err)
	}
	return plaintext, nil
}

func (tm *TOTPManager) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(tm.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// ValidateTOTP checks code against the base32 secret at time at, allowing
// ±1 time step for clock drift. It returns the matched time step; a step
// at or before lastStep is rejected as a replay.
func (tm *TOTPManager) ValidateTOTP(secret, code string, at time.Time, lastStep int64) (int64, bool, error) {
	opts := totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      0,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}

	current := TimeStep(at)
	for offset := int64(-totpSkew); offset <= totpSkew; offset++ {
		step := current + offset
		if step <= lastStep {
			continue
		}
		expected, err := totp.GenerateCodeCustom(secret, time.Unix(step*totpPeriod, 0), opts)
		if err != nil {
			return 0, false, fmt.Errorf("failed to validate TOTP: %w", err)
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			return step, true, nil
		}
	}
	return 0, false, nil
}

// TimeStep returns the TOTP counter for t
func TimeStep(t time.Time) int64 {
	return t.Unix() / totpPeriod
}

// GenerateBackupCodes generates count unique backup codes of 8 characters
// drawn from an unambiguous alphabet
func GenerateBackupCodes(count int) ([]string, error) {
	codes := make([]string, 0, count)
	seen := make(map[string]struct{}, count)
	for len(codes) < count {
		code, err := randomString(backupCodeCharset, backupCodeLength)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	return codes, nil
}

// GenerateNumericCode returns a random decimal code, used for codes
// delivered over sms or email
func GenerateNumericCode(digits int) (string, error) {
	return randomString("0123456789", digits)
}

func randomString(charset string, length int) (string, error) {
	max := big.NewInt(int64(len(charset)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate random code: %w", err)
		}
		out[i] = charset[n.Int64()]
	}
	return string(out), nil
}

// NormalizeBackupCode uppercases and strips separators users commonly type
func NormalizeBackupCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	return strings.NewReplacer("-", "", " ", "").Replace(code)
}

// HashCode bcrypt-hashes a one-time code for storage
func HashCode(code string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(code), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash code: %w", err)
	}
	return string(hash), nil
}

// MatchCode reports whether code matches a hash from HashCode
func MatchCode(hash, code string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}
