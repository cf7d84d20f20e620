package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// Overhead is the number of bytes Encrypt adds to its input
// (12-byte GCM nonce plus 16-byte tag).
const Overhead = 12 + 16

// EncryptedContentType labels blobs holding an encrypted payload.
const EncryptedContentType = "application/encrypted"

// Password digest schemes.
const (
	SchemeSHA256 = "sha256"
	SchemeBcrypt = "bcrypt"
)

var (
	ErrDecryption    = errors.New("decryption failed")
	ErrInvalidKey    = errors.New("key must be 32 bytes for AES-256")
	ErrUnknownScheme = errors.New("unknown password hash scheme")
)

// GenerateKey returns a fresh random 256-bit key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// EncodeKey renders a key for persistence in the metadata store.
func EncodeKey(key []byte) string {
	return hex.EncodeToString(key)
}

// DecodeKey parses a key produced by EncodeKey.
func DecodeKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	return key, nil
}

// Encrypt seals data with AES-256-GCM.
// Output layout: nonce || ciphertext || tag.
func Encrypt(data, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, data, nil), nil
}

// Decrypt opens data produced by Encrypt. A wrong key or tampered
// ciphertext yields ErrDecryption.
func Decrypt(data, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize+gcm.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryption)
	}

	plain, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	return plain, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// PasswordHasher produces and checks password digests.
//
// The sha256 scheme is an unsalted hex digest, kept for compatibility with
// records written by earlier deployments. The bcrypt scheme is salted and
// is the one to pick for new installations.
type PasswordHasher struct {
	scheme string
}

// NewPasswordHasher returns a hasher producing digests in the given scheme.
func NewPasswordHasher(scheme string) (*PasswordHasher, error) {
	switch scheme {
	case "", SchemeSHA256:
		return &PasswordHasher{scheme: SchemeSHA256}, nil
	case SchemeBcrypt:
		return &PasswordHasher{scheme: SchemeBcrypt}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, scheme)
	}
}

// Scheme reports the scheme used for new digests.
func (h *PasswordHasher) Scheme() string { return h.scheme }

// Hash returns the digest of password.
func (h *PasswordHasher) Hash(password string) (string, error) {
	if h.scheme == SchemeBcrypt {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return "", fmt.Errorf("failed to hash password: %w", err)
		}
		return string(hash), nil
	}
	return sha256Hex(password), nil
}

// Verify checks password against a stored digest of either scheme.
func (h *PasswordHasher) Verify(password, digest string) bool {
	if strings.HasPrefix(digest, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)) == nil
	}
	want := []byte(strings.ToLower(digest))
	got := []byte(sha256Hex(password))
	return subtle.ConstantTimeCompare(want, got) == 1
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
