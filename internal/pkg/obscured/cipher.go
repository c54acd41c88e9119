// Package obscured layers value encryption over a prefs.Store.
//
// Values are stored as "v1:<base64(nonce+ciphertext)>"; key names stay in clear.
package obscured

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	prefix = "v1:"
	keyLen = 32

	// DefaultIterations is used when a non-positive iteration count is given.
	DefaultIterations = 4096
)

// ErrCorrupted is returned when a stored value cannot be decrypted or parsed.
var ErrCorrupted = errors.New("obscured: corrupted value")

// Cipher encrypts and decrypts preference values. Safe for concurrent use.
type Cipher struct {
	gcm cipher.AEAD
}

// NewCipher derives an AES-256 key from the static secret, the application
// identity and the device id. The device id doubles as salt, so values written
// on one device do not decrypt on another.
func NewCipher(secret, packageName, deviceID string, iterations int) (*Cipher, error) {
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	password := []byte(secret + packageName + deviceID)
	key := pbkdf2.Key(password, []byte(deviceID), iterations, keyLen, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("obscured: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("obscured: %w", err)
	}
	return &Cipher{gcm: gcm}, nil
}

// Encrypt seals plaintext under a fresh random nonce.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("obscured: failed to generate nonce: %w", err)
	}
	sealed := c.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return prefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Any malformed or tampered input
// yields ErrCorrupted.
func (c *Cipher) Decrypt(stored string) (string, error) {
	if !strings.HasPrefix(stored, prefix) {
		return "", fmt.Errorf("%w: missing version prefix", ErrCorrupted)
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, prefix))
	if err != nil {
		return "", fmt.Errorf("%w: invalid base64", ErrCorrupted)
	}
	nonceSize := c.gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", ErrCorrupted)
	}
	plaintext, err := c.gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	return string(plaintext), nil
}
