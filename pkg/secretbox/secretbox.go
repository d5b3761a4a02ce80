// Package secretbox provides authenticated symmetric encryption for
// provider credentials at rest, keyed by a process-configured master
// key (MASTER_ENCRYPTION_KEY).
package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"

	pkgerrors "github.com/AzielCF/az-wap/pkg/errors"
)

const keyInfo = "az-wap/secretbox/aes-256-gcm"

// Box seals and opens secrets with a single master key. The zero value
// is not ready; construct with New.
type Box struct {
	mu  sync.RWMutex
	key []byte // 32 bytes, derived via HKDF-SHA256; nil when not configured
}

// New derives a Box from a master key string. An empty key yields a
// Box that returns ErrCryptoNotReady from every call, so a misconfigured
// process fails closed instead of silently handling plaintext.
func New(masterKey string) (*Box, error) {
	b := &Box{}
	if masterKey == "" {
		return b, nil
	}
	if err := b.setKey(masterKey); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Box) setKey(masterKey string) error {
	derived := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(masterKey), nil, []byte(keyInfo))
	if _, err := io.ReadFull(r, derived); err != nil {
		return err
	}
	b.mu.Lock()
	b.key = derived
	b.mu.Unlock()
	return nil
}

// Seal encrypts plaintext and returns the nonce-prefixed ciphertext.
func (b *Box) Seal(plaintext string) ([]byte, error) {
	b.mu.RLock()
	key := b.key
	b.mu.RUnlock()
	if len(key) == 0 {
		return nil, pkgerrors.ErrCryptoNotReady
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// Open decrypts a ciphertext produced by Seal. Tampered input returns
// ErrCryptoTamper; a missing key returns ErrCryptoNotReady. Neither
// path returns the attempted plaintext.
func (b *Box) Open(ciphertext []byte) (string, error) {
	b.mu.RLock()
	key := b.key
	b.mu.RUnlock()
	if len(key) == 0 {
		return "", pkgerrors.ErrCryptoNotReady
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", pkgerrors.ErrCryptoTamper
	}

	nonce, data := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, data, nil)
	if err != nil {
		return "", pkgerrors.ErrCryptoTamper
	}
	return string(plaintext), nil
}

// Ready reports whether a master key has been configured.
func (b *Box) Ready() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.key) > 0
}
