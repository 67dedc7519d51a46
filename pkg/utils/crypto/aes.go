// Package crypto protects secrets kept in configuration files. Sealed
// values carry the "enc:" prefix so plain and encrypted passwords can sit
// side by side.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"strings"
)

// Prefix marks a sealed value.
const Prefix = "enc:"

var (
	ErrInvalidKey        = errors.New("crypto: invalid encryption key")
	ErrEncryptionFailed  = errors.New("crypto: encryption failed")
	ErrDecryptionFailed  = errors.New("crypto: decryption failed")
	ErrInvalidCipherText = errors.New("crypto: invalid cipher text")
)

// newGCM derives a 32-byte AES key from any passphrase with SHA-256.
func newGCM(key string) (cipher.AEAD, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}
	sum := sha256.Sum256([]byte(key))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt returns base64(nonce || AES-256-GCM ciphertext).
func Encrypt(plainText, key string) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		if errors.Is(err, ErrInvalidKey) {
			return "", err
		}
		return "", ErrEncryptionFailed
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", ErrEncryptionFailed
	}
	return base64.StdEncoding.EncodeToString(gcm.Seal(nonce, nonce, []byte(plainText), nil)), nil
}

func Decrypt(cipherText, key string) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		if errors.Is(err, ErrInvalidKey) {
			return "", err
		}
		return "", ErrDecryptionFailed
	}

	data, err := base64.StdEncoding.DecodeString(cipherText)
	if err != nil || len(data) < gcm.NonceSize() {
		return "", ErrInvalidCipherText
	}
	nonce, sealed := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plain), nil
}

// Seal encrypts plainText into the prefixed config form.
func Seal(plainText, key string) (string, error) {
	enc, err := Encrypt(plainText, key)
	if err != nil {
		return "", err
	}
	return Prefix + enc, nil
}

// IsSealed reports whether value carries the prefix.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, Prefix)
}

// Reveal decrypts a sealed value and returns anything else unchanged.
func Reveal(value, key string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	return Decrypt(strings.TrimPrefix(value, Prefix), key)
}
