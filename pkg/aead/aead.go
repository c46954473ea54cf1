// Package aead provides the two authenticated-encryption constructions the
// Magic Ratchet builds on: a streaming AEAD for message content and a
// misuse-resistant AEAD for headers, whose key rotates every DH step and so
// is safe to use with an all-zero or otherwise non-unique nonce.
package aead

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// KeySize is the required symmetric key length for both constructions.
	KeySize = 32
	// NonceSize is the required nonce length for both constructions.
	NonceSize = 12
)

var (
	// ErrDecryptionFailure is returned whenever authentication fails. It
	// never distinguishes a bad tag from malformed ciphertext.
	ErrDecryptionFailure = errors.New("aead: decryption failure")
)

// ErrInvalidKeyLength is returned when a key is not exactly KeySize bytes.
type ErrInvalidKeyLength int

func (e ErrInvalidKeyLength) Error() string {
	return fmt.Sprintf("aead: invalid key length %d", int(e))
}

// ErrInvalidNonceLength is returned when a nonce is not exactly NonceSize bytes.
type ErrInvalidNonceLength int

func (e ErrInvalidNonceLength) Error() string {
	return fmt.Sprintf("aead: invalid nonce length %d", int(e))
}

func checkLengths(key, nonce []byte) error {
	if len(key) != KeySize {
		return ErrInvalidKeyLength(len(key))
	}
	if len(nonce) != NonceSize {
		return ErrInvalidNonceLength(len(nonce))
	}
	return nil
}

// RandomNonce draws a fresh NonceSize-byte nonce for the streaming AEAD.
func RandomNonce() ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("aead: reading random nonce: %w", err)
	}
	return nonce, nil
}

// Seal encrypts plaintext under (key, nonce) using ChaCha20-Poly1305, the
// streaming variant used for message content. ad is authenticated but not
// encrypted.
func Seal(plaintext, key, nonce, ad []byte) ([]byte, error) {
	if err := checkLengths(key, nonce); err != nil {
		return nil, err
	}
	aeadCipher, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("aead: building cipher: %w", err)
	}
	return aeadCipher.Seal(nil, nonce, plaintext, ad), nil
}

// Open decrypts ciphertext produced by Seal. Any authentication failure
// collapses to ErrDecryptionFailure.
func Open(ciphertext, key, nonce, ad []byte) ([]byte, error) {
	if err := checkLengths(key, nonce); err != nil {
		return nil, err
	}
	aeadCipher, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("aead: building cipher: %w", err)
	}
	plaintext, err := aeadCipher.Open(nil, nonce, ciphertext, ad)
	if err != nil {
		return nil, ErrDecryptionFailure
	}
	return plaintext, nil
}

// SealMR encrypts plaintext under key using the misuse-resistant
// construction: the caller-supplied nonce is only checked for length and
// otherwise ignored — the actual GCM nonce is a synthetic IV derived as
// HMAC-SHA-256(key, ad || plaintext) truncated to NonceSize bytes, so
// encrypting the same (key, ad, plaintext) twice is always safe. The
// synthetic nonce actually used is returned so the caller can carry it
// alongside the ciphertext for OpenMR; a caller may legitimately pass an
// all-zero nonce in, since header keys rotate every DH step.
func SealMR(plaintext, key, nonce, ad []byte) (ciphertext, usedNonce []byte, err error) {
	if err := checkLengths(key, nonce); err != nil {
		return nil, nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("aead-mr: building cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("aead-mr: building gcm: %w", err)
	}
	siv := syntheticIV(key, ad, plaintext)
	return gcm.Seal(nil, siv, plaintext, ad), siv, nil
}

// OpenMR decrypts ciphertext produced by SealMR, given the synthetic nonce
// SealMR returned.
func OpenMR(ciphertext, key, nonce, ad []byte) ([]byte, error) {
	if err := checkLengths(key, nonce); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aead-mr: building cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("aead-mr: building gcm: %w", err)
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, ad)
	if err != nil {
		return nil, ErrDecryptionFailure
	}
	return plaintext, nil
}

func syntheticIV(key, ad, plaintext []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(ad)
	mac.Write(plaintext)
	sum := mac.Sum(nil)
	return sum[:NonceSize]
}
