// Package envelope implements the envelope-encryption primitives of the ledger:
// AES-256-GCM sealing, wrapping of per-user keys under the master key, and a
// generic encrypted field codec for serializable values.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

const (
	// KeySize is the size of every symmetric key in the system (AES-256).
	KeySize = 32
	// NonceSize is the GCM nonce size (96 bits).
	NonceSize = 12
)

var (
	// ErrInvalidKeyLength is returned when a key is not KeySize bytes.
	ErrInvalidKeyLength = errors.New("envelope: invalid key length")
	// ErrAuthentication is returned for every failed decryption: wrong key,
	// tampered ciphertext, bad nonce or truncated input all look the same.
	ErrAuthentication = errors.New("envelope: message authentication failed")
)

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKeyLength, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return aesGCM, nil
}

// Seal encrypts plaintext under key with a fresh random nonce.
func Seal(key, plaintext []byte) (nonce, ciphertext []byte, err error) {
	aesGCM, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("generating nonce: %w", err)
	}

	return nonce, aesGCM.Seal(nil, nonce, plaintext, nil), nil
}

// Open decrypts ciphertext under key using the given nonce.
func Open(key, nonce, ciphertext []byte) ([]byte, error) {
	aesGCM, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != NonceSize {
		return nil, ErrAuthentication
	}

	plaintext, err := aesGCM.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

// Zero overwrites b in place. Used to drop unwrapped key material once a
// request no longer needs it.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
