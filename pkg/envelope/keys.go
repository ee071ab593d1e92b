package envelope

import (
	"crypto/rand"
	"fmt"
	"io"
)

// GenerateKey returns KeySize bytes from the system CSPRNG.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	return key, nil
}

// WrapKey encrypts userKey under masterKey.
// Returns nonce(12) + ciphertext. userKey must be KeySize bytes.
func WrapKey(userKey, masterKey []byte) ([]byte, error) {
	if len(userKey) != KeySize {
		return nil, fmt.Errorf("%w: user key has %d bytes", ErrInvalidKeyLength, len(userKey))
	}
	nonce, ciphertext, err := Seal(masterKey, userKey)
	if err != nil {
		return nil, err
	}
	wrapped := make([]byte, 0, len(nonce)+len(ciphertext))
	wrapped = append(wrapped, nonce...)
	return append(wrapped, ciphertext...), nil
}

// UnwrapKey recovers a user key produced by WrapKey. A different master key,
// tampering and short input all fail with ErrAuthentication.
func UnwrapKey(wrapped, masterKey []byte) ([]byte, error) {
	if len(masterKey) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKeyLength, len(masterKey))
	}
	if len(wrapped) < NonceSize {
		return nil, ErrAuthentication
	}

	userKey, err := Open(masterKey, wrapped[:NonceSize], wrapped[NonceSize:])
	if err != nil {
		return nil, err
	}
	if len(userKey) != KeySize {
		Zero(userKey)
		return nil, fmt.Errorf("%w: unwrapped key has %d bytes", ErrInvalidKeyLength, len(userKey))
	}
	return userKey, nil
}
