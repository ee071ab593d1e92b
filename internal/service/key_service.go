package service

import (
	"errors"
	"fmt"

	"private-ledger/pkg/apperror"
	"private-ledger/pkg/envelope"
)

// KeyService implements ports.KeyManager over a master key that is loaded
// once at startup and injected. It never leaves this struct.
type KeyService struct {
	masterKey []byte
}

// NewKeyService creates a KeyService. The master key must be 32 bytes.
func NewKeyService(masterKey []byte) (*KeyService, error) {
	if len(masterKey) != envelope.KeySize {
		return nil, apperror.ErrInvalidKeyLength(fmt.Errorf("master key has %d bytes, want %d", len(masterKey), envelope.KeySize))
	}
	key := make([]byte, envelope.KeySize)
	copy(key, masterKey)
	return &KeyService{masterKey: key}, nil
}

// GenerateUserKey returns a fresh 32-byte user key.
func (s *KeyService) GenerateUserKey() ([]byte, error) {
	key, err := envelope.GenerateKey()
	if err != nil {
		return nil, apperror.ErrEncryption(err)
	}
	return key, nil
}

// Wrap seals a user key under the master key.
func (s *KeyService) Wrap(userKey []byte) ([]byte, error) {
	wrapped, err := envelope.WrapKey(userKey, s.masterKey)
	if err != nil {
		return nil, cryptoError("wrap user key", err)
	}
	return wrapped, nil
}

// Unwrap recovers a user key. Callers should envelope.Zero it when done.
func (s *KeyService) Unwrap(wrapped []byte) ([]byte, error) {
	key, err := envelope.UnwrapKey(wrapped, s.masterKey)
	if err != nil {
		return nil, cryptoError("unwrap user key", err)
	}
	return key, nil
}

// cryptoError classifies an envelope error into SYS_004 or SYS_003.
// AppErrors pass through unchanged.
func cryptoError(action string, err error) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, envelope.ErrInvalidKeyLength) {
		return apperror.ErrInvalidKeyLength(fmt.Errorf("%s: %w", action, err))
	}
	return apperror.ErrEncryption(fmt.Errorf("%s: %w", action, err))
}
