package envelope

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// Codec turns values of type T into bytes and back. Implementations must be
// deterministic so that equal values serialize to equal plaintexts.
type Codec[T any] interface {
	Marshal(v T) ([]byte, error)
	Unmarshal(b []byte) (T, error)
}

// Float64Codec encodes a float64 as 8 little-endian IEEE-754 bytes.
type Float64Codec struct{}

func (Float64Codec) Marshal(v float64) ([]byte, error) {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	return b, nil
}

func (Float64Codec) Unmarshal(b []byte) (float64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("float64 payload must be 8 bytes, got %d", len(b))
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

// JSONCodec encodes any JSON-serializable value.
type JSONCodec[T any] struct{}

func (JSONCodec[T]) Marshal(v T) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec[T]) Unmarshal(b []byte) (T, error) {
	var v T
	err := json.Unmarshal(b, &v)
	return v, err
}

// Field is an encrypted value of type T. It carries no key reference: the
// caller must know which key protects it.
type Field[T any] struct {
	Nonce      []byte
	Ciphertext []byte
}

// Bytes returns the persisted form: nonce(12) + ciphertext.
func (f Field[T]) Bytes() []byte {
	out := make([]byte, 0, len(f.Nonce)+len(f.Ciphertext))
	out = append(out, f.Nonce...)
	return append(out, f.Ciphertext...)
}

// IsZero reports whether the field holds no ciphertext.
func (f Field[T]) IsZero() bool {
	return len(f.Nonce) == 0 && len(f.Ciphertext) == 0
}

// ParseField splits a persisted nonce+ciphertext blob.
func ParseField[T any](b []byte) (Field[T], error) {
	if len(b) < NonceSize {
		return Field[T]{}, errors.Join(ErrAuthentication, fmt.Errorf("encrypted field too short: %d bytes", len(b)))
	}
	nonce := make([]byte, NonceSize)
	copy(nonce, b[:NonceSize])
	ciphertext := make([]byte, len(b)-NonceSize)
	copy(ciphertext, b[NonceSize:])
	return Field[T]{Nonce: nonce, Ciphertext: ciphertext}, nil
}

// Encrypt serializes v with codec and seals it under key.
// Every call uses a fresh nonce, so equal values never share ciphertext.
func Encrypt[T any](codec Codec[T], v T, key []byte) (Field[T], error) {
	plaintext, err := codec.Marshal(v)
	if err != nil {
		return Field[T]{}, fmt.Errorf("serializing value: %w", err)
	}
	nonce, ciphertext, err := Seal(key, plaintext)
	if err != nil {
		return Field[T]{}, err
	}
	return Field[T]{Nonce: nonce, Ciphertext: ciphertext}, nil
}

// Decrypt opens f under key and deserializes it with codec.
func Decrypt[T any](codec Codec[T], f Field[T], key []byte) (T, error) {
	var zero T
	plaintext, err := Open(key, f.Nonce, f.Ciphertext)
	if err != nil {
		return zero, err
	}
	v, err := codec.Unmarshal(plaintext)
	if err != nil {
		return zero, errors.Join(ErrAuthentication, fmt.Errorf("deserializing value: %w", err))
	}
	return v, nil
}

// EncryptFloat encrypts a monetary value.
func EncryptFloat(v float64, key []byte) (Field[float64], error) {
	return Encrypt[float64](Float64Codec{}, v, key)
}

// DecryptFloat decrypts a monetary value.
func DecryptFloat(f Field[float64], key []byte) (float64, error) {
	return Decrypt[float64](Float64Codec{}, f, key)
}
