package crypto

import (
	"crypto/cipher"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")
)

const AEADKeySize = chacha20poly1305.KeySize

// AEAD wraps XChaCha20-Poly1305. Its 24-byte nonce matches the wire nonce
// field, so session packets carry the exact nonce they were sealed with.
type AEAD struct {
	aead   cipher.AEAD
	nonces *NonceCounter
}

// NewAEAD creates a new AEAD cipher from a 32-byte key.
func NewAEAD(key []byte) (*AEAD, error) {
	if len(key) != AEADKeySize {
		return nil, errors.New("crypto: invalid key size for XChaCha20-Poly1305")
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonces, err := NewNonceCounter()
	if err != nil {
		return nil, err
	}
	return &AEAD{aead: aead, nonces: nonces}, nil
}

// Seal encrypts and authenticates plaintext under the next internal nonce.
// Returns: nonce (24 bytes) || ciphertext || tag (16 bytes)
func (a *AEAD) Seal(plaintext, additionalData []byte) ([]byte, error) {
	nonce, err := a.nonces.Next()
	if err != nil {
		return nil, err
	}
	out := make([]byte, NonceSize, NonceSize+len(plaintext)+a.aead.Overhead())
	copy(out, nonce[:])
	return a.aead.Seal(out, nonce[:], plaintext, additionalData), nil
}

// Open decrypts and verifies the output of Seal.
func (a *AEAD) Open(ciphertext, additionalData []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize+a.aead.Overhead() {
		return nil, ErrCiphertextTooShort
	}
	var nonce Nonce
	copy(nonce[:], ciphertext[:NonceSize])
	return a.OpenWithNonce(nonce, ciphertext[NonceSize:], additionalData)
}

// SealWithNonce encrypts under a caller managed nonce. The caller must never
// reuse a nonce with the same key.
func (a *AEAD) SealWithNonce(nonce Nonce, plaintext, additionalData []byte) []byte {
	return a.aead.Seal(nil, nonce[:], plaintext, additionalData)
}

// OpenWithNonce decrypts a ciphertext produced by SealWithNonce.
func (a *AEAD) OpenWithNonce(nonce Nonce, ciphertext, additionalData []byte) ([]byte, error) {
	if len(ciphertext) < a.aead.Overhead() {
		return nil, ErrCiphertextTooShort
	}
	plaintext, err := a.aead.Open(nil, nonce[:], ciphertext, additionalData)
	if err != nil {
		return nil, ErrAuthFailure
	}
	return plaintext, nil
}

// Overhead returns the authentication tag overhead.
func (a *AEAD) Overhead() int { return a.aead.Overhead() }

// NonceSize returns the nonce size.
func (a *AEAD) NonceSize() int { return NonceSize }
