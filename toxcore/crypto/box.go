package crypto

import (
	"errors"

	"golang.org/x/crypto/nacl/box"
)

const (
	// Overhead is the Poly1305 tag added by every box.
	Overhead      = box.Overhead
	SharedKeySize = 32
)

var (
	ErrAuthFailure = errors.New("crypto: authentication failed")
)

// SharedKey is a precomputed crypto_box key for one peer.
type SharedKey [SharedKeySize]byte

func (k *SharedKey) Wipe() { Wipe(k[:]) }

// Encrypt seals plaintext from sender to receiver with crypto_box.
func Encrypt(plaintext []byte, nonce Nonce, senderSecret SecretKey, receiverPublic PublicKey) []byte {
	n := [NonceSize]byte(nonce)
	pk := [PublicKeySize]byte(receiverPublic)
	sk := [SecretKeySize]byte(senderSecret)
	out := box.Seal(nil, plaintext, &n, &pk, &sk)
	Wipe(sk[:])
	return out
}

// Decrypt opens a crypto_box ciphertext. Any corruption of the ciphertext,
// or a nonce or key mismatch, returns ErrAuthFailure and no plaintext.
func Decrypt(ciphertext []byte, nonce Nonce, receiverSecret SecretKey, senderPublic PublicKey) ([]byte, error) {
	if len(ciphertext) < Overhead {
		return nil, ErrAuthFailure
	}
	n := [NonceSize]byte(nonce)
	pk := [PublicKeySize]byte(senderPublic)
	sk := [SecretKeySize]byte(receiverSecret)
	out, ok := box.Open(nil, ciphertext, &n, &pk, &sk)
	Wipe(sk[:])
	if !ok {
		return nil, ErrAuthFailure
	}
	return out, nil
}

// Precompute derives the shared key used by EncryptShared and DecryptShared.
func Precompute(peer PublicKey, secret SecretKey) SharedKey {
	var shared [SharedKeySize]byte
	pk := [PublicKeySize]byte(peer)
	sk := [SecretKeySize]byte(secret)
	box.Precompute(&shared, &pk, &sk)
	Wipe(sk[:])
	return SharedKey(shared)
}

func EncryptShared(plaintext []byte, nonce Nonce, shared *SharedKey) []byte {
	n := [NonceSize]byte(nonce)
	return box.SealAfterPrecomputation(nil, plaintext, &n, (*[SharedKeySize]byte)(shared))
}

func DecryptShared(ciphertext []byte, nonce Nonce, shared *SharedKey) ([]byte, error) {
	if len(ciphertext) < Overhead {
		return nil, ErrAuthFailure
	}
	n := [NonceSize]byte(nonce)
	out, ok := box.OpenAfterPrecomputation(nil, ciphertext, &n, (*[SharedKeySize]byte)(shared))
	if !ok {
		return nil, ErrAuthFailure
	}
	return out, nil
}
