package crypto

import (
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/scrypt"
)

const (
	// PassphraseSaltSize is the salt length stored next to sealed save data.
	PassphraseSaltSize = 32

	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

var ErrEmptyPassphrase = errors.New("crypto: empty passphrase")

// DeriveKey derives a key of the specified length using HKDF-SHA256.
// salt can be nil (uses zero salt), info provides context binding.
func DeriveKey(secret, salt, info []byte, length int) ([]byte, error) {
	hk := hkdf.New(sha256.New, secret, salt, info)
	key := make([]byte, length)
	if _, err := io.ReadFull(hk, key); err != nil {
		return nil, err
	}
	return key, nil
}

// DeriveSessionKeys derives encryption keys for both directions from the shared secret.
// Returns: (initiatorKey, responderKey, each 32 bytes)
func DeriveSessionKeys(sharedSecret []byte, initiatorEph, responderEph PublicKey) ([]byte, []byte, error) {
	// Context includes both ephemeral keys to bind the keys to this specific session
	info := make([]byte, 0, 64+len("toxcore-session-keys"))
	info = append(info, []byte("toxcore-session-keys")...)
	info = append(info, initiatorEph[:]...)
	info = append(info, responderEph[:]...)

	keyMaterial, err := DeriveKey(sharedSecret, nil, info, 64)
	if err != nil {
		return nil, nil, err
	}
	return keyMaterial[:32], keyMaterial[32:64], nil
}

// PassphraseKey stretches a user passphrase into an AEAD key with scrypt.
func PassphraseKey(passphrase []byte, salt []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, ErrEmptyPassphrase
	}
	return scrypt.Key(passphrase, salt, scryptN, scryptR, scryptP, AEADKeySize)
}
