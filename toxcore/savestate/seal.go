package savestate

import (
	"crypto/rand"
	"errors"

	"github.com/TheusHen/toxcore/toxcore/crypto"
)

const saltSize = 16

var (
	ErrWrongPassphrase = errors.New("savestate: wrong passphrase or tampered blob")
)

// seal: salt(16) || nonce(24) || ciphertext || tag(16)
func seal(plain, passphrase, additionalData []byte) ([]byte, error) {
	var salt [saltSize]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return nil, err
	}
	aead, err := passphraseAEAD(passphrase, salt[:])
	if err != nil {
		return nil, err
	}
	ct, err := aead.Seal(plain, additionalData)
	if err != nil {
		return nil, err
	}
	return append(salt[:], ct...), nil
}

func open(sealed, passphrase, additionalData []byte) ([]byte, error) {
	if len(sealed) < saltSize+crypto.NonceSize+16 {
		return nil, ErrCorrupt
	}
	aead, err := passphraseAEAD(passphrase, sealed[:saltSize])
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(sealed[saltSize:], additionalData)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return plain, nil
}

func passphraseAEAD(passphrase, salt []byte) (*crypto.AEAD, error) {
	key, err := crypto.PassphraseKey(passphrase, salt)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(key)
	return crypto.NewAEAD(key)
}
