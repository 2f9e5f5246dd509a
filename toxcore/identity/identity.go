package identity

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/TheusHen/toxcore/toxcore/crypto"
)

// Identity is the long-term identity of a node: its X25519 keypair plus the
// nospam value published in its address.
type Identity struct {
	KeyPair crypto.KeyPair
	Nospam  uint32
}

// Generate creates a fresh identity with a random nospam.
func Generate() (Identity, error) {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return Identity{}, err
	}
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return Identity{}, err
	}
	return Identity{KeyPair: kp, Nospam: binary.BigEndian.Uint32(b[:])}, nil
}

// FromSecret restores an identity from persisted material.
func FromSecret(sk crypto.SecretKey, nospam uint32) (Identity, error) {
	kp, err := crypto.KeyPairFromSecret(sk)
	if err != nil {
		return Identity{}, err
	}
	return Identity{KeyPair: kp, Nospam: nospam}, nil
}

func (id Identity) PublicKey() crypto.PublicKey { return id.KeyPair.Public }

func (id Identity) Address() Address {
	return NewAddress(id.KeyPair.Public, id.Nospam)
}

// Wipe zeroes the secret key.
func (id *Identity) Wipe() { id.KeyPair.Wipe() }
