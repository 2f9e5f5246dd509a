package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
	"strings"

	"golang.org/x/crypto/curve25519"
)

const (
	PublicKeySize = 32
	SecretKeySize = 32
)

var (
	ErrInvalidPublicKey = errors.New("crypto: invalid X25519 public key")
	ErrInvalidKeySize   = errors.New("crypto: invalid key size")
)

// PublicKey is an X25519 public key. Peers are identified by it.
type PublicKey [PublicKeySize]byte

// SecretKey is an X25519 secret scalar.
type SecretKey [SecretKeySize]byte

// KeyPair is a long-term or ephemeral X25519 keypair.
// The owner must call Wipe when the keypair is no longer needed.
type KeyPair struct {
	Public PublicKey
	Secret SecretKey
}

// GenerateKeyPair generates a new X25519 keypair.
func GenerateKeyPair() (KeyPair, error) {
	var sk SecretKey
	if _, err := io.ReadFull(rand.Reader, sk[:]); err != nil {
		return KeyPair{}, err
	}
	kp, err := KeyPairFromSecret(sk)
	Wipe(sk[:])
	return kp, err
}

// KeyPairFromSecret rebuilds a keypair from a stored secret key.
func KeyPairFromSecret(sk SecretKey) (KeyPair, error) {
	// Clamp per RFC 7748
	sk[0] &= 248
	sk[31] &= 127
	sk[31] |= 64

	pub, err := curve25519.X25519(sk[:], curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, err
	}
	kp := KeyPair{Secret: sk}
	copy(kp.Public[:], pub)
	return kp, nil
}

// Wipe zeroes the secret half of the keypair.
func (kp *KeyPair) Wipe() {
	Wipe(kp.Secret[:])
}

// ECDH computes the raw X25519 shared secret (should be passed to HKDF).
func ECDH(secret SecretKey, peer PublicKey) ([]byte, error) {
	if peer.IsZero() {
		return nil, ErrInvalidPublicKey
	}
	shared, err := curve25519.X25519(secret[:], peer[:])
	if err != nil {
		return nil, ErrInvalidPublicKey
	}
	return shared, nil
}

// PublicKeyFromBytes copies b into a PublicKey.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	var pk PublicKey
	if len(b) != PublicKeySize {
		return pk, ErrInvalidKeySize
	}
	copy(pk[:], b)
	return pk, nil
}

// ParsePublicKey parses a 64 character hex public key (either case).
func ParsePublicKey(s string) (PublicKey, error) {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return PublicKey{}, err
	}
	return PublicKeyFromBytes(b)
}

func (pk PublicKey) IsZero() bool {
	return pk == PublicKey{}
}

// String returns the upper case hex form used by Tox clients.
func (pk PublicKey) String() string {
	return strings.ToUpper(hex.EncodeToString(pk[:]))
}

// Short returns the first 8 hex characters, for logs.
func (pk PublicKey) Short() string {
	return pk.String()[:8]
}

// Wipe overwrites b with zeros.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
