package crypto

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"io"
	"math"
)

const (
	NonceSize       = 24
	NoncePrefixSize = 16
)

var (
	ErrNonceExhausted = errors.New("crypto: nonce counter exhausted")
)

// Nonce is the 24-byte nonce shared by crypto_box and XChaCha20-Poly1305.
type Nonce [NonceSize]byte

// RandomNonce returns a nonce read from the system CSPRNG.
func RandomNonce() (Nonce, error) {
	var n Nonce
	if _, err := io.ReadFull(rand.Reader, n[:]); err != nil {
		return Nonce{}, err
	}
	return n, nil
}

// Increment treats the nonce as a big endian number and adds one.
func (n *Nonce) Increment() {
	for i := NonceSize - 1; i >= 0; i-- {
		n[i]++
		if n[i] != 0 {
			return
		}
	}
}

// Split returns the prefix and counter halves of a counter nonce.
func (n Nonce) Split() (prefix [NoncePrefixSize]byte, counter uint64) {
	copy(prefix[:], n[:NoncePrefixSize])
	return prefix, binary.BigEndian.Uint64(n[NoncePrefixSize:])
}

// NonceCounter issues nonces made of a fixed random 16-byte prefix and a
// 64-bit big endian counter. Counter values are strictly increasing, so a
// counter never emits the same nonce twice. Not safe for concurrent use.
type NonceCounter struct {
	prefix [NoncePrefixSize]byte
	last   uint64
}

// NewNonceCounter creates a counter with a random prefix.
func NewNonceCounter() (*NonceCounter, error) {
	c := &NonceCounter{}
	if _, err := io.ReadFull(rand.Reader, c.prefix[:]); err != nil {
		return nil, err
	}
	return c, nil
}

// NewNonceCounterWithPrefix creates a counter with a caller supplied prefix.
func NewNonceCounterWithPrefix(prefix [NoncePrefixSize]byte) *NonceCounter {
	return &NonceCounter{prefix: prefix}
}

func (c *NonceCounter) Prefix() [NoncePrefixSize]byte { return c.prefix }

// Issued returns how many nonces have been handed out.
func (c *NonceCounter) Issued() uint64 { return c.last }

// Next returns the next nonce. Counter zero is never used.
func (c *NonceCounter) Next() (Nonce, error) {
	if c.last == math.MaxUint64 {
		return Nonce{}, ErrNonceExhausted
	}
	c.last++
	var n Nonce
	copy(n[:NoncePrefixSize], c.prefix[:])
	binary.BigEndian.PutUint64(n[NoncePrefixSize:], c.last)
	return n, nil
}
