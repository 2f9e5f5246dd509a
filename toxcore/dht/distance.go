package dht

import (
	"bytes"
	"math/bits"

	"github.com/TheusHen/toxcore/toxcore/crypto"
)

// Distance is the XOR of two public keys, compared as a big endian number.
type Distance [crypto.PublicKeySize]byte

// XOR returns the distance between a and b.
func XOR(a, b crypto.PublicKey) Distance {
	var d Distance
	for i := range d {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// Cmp returns -1, 0 or 1 as d is closer than, equal to or farther than o.
func (d Distance) Cmp(o Distance) int {
	return bytes.Compare(d[:], o[:])
}

// BitLen returns the position of the highest set bit plus one, 0 for
// identical keys.
func (d Distance) BitLen() int {
	for i, b := range d {
		if b != 0 {
			return (len(d)-i)*8 - bits.LeadingZeros8(b)
		}
	}
	return 0
}

// CompareDistance reports whether a is closer to target than b (-1), as
// close (0) or farther (1).
func CompareDistance(a, b, target crypto.PublicKey) int {
	return XOR(a, target).Cmp(XOR(b, target))
}

// BucketIndex returns the bucket key belongs in relative to self: the bit
// length of their distance minus one. It returns -1 when key is self.
func BucketIndex(self, key crypto.PublicKey) int {
	return XOR(self, key).BitLen() - 1
}
