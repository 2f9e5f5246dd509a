package identity

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/TheusHen/toxcore/toxcore/crypto"
)

const (
	// AddressSize is public key (32) || nospam (4) || checksum (2).
	AddressSize = crypto.PublicKeySize + 4 + 2
)

var (
	ErrAddressLength   = errors.New("identity: invalid address length")
	ErrAddressChecksum = errors.New("identity: address checksum mismatch")
)

// Address is the shareable form of an identity, printed as 76 hex characters.
type Address [AddressSize]byte

func NewAddress(pk crypto.PublicKey, nospam uint32) Address {
	var a Address
	copy(a[:crypto.PublicKeySize], pk[:])
	binary.BigEndian.PutUint32(a[crypto.PublicKeySize:], nospam)
	sum := a.computeChecksum()
	copy(a[AddressSize-2:], sum[:])
	return a
}

// computeChecksum XORs the key and nospam bytes pairwise into two bytes.
func (a Address) computeChecksum() [2]byte {
	var sum [2]byte
	for i := 0; i < AddressSize-2; i++ {
		sum[i%2] ^= a[i]
	}
	return sum
}

func ParseAddress(s string) (Address, error) {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return Address{}, err
	}
	if len(b) != AddressSize {
		return Address{}, ErrAddressLength
	}
	var a Address
	copy(a[:], b)
	sum := a.computeChecksum()
	if sum[0] != a[AddressSize-2] || sum[1] != a[AddressSize-1] {
		return Address{}, ErrAddressChecksum
	}
	return a, nil
}

func (a Address) PublicKey() crypto.PublicKey {
	var pk crypto.PublicKey
	copy(pk[:], a[:crypto.PublicKeySize])
	return pk
}

func (a Address) Nospam() uint32 {
	return binary.BigEndian.Uint32(a[crypto.PublicKeySize:])
}

func (a Address) String() string {
	return strings.ToUpper(hex.EncodeToString(a[:]))
}
