package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"

	"github.com/TheusHen/toxcore/toxcore/crypto"
)

const (
	ipTypeUDP4 = 2
	ipTypeUDP6 = 10
	ipTypeTCP4 = 130
	ipTypeTCP6 = 138

	// MaxSendNodes is the most nodes a single SEND_NODES answer carries.
	MaxSendNodes = 4

	packedNodeSize4 = 1 + 4 + 2 + crypto.PublicKeySize
	packedNodeSize6 = 1 + 16 + 2 + crypto.PublicKeySize
)

var (
	ErrInvalidAddress = errors.New("protocol: invalid peer address")
)

// PeerAddress locates a peer. Two addresses name the same node when their
// public keys match, whatever the endpoint.
type PeerAddress struct {
	PublicKey crypto.PublicKey
	Addr      netip.AddrPort
	Transport Transport
}

func (a PeerAddress) SameNode(b PeerAddress) bool {
	return a.PublicKey == b.PublicKey
}

func (a PeerAddress) IsValid() bool {
	return a.Addr.IsValid() && a.Addr.Port() != 0 && !a.PublicKey.IsZero()
}

func (a PeerAddress) String() string {
	return fmt.Sprintf("%s@%s/%s", a.PublicKey.Short(), a.Addr, a.Transport)
}

// AppendPackedNode appends the packed node encoding of a:
//
//	1 byte: ip type (2/10 UDP v4/v6, 130/138 TCP v4/v6)
//	4 or 16 bytes: ip
//	2 bytes: port (big endian)
//	32 bytes: public key
func AppendPackedNode(dst []byte, a PeerAddress) ([]byte, error) {
	if !a.IsValid() {
		return nil, ErrInvalidAddress
	}
	ip := a.Addr.Addr().Unmap()
	var ipType byte
	switch {
	case ip.Is4() && a.Transport == TransportUDP:
		ipType = ipTypeUDP4
	case ip.Is4():
		ipType = ipTypeTCP4
	case a.Transport == TransportUDP:
		ipType = ipTypeUDP6
	default:
		ipType = ipTypeTCP6
	}
	dst = append(dst, ipType)
	dst = append(dst, ip.AsSlice()...)
	dst = binary.BigEndian.AppendUint16(dst, a.Addr.Port())
	dst = append(dst, a.PublicKey[:]...)
	return dst, nil
}

// UnpackNode decodes one packed node and returns the bytes consumed.
func UnpackNode(b []byte) (PeerAddress, int, error) {
	if len(b) < 1 {
		return PeerAddress{}, 0, ErrInvalidAddress
	}
	var (
		ipLen     int
		transport Transport
	)
	switch b[0] {
	case ipTypeUDP4:
		ipLen, transport = 4, TransportUDP
	case ipTypeTCP4:
		ipLen, transport = 4, TransportTCPRelay
	case ipTypeUDP6:
		ipLen, transport = 16, TransportUDP
	case ipTypeTCP6:
		ipLen, transport = 16, TransportTCPRelay
	default:
		return PeerAddress{}, 0, ErrInvalidAddress
	}
	size := 1 + ipLen + 2 + crypto.PublicKeySize
	if len(b) < size {
		return PeerAddress{}, 0, ErrInvalidAddress
	}
	ip, ok := netip.AddrFromSlice(b[1 : 1+ipLen])
	if !ok {
		return PeerAddress{}, 0, ErrInvalidAddress
	}
	port := binary.BigEndian.Uint16(b[1+ipLen:])
	var a PeerAddress
	a.Addr = netip.AddrPortFrom(ip, port)
	a.Transport = transport
	copy(a.PublicKey[:], b[1+ipLen+2:size])
	if !a.IsValid() {
		return PeerAddress{}, 0, ErrInvalidAddress
	}
	return a, size, nil
}

// UnpackNodes decodes count packed nodes from the front of b.
func UnpackNodes(b []byte, count int) ([]PeerAddress, int, error) {
	out := make([]PeerAddress, 0, count)
	off := 0
	for i := 0; i < count; i++ {
		a, n, err := UnpackNode(b[off:])
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
		off += n
	}
	return out, off, nil
}
