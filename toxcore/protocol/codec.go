package protocol

import (
	"github.com/TheusHen/toxcore/toxcore/crypto"
)

const (
	// DHTHeaderSize is type (1) || sender public key (32) || nonce (24).
	DHTHeaderSize = 1 + crypto.PublicKeySize + crypto.NonceSize

	// HandshakeHeaderSize is type (1) || version (1) || sender public key (32)
	// || sender ephemeral key (32) || nonce (24).
	HandshakeHeaderSize = 1 + 1 + crypto.PublicKeySize + crypto.PublicKeySize + crypto.NonceSize

	// LANDiscoverySize is type (1) || sender public key (32).
	LANDiscoverySize = 1 + crypto.PublicKeySize
)

// PeekType returns the packet type of a datagram, rejecting empty and
// unknown packets.
func PeekType(b []byte) (PacketType, error) {
	if len(b) == 0 {
		return 0, violation(0, ReasonEmpty)
	}
	t := PacketType(b[0])
	if !t.IsDHT() && !t.IsHandshake() && t != PacketLANDiscovery {
		return t, violation(t, ReasonUnknownType)
	}
	if len(b) > MaxPacketSize {
		return t, violation(t, ReasonTooLong)
	}
	return t, nil
}

// DHTPacket is the encrypted DHT container.
// Format:
//
//	1 byte: type
//	32 bytes: sender public key
//	24 bytes: nonce
//	N bytes: crypto_box(payload)
type DHTPacket struct {
	Type       PacketType
	Sender     crypto.PublicKey
	Nonce      crypto.Nonce
	Ciphertext []byte
}

func (p DHTPacket) Encode() []byte {
	out := make([]byte, 0, DHTHeaderSize+len(p.Ciphertext))
	out = append(out, byte(p.Type))
	out = append(out, p.Sender[:]...)
	out = append(out, p.Nonce[:]...)
	return append(out, p.Ciphertext...)
}

// ParseDHTPacket validates the length of a DHT packet against its type
// before any decryption is attempted.
func ParseDHTPacket(b []byte) (DHTPacket, error) {
	t, err := PeekType(b)
	if err != nil {
		return DHTPacket{}, err
	}
	if !t.IsDHT() {
		return DHTPacket{}, violation(t, ReasonUnknownType)
	}
	minBody, maxBody := dhtPayloadBounds(t)
	body := len(b) - DHTHeaderSize - crypto.Overhead
	if body < minBody {
		return DHTPacket{}, violation(t, ReasonTooShort)
	}
	if body > maxBody {
		return DHTPacket{}, violation(t, ReasonTooLong)
	}
	var p DHTPacket
	p.Type = t
	copy(p.Sender[:], b[1:])
	copy(p.Nonce[:], b[1+crypto.PublicKeySize:])
	p.Ciphertext = b[DHTHeaderSize:]
	return p, nil
}

// HandshakePacket is the versioned session container.
// Format:
//
//	1 byte: type
//	1 byte: version
//	32 bytes: sender long-term public key
//	32 bytes: sender ephemeral public key
//	24 bytes: nonce
//	N bytes: authenticated body
type HandshakePacket struct {
	Type      PacketType
	Version   uint8
	Sender    crypto.PublicKey
	Ephemeral crypto.PublicKey
	Nonce     crypto.Nonce
	Body      []byte
}

func (p HandshakePacket) Encode() []byte {
	out := make([]byte, 0, HandshakeHeaderSize+len(p.Body))
	out = append(out, byte(p.Type), p.Version)
	out = append(out, p.Sender[:]...)
	out = append(out, p.Ephemeral[:]...)
	out = append(out, p.Nonce[:]...)
	return append(out, p.Body...)
}

// AdditionalData returns the header fields authenticated alongside confirm
// and data bodies: type, version, sender key and sender ephemeral key.
func (p HandshakePacket) AdditionalData() []byte {
	out := make([]byte, 0, HandshakeHeaderSize-crypto.NonceSize)
	out = append(out, byte(p.Type), p.Version)
	out = append(out, p.Sender[:]...)
	return append(out, p.Ephemeral[:]...)
}

// ParseHandshakePacket checks the length and version byte of a handshake
// packet. Nothing is decrypted here.
func ParseHandshakePacket(b []byte) (HandshakePacket, error) {
	t, err := PeekType(b)
	if err != nil {
		return HandshakePacket{}, err
	}
	if !t.IsHandshake() {
		return HandshakePacket{}, violation(t, ReasonUnknownType)
	}
	if len(b) < HandshakeHeaderSize {
		return HandshakePacket{}, violation(t, ReasonTooShort)
	}
	if b[1] != Version {
		return HandshakePacket{}, violation(t, ReasonBadVersion)
	}
	minBody, maxBody := handshakeBodyBounds(t)
	body := len(b) - HandshakeHeaderSize
	if body < minBody {
		return HandshakePacket{}, violation(t, ReasonTooShort)
	}
	if body > maxBody {
		return HandshakePacket{}, violation(t, ReasonTooLong)
	}
	p := HandshakePacket{Type: t, Version: b[1]}
	off := 2
	copy(p.Sender[:], b[off:])
	off += crypto.PublicKeySize
	copy(p.Ephemeral[:], b[off:])
	off += crypto.PublicKeySize
	copy(p.Nonce[:], b[off:])
	p.Body = b[HandshakeHeaderSize:]
	return p, nil
}

// EncodeLANDiscovery builds the unencrypted LAN announcement.
func EncodeLANDiscovery(pk crypto.PublicKey) []byte {
	out := make([]byte, 0, LANDiscoverySize)
	out = append(out, byte(PacketLANDiscovery))
	return append(out, pk[:]...)
}

func ParseLANDiscovery(b []byte) (crypto.PublicKey, error) {
	if len(b) == 0 || PacketType(b[0]) != PacketLANDiscovery {
		return crypto.PublicKey{}, violation(PacketLANDiscovery, ReasonUnknownType)
	}
	if len(b) < LANDiscoverySize {
		return crypto.PublicKey{}, violation(PacketLANDiscovery, ReasonTooShort)
	}
	if len(b) > LANDiscoverySize {
		return crypto.PublicKey{}, violation(PacketLANDiscovery, ReasonTooLong)
	}
	return crypto.PublicKeyFromBytes(b[1:])
}
