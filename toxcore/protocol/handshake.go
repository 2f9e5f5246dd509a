package protocol

import (
	"encoding/binary"
	"errors"

	"github.com/TheusHen/toxcore/toxcore/crypto"
)

const (
	// HelloSize is the plaintext of a request or response body:
	// ephemeral key (32) || nonce prefix (16) || echo id (8) || timestamp (8).
	HelloSize = crypto.PublicKeySize + crypto.NoncePrefixSize + 8 + 8

	helloBodySize = HelloSize + crypto.Overhead

	// sessionTagSize is the Poly1305 tag on confirm and data bodies.
	sessionTagSize = 16

	// ConfirmBodySize is the sealed echo id carried by HANDSHAKE_CONFIRM.
	ConfirmBodySize = 8 + sessionTagSize

	minDataBodySize = 1 + sessionTagSize

	// MaxSessionPayload is the largest application payload one SESSION_DATA
	// packet can carry.
	MaxSessionPayload = MaxPacketSize - HandshakeHeaderSize - minDataBodySize
)

var (
	ErrEphemeralMismatch = errors.New("protocol: hello ephemeral key does not match header")
	ErrPayloadTooLarge   = errors.New("protocol: session payload too large")
)

func handshakeBodyBounds(t PacketType) (int, int) {
	switch t {
	case PacketHandshakeRequest, PacketHandshakeResponse:
		return helloBodySize, helloBodySize
	case PacketHandshakeConfirm:
		return ConfirmBodySize, ConfirmBodySize
	case PacketSessionData:
		return minDataBodySize, minDataBodySize + MaxSessionPayload
	}
	return 0, 0
}

// Hello is the boxed body of HANDSHAKE_REQUEST and HANDSHAKE_RESPONSE.
// A response echoes the EchoID of the request it answers.
type Hello struct {
	Ephemeral    crypto.PublicKey
	NoncePrefix  [crypto.NoncePrefixSize]byte
	EchoID       uint64
	TimestampSec int64
}

func (h Hello) Encode() []byte {
	out := make([]byte, 0, HelloSize)
	out = append(out, h.Ephemeral[:]...)
	out = append(out, h.NoncePrefix[:]...)
	out = binary.BigEndian.AppendUint64(out, h.EchoID)
	return binary.BigEndian.AppendUint64(out, uint64(h.TimestampSec))
}

func DecodeHello(b []byte) (Hello, error) {
	if len(b) != HelloSize {
		return Hello{}, violation(PacketHandshakeRequest, ReasonBadPayload)
	}
	var h Hello
	off := copy(h.Ephemeral[:], b)
	off += copy(h.NoncePrefix[:], b[off:])
	h.EchoID = binary.BigEndian.Uint64(b[off:])
	h.TimestampSec = int64(binary.BigEndian.Uint64(b[off+8:]))
	return h, nil
}

// SealHello boxes h from self to receiver under the long-term keys and
// wraps it in a handshake packet of type t.
func SealHello(t PacketType, self crypto.KeyPair, receiver crypto.PublicKey, h Hello) ([]byte, error) {
	nonce, err := crypto.RandomNonce()
	if err != nil {
		return nil, err
	}
	p := HandshakePacket{
		Type:      t,
		Version:   Version,
		Sender:    self.Public,
		Ephemeral: h.Ephemeral,
		Nonce:     nonce,
		Body:      crypto.Encrypt(h.Encode(), nonce, self.Secret, receiver),
	}
	return p.Encode(), nil
}

// OpenHello authenticates a request or response addressed to self. The
// boxed ephemeral key must match the cleartext header copy.
func OpenHello(p HandshakePacket, self crypto.SecretKey) (Hello, error) {
	plain, err := crypto.Decrypt(p.Body, p.Nonce, self, p.Sender)
	if err != nil {
		return Hello{}, err
	}
	h, err := DecodeHello(plain)
	crypto.Wipe(plain)
	if err != nil {
		return Hello{}, err
	}
	if h.Ephemeral != p.Ephemeral {
		return Hello{}, ErrEphemeralMismatch
	}
	return h, nil
}

// FrameKind is the first plaintext byte of a SESSION_DATA body.
type FrameKind uint8

const (
	FrameKeepAlive FrameKind = 0
	FramePayload   FrameKind = 1
)

// EncodeFrame builds the plaintext of a SESSION_DATA body.
func EncodeFrame(kind FrameKind, payload []byte) ([]byte, error) {
	if len(payload) > MaxSessionPayload {
		return nil, ErrPayloadTooLarge
	}
	out := make([]byte, 0, 1+len(payload))
	out = append(out, byte(kind))
	return append(out, payload...), nil
}

func DecodeFrame(b []byte) (FrameKind, []byte, error) {
	if len(b) == 0 {
		return 0, nil, violation(PacketSessionData, ReasonTooShort)
	}
	kind := FrameKind(b[0])
	if kind != FrameKeepAlive && kind != FramePayload {
		return 0, nil, violation(PacketSessionData, ReasonBadPayload)
	}
	if kind == FrameKeepAlive && len(b) != 1 {
		return 0, nil, violation(PacketSessionData, ReasonBadPayload)
	}
	return kind, b[1:], nil
}
