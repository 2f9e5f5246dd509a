package protocol

import (
	"encoding/binary"

	"github.com/TheusHen/toxcore/toxcore/crypto"
)

const (
	PingPayloadSize     = 1 + 8
	GetNodesPayloadSize = crypto.PublicKeySize + 8
	minSendNodesPayload = 1 + 8
	maxSendNodesPayload = 1 + MaxSendNodes*packedNodeSize6 + 8
)

func dhtPayloadBounds(t PacketType) (int, int) {
	switch t {
	case PacketPingRequest, PacketPingResponse:
		return PingPayloadSize, PingPayloadSize
	case PacketGetNodes:
		return GetNodesPayloadSize, GetNodesPayloadSize
	case PacketSendNodes:
		return minSendNodesPayload, maxSendNodesPayload
	}
	return 0, 0
}

// SealDHT encrypts payload for receiver and wraps it in a DHTPacket.
func SealDHT(t PacketType, self crypto.KeyPair, receiver crypto.PublicKey, payload []byte) ([]byte, error) {
	shared := crypto.Precompute(receiver, self.Secret)
	defer shared.Wipe()
	return SealDHTShared(t, self.Public, &shared, payload)
}

// SealDHTShared is SealDHT with the key shared with the receiver already
// computed.
func SealDHTShared(t PacketType, self crypto.PublicKey, shared *crypto.SharedKey, payload []byte) ([]byte, error) {
	nonce, err := crypto.RandomNonce()
	if err != nil {
		return nil, err
	}
	p := DHTPacket{
		Type:       t,
		Sender:     self,
		Nonce:      nonce,
		Ciphertext: crypto.EncryptShared(payload, nonce, shared),
	}
	return p.Encode(), nil
}

// OpenDHT decrypts the payload of a parsed DHT packet addressed to self.
func OpenDHT(p DHTPacket, self crypto.SecretKey) ([]byte, error) {
	return crypto.Decrypt(p.Ciphertext, p.Nonce, self, p.Sender)
}

// OpenDHTShared decrypts p with the key shared with its sender.
func OpenDHTShared(p DHTPacket, shared *crypto.SharedKey) ([]byte, error) {
	return crypto.DecryptShared(p.Ciphertext, p.Nonce, shared)
}

// Ping is the payload of PING_REQUEST and PING_RESPONSE.
type Ping struct {
	Response bool
	ID       uint64
}

func (p Ping) Encode() []byte {
	out := make([]byte, PingPayloadSize)
	if p.Response {
		out[0] = byte(PacketPingResponse)
	} else {
		out[0] = byte(PacketPingRequest)
	}
	binary.BigEndian.PutUint64(out[1:], p.ID)
	return out
}

// DecodePing checks that the inner kind byte agrees with the outer type.
func DecodePing(t PacketType, b []byte) (Ping, error) {
	if len(b) != PingPayloadSize || PacketType(b[0]) != t {
		return Ping{}, violation(t, ReasonBadPayload)
	}
	return Ping{Response: t == PacketPingResponse, ID: binary.BigEndian.Uint64(b[1:])}, nil
}

// GetNodes asks for the nodes closest to Target.
type GetNodes struct {
	Target crypto.PublicKey
	ID     uint64
}

func (g GetNodes) Encode() []byte {
	out := make([]byte, 0, GetNodesPayloadSize)
	out = append(out, g.Target[:]...)
	return binary.BigEndian.AppendUint64(out, g.ID)
}

func DecodeGetNodes(b []byte) (GetNodes, error) {
	if len(b) != GetNodesPayloadSize {
		return GetNodes{}, violation(PacketGetNodes, ReasonBadPayload)
	}
	var g GetNodes
	copy(g.Target[:], b)
	g.ID = binary.BigEndian.Uint64(b[crypto.PublicKeySize:])
	return g, nil
}

// SendNodes answers a GetNodes with up to MaxSendNodes packed nodes.
type SendNodes struct {
	Nodes []PeerAddress
	ID    uint64
}

func (s SendNodes) Encode() ([]byte, error) {
	nodes := s.Nodes
	if len(nodes) > MaxSendNodes {
		nodes = nodes[:MaxSendNodes]
	}
	out := make([]byte, 0, maxSendNodesPayload)
	out = append(out, byte(len(nodes)))
	var err error
	for _, n := range nodes {
		if out, err = AppendPackedNode(out, n); err != nil {
			return nil, err
		}
	}
	return binary.BigEndian.AppendUint64(out, s.ID), nil
}

func DecodeSendNodes(b []byte) (SendNodes, error) {
	if len(b) < minSendNodesPayload {
		return SendNodes{}, violation(PacketSendNodes, ReasonBadPayload)
	}
	count := int(b[0])
	if count > MaxSendNodes {
		return SendNodes{}, violation(PacketSendNodes, ReasonBadPayload)
	}
	nodes, n, err := UnpackNodes(b[1:len(b)-8], count)
	if err != nil {
		return SendNodes{}, violation(PacketSendNodes, ReasonBadNode)
	}
	if 1+n != len(b)-8 {
		return SendNodes{}, violation(PacketSendNodes, ReasonBadPayload)
	}
	return SendNodes{Nodes: nodes, ID: binary.BigEndian.Uint64(b[len(b)-8:])}, nil
}
