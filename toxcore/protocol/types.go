package protocol

// Version is carried by every handshake-layer packet.
const Version uint8 = 1

// MaxPacketSize bounds every datagram we send or accept.
const MaxPacketSize = 2048

// PacketType is the first byte of every datagram.
type PacketType uint8

const (
	PacketPingRequest       PacketType = 0x00
	PacketPingResponse      PacketType = 0x01
	PacketGetNodes          PacketType = 0x02
	PacketSendNodes         PacketType = 0x04
	PacketHandshakeRequest  PacketType = 0x18
	PacketHandshakeResponse PacketType = 0x19
	PacketHandshakeConfirm  PacketType = 0x1a
	PacketSessionData       PacketType = 0x1b
	PacketLANDiscovery      PacketType = 0x21
)

func (t PacketType) String() string {
	switch t {
	case PacketPingRequest:
		return "PING_REQUEST"
	case PacketPingResponse:
		return "PING_RESPONSE"
	case PacketGetNodes:
		return "GET_NODES"
	case PacketSendNodes:
		return "SEND_NODES"
	case PacketHandshakeRequest:
		return "HANDSHAKE_REQUEST"
	case PacketHandshakeResponse:
		return "HANDSHAKE_RESPONSE"
	case PacketHandshakeConfirm:
		return "HANDSHAKE_CONFIRM"
	case PacketSessionData:
		return "SESSION_DATA"
	case PacketLANDiscovery:
		return "LAN_DISCOVERY"
	default:
		return "UNKNOWN"
	}
}

// IsDHT reports whether t uses the encrypted DHT layout.
func (t PacketType) IsDHT() bool {
	switch t {
	case PacketPingRequest, PacketPingResponse, PacketGetNodes, PacketSendNodes:
		return true
	}
	return false
}

// IsHandshake reports whether t uses the versioned handshake layout.
func (t PacketType) IsHandshake() bool {
	switch t {
	case PacketHandshakeRequest, PacketHandshakeResponse, PacketHandshakeConfirm, PacketSessionData:
		return true
	}
	return false
}

// Transport says how a peer is reached.
type Transport uint8

const (
	TransportUDP Transport = iota
	TransportTCPRelay
)

func (t Transport) String() string {
	switch t {
	case TransportUDP:
		return "udp"
	case TransportTCPRelay:
		return "tcp-relay"
	default:
		return "unknown"
	}
}
