package savestate

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/TheusHen/toxcore/toxcore/crypto"
	"github.com/TheusHen/toxcore/toxcore/protocol"
)

const (
	Magic   = "TXCS"
	Version = 1

	// MaxNodes bounds the node list of a decoded state.
	MaxNodes = 512

	headerSize = len(Magic) + 2
)

const (
	flagCompressed byte = 1 << iota
	flagSealed
)

var (
	ErrBadMagic           = errors.New("savestate: not a save-state blob")
	ErrUnsupportedVersion = errors.New("savestate: unsupported version")
	ErrCorrupt            = errors.New("savestate: corrupt body")
	ErrPassphraseRequired = errors.New("savestate: blob is sealed, passphrase required")
)

// Node is a DHT node remembered across restarts.
type Node struct {
	Addr     protocol.PeerAddress
	LastSeen time.Time
}

// State is everything a node persists.
type State struct {
	Secret crypto.SecretKey
	Nospam uint32
	Nodes  []Node
}

// Wipe zeroes the secret key.
func (s *State) Wipe() { crypto.Wipe(s.Secret[:]) }

// Sealed reports whether blob needs a passphrase.
func Sealed(blob []byte) bool {
	return len(blob) >= headerSize && string(blob[:len(Magic)]) == Magic && blob[len(Magic)+1]&flagSealed != 0
}

// Encode serialises s. A non-empty passphrase seals the body.
func Encode(s State, passphrase []byte) ([]byte, error) {
	body, err := encodeBody(s)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(body)

	flags := flagCompressed
	if len(passphrase) > 0 {
		flags |= flagSealed
	}
	header := []byte{Magic[0], Magic[1], Magic[2], Magic[3], Version, flags}

	packed, err := Compress(body)
	if err != nil {
		return nil, err
	}
	if flags&flagSealed != 0 {
		sealed, err := seal(packed, passphrase, header)
		crypto.Wipe(packed)
		if err != nil {
			return nil, err
		}
		packed = sealed
	}
	return append(header, packed...), nil
}

// Decode parses a blob produced by Encode.
func Decode(blob []byte, passphrase []byte) (State, error) {
	if len(blob) < headerSize || string(blob[:len(Magic)]) != Magic {
		return State{}, ErrBadMagic
	}
	if blob[len(Magic)] != Version {
		return State{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, blob[len(Magic)])
	}
	flags := blob[len(Magic)+1]
	header, rest := blob[:headerSize], blob[headerSize:]

	if flags&flagSealed != 0 {
		if len(passphrase) == 0 {
			return State{}, ErrPassphraseRequired
		}
		plain, err := open(rest, passphrase, header)
		if err != nil {
			return State{}, err
		}
		defer crypto.Wipe(plain)
		rest = plain
	}
	if flags&flagCompressed != 0 {
		plain, err := Decompress(rest)
		if err != nil {
			return State{}, err
		}
		defer crypto.Wipe(plain)
		rest = plain
	}
	return decodeBody(rest)
}

// body: secret(32) | nospam(4) | count(2) | count x (lastSeen(8) | packed node)
func encodeBody(s State) ([]byte, error) {
	if len(s.Nodes) > MaxNodes {
		return nil, fmt.Errorf("savestate: %d nodes exceeds %d", len(s.Nodes), MaxNodes)
	}
	out := make([]byte, 0, crypto.SecretKeySize+6+len(s.Nodes)*64)
	out = append(out, s.Secret[:]...)
	out = binary.BigEndian.AppendUint32(out, s.Nospam)
	out = binary.BigEndian.AppendUint16(out, uint16(len(s.Nodes)))
	for _, n := range s.Nodes {
		out = binary.BigEndian.AppendUint64(out, uint64(n.LastSeen.Unix()))
		var err error
		if out, err = protocol.AppendPackedNode(out, n.Addr); err != nil {
			return nil, fmt.Errorf("savestate: node %s: %w", n.Addr, err)
		}
	}
	return out, nil
}

func decodeBody(b []byte) (State, error) {
	if len(b) < crypto.SecretKeySize+6 {
		return State{}, ErrCorrupt
	}
	var s State
	copy(s.Secret[:], b)
	b = b[crypto.SecretKeySize:]
	s.Nospam = binary.BigEndian.Uint32(b)
	count := int(binary.BigEndian.Uint16(b[4:]))
	b = b[6:]
	if count > MaxNodes {
		return State{}, ErrCorrupt
	}
	s.Nodes = make([]Node, 0, count)
	for i := 0; i < count; i++ {
		if len(b) < 8 {
			return State{}, ErrCorrupt
		}
		seen := time.Unix(int64(binary.BigEndian.Uint64(b)), 0)
		addr, n, err := protocol.UnpackNode(b[8:])
		if err != nil {
			return State{}, fmt.Errorf("%w: node %d: %v", ErrCorrupt, i, err)
		}
		s.Nodes = append(s.Nodes, Node{Addr: addr, LastSeen: seen})
		b = b[8+n:]
	}
	if len(b) != 0 {
		return State{}, ErrCorrupt
	}
	return s, nil
}
