package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/TheusHen/toxcore/toxcore/protocol"
)

var (
	ErrInvalidTransition = errors.New("session: invalid state transition")
)

// State is the handshake state of one session.
type State uint8

const (
	StateInit State = iota
	StateSent
	StateReceived
	StateEstablished
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateSent:
		return "SENT"
	case StateReceived:
		return "RECEIVED"
	case StateEstablished:
		return "ESTABLISHED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// InFlight reports whether a handshake is under way in this state.
func (s State) InFlight() bool {
	return s == StateSent || s == StateReceived
}

// next lists the forward transitions. FAILED is entered only through fail.
var next = [...]State{
	StateInit:     StateSent,
	StateSent:     StateReceived,
	StateReceived: StateEstablished,
}

// Role says which side opened the session.
type Role uint8

const (
	RoleInitiator Role = iota
	RoleResponder
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

// Session is the per-peer handshake and traffic state. It is owned by a
// Manager and never shared.
type Session struct {
	peer   protocol.PeerAddress
	role   Role
	state  State
	cipher *Cipher

	// echoID is the id of the request that opened the session.
	echoID uint64

	created     time.Time
	established time.Time
	lastSend    time.Time
	lastRecv    time.Time
	deadline    time.Time
	failReason  string
}

func newSession(peer protocol.PeerAddress, role Role, now time.Time) (*Session, error) {
	c, err := NewCipher(role == RoleInitiator)
	if err != nil {
		return nil, err
	}
	return &Session{
		peer:    peer,
		role:    role,
		state:   StateInit,
		cipher:  c,
		created: now,
	}, nil
}

func (s *Session) Peer() protocol.PeerAddress { return s.peer }
func (s *Session) Role() Role                 { return s.role }
func (s *Session) State() State               { return s.state }

// advance moves the session one step forward. Any other move, including
// leaving ESTABLISHED or FAILED, is rejected.
func (s *Session) advance(to State) error {
	if int(s.state) >= len(next) || next[s.state] != to {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, to)
	}
	s.state = to
	return nil
}

// fail marks the session FAILED and wipes its keys. It is the only way
// into FAILED and is called on authentication failures and deadlines.
func (s *Session) fail(reason string) {
	if s.state == StateFailed {
		return
	}
	s.state = StateFailed
	s.failReason = reason
	s.cipher.Wipe()
}

// Snapshot is a read-only view of a session for status computation.
type Snapshot struct {
	Peer        protocol.PeerAddress
	Role        Role
	State       State
	Established time.Time
	LastRecv    time.Time
}

func (s *Session) snapshot() Snapshot {
	return Snapshot{
		Peer:        s.peer,
		Role:        s.role,
		State:       s.state,
		Established: s.established,
		LastRecv:    s.lastRecv,
	}
}
