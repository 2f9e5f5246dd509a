// Package connection derives a node's overall connection status from its
// DHT table and sessions.
package connection

import (
	"time"

	"github.com/TheusHen/toxcore/toxcore/dht"
	"github.com/TheusHen/toxcore/toxcore/protocol"
	"github.com/TheusHen/toxcore/toxcore/session"
)

// Status is the node-wide connection status.
type Status uint8

const (
	None Status = iota
	Connecting
	ConnectedUDP
	ConnectedRelay
)

func (s Status) String() string {
	switch s {
	case None:
		return "NONE"
	case Connecting:
		return "CONNECTING"
	case ConnectedUDP:
		return "CONNECTED_UDP"
	case ConnectedRelay:
		return "CONNECTED_RELAY"
	default:
		return "UNKNOWN"
	}
}

// Connected reports whether s is one of the connected states.
func (s Status) Connected() bool {
	return s == ConnectedUDP || s == ConnectedRelay
}

// DefaultRecent is how long a DHT answer keeps a node CONNECTING.
const DefaultRecent = 30 * time.Second

// Recompute is a pure function of the current state:
//
//   - CONNECTED_UDP with at least one established direct session,
//   - else CONNECTED_RELAY with at least one established relay session,
//   - else CONNECTING while a handshake is in flight or a confirmed node
//     answered within recent,
//   - else NONE.
func Recompute(now time.Time, entries []dht.Entry, sessions []session.Snapshot, recent time.Duration) Status {
	relay, inFlight := false, false
	for _, s := range sessions {
		switch {
		case s.State == session.StateEstablished && s.Peer.Transport == protocol.TransportUDP:
			return ConnectedUDP
		case s.State == session.StateEstablished:
			relay = true
		case s.State.InFlight():
			inFlight = true
		}
	}
	if relay {
		return ConnectedRelay
	}
	if inFlight {
		return Connecting
	}
	for _, e := range entries {
		if e.Confirmed && now.Sub(e.LastSeen) <= recent {
			return Connecting
		}
	}
	return None
}

// Observer is notified of status transitions.
type Observer interface {
	StatusChanged(Status)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Status)

func (f ObserverFunc) StatusChanged(s Status) { f(s) }

// Tracker holds the current status and notifies the observer once per
// actual transition.
type Tracker struct {
	status Status
	obs    Observer
}

// NewTracker starts at NONE. A nil observer is allowed.
func NewTracker(obs Observer) *Tracker {
	return &Tracker{obs: obs}
}

func (t *Tracker) Status() Status { return t.status }

// Update records s and reports whether it differs from the previous
// status.
func (t *Tracker) Update(s Status) bool {
	if s == t.status {
		return false
	}
	t.status = s
	if t.obs != nil {
		t.obs.StatusChanged(s)
	}
	return true
}
