package dht

import (
	"time"

	"github.com/TheusHen/toxcore/toxcore/protocol"
)

// Entry is one known node.
type Entry struct {
	Addr     protocol.PeerAddress
	LastSeen time.Time
	RTT      time.Duration

	// Confirmed is set once the node answered one of our requests.
	// Addresses learned from bootstrap input or from other nodes start
	// unconfirmed.
	Confirmed bool
}

// Stale reports whether e was last seen more than after before now.
func (e Entry) Stale(now time.Time, after time.Duration) bool {
	return now.Sub(e.LastSeen) > after
}

// smoothRTT folds a new sample into an estimate, weighting history 7:1.
func smoothRTT(old, sample time.Duration) time.Duration {
	if old == 0 {
		return sample
	}
	return (7*old + sample) / 8
}
