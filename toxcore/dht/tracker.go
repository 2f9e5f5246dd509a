package dht

import (
	"crypto/rand"
	"encoding/binary"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/TheusHen/toxcore/toxcore/crypto"
	"github.com/TheusHen/toxcore/toxcore/protocol"
)

const (
	DefaultTrackerSize    = 1024
	DefaultRequestTimeout = 10 * time.Second
)

type pending struct {
	peer crypto.PublicKey
	kind protocol.PacketType
	sent time.Time
}

// PingTracker remembers the ids of outstanding ping and get-nodes
// requests. A response is only trusted when it carries an id we issued to
// the same key for the matching request type. The oldest ids are dropped
// once the tracker is full.
type PingTracker struct {
	cache   *lru.Cache[uint64, pending]
	timeout time.Duration
}

func NewPingTracker(size int, timeout time.Duration) (*PingTracker, error) {
	if size <= 0 {
		size = DefaultTrackerSize
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	c, err := lru.New[uint64, pending](size)
	if err != nil {
		return nil, err
	}
	return &PingTracker{cache: c, timeout: timeout}, nil
}

// Issue allocates an id for a request of kind sent to peer.
func (t *PingTracker) Issue(peer crypto.PublicKey, kind protocol.PacketType, now time.Time) (uint64, error) {
	var b [8]byte
	for {
		if _, err := rand.Read(b[:]); err != nil {
			return 0, err
		}
		id := binary.BigEndian.Uint64(b[:])
		if id == 0 || t.cache.Contains(id) {
			continue
		}
		t.cache.Add(id, pending{peer: peer, kind: kind, sent: now})
		return id, nil
	}
}

// Resolve consumes id if it was issued to peer for a request of kind and
// has not timed out. It returns the round trip time.
func (t *PingTracker) Resolve(id uint64, peer crypto.PublicKey, kind protocol.PacketType, now time.Time) (time.Duration, bool) {
	p, ok := t.cache.Peek(id)
	if !ok || p.peer != peer || p.kind != kind {
		return 0, false
	}
	t.cache.Remove(id)
	rtt := now.Sub(p.sent)
	if rtt < 0 || rtt > t.timeout {
		return 0, false
	}
	return rtt, true
}

// Outstanding reports whether a request of kind to peer is still pending
// and younger than the timeout.
func (t *PingTracker) Outstanding(peer crypto.PublicKey, kind protocol.PacketType, now time.Time) bool {
	for _, id := range t.cache.Keys() {
		p, ok := t.cache.Peek(id)
		if ok && p.peer == peer && p.kind == kind && now.Sub(p.sent) <= t.timeout {
			return true
		}
	}
	return false
}

func (t *PingTracker) Len() int { return t.cache.Len() }

func (t *PingTracker) Purge() { t.cache.Purge() }
