package toxcore

import (
	"errors"
	"net/netip"
	"time"

	"github.com/TheusHen/toxcore/toxcore/connection"
	"github.com/TheusHen/toxcore/toxcore/crypto"
	"github.com/TheusHen/toxcore/toxcore/protocol"
	"github.com/TheusHen/toxcore/toxcore/session"
	"github.com/TheusHen/toxcore/toxcore/transport"
)

// maxReadsPerLink bounds the datagrams one Iterate takes from a single
// transport, so a flood cannot keep Iterate from returning.
const maxReadsPerLink = 4096

var (
	errWrongTransport = errors.New("toxcore: DHT packet over relay")
	errUnsolicited    = errors.New("toxcore: unsolicited response")
	errNotLAN         = errors.New("toxcore: LAN discovery from non-LAN address")
	errLoopback       = errors.New("toxcore: packet from own key")
)

// Iterate runs one round of the event loop at now: it drains every
// transport, runs due DHT timers, advances handshakes and recomputes the
// connection status. It never blocks and returns how long the host should
// wait before calling it again.
//
// Observers are called after the round, outside the node's lock.
func (n *Node) Iterate(now time.Time) time.Duration {
	n.mu.Lock()
	d := n.iterate(now)
	events := n.events
	n.events = nil
	n.mu.Unlock()

	for _, f := range events {
		f()
	}
	return d
}

func (n *Node) iterate(now time.Time) time.Duration {
	if n.closed {
		return MaxIterationInterval
	}
	n.lastNow = now
	n.metrics.Iteration()

	n.drain(now)
	n.runDHT(now)

	n.sessions.SetTargets(now, n.sessionTargets())
	for _, o := range n.sessions.Tick(now) {
		_ = n.send(o.To, o.Data)
	}
	n.table.EvictStale(now)
	n.updateStatus(now)

	n.interval = n.nextInterval(now)
	return n.interval
}

func (n *Node) drain(now time.Time) {
	for _, l := range n.links() {
		n.drainLink(now, l)
	}
}

func (n *Node) drainLink(now time.Time, l *link) {
	for i := 0; i < maxReadsPerLink; i++ {
		k, from, err := l.conn.ReadFrom(n.buf)
		if err != nil {
			switch {
			case transport.IsWouldBlock(err):
			case isClosed(err):
				n.dropLink(l)
			default:
				n.log.Warn("read failed", "transport", l.kind, "err", err)
			}
			return
		}
		n.dispatch(now, l, from, n.buf[:k])
	}
}

func (n *Node) dispatch(now time.Time, l *link, from netip.AddrPort, data []byte) {
	t, err := protocol.PeekType(data)
	if err != nil {
		n.dropped(t, from, err)
		return
	}
	n.metrics.PacketIn(t.String())

	switch {
	case t == protocol.PacketLANDiscovery:
		err = n.handleLAN(now, l, from, data)
	case t.IsDHT():
		if l.kind != protocol.TransportUDP {
			err = errWrongTransport
			break
		}
		err = n.handleDHT(now, from, data)
	default:
		var out []session.Outbound
		out, err = n.sessions.HandlePacket(now, from, l.kind, data)
		for _, o := range out {
			_ = n.send(o.To, o.Data)
		}
	}
	if err != nil {
		n.dropped(t, from, err)
	}
}

// dropped counts and logs a packet that was not acted upon.
func (n *Node) dropped(t protocol.PacketType, from netip.AddrPort, err error) {
	reason := dropReason(err)
	n.metrics.Drop(reason)
	if reason == "auth_failure" {
		n.metrics.AuthFailure()
	}
	n.log.Debug("packet dropped", "type", t, "from", from, "reason", reason, "err", err)
}

func dropReason(err error) string {
	if v, ok := protocol.AsViolation(err); ok {
		return v.Reason.String()
	}
	switch {
	case errors.Is(err, crypto.ErrAuthFailure), errors.Is(err, protocol.ErrEphemeralMismatch):
		return "auth_failure"
	case errors.Is(err, session.ErrReplay), errors.Is(err, session.ErrReplayedRequest):
		return "replay"
	case errors.Is(err, session.ErrStaleRequest):
		return "stale_request"
	case errors.Is(err, session.ErrUnknownSession):
		return "unknown_session"
	case errors.Is(err, session.ErrUnexpectedPacket), errors.Is(err, session.ErrEchoMismatch):
		return "unexpected"
	case errors.Is(err, session.ErrSimultaneousOpen):
		return "simultaneous_open"
	case errors.Is(err, session.ErrTooManySessions):
		return "session_limit"
	case errors.Is(err, session.ErrLoopback), errors.Is(err, errLoopback):
		return "loopback"
	case errors.Is(err, errUnsolicited):
		return "unsolicited"
	case errors.Is(err, errNotLAN):
		return "not_lan"
	case errors.Is(err, errWrongTransport):
		return "wrong_transport"
	}
	return "other"
}

// sessionTargets are the closest confirmed DHT nodes plus every relay.
func (n *Node) sessionTargets() []protocol.PeerAddress {
	var out []protocol.PeerAddress
	for _, e := range n.table.Confirmed(n.Self(), n.opts.SessionTargets) {
		out = append(out, e.Addr)
	}
	for _, ap := range sortedAddrs(n.relays) {
		out = append(out, n.relays[ap].peer)
	}
	return out
}

func (n *Node) updateStatus(now time.Time) {
	snaps := n.sessions.Snapshots()
	n.status.Update(connection.Recompute(now, n.table.Entries(), snaps, n.opts.ConnectingWindow))

	byState := make(map[string]int)
	for _, s := range snaps {
		byState[s.State.String()]++
	}
	n.metrics.SetSessions(byState)
	n.metrics.SetDHTNodes(n.table.Len())
}

// nextInterval is the time to the earliest scheduled work, clamped to
// [MinIterationInterval, MaxIterationInterval].
func (n *Node) nextInterval(now time.Time) time.Duration {
	var next time.Time
	consider := func(t time.Time) {
		if !t.IsZero() && (next.IsZero() || t.Before(next)) {
			next = t
		}
	}
	if n.udp != nil {
		consider(n.nextPing)
		consider(n.nextGetNodes)
		if n.lanDests != nil {
			consider(n.nextLAN)
		}
		for _, s := range n.seeds {
			consider(s.next)
		}
	}
	consider(n.sessions.NextDeadline(now))

	d := MaxIterationInterval
	if !next.IsZero() {
		d = next.Sub(now)
	}
	switch {
	case d < MinIterationInterval:
		return MinIterationInterval
	case d > MaxIterationInterval:
		return MaxIterationInterval
	}
	return d
}
