package toxcore

import (
	"context"
	"net/netip"
	"sort"
	"time"

	"github.com/TheusHen/toxcore/toxcore/crypto"
	"github.com/TheusHen/toxcore/toxcore/dht"
	"github.com/TheusHen/toxcore/toxcore/logging"
	"github.com/TheusHen/toxcore/toxcore/protocol"
	"github.com/TheusHen/toxcore/toxcore/session"
	"github.com/TheusHen/toxcore/toxcore/transport/lan"
)

const (
	// lookupFanout is how many nodes a periodic self lookup asks.
	lookupFanout = 3

	maxBootstrapBackoff = 60 * time.Second

	// sharedKeyCacheSize bounds the precomputed keys kept for DHT peers.
	sharedKeyCacheSize = 1024
)

// seed is a bootstrap node, queried until it answers.
type seed struct {
	addr     protocol.PeerAddress
	failures int
	next     time.Time
}

func (n *Node) runDHT(now time.Time) {
	if n.udp == nil {
		return
	}
	n.runSeeds(now)
	if !now.Before(n.nextPing) {
		n.pingAll(now)
		n.nextPing = now.Add(n.opts.PingInterval)
	}
	if !now.Before(n.nextGetNodes) {
		n.lookupSelf(now)
		n.nextGetNodes = now.Add(n.opts.GetNodesInterval)
	}
	if n.lanDests != nil && !now.Before(n.nextLAN) {
		n.announceLAN()
		n.nextLAN = now.Add(n.opts.LANInterval)
	}
}

// runSeeds asks every due bootstrap node for the nodes closest to us. A
// seed that is a fresh confirmed table entry is left to regular
// maintenance.
func (n *Node) runSeeds(now time.Time) {
	backoff := session.Backoff{Base: n.opts.BootstrapInterval, Max: maxBootstrapBackoff}
	for _, s := range n.sortedSeeds() {
		if now.Before(s.next) {
			continue
		}
		if e, ok := n.table.Get(s.addr.PublicKey); ok && e.Confirmed && now.Sub(e.LastSeen) < n.opts.PingInterval {
			s.failures = 0
			s.next = now.Add(n.opts.BootstrapInterval)
			continue
		}
		n.request(now, s.addr, protocol.PacketGetNodes, n.Self())
		s.failures++
		s.next = now.Add(backoff.Delay(s.failures))
		if s.failures > 1 {
			n.dhtLog.Debug("bootstrap node silent", "node", s.addr, "attempts", s.failures, "retry_in", s.next.Sub(now))
		}
	}
	n.checkReachable()
}

// checkReachable reports, once per episode, that the table is empty and
// every bootstrap node left at least one request unanswered.
func (n *Node) checkReachable() {
	unreachable := n.table.Len() == 0 && len(n.seeds) > 0
	for _, s := range n.seeds {
		if s.failures < 2 {
			unreachable = false
			break
		}
	}
	if unreachable == n.unreachable {
		return
	}
	n.unreachable = unreachable
	n.metrics.SetUnreachable(unreachable)
	if unreachable {
		n.dhtLog.Warn("no DHT nodes known and no bootstrap node reachable", "bootstrap_nodes", len(n.seeds))
	} else {
		n.dhtLog.Info("DHT reachable again", "nodes", n.table.Len())
	}
}

func (n *Node) sortedSeeds() []*seed {
	out := make([]*seed, 0, len(n.seeds))
	for _, s := range n.seeds {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].addr.Addr.Compare(out[j].addr.Addr); c != 0 {
			return c < 0
		}
		return string(out[i].addr.PublicKey[:]) < string(out[j].addr.PublicKey[:])
	})
	return out
}

func (n *Node) pingAll(now time.Time) {
	for _, e := range n.table.Entries() {
		if !n.pings.Outstanding(e.Addr.PublicKey, protocol.PacketPingRequest, now) {
			n.request(now, e.Addr, protocol.PacketPingRequest, crypto.PublicKey{})
		}
	}
}

// lookupSelf asks the closest nodes for nodes closer to us.
func (n *Node) lookupSelf(now time.Time) {
	targets := n.table.Confirmed(n.Self(), lookupFanout)
	if len(targets) == 0 {
		targets = n.table.Closest(n.Self(), lookupFanout, nil)
	}
	for _, e := range targets {
		if !n.pings.Outstanding(e.Addr.PublicKey, protocol.PacketGetNodes, now) {
			n.request(now, e.Addr, protocol.PacketGetNodes, n.Self())
		}
	}
}

func (n *Node) announceLAN() {
	raw := protocol.EncodeLANDiscovery(n.Self())
	for _, dst := range n.lanDests {
		if _, err := n.udp.conn.WriteTo(raw, dst); err == nil {
			n.metrics.PacketOut(protocol.PacketLANDiscovery.String())
		}
	}
}

// request sends a ping (t == PacketPingRequest) or a get-nodes query for
// target, tracking its id.
func (n *Node) request(now time.Time, to protocol.PeerAddress, t protocol.PacketType, target crypto.PublicKey) {
	id, err := n.pings.Issue(to.PublicKey, t, now)
	if err != nil {
		n.dhtLog.Warn("request id", "err", err)
		return
	}
	var payload []byte
	if t == protocol.PacketGetNodes {
		payload = protocol.GetNodes{Target: target, ID: id}.Encode()
	} else {
		payload = protocol.Ping{ID: id}.Encode()
	}
	raw, err := protocol.SealDHTShared(t, n.Self(), n.sharedKey(to.PublicKey), payload)
	if err != nil {
		n.dhtLog.Warn("seal request", "type", t, "err", err)
		return
	}
	if n.send(to, raw) == nil {
		n.dhtLog.Log(context.Background(), logging.LevelTrace, "request sent", "type", t, "to", to)
	}
}

func (n *Node) reply(to protocol.PeerAddress, t protocol.PacketType, payload []byte) {
	raw, err := protocol.SealDHTShared(t, n.Self(), n.sharedKey(to.PublicKey), payload)
	if err != nil {
		n.dhtLog.Warn("seal reply", "type", t, "err", err)
		return
	}
	_ = n.send(to, raw)
}

// sharedKey returns the key shared with a DHT peer, computing it on first
// use.
func (n *Node) sharedKey(pk crypto.PublicKey) *crypto.SharedKey {
	if k, ok := n.shared.Get(pk); ok {
		return k
	}
	k := crypto.Precompute(pk, n.id.KeyPair.Secret)
	n.shared.Add(pk, &k)
	return &k
}

func (n *Node) handleDHT(now time.Time, from netip.AddrPort, data []byte) error {
	p, err := protocol.ParseDHTPacket(data)
	if err != nil {
		return err
	}
	if p.Sender == n.Self() {
		return errLoopback
	}
	plain, err := protocol.OpenDHTShared(p, n.sharedKey(p.Sender))
	if err != nil {
		return err
	}
	peer := protocol.PeerAddress{PublicKey: p.Sender, Addr: from, Transport: protocol.TransportUDP}

	switch p.Type {
	case protocol.PacketPingRequest:
		ping, err := protocol.DecodePing(p.Type, plain)
		if err != nil {
			return err
		}
		n.heard(now, peer)
		n.reply(peer, protocol.PacketPingResponse, protocol.Ping{Response: true, ID: ping.ID}.Encode())

	case protocol.PacketPingResponse:
		ping, err := protocol.DecodePing(p.Type, plain)
		if err != nil {
			return err
		}
		rtt, ok := n.pings.Resolve(ping.ID, p.Sender, protocol.PacketPingRequest, now)
		if !ok {
			return errUnsolicited
		}
		n.table.MarkResponded(peer, now, rtt)

	case protocol.PacketGetNodes:
		req, err := protocol.DecodeGetNodes(plain)
		if err != nil {
			return err
		}
		n.heard(now, peer)
		if !n.opts.DHTAnnouncementsEnabled {
			return nil
		}
		resp := protocol.SendNodes{ID: req.ID}
		for _, e := range n.table.Closest(req.Target, protocol.MaxSendNodes, func(e dht.Entry) bool {
			return e.Confirmed && e.Addr.PublicKey != p.Sender
		}) {
			resp.Nodes = append(resp.Nodes, e.Addr)
		}
		payload, err := resp.Encode()
		if err != nil {
			return err
		}
		n.reply(peer, protocol.PacketSendNodes, payload)

	case protocol.PacketSendNodes:
		resp, err := protocol.DecodeSendNodes(plain)
		if err != nil {
			return err
		}
		rtt, ok := n.pings.Resolve(resp.ID, p.Sender, protocol.PacketGetNodes, now)
		if !ok {
			return errUnsolicited
		}
		n.table.MarkResponded(peer, now, rtt)
		if s, ok := n.seeds[peer]; ok {
			s.failures = 0
			s.next = now.Add(n.opts.BootstrapInterval)
		}
		for _, node := range resp.Nodes {
			n.discovered(now, node)
		}
	}
	return nil
}

// heard records a node that sent us a request. Its address is not trusted
// until it answers a request of ours.
func (n *Node) heard(now time.Time, peer protocol.PeerAddress) {
	if !n.usable(peer.Addr.Addr()) {
		return
	}
	if e, ok := n.table.Get(peer.PublicKey); ok && e.Confirmed {
		if e.Addr.Addr == peer.Addr {
			n.table.Touch(peer.PublicKey, now)
		}
		return
	}
	if n.table.InsertOrUpdate(dht.Entry{Addr: peer, LastSeen: now}) &&
		!n.pings.Outstanding(peer.PublicKey, protocol.PacketPingRequest, now) {
		n.request(now, peer, protocol.PacketPingRequest, crypto.PublicKey{})
	}
}

// discovered handles a node learned from a send-nodes answer or LAN
// discovery by asking it for nodes close to us.
func (n *Node) discovered(now time.Time, node protocol.PeerAddress) {
	if node.PublicKey == n.Self() || node.Transport != protocol.TransportUDP ||
		!node.IsValid() || !n.usable(node.Addr.Addr()) {
		return
	}
	if _, ok := n.table.Get(node.PublicKey); ok {
		return
	}
	if n.table.InsertOrUpdate(dht.Entry{Addr: node, LastSeen: now}) {
		n.request(now, node, protocol.PacketGetNodes, n.Self())
	}
}

func (n *Node) handleLAN(now time.Time, l *link, from netip.AddrPort, data []byte) error {
	if l.kind != protocol.TransportUDP {
		return errWrongTransport
	}
	pk, err := protocol.ParseLANDiscovery(data)
	if err != nil {
		return err
	}
	if pk == n.Self() {
		return nil
	}
	if !lan.IsLAN(from.Addr()) {
		return errNotLAN
	}
	if n.lanDests == nil || !n.opts.DHTAnnouncementsEnabled {
		return nil
	}
	n.dhtLog.Debug("LAN peer", "peer", pk.Short(), "addr", from)
	n.discovered(now, protocol.PeerAddress{PublicKey: pk, Addr: from, Transport: protocol.TransportUDP})
	return nil
}
