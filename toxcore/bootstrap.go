package toxcore

import (
	"context"
	"time"

	"go.uber.org/multierr"

	"github.com/TheusHen/toxcore/toxcore/crypto"
	"github.com/TheusHen/toxcore/toxcore/discovery"
	"github.com/TheusHen/toxcore/toxcore/protocol"
	"github.com/TheusHen/toxcore/toxcore/transport"
)

// Bootstrap resolves host and adds every address it yields as a bootstrap
// node with key pk. The node is asked for nodes close to us on the next
// Iterate and retried with backoff until it answers.
//
// Resolution runs without holding the node's lock, so Iterate may proceed
// concurrently.
func (n *Node) Bootstrap(ctx context.Context, host string, port uint16, pk crypto.PublicKey) error {
	node := discovery.BootstrapNode{Host: host, Port: port, PublicKey: pk}

	n.mu.Lock()
	closed, hasUDP, ipv6, resolver := n.closed, n.udp != nil, n.ipv6(), n.resolver
	n.mu.Unlock()
	switch {
	case closed:
		return ErrClosed
	case !hasUDP:
		return &NetworkError{Op: "bootstrap", Addr: node.String(), Err: ErrUDPDisabled}
	}

	addrs, err := discovery.Resolve(ctx, resolver, node, ipv6)
	if err != nil {
		return &NetworkError{Op: "bootstrap", Addr: node.String(), Err: err}
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrClosed
	}
	for _, ap := range addrs {
		pa := protocol.PeerAddress{PublicKey: pk, Addr: ap, Transport: protocol.TransportUDP}
		if s, ok := n.seeds[pa]; ok {
			s.failures = 0
			s.next = time.Time{}
			continue
		}
		n.seeds[pa] = &seed{addr: pa}
	}
	n.dhtLog.Info("bootstrap node added", "node", node, "addrs", len(addrs))
	return nil
}

// AddRelay resolves host, dials the first address that accepts and keeps
// an encrypted session with the relay at pk over that connection.
// Re-adding a relay replaces its connection.
func (n *Node) AddRelay(ctx context.Context, host string, port uint16, pk crypto.PublicKey) error {
	node := discovery.BootstrapNode{Host: host, Port: port, PublicKey: pk}

	n.mu.Lock()
	closed, ipv6, resolver, dial := n.closed, n.ipv6(), n.resolver, n.opts.RelayDialer
	n.mu.Unlock()
	if closed {
		return ErrClosed
	}

	addrs, err := discovery.Resolve(ctx, resolver, node, ipv6)
	if err != nil {
		return &NetworkError{Op: "relay", Addr: node.String(), Err: err}
	}

	var dialErr error
	for _, ap := range addrs {
		conn, err := dial(ctx, ap)
		if err != nil {
			dialErr = multierr.Append(dialErr, err)
			continue
		}
		pa := protocol.PeerAddress{PublicKey: pk, Addr: ap, Transport: protocol.TransportTCPRelay}
		return n.addRelayLink(conn, pa)
	}
	return &NetworkError{Op: "relay", Addr: node.String(), Err: dialErr}
}

func (n *Node) addRelayLink(conn transport.PacketConn, pa protocol.PeerAddress) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		_ = conn.Close()
		return ErrClosed
	}
	if old, ok := n.relays[pa.Addr]; ok {
		_ = old.conn.Close()
	}
	n.relays[pa.Addr] = &link{conn: conn, kind: protocol.TransportTCPRelay, peer: pa}
	n.log.Info("relay added", "relay", pa)
	return nil
}
