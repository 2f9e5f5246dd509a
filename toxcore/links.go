package toxcore

import (
	"context"
	"errors"
	"net/netip"
	"sort"

	"github.com/TheusHen/toxcore/toxcore/protocol"
	"github.com/TheusHen/toxcore/toxcore/transport"
	"github.com/TheusHen/toxcore/toxcore/transport/quic"
)

// link is one transport the node reads and writes. Dialed relays carry
// the address and key of the relay at the other end.
type link struct {
	conn transport.PacketConn
	kind protocol.Transport
	peer protocol.PeerAddress
}

func dialQUICRelay(ctx context.Context, addr netip.AddrPort) (transport.PacketConn, error) {
	return quic.DialRelay(ctx, addr.String())
}

// links returns every open transport in a fixed order.
func (n *Node) links() []*link {
	var out []*link
	if n.udp != nil {
		out = append(out, n.udp)
	}
	if n.listener != nil {
		out = append(out, n.listener)
	}
	for _, ap := range sortedAddrs(n.relays) {
		out = append(out, n.relays[ap])
	}
	return out
}

// send writes data to to over the matching transport.
func (n *Node) send(to protocol.PeerAddress, data []byte) error {
	var conn transport.PacketConn
	switch {
	case to.Transport == protocol.TransportUDP && n.udp != nil:
		conn = n.udp.conn
	case to.Transport == protocol.TransportTCPRelay:
		if l, ok := n.relays[to.Addr]; ok {
			conn = l.conn
		} else if n.listener != nil {
			conn = n.listener.conn
		}
	}
	if conn == nil {
		n.metrics.Drop("no_route")
		return &NetworkError{Op: "send", Addr: to.Addr.String(), Err: transport.ErrNoRoute}
	}
	if _, err := conn.WriteTo(data, to.Addr); err != nil {
		n.metrics.Drop("write_error")
		n.log.Debug("write failed", "to", to, "err", err)
		return &NetworkError{Op: "send", Addr: to.Addr.String(), Err: err}
	}
	n.metrics.PacketOut(protocol.PacketType(data[0]).String())
	return nil
}

// dropLink forgets a relay whose transport closed under us.
func (n *Node) dropLink(l *link) {
	if l == n.udp || l == n.listener {
		n.log.Error("transport closed", "transport", l.kind, "local", l.conn.LocalAddr())
		if l == n.udp {
			n.udp = nil
		} else {
			n.listener = nil
		}
		return
	}
	for ap, r := range n.relays {
		if r == l {
			delete(n.relays, ap)
			n.log.Warn("relay connection lost", "relay", l.peer)
		}
	}
}

func isClosed(err error) bool {
	return errors.Is(err, transport.ErrClosed)
}

func sortedAddrs[V any](m map[netip.AddrPort]V) []netip.AddrPort {
	out := make([]netip.AddrPort, 0, len(m))
	for ap := range m {
		out = append(out, ap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out
}
