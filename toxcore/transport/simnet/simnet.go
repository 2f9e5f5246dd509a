// Package simnet is a deterministic in-memory datagram network for tests.
// Every datagram arrives exactly Latency after it was sent, as measured by
// the network's clock. Datagrams to unbound addresses vanish, as they
// would on a real network.
package simnet

import (
	"errors"
	"net/netip"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/TheusHen/toxcore/toxcore/transport"
)

var (
	ErrAddrInUse = errors.New("simnet: address in use")
)

// Filter decides whether a datagram is delivered.
type Filter func(from, to netip.AddrPort, data []byte) bool

type packet struct {
	data []byte
	from netip.AddrPort
	at   time.Time
}

// Network connects Endpoints. Safe for concurrent use.
type Network struct {
	mu        sync.Mutex
	clk       clock.Clock
	latency   time.Duration
	endpoints map[netip.AddrPort]*Endpoint
	filter    Filter

	sent      uint64
	delivered uint64
	lost      uint64
}

func New(clk clock.Clock, latency time.Duration) *Network {
	if clk == nil {
		clk = clock.New()
	}
	return &Network{clk: clk, latency: latency, endpoints: make(map[netip.AddrPort]*Endpoint)}
}

// SetFilter installs f; nil delivers everything.
func (n *Network) SetFilter(f Filter) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.filter = f
}

// Listen binds addr.
func (n *Network) Listen(addr netip.AddrPort) (*Endpoint, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.endpoints[addr]; ok {
		return nil, ErrAddrInUse
	}
	ep := &Endpoint{net: n, addr: addr}
	n.endpoints[addr] = ep
	return ep, nil
}

// Stats returns datagrams sent, delivered to a bound endpoint and lost.
func (n *Network) Stats() (sent, delivered, lost uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sent, n.delivered, n.lost
}

// Endpoint is one bound address. It implements transport.PacketConn.
type Endpoint struct {
	net    *Network
	addr   netip.AddrPort
	queue  []packet
	closed bool
}

func (e *Endpoint) ReadFrom(b []byte) (int, netip.AddrPort, error) {
	n := e.net
	n.mu.Lock()
	defer n.mu.Unlock()
	if e.closed {
		return 0, netip.AddrPort{}, transport.ErrClosed
	}
	if len(e.queue) == 0 || e.queue[0].at.After(n.clk.Now()) {
		return 0, netip.AddrPort{}, transport.ErrWouldBlock
	}
	p := e.queue[0]
	e.queue[0] = packet{}
	e.queue = e.queue[1:]
	return copy(b, p.data), p.from, nil
}

func (e *Endpoint) WriteTo(b []byte, to netip.AddrPort) (int, error) {
	n := e.net
	n.mu.Lock()
	defer n.mu.Unlock()
	if e.closed {
		return 0, transport.ErrClosed
	}
	n.sent++
	dst, ok := n.endpoints[to]
	if !ok || (n.filter != nil && !n.filter(e.addr, to, b)) {
		n.lost++
		return len(b), nil
	}
	n.delivered++
	dst.queue = append(dst.queue, packet{
		data: append([]byte(nil), b...),
		from: e.addr,
		at:   n.clk.Now().Add(n.latency),
	})
	return len(b), nil
}

func (e *Endpoint) LocalAddr() netip.AddrPort { return e.addr }

// Pending returns the number of queued datagrams, due or not.
func (e *Endpoint) Pending() int {
	e.net.mu.Lock()
	defer e.net.mu.Unlock()
	return len(e.queue)
}

func (e *Endpoint) Close() error {
	n := e.net
	n.mu.Lock()
	defer n.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.queue = nil
	if n.endpoints[e.addr] == e {
		delete(n.endpoints, e.addr)
	}
	return nil
}
