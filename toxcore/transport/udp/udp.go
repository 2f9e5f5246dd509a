// Package udp is the direct UDP transport.
package udp

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/TheusHen/toxcore/toxcore/transport"
)

// MaxDatagramSize bounds a single read.
const MaxDatagramSize = 65535

const (
	minErrorPause = time.Millisecond
	maxErrorPause = time.Second
)

var (
	ErrEmptyPortRange = errors.New("udp: empty port range")
)

// Conn is a UDP socket drained by a reader goroutine.
type Conn struct {
	conn   *net.UDPConn
	local  netip.AddrPort
	inbox  *transport.Inbox
	closed atomic.Bool
}

// Listen binds network ("udp", "udp4" or "udp6") on ip:port.
func Listen(network string, ip netip.Addr, port uint16) (*Conn, error) {
	uc, err := net.ListenUDP(network, net.UDPAddrFromAddrPort(netip.AddrPortFrom(ip, port)))
	if err != nil {
		return nil, err
	}
	c := &Conn{
		conn:  uc,
		local: uc.LocalAddr().(*net.UDPAddr).AddrPort(),
		inbox: transport.NewInbox(transport.DefaultInboxSize),
	}
	go c.readLoop(uc, time.Sleep)
	return c, nil
}

// ListenRange binds the first free port in [start, end]. Port 0 for both
// lets the system pick.
func ListenRange(network string, ip netip.Addr, start, end uint16) (*Conn, error) {
	if start == 0 && end == 0 {
		return Listen(network, ip, 0)
	}
	if start == 0 || end < start {
		return nil, ErrEmptyPortRange
	}
	var lastErr error
	for p := uint32(start); p <= uint32(end); p++ {
		c, err := Listen(network, ip, uint16(p))
		if err == nil {
			return c, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("udp: no free port in %d-%d: %w", start, end, lastErr)
}

type datagramReader interface {
	ReadFromUDPAddrPort(b []byte) (int, netip.AddrPort, error)
}

// readLoop moves datagrams from r into the inbox until the socket closes.
// Consecutive read errors pause the loop for a doubling interval.
func (c *Conn) readLoop(r datagramReader, pause func(time.Duration)) {
	buf := make([]byte, MaxDatagramSize)
	wait := time.Duration(0)
	for {
		n, from, err := r.ReadFromUDPAddrPort(buf)
		if err != nil {
			if c.closed.Load() || errors.Is(err, net.ErrClosed) {
				c.inbox.Close()
				return
			}
			wait = min(max(2*wait, minErrorPause), maxErrorPause)
			pause(wait)
			continue
		}
		wait = 0
		c.inbox.Push(buf[:n], normalize(from))
	}
}

func (c *Conn) ReadFrom(b []byte) (int, netip.AddrPort, error) {
	return c.inbox.Pop(b)
}

func (c *Conn) WriteTo(b []byte, to netip.AddrPort) (int, error) {
	if c.closed.Load() {
		return 0, transport.ErrClosed
	}
	if c.local.Addr().Is4() && !to.Addr().Unmap().Is4() {
		return 0, transport.ErrNoRoute
	}
	if c.local.Addr().Is4() {
		to = netip.AddrPortFrom(to.Addr().Unmap(), to.Port())
	}
	return c.conn.WriteToUDPAddrPort(b, to)
}

func (c *Conn) LocalAddr() netip.AddrPort { return c.local }

// UDPConn exposes the socket for option setting, e.g. LAN multicast.
func (c *Conn) UDPConn() *net.UDPConn { return c.conn }

// Dropped returns how many datagrams were lost to a full inbox.
func (c *Conn) Dropped() uint64 { return c.inbox.Dropped() }

func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.inbox.Close()
	return c.conn.Close()
}

// normalize unmaps IPv4-mapped IPv6 sources so peers are compared by the
// address they would be dialed at.
func normalize(a netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(a.Addr().Unmap(), a.Port())
}
