// Package quic carries node datagrams to and from relays over QUIC
// unreliable datagrams. Both ends implement transport.PacketConn, so a
// relay is driven by the same non-blocking loop as a UDP socket.
package quic

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	q "github.com/quic-go/quic-go"

	"github.com/TheusHen/toxcore/toxcore/transport"
)

const (
	DefaultIdleTimeout = 60 * time.Second
	DefaultKeepAlive   = 15 * time.Second
)

var (
	ErrDatagramTooLarge = errors.New("quic: datagram exceeds path limit")
)

func config() *q.Config {
	return &q.Config{
		EnableDatagrams: true,
		MaxIdleTimeout:  DefaultIdleTimeout,
		KeepAlivePeriod: DefaultKeepAlive,
	}
}

func addrPort(a net.Addr) netip.AddrPort {
	if ua, ok := a.(*net.UDPAddr); ok {
		ap := ua.AddrPort()
		return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
	}
	ap, _ := netip.ParseAddrPort(a.String())
	return ap
}

func send(c *q.Conn, b []byte) (int, error) {
	if err := c.SendDatagram(b); err != nil {
		var tooLarge *q.DatagramTooLargeError
		if errors.As(err, &tooLarge) {
			return 0, fmt.Errorf("%w: %d bytes", ErrDatagramTooLarge, len(b))
		}
		return 0, err
	}
	return len(b), nil
}

// pump moves datagrams from c into inbox until c or ctx ends.
func pump(ctx context.Context, c *q.Conn, from netip.AddrPort, inbox *transport.Inbox) {
	for {
		b, err := c.ReceiveDatagram(ctx)
		if err != nil {
			return
		}
		inbox.Push(b, from)
	}
}

// RelayConn is a client connection to a single relay.
type RelayConn struct {
	conn   *q.Conn
	local  netip.AddrPort
	remote netip.AddrPort
	inbox  *transport.Inbox
	cancel context.CancelFunc
	once   sync.Once
}

// DialRelay connects to a relay listening on addr.
func DialRelay(ctx context.Context, addr string) (*RelayConn, error) {
	tlsConf, err := NewClientTLSConfig()
	if err != nil {
		return nil, err
	}
	c, err := q.DialAddr(ctx, addr, tlsConf, config())
	if err != nil {
		return nil, err
	}
	pctx, cancel := context.WithCancel(context.Background())
	r := &RelayConn{
		conn:   c,
		local:  addrPort(c.LocalAddr()),
		remote: addrPort(c.RemoteAddr()),
		inbox:  transport.NewInbox(transport.DefaultInboxSize),
		cancel: cancel,
	}
	go func() {
		pump(pctx, c, r.remote, r.inbox)
		r.inbox.Close()
	}()
	return r, nil
}

func (r *RelayConn) ReadFrom(b []byte) (int, netip.AddrPort, error) {
	return r.inbox.Pop(b)
}

// WriteTo sends b to the relay. Any other destination is unroutable.
func (r *RelayConn) WriteTo(b []byte, to netip.AddrPort) (int, error) {
	select {
	case <-r.inbox.Done():
		return 0, transport.ErrClosed
	default:
	}
	if to != r.remote {
		return 0, transport.ErrNoRoute
	}
	return send(r.conn, b)
}

func (r *RelayConn) LocalAddr() netip.AddrPort { return r.local }

// RemoteAddr is the relay address datagrams arrive from.
func (r *RelayConn) RemoteAddr() netip.AddrPort { return r.remote }

func (r *RelayConn) Close() error {
	var err error
	r.once.Do(func() {
		r.cancel()
		r.inbox.Close()
		err = r.conn.CloseWithError(0, "")
	})
	return err
}

// Listener accepts relay clients and multiplexes their datagrams by
// remote address.
type Listener struct {
	inner  *q.Listener
	local  netip.AddrPort
	inbox  *transport.Inbox
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	conns map[netip.AddrPort]*q.Conn
	wg    sync.WaitGroup
	once  sync.Once
}

// Listen starts a relay listener on addr, e.g. "0.0.0.0:33445".
func Listen(addr string) (*Listener, error) {
	tlsConf, err := NewServerTLSConfig()
	if err != nil {
		return nil, err
	}
	ln, err := q.ListenAddr(addr, tlsConf, config())
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &Listener{
		inner:  ln,
		local:  addrPort(ln.Addr()),
		inbox:  transport.NewInbox(transport.DefaultInboxSize),
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[netip.AddrPort]*q.Conn),
	}
	l.wg.Add(1)
	go l.acceptLoop()
	return l, nil
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()
	for {
		c, err := l.inner.Accept(l.ctx)
		if err != nil {
			return
		}
		from := addrPort(c.RemoteAddr())
		l.mu.Lock()
		if old, ok := l.conns[from]; ok {
			_ = old.CloseWithError(0, "replaced")
		}
		l.conns[from] = c
		l.mu.Unlock()

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			pump(l.ctx, c, from, l.inbox)
			l.mu.Lock()
			if l.conns[from] == c {
				delete(l.conns, from)
			}
			l.mu.Unlock()
		}()
	}
}

func (l *Listener) ReadFrom(b []byte) (int, netip.AddrPort, error) {
	return l.inbox.Pop(b)
}

// WriteTo sends b to the connected client at to.
func (l *Listener) WriteTo(b []byte, to netip.AddrPort) (int, error) {
	l.mu.Lock()
	c, ok := l.conns[to]
	l.mu.Unlock()
	if !ok {
		select {
		case <-l.inbox.Done():
			return 0, transport.ErrClosed
		default:
		}
		return 0, transport.ErrNoRoute
	}
	return send(c, b)
}

func (l *Listener) LocalAddr() netip.AddrPort { return l.local }

func (l *Listener) Addr() net.Addr { return l.inner.Addr() }

// Clients returns the number of connected clients.
func (l *Listener) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.conns)
}

func (l *Listener) Close() error {
	var err error
	l.once.Do(func() {
		l.cancel()
		l.mu.Lock()
		for _, c := range l.conns {
			_ = c.CloseWithError(0, "")
		}
		l.mu.Unlock()
		err = l.inner.Close()
		l.wg.Wait()
		l.inbox.Close()
	})
	return err
}
