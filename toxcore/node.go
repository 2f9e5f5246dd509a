package toxcore

import (
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/multierr"

	"github.com/TheusHen/toxcore/toxcore/connection"
	"github.com/TheusHen/toxcore/toxcore/crypto"
	"github.com/TheusHen/toxcore/toxcore/dht"
	"github.com/TheusHen/toxcore/toxcore/discovery"
	"github.com/TheusHen/toxcore/toxcore/identity"
	"github.com/TheusHen/toxcore/toxcore/logging"
	"github.com/TheusHen/toxcore/toxcore/metrics"
	"github.com/TheusHen/toxcore/toxcore/protocol"
	"github.com/TheusHen/toxcore/toxcore/savestate"
	"github.com/TheusHen/toxcore/toxcore/session"
	"github.com/TheusHen/toxcore/toxcore/transport/lan"
	"github.com/TheusHen/toxcore/toxcore/transport/udp"
)

// maxSavedNodes bounds the node list written by SaveState.
const maxSavedNodes = 64

// Node is one overlay client. Iterate drives it; every other method may
// be called between iterations from any goroutine.
type Node struct {
	mu sync.Mutex

	opts     Options
	id       identity.Identity
	log      *slog.Logger
	dhtLog   *slog.Logger
	table    *dht.Table
	pings    *dht.PingTracker
	shared   *lru.Cache[crypto.PublicKey, *crypto.SharedKey]
	sessions *session.Manager
	status   *connection.Tracker
	metrics  *metrics.Metrics
	resolver discovery.Resolver

	udp      *link
	listener *link
	relays   map[netip.AddrPort]*link
	seeds    map[protocol.PeerAddress]*seed
	lanDests []netip.AddrPort

	nextPing     time.Time
	nextGetNodes time.Time
	nextLAN      time.Time
	lastNow      time.Time
	interval     time.Duration

	unreachable bool

	buf    []byte
	events []func()
	closed bool
}

// New creates a node, binding its UDP socket when UDP is enabled.
func New(opts Options) (*Node, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	base := slog.New(logging.NewHandler(opts.LogObserver, opts.LogLevel))

	id, saved, err := loadIdentity(opts)
	if err != nil {
		return nil, err
	}

	n := &Node{
		opts:     opts,
		id:       id,
		log:      logging.Subsystem(base, "node"),
		dhtLog:   logging.Subsystem(base, "dht"),
		metrics:  metrics.New(opts.MetricsRegisterer),
		resolver: opts.Resolver,
		relays:   make(map[netip.AddrPort]*link),
		seeds:    make(map[protocol.PeerAddress]*seed),
		interval: MaxIterationInterval,
		buf:      make([]byte, udp.MaxDatagramSize),
	}
	if n.resolver == nil {
		n.resolver = discovery.System{}
	}
	if n.opts.RelayDialer == nil {
		n.opts.RelayDialer = dialQUICRelay
	}
	n.table = dht.NewTable(id.KeyPair.Public, dht.TableConfig{
		StaleAfter: opts.StaleAfter,
		Logger:     n.dhtLog,
	})
	if n.pings, err = dht.NewPingTracker(dht.DefaultTrackerSize, dht.DefaultRequestTimeout); err != nil {
		return nil, err
	}
	if n.shared, err = lru.NewWithEvict(sharedKeyCacheSize, func(_ crypto.PublicKey, k *crypto.SharedKey) { k.Wipe() }); err != nil {
		return nil, err
	}

	scfg := opts.Session
	scfg.Self = id.KeyPair
	scfg.Logger = logging.Subsystem(base, "session")
	scfg.Deliver = n.deliver
	if n.sessions, err = session.NewManager(scfg); err != nil {
		return nil, &ConfigError{Field: "Session", Reason: err.Error()}
	}
	n.status = connection.NewTracker(connection.ObserverFunc(n.statusChanged))

	if err := n.openSockets(); err != nil {
		n.id.Wipe()
		return nil, err
	}
	for _, s := range saved {
		if s.Addr.Transport == protocol.TransportUDP && n.usable(s.Addr.Addr.Addr()) {
			n.seeds[s.Addr] = &seed{addr: s.Addr}
		}
	}
	n.log.Info("node created", "self", id.KeyPair.Public.Short(), "udp", n.localAddr(), "saved_nodes", len(n.seeds))
	return n, nil
}

func loadIdentity(opts Options) (identity.Identity, []savestate.Node, error) {
	if len(opts.SaveState) == 0 {
		id, err := identity.Generate()
		return id, nil, err
	}
	st, err := savestate.Decode(opts.SaveState, opts.SavePassphrase)
	if err != nil {
		return identity.Identity{}, nil, fmt.Errorf("toxcore: load save state: %w", err)
	}
	defer st.Wipe()
	id, err := identity.FromSecret(st.Secret, st.Nospam)
	if err != nil {
		return identity.Identity{}, nil, fmt.Errorf("toxcore: load save state: %w", err)
	}
	return id, st.Nodes, nil
}

func (n *Node) openSockets() error {
	if n.opts.UDPEnabled {
		conn := n.opts.Socket
		if conn == nil {
			c, err := bindUDP(n.opts)
			if err != nil {
				return err
			}
			if n.opts.LocalDiscoveryEnabled {
				if err := lan.Enable(c.UDPConn(), c.LocalAddr().Addr().Is6()); err != nil {
					n.log.Warn("LAN discovery setup", "err", err)
				}
			}
			conn = c
		}
		n.udp = &link{conn: conn, kind: protocol.TransportUDP}
		if n.opts.LocalDiscoveryEnabled {
			n.lanDests = n.opts.LANTargets
			if n.lanDests == nil {
				n.lanDests = lan.Targets(n.ipv6(), n.opts.lanPorts())
			}
		}
	}
	if n.opts.RelayListener != nil {
		n.listener = &link{conn: n.opts.RelayListener, kind: protocol.TransportTCPRelay}
	}
	return nil
}

// bindUDP binds a dual-stack socket when IPv6 is enabled, falling back to
// IPv4 only.
func bindUDP(opts Options) (*udp.Conn, error) {
	if opts.IPv6Enabled {
		c, err := udp.ListenRange("udp", netip.IPv6Unspecified(), opts.StartPort, opts.EndPort)
		if err == nil {
			return c, nil
		}
	}
	c, err := udp.ListenRange("udp4", netip.IPv4Unspecified(), opts.StartPort, opts.EndPort)
	if err != nil {
		return nil, &NetworkError{Op: "bind", Addr: fmt.Sprintf("ports %d-%d", opts.StartPort, opts.EndPort), Err: err}
	}
	return c, nil
}

// ipv6 reports whether IPv6 peers can be reached.
func (n *Node) ipv6() bool {
	if !n.opts.IPv6Enabled {
		return false
	}
	if n.udp == nil {
		return true
	}
	a := n.udp.conn.LocalAddr().Addr()
	return a.Is6() && !a.Is4In6()
}

func (n *Node) usable(a netip.Addr) bool {
	return a.Unmap().Is4() || n.ipv6()
}

func (n *Node) deliver(peer crypto.PublicKey, payload []byte) {
	obs := n.opts.MessageObserver
	if obs == nil {
		return
	}
	cp := append([]byte(nil), payload...)
	n.events = append(n.events, func() { obs.Received(peer, cp) })
}

func (n *Node) statusChanged(s connection.Status) {
	n.log.Info("connection status changed", "status", s)
	n.metrics.SetStatus(int(s))
	if obs := n.opts.StatusObserver; obs != nil {
		n.events = append(n.events, func() { obs.StatusChanged(s) })
	}
}

// Self returns the node's public key.
func (n *Node) Self() crypto.PublicKey { return n.id.KeyPair.Public }

// Address returns the Tox address friends use to reach this node.
func (n *Node) Address() identity.Address {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.id.Address()
}

// LocalAddr returns the bound UDP address, or the zero value without UDP.
func (n *Node) LocalAddr() netip.AddrPort {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.localAddr()
}

func (n *Node) localAddr() netip.AddrPort {
	if n.udp == nil {
		return netip.AddrPort{}
	}
	return n.udp.conn.LocalAddr()
}

// ConnectionStatus returns the status computed by the last Iterate.
func (n *Node) ConnectionStatus() ConnectionStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status.Status()
}

// IterationInterval returns how long the host should wait before the
// next Iterate, as computed by the last one.
func (n *Node) IterationInterval() time.Duration {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.interval
}

// Sessions returns the live handshake sessions.
func (n *Node) Sessions() []session.Snapshot {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sessions.Snapshots()
}

// DHTNodes returns the DHT table, closest to self first.
func (n *Node) DHTNodes() []dht.Entry {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.table.Entries()
}

// Send encrypts payload for the established session with peer. The
// datagram is written at once.
func (n *Node) Send(peer crypto.PublicKey, payload []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrClosed
	}
	out, err := n.sessions.Send(n.lastNow, peer, payload)
	if err != nil {
		return err
	}
	return n.send(out.To, out.Data)
}

// SaveState encodes the identity and the closest confirmed DHT nodes,
// sealed with Options.SavePassphrase when set.
func (n *Node) SaveState() ([]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, ErrClosed
	}
	st := savestate.State{Secret: n.id.KeyPair.Secret, Nospam: n.id.Nospam}
	defer st.Wipe()
	for _, e := range n.table.Confirmed(n.Self(), maxSavedNodes) {
		st.Nodes = append(st.Nodes, savestate.Node{Addr: e.Addr, LastSeen: e.LastSeen})
	}
	return savestate.Encode(st, n.opts.SavePassphrase)
}

// Close releases every socket, drops every session and wipes the secret
// key. Later calls return nil.
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	n.sessions.Close()
	n.pings.Purge()
	n.shared.Purge()

	var err error
	for _, l := range n.links() {
		err = multierr.Append(err, l.conn.Close())
	}
	n.relays = nil
	n.udp, n.listener = nil, nil
	n.id.Wipe()
	n.log.Info("node closed")
	return err
}
