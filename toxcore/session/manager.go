package session

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/TheusHen/toxcore/toxcore/crypto"
	"github.com/TheusHen/toxcore/toxcore/logging"
	"github.com/TheusHen/toxcore/toxcore/protocol"
)

var (
	ErrUnknownSession   = errors.New("session: no session for packet")
	ErrUnexpectedPacket = errors.New("session: packet not expected in current state")
	ErrStaleRequest     = errors.New("session: handshake request timestamp out of range")
	ErrReplayedRequest  = errors.New("session: handshake request replayed")
	ErrSimultaneousOpen = errors.New("session: simultaneous open, peer yields")
	ErrTooManySessions  = errors.New("session: session limit reached")
	ErrNoSession        = errors.New("session: no established session with peer")
	ErrEchoMismatch     = errors.New("session: echo id mismatch")
	ErrLoopback         = errors.New("session: packet from own key")
	ErrInvalidConfig    = errors.New("session: invalid config")
)

const (
	DefaultHandshakeTimeout = 5 * time.Second
	DefaultKeepAlive        = 8 * time.Second
	DefaultIdleTimeout      = 32 * time.Second
	DefaultMaxRequestAge    = 60 * time.Second
	DefaultReplayCacheSize  = 4096
	DefaultMaxSessions      = 512
)

// Config configures a Manager. Self is required; zero durations take the
// defaults.
type Config struct {
	Self crypto.KeyPair

	HandshakeTimeout time.Duration
	KeepAlive        time.Duration
	IdleTimeout      time.Duration
	MaxRequestAge    time.Duration
	Backoff          Backoff
	ReplayCacheSize  int
	// MaxSessions bounds sessions with targeted peers and, separately,
	// sessions with peers that were not targeted.
	MaxSessions int

	Logger *slog.Logger

	// Deliver receives application payloads from established sessions.
	Deliver func(peer crypto.PublicKey, payload []byte)
}

func (c *Config) setDefaults() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = DefaultKeepAlive
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.MaxRequestAge <= 0 {
		c.MaxRequestAge = DefaultMaxRequestAge
	}
	if c.Backoff.Base <= 0 {
		c.Backoff.Base = time.Second
	}
	if c.Backoff.Max <= 0 {
		c.Backoff.Max = 60 * time.Second
	}
	if c.ReplayCacheSize <= 0 {
		c.ReplayCacheSize = DefaultReplayCacheSize
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = DefaultMaxSessions
	}
	if c.Logger == nil {
		c.Logger = logging.Discard()
	}
}

// Outbound is a packet the caller must write to To.
type Outbound struct {
	To   protocol.PeerAddress
	Data []byte
}

type target struct {
	addr        protocol.PeerAddress
	failures    int
	nextAttempt time.Time
}

type replayKey struct {
	peer crypto.PublicKey
	echo uint64
}

// Manager owns every handshake session of a node. It never blocks and
// never reads the clock: callers pass now. Not safe for concurrent use.
type Manager struct {
	cfg      Config
	log      *slog.Logger
	sessions map[crypto.PublicKey]*Session
	targets  map[crypto.PublicKey]*target
	replay   *lru.Cache[replayKey, struct{}]
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Self.Public.IsZero() {
		return nil, fmt.Errorf("%w: missing keypair", ErrInvalidConfig)
	}
	cfg.setDefaults()
	if cfg.KeepAlive >= cfg.IdleTimeout {
		return nil, fmt.Errorf("%w: keepalive %s must be below idle timeout %s", ErrInvalidConfig, cfg.KeepAlive, cfg.IdleTimeout)
	}
	replay, err := lru.New[replayKey, struct{}](cfg.ReplayCacheSize)
	if err != nil {
		return nil, err
	}
	return &Manager{
		cfg:      cfg,
		log:      cfg.Logger,
		sessions: make(map[crypto.PublicKey]*Session),
		targets:  make(map[crypto.PublicKey]*target),
		replay:   replay,
	}, nil
}

// SetTargets replaces the set of peers the manager keeps sessions with.
// Backoff state of peers that stay targeted is kept. Sessions with peers
// that are no longer targeted are left alone.
func (m *Manager) SetTargets(now time.Time, addrs []protocol.PeerAddress) {
	keep := make(map[crypto.PublicKey]*target, len(addrs))
	for _, a := range addrs {
		if !a.IsValid() || a.PublicKey == m.cfg.Self.Public {
			continue
		}
		if t, ok := m.targets[a.PublicKey]; ok {
			t.addr = a
			keep[a.PublicKey] = t
			continue
		}
		keep[a.PublicKey] = &target{addr: a, nextAttempt: now}
	}
	m.targets = keep
}

// Targeted reports whether pk is in the current target set.
func (m *Manager) Targeted(pk crypto.PublicKey) bool {
	_, ok := m.targets[pk]
	return ok
}

// Tick fails sessions whose deadline passed, sends keepalives and starts
// handshakes with targets whose backoff expired.
func (m *Manager) Tick(now time.Time) []Outbound {
	var out []Outbound
	for _, pk := range sortedKeys(m.sessions) {
		s := m.sessions[pk]
		switch {
		case s.state == StateEstablished:
			if now.Sub(s.lastRecv) >= m.cfg.IdleTimeout {
				m.destroy(now, s, "idle timeout")
				continue
			}
			if now.Sub(s.lastSend) >= m.cfg.KeepAlive {
				raw, err := m.sealData(s, protocol.FrameKeepAlive, nil)
				if err != nil {
					m.destroy(now, s, err.Error())
					continue
				}
				s.lastSend = now
				out = append(out, Outbound{To: s.peer, Data: raw})
				m.log.Log(context.Background(), logging.LevelTrace, "keepalive", "peer", pk.Short())
			}
		case !now.Before(s.deadline):
			m.destroy(now, s, "handshake timeout")
		}
	}

	for _, pk := range sortedKeys(m.targets) {
		t := m.targets[pk]
		if _, ok := m.sessions[pk]; ok || now.Before(t.nextAttempt) {
			continue
		}
		if m.countSessions(true) >= m.cfg.MaxSessions {
			break
		}
		raw, err := m.initiate(now, t.addr)
		if err != nil {
			m.log.Warn("start handshake", "peer", pk.Short(), "err", err)
			t.failures++
			t.nextAttempt = now.Add(m.cfg.Backoff.Delay(t.failures))
			continue
		}
		out = append(out, Outbound{To: t.addr, Data: raw})
	}
	return out
}

func (m *Manager) initiate(now time.Time, to protocol.PeerAddress) ([]byte, error) {
	s, err := newSession(to, RoleInitiator, now)
	if err != nil {
		return nil, err
	}
	if s.echoID, err = randomID(); err != nil {
		return nil, err
	}
	hello := protocol.Hello{
		Ephemeral:    s.cipher.LocalEphemeral(),
		NoncePrefix:  s.cipher.LocalPrefix(),
		EchoID:       s.echoID,
		TimestampSec: now.Unix(),
	}
	raw, err := protocol.SealHello(protocol.PacketHandshakeRequest, m.cfg.Self, to.PublicKey, hello)
	if err != nil {
		s.cipher.Wipe()
		return nil, err
	}
	if err := s.advance(StateSent); err != nil {
		s.cipher.Wipe()
		return nil, err
	}
	s.deadline = now.Add(m.cfg.HandshakeTimeout)
	s.lastSend = now
	m.sessions[to.PublicKey] = s
	m.log.Debug("handshake request sent", "peer", to.PublicKey.Short(), "addr", to.Addr, "transport", to.Transport)
	return raw, nil
}

// HandlePacket processes one handshake-layer datagram received from addr
// over tr. Returned errors describe why the packet was dropped; none of
// them is fatal.
func (m *Manager) HandlePacket(now time.Time, addr netip.AddrPort, tr protocol.Transport, data []byte) ([]Outbound, error) {
	p, err := protocol.ParseHandshakePacket(data)
	if err != nil {
		return nil, err
	}
	if p.Sender == m.cfg.Self.Public {
		return nil, ErrLoopback
	}
	from := protocol.PeerAddress{PublicKey: p.Sender, Addr: addr, Transport: tr}
	switch p.Type {
	case protocol.PacketHandshakeRequest:
		return m.handleRequest(now, from, p)
	case protocol.PacketHandshakeResponse:
		return m.handleResponse(now, from, p)
	case protocol.PacketHandshakeConfirm:
		return m.handleConfirm(now, from, p)
	default:
		return m.handleData(now, from, p)
	}
}

func (m *Manager) handleRequest(now time.Time, from protocol.PeerAddress, p protocol.HandshakePacket) ([]Outbound, error) {
	h, err := protocol.OpenHello(p, m.cfg.Self.Secret)
	if err != nil {
		return nil, err
	}
	sent := time.Unix(h.TimestampSec, 0)
	if now.Sub(sent) > m.cfg.MaxRequestAge || sent.Sub(now) > m.cfg.MaxRequestAge {
		return nil, ErrStaleRequest
	}
	key := replayKey{peer: p.Sender, echo: h.EchoID}
	if m.replay.Contains(key) {
		return nil, ErrReplayedRequest
	}

	if old, ok := m.sessions[p.Sender]; ok {
		if crossing(old, h) {
			// Both sides opened at once; the larger public key yields.
			if bytes.Compare(m.cfg.Self.Public[:], p.Sender[:]) < 0 {
				return nil, ErrSimultaneousOpen
			}
			m.log.Debug("simultaneous open, yielding", "peer", p.Sender.Short())
		} else {
			m.log.Debug("replacing session", "peer", p.Sender.Short(), "state", old.state)
		}
		m.discard(old)
	}
	m.replay.Add(key, struct{}{})

	if !m.Targeted(p.Sender) && m.countSessions(false) >= m.cfg.MaxSessions {
		return nil, ErrTooManySessions
	}
	s, err := newSession(from, RoleResponder, now)
	if err != nil {
		return nil, err
	}
	s.echoID = h.EchoID
	if err := s.cipher.Complete(h.Ephemeral, h.NoncePrefix); err != nil {
		s.cipher.Wipe()
		return nil, err
	}
	resp := protocol.Hello{
		Ephemeral:    s.cipher.LocalEphemeral(),
		NoncePrefix:  s.cipher.LocalPrefix(),
		EchoID:       h.EchoID,
		TimestampSec: now.Unix(),
	}
	raw, err := protocol.SealHello(protocol.PacketHandshakeResponse, m.cfg.Self, p.Sender, resp)
	if err != nil {
		s.cipher.Wipe()
		return nil, err
	}
	if err := s.advance(StateSent); err != nil {
		s.cipher.Wipe()
		return nil, err
	}
	s.deadline = now.Add(m.cfg.HandshakeTimeout)
	s.lastSend = now
	s.lastRecv = now
	m.sessions[p.Sender] = s
	m.log.Debug("handshake response sent", "peer", p.Sender.Short(), "addr", from.Addr)
	return []Outbound{{To: from, Data: raw}}, nil
}

// crossing reports whether a request was sent while our own request to the
// same peer was outstanding. A request that predates a session we
// initiated is treated the same way.
func crossing(old *Session, h protocol.Hello) bool {
	if old.role != RoleInitiator {
		return false
	}
	return old.state == StateSent ||
		old.state == StateEstablished && h.TimestampSec <= old.established.Unix()
}

func (m *Manager) handleResponse(now time.Time, from protocol.PeerAddress, p protocol.HandshakePacket) ([]Outbound, error) {
	s, ok := m.sessions[p.Sender]
	if !ok {
		return nil, ErrUnknownSession
	}
	if s.role != RoleInitiator || s.state != StateSent {
		return nil, ErrUnexpectedPacket
	}
	h, err := protocol.OpenHello(p, m.cfg.Self.Secret)
	if err != nil {
		m.destroy(now, s, "response authentication failed")
		return nil, err
	}
	if h.EchoID != s.echoID {
		return nil, ErrEchoMismatch
	}
	if err := s.cipher.Complete(h.Ephemeral, h.NoncePrefix); err != nil {
		m.destroy(now, s, err.Error())
		return nil, err
	}
	if err := s.advance(StateReceived); err != nil {
		return nil, err
	}
	s.peer = from
	s.lastRecv = now
	raw, err := m.confirm(now, s)
	if err != nil {
		return nil, err
	}
	return []Outbound{{To: from, Data: raw}}, nil
}

func (m *Manager) handleConfirm(now time.Time, from protocol.PeerAddress, p protocol.HandshakePacket) ([]Outbound, error) {
	s, plain, err := m.open(now, p)
	if err != nil {
		return nil, err
	}
	if binary.BigEndian.Uint64(plain) != s.echoID {
		m.destroy(now, s, "confirm echo mismatch")
		return nil, ErrEchoMismatch
	}
	s.peer = from
	s.lastRecv = now
	switch {
	case s.role == RoleResponder && s.state == StateSent:
		if err := s.advance(StateReceived); err != nil {
			return nil, err
		}
		raw, err := m.confirm(now, s)
		if err != nil {
			return nil, err
		}
		return []Outbound{{To: from, Data: raw}}, nil
	case s.state == StateEstablished:
		return nil, nil
	default:
		return nil, ErrUnexpectedPacket
	}
}

func (m *Manager) handleData(now time.Time, from protocol.PeerAddress, p protocol.HandshakePacket) ([]Outbound, error) {
	s, plain, err := m.open(now, p)
	if err != nil {
		return nil, err
	}
	kind, payload, err := protocol.DecodeFrame(plain)
	if err != nil {
		return nil, err
	}
	var out []Outbound
	if s.role == RoleResponder && s.state == StateSent {
		// The confirm was lost; authenticated data proves the initiator
		// holds the session keys.
		if err := s.advance(StateReceived); err != nil {
			return nil, err
		}
		raw, err := m.confirm(now, s)
		if err != nil {
			return nil, err
		}
		out = append(out, Outbound{To: from, Data: raw})
	}
	if s.state != StateEstablished {
		return nil, ErrUnexpectedPacket
	}
	s.peer = from
	s.lastRecv = now
	if kind == protocol.FramePayload && m.cfg.Deliver != nil {
		m.cfg.Deliver(p.Sender, payload)
	}
	return out, nil
}

// open finds the session a confirm or data packet belongs to and
// authenticates it. A packet whose ephemeral key does not match the
// session is not tied to it and never affects its state. Forged packets
// are dropped without touching an established session.
func (m *Manager) open(now time.Time, p protocol.HandshakePacket) (*Session, []byte, error) {
	s, ok := m.sessions[p.Sender]
	if !ok || !s.cipher.Established() || s.cipher.PeerEphemeral() != p.Ephemeral {
		return nil, nil, ErrUnknownSession
	}
	plain, err := s.cipher.Open(p.Nonce, p.Body, p.AdditionalData())
	switch {
	case errors.Is(err, ErrReplay):
		return nil, nil, err
	case err != nil && s.state == StateEstablished:
		return nil, nil, err
	case err != nil:
		m.destroy(now, s, "session authentication failed")
		return nil, nil, err
	}
	if p.Type == protocol.PacketHandshakeConfirm && len(plain) != 8 {
		m.destroy(now, s, "malformed confirm")
		return nil, nil, ErrUnexpectedPacket
	}
	return s, plain, nil
}

// confirm sends our confirm and moves a RECEIVED session to ESTABLISHED.
func (m *Manager) confirm(now time.Time, s *Session) ([]byte, error) {
	var echo [8]byte
	binary.BigEndian.PutUint64(echo[:], s.echoID)
	raw, err := m.seal(s, protocol.PacketHandshakeConfirm, echo[:])
	if err != nil {
		m.destroy(now, s, err.Error())
		return nil, err
	}
	if err := s.advance(StateEstablished); err != nil {
		return nil, err
	}
	s.established = now
	s.lastSend = now
	if t, ok := m.targets[s.peer.PublicKey]; ok {
		t.failures = 0
	}
	m.log.Info("session established", "peer", s.peer.PublicKey.Short(), "addr", s.peer.Addr, "transport", s.peer.Transport, "role", s.role)
	return raw, nil
}

func (m *Manager) seal(s *Session, t protocol.PacketType, plaintext []byte) ([]byte, error) {
	p := protocol.HandshakePacket{
		Type:      t,
		Version:   protocol.Version,
		Sender:    m.cfg.Self.Public,
		Ephemeral: s.cipher.LocalEphemeral(),
	}
	nonce, body, err := s.cipher.Seal(plaintext, p.AdditionalData())
	if err != nil {
		return nil, err
	}
	p.Nonce = nonce
	p.Body = body
	return p.Encode(), nil
}

func (m *Manager) sealData(s *Session, kind protocol.FrameKind, payload []byte) ([]byte, error) {
	frame, err := protocol.EncodeFrame(kind, payload)
	if err != nil {
		return nil, err
	}
	return m.seal(s, protocol.PacketSessionData, frame)
}

// Send encrypts payload for the established session with pk.
func (m *Manager) Send(now time.Time, pk crypto.PublicKey, payload []byte) (Outbound, error) {
	s, ok := m.sessions[pk]
	if !ok || s.state != StateEstablished {
		return Outbound{}, ErrNoSession
	}
	raw, err := m.sealData(s, protocol.FramePayload, payload)
	if err != nil {
		return Outbound{}, err
	}
	s.lastSend = now
	return Outbound{To: s.peer, Data: raw}, nil
}

// destroy fails s, drops it and schedules the next attempt for its target.
func (m *Manager) destroy(now time.Time, s *Session, reason string) {
	s.fail(reason)
	m.discard(s)
	m.log.Debug("session failed", "peer", s.peer.PublicKey.Short(), "role", s.role, "reason", reason)
	if t, ok := m.targets[s.peer.PublicKey]; ok {
		t.failures++
		t.nextAttempt = now.Add(m.cfg.Backoff.Delay(t.failures))
	}
}

// discard drops s without scheduling a retry.
func (m *Manager) discard(s *Session) {
	s.cipher.Wipe()
	if cur, ok := m.sessions[s.peer.PublicKey]; ok && cur == s {
		delete(m.sessions, s.peer.PublicKey)
	}
}

// NextDeadline returns the earliest time Tick has work to do, or the zero
// time when nothing is scheduled.
func (m *Manager) NextDeadline(now time.Time) time.Time {
	var next time.Time
	consider := func(t time.Time) {
		if next.IsZero() || t.Before(next) {
			next = t
		}
	}
	for _, s := range m.sessions {
		if s.state == StateEstablished {
			consider(s.lastSend.Add(m.cfg.KeepAlive))
			consider(s.lastRecv.Add(m.cfg.IdleTimeout))
			continue
		}
		consider(s.deadline)
	}
	for pk, t := range m.targets {
		if _, ok := m.sessions[pk]; !ok {
			consider(t.nextAttempt)
		}
	}
	if !next.IsZero() && next.Before(now) {
		return now
	}
	return next
}

// Snapshots returns a view of every live session ordered by peer key.
func (m *Manager) Snapshots() []Snapshot {
	out := make([]Snapshot, 0, len(m.sessions))
	for _, pk := range sortedKeys(m.sessions) {
		out = append(out, m.sessions[pk].snapshot())
	}
	return out
}

// Session returns the state of the session with pk.
func (m *Manager) Session(pk crypto.PublicKey) (Snapshot, bool) {
	s, ok := m.sessions[pk]
	if !ok {
		return Snapshot{}, false
	}
	return s.snapshot(), true
}

func (m *Manager) Len() int { return len(m.sessions) }

// countSessions counts sessions with targeted peers, or with everyone
// else. Each group has its own MaxSessions budget.
func (m *Manager) countSessions(targeted bool) int {
	n := 0
	for pk := range m.sessions {
		if m.Targeted(pk) == targeted {
			n++
		}
	}
	return n
}

// Remove destroys the session with pk and forgets the peer as a target.
func (m *Manager) Remove(pk crypto.PublicKey) bool {
	delete(m.targets, pk)
	s, ok := m.sessions[pk]
	if !ok {
		return false
	}
	m.discard(s)
	return true
}

// Close wipes and drops every session.
func (m *Manager) Close() {
	for _, s := range m.sessions {
		s.cipher.Wipe()
	}
	m.sessions = make(map[crypto.PublicKey]*Session)
	m.targets = make(map[crypto.PublicKey]*target)
	m.replay.Purge()
}

func randomID() (uint64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func sortedKeys[V any](m map[crypto.PublicKey]V) []crypto.PublicKey {
	keys := make([]crypto.PublicKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i][:], keys[j][:]) < 0 })
	return keys
}
