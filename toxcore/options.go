package toxcore

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/TheusHen/toxcore/toxcore/connection"
	"github.com/TheusHen/toxcore/toxcore/dht"
	"github.com/TheusHen/toxcore/toxcore/discovery"
	"github.com/TheusHen/toxcore/toxcore/logging"
	"github.com/TheusHen/toxcore/toxcore/session"
	"github.com/TheusHen/toxcore/toxcore/transport"
)

const (
	DefaultStartPort = 33445
	DefaultEndPort   = 33545

	DefaultPingInterval      = 60 * time.Second
	DefaultGetNodesInterval  = 20 * time.Second
	DefaultBootstrapInterval = 10 * time.Second
	DefaultLANInterval       = 10 * time.Second
	DefaultSessionTargets    = 4

	MinIterationInterval = time.Millisecond
	MaxIterationInterval = 50 * time.Millisecond
)

// RelayDialer opens a datagram transport to the relay at addr.
type RelayDialer func(ctx context.Context, addr netip.AddrPort) (transport.PacketConn, error)

// Options configure a Node. Start from DefaultOptions; a Node copies its
// Options at New and never reads them again.
type Options struct {
	IPv6Enabled           bool
	UDPEnabled            bool
	LocalDiscoveryEnabled bool
	// DHTAnnouncementsEnabled makes the node answer get-nodes requests and
	// LAN discovery packets, sharing its table with others.
	DHTAnnouncementsEnabled bool

	// StartPort and EndPort bound the UDP port search. Both zero lets the
	// system pick.
	StartPort uint16
	EndPort   uint16

	// SaveState restores the identity and known nodes from a blob made by
	// Node.SaveState. SavePassphrase opens a sealed blob and seals the
	// blobs SaveState produces.
	SaveState      []byte
	SavePassphrase []byte

	PingInterval      time.Duration
	GetNodesInterval  time.Duration
	BootstrapInterval time.Duration
	LANInterval       time.Duration
	StaleAfter        time.Duration
	// ConnectingWindow is how long a DHT answer keeps the node CONNECTING.
	ConnectingWindow time.Duration
	// SessionTargets is how many of the closest confirmed DHT nodes the
	// node keeps encrypted sessions with, besides relays.
	SessionTargets int

	// Session overrides handshake timers; zero fields take defaults.
	Session session.Config

	LogObserver     LogObserver
	LogLevel        slog.Level
	StatusObserver  StatusObserver
	MessageObserver MessageObserver

	MetricsRegisterer prometheus.Registerer

	// Socket replaces the UDP socket New would bind.
	Socket transport.PacketConn
	// RelayListener makes the node serve as a relay for dialing clients.
	RelayListener transport.PacketConn
	RelayDialer   RelayDialer
	Resolver      discovery.Resolver
	// LANTargets replaces the computed LAN discovery destinations.
	LANTargets []netip.AddrPort
}

// DefaultOptions returns the options of a typical desktop client.
func DefaultOptions() Options {
	return Options{
		IPv6Enabled:             true,
		UDPEnabled:              true,
		LocalDiscoveryEnabled:   true,
		DHTAnnouncementsEnabled: true,
		StartPort:               DefaultStartPort,
		EndPort:                 DefaultEndPort,
		PingInterval:            DefaultPingInterval,
		GetNodesInterval:        DefaultGetNodesInterval,
		BootstrapInterval:       DefaultBootstrapInterval,
		LANInterval:             DefaultLANInterval,
		StaleAfter:              dht.DefaultStaleAfter,
		ConnectingWindow:        connection.DefaultRecent,
		SessionTargets:          DefaultSessionTargets,
		LogLevel:                logging.LevelTrace,
	}
}

func (o *Options) validate() error {
	switch {
	case o.LocalDiscoveryEnabled && !o.UDPEnabled:
		return &ConfigError{Field: "LocalDiscoveryEnabled", Reason: "requires UDP"}
	case o.DHTAnnouncementsEnabled && !o.UDPEnabled:
		return &ConfigError{Field: "DHTAnnouncementsEnabled", Reason: "requires UDP"}
	case o.Socket != nil && !o.UDPEnabled:
		return &ConfigError{Field: "Socket", Reason: "set while UDP is disabled"}
	case o.StartPort == 0 && o.EndPort != 0:
		return &ConfigError{Field: "StartPort", Reason: "zero with a non-zero EndPort"}
	case o.EndPort < o.StartPort:
		return &ConfigError{Field: "EndPort", Reason: fmt.Sprintf("%d below StartPort %d", o.EndPort, o.StartPort)}
	case o.SessionTargets <= 0:
		return &ConfigError{Field: "SessionTargets", Reason: "must be positive"}
	}
	for _, d := range []struct {
		name string
		v    time.Duration
	}{
		{"PingInterval", o.PingInterval},
		{"GetNodesInterval", o.GetNodesInterval},
		{"BootstrapInterval", o.BootstrapInterval},
		{"LANInterval", o.LANInterval},
		{"StaleAfter", o.StaleAfter},
		{"ConnectingWindow", o.ConnectingWindow},
	} {
		if d.v <= 0 {
			return &ConfigError{Field: d.name, Reason: "must be positive"}
		}
	}
	if o.StaleAfter <= o.PingInterval {
		return &ConfigError{Field: "StaleAfter", Reason: "must exceed PingInterval"}
	}
	return nil
}

// lanPorts are the ports LAN discovery is broadcast to: the start of the
// bind range, at most maxLANPorts of them.
func (o *Options) lanPorts() []uint16 {
	const maxLANPorts = 10
	if o.StartPort == 0 {
		return []uint16{DefaultStartPort}
	}
	var ports []uint16
	for p := uint32(o.StartPort); p <= uint32(o.EndPort) && len(ports) < maxLANPorts; p++ {
		ports = append(ports, uint16(p))
	}
	return ports
}
