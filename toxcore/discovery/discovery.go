// Package discovery turns configured bootstrap nodes into socket addresses.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/TheusHen/toxcore/toxcore/crypto"
)

const DefaultTimeout = 5 * time.Second

var (
	ErrNotFound    = errors.New("discovery: host not found")
	ErrInvalidNode = errors.New("discovery: invalid bootstrap node")
)

// BootstrapNode is a well-known node as it appears in configuration.
type BootstrapNode struct {
	Host      string
	Port      uint16
	PublicKey crypto.PublicKey
}

func (n BootstrapNode) Validate() error {
	switch {
	case n.Host == "":
		return fmt.Errorf("%w: empty host", ErrInvalidNode)
	case n.Port == 0:
		return fmt.Errorf("%w: port 0", ErrInvalidNode)
	case n.PublicKey.IsZero():
		return fmt.Errorf("%w: zero public key", ErrInvalidNode)
	}
	return nil
}

func (n BootstrapNode) String() string {
	return net.JoinHostPort(n.Host, fmt.Sprint(n.Port)) + "/" + n.PublicKey.Short()
}

// Resolver maps a host name to addresses.
// Implementations can be backed by the system resolver, a DNS server or a
// static table.
type Resolver interface {
	LookupAddrs(ctx context.Context, host string) ([]netip.Addr, error)
}

// System resolves through net.Resolver.
type System struct {
	Resolver *net.Resolver
	Timeout  time.Duration
}

func (s System) LookupAddrs(ctx context.Context, host string) ([]netip.Addr, error) {
	if a, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{a.Unmap()}, nil
	}
	r := s.Resolver
	if r == nil {
		r = net.DefaultResolver
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addrs, err := r.LookupNetIP(ctx, "ip", host)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, host)
		}
		return nil, err
	}
	for i := range addrs {
		addrs[i] = addrs[i].Unmap()
	}
	return addrs, nil
}

// Resolve returns the socket addresses of n usable on the enabled address
// families, IPv4 first.
func Resolve(ctx context.Context, r Resolver, n BootstrapNode, ipv6 bool) ([]netip.AddrPort, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}
	if r == nil {
		r = System{}
	}
	addrs, err := r.LookupAddrs(ctx, n.Host)
	if err != nil {
		return nil, err
	}
	var v4, v6 []netip.AddrPort
	for _, a := range addrs {
		a = a.Unmap()
		switch {
		case a.Is4():
			v4 = append(v4, netip.AddrPortFrom(a, n.Port))
		case a.Is6() && ipv6:
			v6 = append(v6, netip.AddrPortFrom(a, n.Port))
		}
	}
	out := append(v4, v6...)
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s has no usable address", ErrNotFound, n.Host)
	}
	return out, nil
}
