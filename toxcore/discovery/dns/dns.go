// Package dns resolves bootstrap hosts against an explicit DNS server,
// bypassing the system resolver configuration.
package dns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	mdns "github.com/miekg/dns"

	"github.com/TheusHen/toxcore/toxcore/discovery"
	"github.com/TheusHen/toxcore/toxcore/logging"
)

const (
	DefaultCacheTTL  = 5 * time.Minute
	DefaultCacheSize = 64
)

var (
	ErrNoServer = errors.New("dns: no server configured")
)

type Config struct {
	// Server is host:port of the recursive server, e.g. "9.9.9.9:53".
	Server string
	// Net is "udp" (default), "tcp" or "tcp-tls".
	Net       string
	Timeout   time.Duration
	CacheTTL  time.Duration
	CacheSize int
	Logger    *slog.Logger
}

// Resolver implements discovery.Resolver with A and AAAA queries.
type Resolver struct {
	client *mdns.Client
	server string
	cache  *expirable.LRU[string, []netip.Addr]
	log    *slog.Logger
}

var _ discovery.Resolver = (*Resolver)(nil)

func New(cfg Config) (*Resolver, error) {
	if cfg.Server == "" {
		return nil, ErrNoServer
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = discovery.DefaultTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	return &Resolver{
		client: &mdns.Client{Net: cfg.Net, Timeout: cfg.Timeout},
		server: cfg.Server,
		cache:  expirable.NewLRU[string, []netip.Addr](cfg.CacheSize, nil, cfg.CacheTTL),
		log:    logging.Subsystem(cfg.Logger, "dns"),
	}, nil
}

func (r *Resolver) LookupAddrs(ctx context.Context, host string) ([]netip.Addr, error) {
	if a, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{a.Unmap()}, nil
	}
	name := mdns.Fqdn(host)
	if addrs, ok := r.cache.Get(name); ok {
		return append([]netip.Addr(nil), addrs...), nil
	}

	var out []netip.Addr
	var lastErr error
	for _, qtype := range []uint16{mdns.TypeA, mdns.TypeAAAA} {
		addrs, err := r.query(ctx, name, qtype)
		if err != nil {
			r.log.Debug("query failed", "name", name, "type", mdns.TypeToString[qtype], "err", err)
			lastErr = err
			continue
		}
		out = append(out, addrs...)
	}
	if len(out) == 0 {
		if lastErr == nil || errors.Is(lastErr, discovery.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", discovery.ErrNotFound, host)
		}
		return nil, fmt.Errorf("dns: resolve %s: %w", host, lastErr)
	}
	r.cache.Add(name, out)
	return append([]netip.Addr(nil), out...), nil
}

func (r *Resolver) query(ctx context.Context, name string, qtype uint16) ([]netip.Addr, error) {
	m := new(mdns.Msg)
	m.SetQuestion(name, qtype)
	m.RecursionDesired = true

	in, _, err := r.client.ExchangeContext(ctx, m, r.server)
	if err != nil {
		return nil, err
	}
	switch in.Rcode {
	case mdns.RcodeSuccess:
	case mdns.RcodeNameError:
		return nil, discovery.ErrNotFound
	default:
		return nil, fmt.Errorf("rcode %s", mdns.RcodeToString[in.Rcode])
	}

	var out []netip.Addr
	for _, rr := range in.Answer {
		var a netip.Addr
		var ok bool
		switch v := rr.(type) {
		case *mdns.A:
			a, ok = netip.AddrFromSlice(v.A)
		case *mdns.AAAA:
			a, ok = netip.AddrFromSlice(v.AAAA)
		}
		if ok {
			out = append(out, a.Unmap())
		}
	}
	return out, nil
}

// Purge drops cached answers.
func (r *Resolver) Purge() { r.cache.Purge() }
