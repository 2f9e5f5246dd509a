package memory

import (
	"context"
	"fmt"
	"net/netip"
	"sort"
	"strings"
	"sync"

	"github.com/TheusHen/toxcore/toxcore/discovery"
)

// Store is an in-memory host table implementing discovery.Resolver.
// It is useful for tests, examples and offline configurations.
type Store struct {
	mu    sync.RWMutex
	hosts map[string][]netip.Addr
}

func New() *Store {
	return &Store{hosts: map[string][]netip.Addr{}}
}

func canonical(host string) string {
	return strings.ToLower(strings.TrimSuffix(host, "."))
}

// Announce replaces the addresses of host.
func (s *Store) Announce(host string, addrs ...netip.Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]netip.Addr, len(addrs))
	copy(cp, addrs)
	s.hosts[canonical(host)] = cp
}

func (s *Store) Remove(host string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.hosts, canonical(host))
}

func (s *Store) LookupAddrs(_ context.Context, host string) ([]netip.Addr, error) {
	if a, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{a}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	addrs, ok := s.hosts[canonical(host)]
	if !ok || len(addrs) == 0 {
		return nil, fmt.Errorf("%w: %s", discovery.ErrNotFound, host)
	}
	cp := make([]netip.Addr, len(addrs))
	copy(cp, addrs)
	return cp, nil
}

// List returns the known host names in order.
func (s *Store) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.hosts))
	for h := range s.hosts {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
