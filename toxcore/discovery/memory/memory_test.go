package memory

import (
	"context"
	"errors"
	"net/netip"
	"testing"

	"github.com/TheusHen/toxcore/toxcore/discovery"
)

func TestStoreAnnounceLookup(t *testing.T) {
	s := New()
	addrs := []netip.Addr{netip.MustParseAddr("2001:db8::1"), netip.MustParseAddr("192.0.2.1")}
	s.Announce("Seed.Example.", addrs...)

	got, err := s.LookupAddrs(context.Background(), "seed.example")
	if err != nil {
		t.Fatalf("LookupAddrs: %v", err)
	}
	if len(got) != 2 || got[0] != addrs[0] || got[1] != addrs[1] {
		t.Fatalf("unexpected addrs %v", got)
	}

	got[0] = netip.Addr{}
	again, _ := s.LookupAddrs(context.Background(), "seed.example")
	if again[0] != addrs[0] {
		t.Fatalf("lookup result aliases the table")
	}
	if l := s.List(); len(l) != 1 || l[0] != "seed.example" {
		t.Fatalf("List = %v", l)
	}

	s.Remove("seed.example")
	if _, err := s.LookupAddrs(context.Background(), "seed.example"); !errors.Is(err, discovery.ErrNotFound) {
		t.Fatalf("after Remove: %v", err)
	}
}

func TestStoreLiteral(t *testing.T) {
	got, err := New().LookupAddrs(context.Background(), "192.0.2.9")
	if err != nil || len(got) != 1 || got[0] != netip.MustParseAddr("192.0.2.9") {
		t.Fatalf("literal: %v %v", got, err)
	}
}
