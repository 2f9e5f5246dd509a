package discovery_test

import (
	"context"
	"errors"
	"net/netip"
	"testing"

	"github.com/TheusHen/toxcore/toxcore/crypto"
	"github.com/TheusHen/toxcore/toxcore/discovery"
	"github.com/TheusHen/toxcore/toxcore/discovery/memory"
)

func testKey(t *testing.T) crypto.PublicKey {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	return kp.Public
}

func TestResolveFiltersFamilies(t *testing.T) {
	s := memory.New()
	s.Announce("node.example", netip.MustParseAddr("2001:db8::7"), netip.MustParseAddr("192.0.2.7"))
	n := discovery.BootstrapNode{Host: "node.example", Port: 33445, PublicKey: testKey(t)}

	got, err := discovery.Resolve(context.Background(), s, n, false)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(got) != 1 || got[0] != netip.MustParseAddrPort("192.0.2.7:33445") {
		t.Fatalf("ipv4 only: %v", got)
	}

	got, err = discovery.Resolve(context.Background(), s, n, true)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(got) != 2 || !got[0].Addr().Is4() || !got[1].Addr().Is6() {
		t.Fatalf("ipv4 first: %v", got)
	}
}

func TestResolveErrors(t *testing.T) {
	s := memory.New()
	s.Announce("v6only.example", netip.MustParseAddr("2001:db8::1"))
	pk := testKey(t)

	_, err := discovery.Resolve(context.Background(), s, discovery.BootstrapNode{Host: "v6only.example", Port: 1, PublicKey: pk}, false)
	if !errors.Is(err, discovery.ErrNotFound) {
		t.Fatalf("no usable family: %v", err)
	}
	_, err = discovery.Resolve(context.Background(), s, discovery.BootstrapNode{Host: "missing.example", Port: 1, PublicKey: pk}, true)
	if !errors.Is(err, discovery.ErrNotFound) {
		t.Fatalf("missing host: %v", err)
	}
	for _, n := range []discovery.BootstrapNode{
		{Host: "", Port: 1, PublicKey: pk},
		{Host: "x", Port: 0, PublicKey: pk},
		{Host: "x", Port: 1},
	} {
		if _, err := discovery.Resolve(context.Background(), s, n, true); !errors.Is(err, discovery.ErrInvalidNode) {
			t.Fatalf("%+v: %v", n, err)
		}
	}
}

func TestSystemLiteral(t *testing.T) {
	got, err := discovery.System{}.LookupAddrs(context.Background(), "::ffff:198.51.100.4")
	if err != nil {
		t.Fatalf("LookupAddrs: %v", err)
	}
	if len(got) != 1 || got[0] != netip.MustParseAddr("198.51.100.4") {
		t.Fatalf("literal: %v", got)
	}
}
