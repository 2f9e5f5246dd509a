package quic

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/TheusHen/toxcore/toxcore/transport"
)

func readWithin(t *testing.T, c transport.PacketConn, d time.Duration) ([]byte, netip.AddrPort) {
	t.Helper()
	buf := make([]byte, 2048)
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		n, from, err := c.ReadFrom(buf)
		if err == nil {
			return buf[:n], from
		}
		if !transport.IsWouldBlock(err) {
			t.Fatalf("ReadFrom: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no datagram within %v", d)
	return nil, netip.AddrPort{}
}

func TestRelayDatagramRoundTrip(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rc, err := DialRelay(ctx, ln.LocalAddr().String())
	if err != nil {
		t.Fatalf("DialRelay: %v", err)
	}
	defer rc.Close()

	if rc.RemoteAddr() != ln.LocalAddr() {
		t.Fatalf("remote %v, want %v", rc.RemoteAddr(), ln.LocalAddr())
	}
	if _, err := rc.WriteTo([]byte("ping"), netip.MustParseAddrPort("127.0.0.1:9")); !errors.Is(err, transport.ErrNoRoute) {
		t.Fatalf("write to non-relay: %v", err)
	}

	if _, err := rc.WriteTo([]byte("ping"), rc.RemoteAddr()); err != nil {
		t.Fatalf("client WriteTo: %v", err)
	}
	got, from := readWithin(t, ln, 5*time.Second)
	if string(got) != "ping" {
		t.Fatalf("server got %q", got)
	}

	if _, err := ln.WriteTo([]byte("pong"), from); err != nil {
		t.Fatalf("server WriteTo: %v", err)
	}
	got, from = readWithin(t, rc, 5*time.Second)
	if string(got) != "pong" || from != rc.RemoteAddr() {
		t.Fatalf("client got %q from %v", got, from)
	}
	if ln.Clients() != 1 {
		t.Fatalf("clients = %d", ln.Clients())
	}
}

func TestRelayClose(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if _, err := ln.WriteTo([]byte("x"), netip.MustParseAddrPort("127.0.0.1:9")); !errors.Is(err, transport.ErrNoRoute) {
		t.Fatalf("unknown client: %v", err)
	}
	if err := ln.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := ln.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, _, err := ln.ReadFrom(make([]byte, 1)); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("read after close: %v", err)
	}
}
