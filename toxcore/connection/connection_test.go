package connection

import (
	"net/netip"
	"testing"
	"time"

	"github.com/TheusHen/toxcore/toxcore/crypto"
	"github.com/TheusHen/toxcore/toxcore/dht"
	"github.com/TheusHen/toxcore/toxcore/protocol"
	"github.com/TheusHen/toxcore/toxcore/session"
)

var now = time.Unix(1_700_000_000, 0)

func snap(state session.State, tr protocol.Transport) session.Snapshot {
	var pk crypto.PublicKey
	pk[0] = byte(state) + 1
	return session.Snapshot{
		Peer:  protocol.PeerAddress{PublicKey: pk, Addr: netip.MustParseAddrPort("10.0.0.1:1"), Transport: tr},
		State: state,
	}
}

func entry(confirmed bool, seen time.Time) dht.Entry {
	var pk crypto.PublicKey
	pk[0] = 9
	return dht.Entry{
		Addr:      protocol.PeerAddress{PublicKey: pk, Addr: netip.MustParseAddrPort("10.0.0.2:1")},
		LastSeen:  seen,
		Confirmed: confirmed,
	}
}

func TestRecompute(t *testing.T) {
	cases := []struct {
		name     string
		entries  []dht.Entry
		sessions []session.Snapshot
		want     Status
	}{
		{"empty", nil, nil, None},
		{"unconfirmed bootstrap entry", []dht.Entry{entry(false, now)}, nil, None},
		{"stale confirmed entry", []dht.Entry{entry(true, now.Add(-time.Hour))}, nil, None},
		{"recent confirmed entry", []dht.Entry{entry(true, now.Add(-time.Second))}, nil, Connecting},
		{"handshake sent", nil, []session.Snapshot{snap(session.StateSent, protocol.TransportUDP)}, Connecting},
		{"handshake received", nil, []session.Snapshot{snap(session.StateReceived, protocol.TransportTCPRelay)}, Connecting},
		{"relay only", nil, []session.Snapshot{snap(session.StateEstablished, protocol.TransportTCPRelay)}, ConnectedRelay},
		{"udp wins over relay", nil, []session.Snapshot{
			snap(session.StateEstablished, protocol.TransportTCPRelay),
			snap(session.StateEstablished, protocol.TransportUDP),
		}, ConnectedUDP},
		{"relay established with udp in flight", nil, []session.Snapshot{
			snap(session.StateSent, protocol.TransportUDP),
			snap(session.StateEstablished, protocol.TransportTCPRelay),
		}, ConnectedRelay},
		{"failed sessions do not count", nil, []session.Snapshot{snap(session.StateFailed, protocol.TransportUDP)}, None},
	}
	for _, tc := range cases {
		if got := Recompute(now, tc.entries, tc.sessions, DefaultRecent); got != tc.want {
			t.Fatalf("%s: got %s want %s", tc.name, got, tc.want)
		}
	}
}

func TestTrackerNotifiesOncePerTransition(t *testing.T) {
	var seen []Status
	tr := NewTracker(ObserverFunc(func(s Status) { seen = append(seen, s) }))

	for _, s := range []Status{None, Connecting, Connecting, ConnectedUDP, ConnectedUDP, ConnectedUDP, None} {
		tr.Update(s)
	}
	want := []Status{Connecting, ConnectedUDP, None}
	if len(seen) != len(want) {
		t.Fatalf("got %v want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("got %v want %v", seen, want)
		}
	}
	if tr.Status() != None {
		t.Fatalf("status %s", tr.Status())
	}
}

func TestTrackerNilObserver(t *testing.T) {
	tr := NewTracker(nil)
	if !tr.Update(ConnectedRelay) {
		t.Fatalf("expected a transition")
	}
	if tr.Update(ConnectedRelay) {
		t.Fatalf("repeat must not be a transition")
	}
}
