package protocol

import (
	"net/netip"
	"testing"
)

func TestPackedNodeRoundTrip(t *testing.T) {
	kp := mustKeyPair(t)
	cases := []PeerAddress{
		{PublicKey: kp.Public, Addr: netip.MustParseAddrPort("192.0.2.10:33445"), Transport: TransportUDP},
		{PublicKey: kp.Public, Addr: netip.MustParseAddrPort("[2001:db8::1]:443"), Transport: TransportUDP},
		{PublicKey: kp.Public, Addr: netip.MustParseAddrPort("198.51.100.7:3389"), Transport: TransportTCPRelay},
		{PublicKey: kp.Public, Addr: netip.MustParseAddrPort("[2001:db8::2]:33445"), Transport: TransportTCPRelay},
	}
	wantSize := []int{packedNodeSize4, packedNodeSize6, packedNodeSize4, packedNodeSize6}
	wantType := []byte{ipTypeUDP4, ipTypeUDP6, ipTypeTCP4, ipTypeTCP6}

	for i, in := range cases {
		b, err := AppendPackedNode(nil, in)
		if err != nil {
			t.Fatalf("AppendPackedNode(%s): %v", in, err)
		}
		if len(b) != wantSize[i] || b[0] != wantType[i] {
			t.Fatalf("case %d: size %d type %d", i, len(b), b[0])
		}
		out, n, err := UnpackNode(b)
		if err != nil {
			t.Fatalf("UnpackNode: %v", err)
		}
		if n != len(b) || out != in {
			t.Fatalf("case %d: got %s want %s", i, out, in)
		}
	}
}

func TestPackedNodeUnmapsIPv4(t *testing.T) {
	kp := mustKeyPair(t)
	in := PeerAddress{PublicKey: kp.Public, Addr: netip.MustParseAddrPort("[::ffff:192.0.2.1]:1"), Transport: TransportUDP}
	b, err := AppendPackedNode(nil, in)
	if err != nil {
		t.Fatalf("AppendPackedNode: %v", err)
	}
	if b[0] != ipTypeUDP4 {
		t.Fatalf("expected IPv4 encoding, got type %d", b[0])
	}
}

func TestUnpackNodeRejectsGarbage(t *testing.T) {
	if _, _, err := UnpackNode([]byte{99, 1, 2, 3}); err != ErrInvalidAddress {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
	if _, _, err := UnpackNode([]byte{ipTypeUDP4, 1, 2}); err != ErrInvalidAddress {
		t.Fatalf("expected ErrInvalidAddress for truncated node, got %v", err)
	}
	// Zero key and zero port are not valid nodes.
	zero := make([]byte, packedNodeSize4)
	zero[0] = ipTypeUDP4
	if _, _, err := UnpackNode(zero); err != ErrInvalidAddress {
		t.Fatalf("expected ErrInvalidAddress for zero node, got %v", err)
	}
	if _, err := AppendPackedNode(nil, PeerAddress{}); err != ErrInvalidAddress {
		t.Fatalf("expected ErrInvalidAddress on encode")
	}
}

func TestSendNodesPayload(t *testing.T) {
	var nodes []PeerAddress
	for i := 0; i < 6; i++ {
		kp := mustKeyPair(t)
		nodes = append(nodes, PeerAddress{
			PublicKey: kp.Public,
			Addr:      netip.AddrPortFrom(netip.AddrFrom4([4]byte{10, 0, 0, byte(i + 1)}), 33445),
		})
	}
	b, err := SendNodes{Nodes: nodes, ID: 99}.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if b[0] != MaxSendNodes {
		t.Fatalf("expected the node list to be capped at %d, got %d", MaxSendNodes, b[0])
	}
	out, err := DecodeSendNodes(b)
	if err != nil {
		t.Fatalf("DecodeSendNodes: %v", err)
	}
	if out.ID != 99 || len(out.Nodes) != MaxSendNodes {
		t.Fatalf("unexpected decode: id=%d nodes=%d", out.ID, len(out.Nodes))
	}
	for i := range out.Nodes {
		if out.Nodes[i] != nodes[i] {
			t.Fatalf("node %d mismatch", i)
		}
	}

	// Trailing junk between the nodes and the ping id is rejected.
	junk := append(append(append([]byte(nil), b[:len(b)-8]...), 0xff), b[len(b)-8:]...)
	_, err = DecodeSendNodes(junk)
	wantViolation(t, err, ReasonBadPayload)

	over := append([]byte(nil), b...)
	over[0] = MaxSendNodes + 1
	_, err = DecodeSendNodes(over)
	wantViolation(t, err, ReasonBadPayload)

	empty, err := SendNodes{ID: 5}.Encode()
	if err != nil {
		t.Fatalf("Encode empty: %v", err)
	}
	got, err := DecodeSendNodes(empty)
	if err != nil || len(got.Nodes) != 0 || got.ID != 5 {
		t.Fatalf("empty send nodes: %+v %v", got, err)
	}
}

func TestDecodePingKindMustMatch(t *testing.T) {
	b := Ping{Response: true, ID: 3}.Encode()
	_, err := DecodePing(PacketPingRequest, b)
	wantViolation(t, err, ReasonBadPayload)
	p, err := DecodePing(PacketPingResponse, b)
	if err != nil || !p.Response || p.ID != 3 {
		t.Fatalf("DecodePing: %+v %v", p, err)
	}
}

func TestGetNodesPayload(t *testing.T) {
	kp := mustKeyPair(t)
	b := GetNodes{Target: kp.Public, ID: 1 << 40}.Encode()
	g, err := DecodeGetNodes(b)
	if err != nil {
		t.Fatalf("DecodeGetNodes: %v", err)
	}
	if g.Target != kp.Public || g.ID != 1<<40 {
		t.Fatalf("get nodes mismatch")
	}
	_, err = DecodeGetNodes(b[1:])
	wantViolation(t, err, ReasonBadPayload)
}
