package protocol

import (
	"bytes"
	"testing"

	"github.com/TheusHen/toxcore/toxcore/crypto"
)

func mustKeyPair(t testing.TB) crypto.KeyPair {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	return kp
}

func wantViolation(t *testing.T, err error, reason Reason) {
	t.Helper()
	v, ok := AsViolation(err)
	if !ok {
		t.Fatalf("expected violation %s, got %v", reason, err)
	}
	if v.Reason != reason {
		t.Fatalf("expected reason %s, got %s", reason, v.Reason)
	}
}

func TestPeekTypeRejectsMalformed(t *testing.T) {
	_, err := PeekType(nil)
	wantViolation(t, err, ReasonEmpty)

	_, err = PeekType([]byte{0x7f, 1, 2})
	wantViolation(t, err, ReasonUnknownType)

	_, err = PeekType(make([]byte, MaxPacketSize+1))
	wantViolation(t, err, ReasonTooLong)

	typ, err := PeekType([]byte{byte(PacketGetNodes)})
	if err != nil || typ != PacketGetNodes {
		t.Fatalf("PeekType: %v %v", typ, err)
	}
}

func TestDHTPacketRoundTrip(t *testing.T) {
	a := mustKeyPair(t)
	b := mustKeyPair(t)

	raw, err := SealDHT(PacketPingRequest, a, b.Public, Ping{ID: 42}.Encode())
	if err != nil {
		t.Fatalf("SealDHT: %v", err)
	}
	if len(raw) != DHTHeaderSize+PingPayloadSize+crypto.Overhead {
		t.Fatalf("unexpected ping size %d", len(raw))
	}
	p, err := ParseDHTPacket(raw)
	if err != nil {
		t.Fatalf("ParseDHTPacket: %v", err)
	}
	if p.Sender != a.Public || p.Type != PacketPingRequest {
		t.Fatalf("header mismatch")
	}
	plain, err := OpenDHT(p, b.Secret)
	if err != nil {
		t.Fatalf("OpenDHT: %v", err)
	}
	ping, err := DecodePing(p.Type, plain)
	if err != nil {
		t.Fatalf("DecodePing: %v", err)
	}
	if ping.ID != 42 || ping.Response {
		t.Fatalf("ping mismatch: %+v", ping)
	}

	// The wrong receiver cannot open it.
	c := mustKeyPair(t)
	if _, err := OpenDHT(p, c.Secret); err != crypto.ErrAuthFailure {
		t.Fatalf("expected auth failure, got %v", err)
	}
}

func TestDHTSharedKeyMatchesPerPacketKey(t *testing.T) {
	a := mustKeyPair(t)
	b := mustKeyPair(t)
	ab := crypto.Precompute(b.Public, a.Secret)
	ba := crypto.Precompute(a.Public, b.Secret)

	raw, err := SealDHTShared(PacketGetNodes, a.Public, &ab, GetNodes{Target: a.Public, ID: 9}.Encode())
	if err != nil {
		t.Fatalf("SealDHTShared: %v", err)
	}
	p, err := ParseDHTPacket(raw)
	if err != nil {
		t.Fatalf("ParseDHTPacket: %v", err)
	}
	if _, err := OpenDHT(p, b.Secret); err != nil {
		t.Fatalf("OpenDHT: %v", err)
	}
	plain, err := OpenDHTShared(p, &ba)
	if err != nil {
		t.Fatalf("OpenDHTShared: %v", err)
	}
	req, err := DecodeGetNodes(plain)
	if err != nil || req.ID != 9 || req.Target != a.Public {
		t.Fatalf("get nodes mismatch: %+v %v", req, err)
	}

	ba.Wipe()
	if _, err := OpenDHTShared(p, &ba); err != crypto.ErrAuthFailure {
		t.Fatalf("expected auth failure with wiped key, got %v", err)
	}
}

func TestParseDHTPacketLengthChecks(t *testing.T) {
	a := mustKeyPair(t)
	b := mustKeyPair(t)
	raw, err := SealDHT(PacketGetNodes, a, b.Public, GetNodes{Target: b.Public, ID: 1}.Encode())
	if err != nil {
		t.Fatalf("SealDHT: %v", err)
	}

	_, err = ParseDHTPacket(raw[:len(raw)-1])
	wantViolation(t, err, ReasonTooShort)

	_, err = ParseDHTPacket(append(append([]byte(nil), raw...), 0))
	wantViolation(t, err, ReasonTooLong)

	_, err = ParseDHTPacket(raw[:DHTHeaderSize-5])
	wantViolation(t, err, ReasonTooShort)

	hs := append([]byte(nil), raw...)
	hs[0] = byte(PacketHandshakeConfirm)
	_, err = ParseDHTPacket(hs)
	wantViolation(t, err, ReasonUnknownType)
}

func TestParseHandshakePacketChecksVersionFirst(t *testing.T) {
	a := mustKeyPair(t)
	b := mustKeyPair(t)
	eph := mustKeyPair(t)

	raw, err := SealHello(PacketHandshakeRequest, a, b.Public, Hello{Ephemeral: eph.Public, EchoID: 7, TimestampSec: 100})
	if err != nil {
		t.Fatalf("SealHello: %v", err)
	}
	if len(raw) != 170 {
		t.Fatalf("request must be 170 bytes, got %d", len(raw))
	}
	bad := append([]byte(nil), raw...)
	bad[1] = Version + 1
	_, err = ParseHandshakePacket(bad)
	wantViolation(t, err, ReasonBadVersion)

	_, err = ParseHandshakePacket(raw[:HandshakeHeaderSize-1])
	wantViolation(t, err, ReasonTooShort)

	_, err = ParseHandshakePacket(raw[:len(raw)-1])
	wantViolation(t, err, ReasonTooShort)

	_, err = ParseHandshakePacket(append(append([]byte(nil), raw...), 1, 2))
	wantViolation(t, err, ReasonTooLong)
}

func TestLANDiscovery(t *testing.T) {
	kp := mustKeyPair(t)
	raw := EncodeLANDiscovery(kp.Public)
	if len(raw) != LANDiscoverySize {
		t.Fatalf("unexpected size %d", len(raw))
	}
	pk, err := ParseLANDiscovery(raw)
	if err != nil {
		t.Fatalf("ParseLANDiscovery: %v", err)
	}
	if !bytes.Equal(pk[:], kp.Public[:]) {
		t.Fatalf("key mismatch")
	}
	_, err = ParseLANDiscovery(raw[:10])
	wantViolation(t, err, ReasonTooShort)
	_, err = ParseLANDiscovery(append(raw, 0))
	wantViolation(t, err, ReasonTooLong)
}

func TestParseNeverPanicsOnTruncation(t *testing.T) {
	a := mustKeyPair(t)
	b := mustKeyPair(t)
	raw, err := SealHello(PacketHandshakeResponse, a, b.Public, Hello{Ephemeral: a.Public})
	if err != nil {
		t.Fatalf("SealHello: %v", err)
	}
	for i := 0; i <= len(raw); i++ {
		_, _ = ParseHandshakePacket(raw[:i])
		_, _ = ParseDHTPacket(raw[:i])
	}
}

func BenchmarkParseDHTPacket(b *testing.B) {
	a := mustKeyPair(b)
	c := mustKeyPair(b)
	raw, err := SealDHT(PacketGetNodes, a, c.Public, GetNodes{Target: c.Public, ID: 1}.Encode())
	if err != nil {
		b.Fatalf("SealDHT: %v", err)
	}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := ParseDHTPacket(raw); err != nil {
			b.Fatal(err)
		}
	}
}
