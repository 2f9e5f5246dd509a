package protocol

import (
	"bytes"
	"testing"

	"github.com/TheusHen/toxcore/toxcore/crypto"
)

func TestHelloSealOpen(t *testing.T) {
	alice := mustKeyPair(t)
	bob := mustKeyPair(t)
	eph := mustKeyPair(t)

	in := Hello{Ephemeral: eph.Public, EchoID: 0xdeadbeef, TimestampSec: 1700000000}
	copy(in.NoncePrefix[:], "0123456789abcdef")

	raw, err := SealHello(PacketHandshakeResponse, alice, bob.Public, in)
	if err != nil {
		t.Fatalf("SealHello: %v", err)
	}
	p, err := ParseHandshakePacket(raw)
	if err != nil {
		t.Fatalf("ParseHandshakePacket: %v", err)
	}
	if p.Sender != alice.Public || p.Ephemeral != eph.Public || p.Version != Version {
		t.Fatalf("header mismatch")
	}
	out, err := OpenHello(p, bob.Secret)
	if err != nil {
		t.Fatalf("OpenHello: %v", err)
	}
	if out != in {
		t.Fatalf("hello mismatch: %+v vs %+v", out, in)
	}
}

func TestOpenHelloRejectsSwappedEphemeral(t *testing.T) {
	alice := mustKeyPair(t)
	bob := mustKeyPair(t)
	eph := mustKeyPair(t)
	other := mustKeyPair(t)

	raw, err := SealHello(PacketHandshakeRequest, alice, bob.Public, Hello{Ephemeral: eph.Public})
	if err != nil {
		t.Fatalf("SealHello: %v", err)
	}
	// Overwrite the cleartext ephemeral key in the header.
	copy(raw[2+crypto.PublicKeySize:], other.Public[:])
	p, err := ParseHandshakePacket(raw)
	if err != nil {
		t.Fatalf("ParseHandshakePacket: %v", err)
	}
	if _, err := OpenHello(p, bob.Secret); err != ErrEphemeralMismatch {
		t.Fatalf("expected ErrEphemeralMismatch, got %v", err)
	}
}

func TestOpenHelloBitFlip(t *testing.T) {
	alice := mustKeyPair(t)
	bob := mustKeyPair(t)
	raw, err := SealHello(PacketHandshakeRequest, alice, bob.Public, Hello{Ephemeral: alice.Public})
	if err != nil {
		t.Fatalf("SealHello: %v", err)
	}
	for i := HandshakeHeaderSize; i < len(raw); i++ {
		bad := append([]byte(nil), raw...)
		bad[i] ^= 0x01
		p, err := ParseHandshakePacket(bad)
		if err != nil {
			t.Fatalf("ParseHandshakePacket: %v", err)
		}
		if _, err := OpenHello(p, bob.Secret); err != crypto.ErrAuthFailure {
			t.Fatalf("byte %d: expected auth failure, got %v", i, err)
		}
	}
}

func TestFrameCodec(t *testing.T) {
	b, err := EncodeFrame(FramePayload, []byte("hello"))
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	kind, payload, err := DecodeFrame(b)
	if err != nil || kind != FramePayload || !bytes.Equal(payload, []byte("hello")) {
		t.Fatalf("DecodeFrame: %v %q %v", kind, payload, err)
	}

	ka, _ := EncodeFrame(FrameKeepAlive, nil)
	if kind, _, err := DecodeFrame(ka); err != nil || kind != FrameKeepAlive {
		t.Fatalf("keepalive: %v %v", kind, err)
	}
	_, _, err = DecodeFrame([]byte{byte(FrameKeepAlive), 1})
	wantViolation(t, err, ReasonBadPayload)
	_, _, err = DecodeFrame([]byte{9})
	wantViolation(t, err, ReasonBadPayload)
	_, _, err = DecodeFrame(nil)
	wantViolation(t, err, ReasonTooShort)

	if _, err := EncodeFrame(FramePayload, make([]byte, MaxSessionPayload+1)); err != ErrPayloadTooLarge {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestPacketSizes(t *testing.T) {
	if HandshakeHeaderSize+ConfirmBodySize != 114 {
		t.Fatalf("confirm packet size %d", HandshakeHeaderSize+ConfirmBodySize)
	}
	if HandshakeHeaderSize+minDataBodySize != 107 {
		t.Fatalf("min data packet size %d", HandshakeHeaderSize+minDataBodySize)
	}
	if HandshakeHeaderSize+minDataBodySize+MaxSessionPayload != MaxPacketSize {
		t.Fatalf("max data packet must fill MaxPacketSize")
	}
}
