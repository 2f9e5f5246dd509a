package session

import (
	"errors"
	"testing"
	"time"

	"github.com/TheusHen/toxcore/toxcore/protocol"
)

func TestAdvanceFollowsHandshakeOrder(t *testing.T) {
	s, err := newSession(protocol.PeerAddress{}, RoleInitiator, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("newSession: %v", err)
	}
	for _, to := range []State{StateInit, StateReceived, StateEstablished, StateFailed} {
		if err := s.advance(to); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("INIT -> %s must be rejected, got %v", to, err)
		}
	}
	for _, to := range []State{StateSent, StateReceived, StateEstablished} {
		if err := s.advance(to); err != nil {
			t.Fatalf("advance to %s: %v", to, err)
		}
	}
	// No silent downgrade out of ESTABLISHED.
	for _, to := range []State{StateInit, StateSent, StateReceived, StateEstablished} {
		if err := s.advance(to); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("ESTABLISHED -> %s must be rejected, got %v", to, err)
		}
	}
}

func TestFailIsTerminal(t *testing.T) {
	s, err := newSession(protocol.PeerAddress{}, RoleResponder, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("newSession: %v", err)
	}
	if err := s.advance(StateSent); err != nil {
		t.Fatalf("advance: %v", err)
	}
	s.fail("test")
	if s.State() != StateFailed {
		t.Fatalf("expected FAILED, got %s", s.State())
	}
	if s.cipher.Established() {
		t.Fatalf("failed session must drop its keys")
	}
	for _, to := range []State{StateInit, StateSent, StateReceived, StateEstablished} {
		if err := s.advance(to); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("FAILED -> %s must be rejected, got %v", to, err)
		}
	}
}

func TestStateStrings(t *testing.T) {
	want := map[State]string{
		StateInit:        "INIT",
		StateSent:        "SENT",
		StateReceived:    "RECEIVED",
		StateEstablished: "ESTABLISHED",
		StateFailed:      "FAILED",
	}
	for s, name := range want {
		if s.String() != name {
			t.Fatalf("%d: got %s want %s", s, s.String(), name)
		}
	}
	if !StateSent.InFlight() || !StateReceived.InFlight() || StateEstablished.InFlight() || StateInit.InFlight() {
		t.Fatalf("InFlight mismatch")
	}
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 60 * time.Second}
	want := []time.Duration{0, 1, 2, 4, 8, 16, 32, 60, 60}
	for failures, w := range want {
		if got := b.Delay(failures); got != w*time.Second {
			t.Fatalf("Delay(%d) = %s, want %s", failures, got, w*time.Second)
		}
	}
	if got := b.Delay(1000); got != 60*time.Second {
		t.Fatalf("Delay must stay capped, got %s", got)
	}
}
