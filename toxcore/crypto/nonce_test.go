package crypto

import (
	"math"
	"testing"
)

func TestNonceCounterNeverRepeats(t *testing.T) {
	c, err := NewNonceCounter()
	if err != nil {
		t.Fatalf("NewNonceCounter: %v", err)
	}
	seen := make(map[Nonce]struct{})
	var prev uint64
	for i := 0; i < 10000; i++ {
		n, err := c.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if _, dup := seen[n]; dup {
			t.Fatalf("nonce repeated at %d", i)
		}
		seen[n] = struct{}{}
		prefix, counter := n.Split()
		if prefix != c.Prefix() {
			t.Fatalf("prefix changed")
		}
		if counter <= prev {
			t.Fatalf("counter not increasing: %d after %d", counter, prev)
		}
		prev = counter
	}
}

func TestNonceCounterExhausted(t *testing.T) {
	c := NewNonceCounterWithPrefix([NoncePrefixSize]byte{1})
	c.last = math.MaxUint64 - 1
	if _, err := c.Next(); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if _, err := c.Next(); err != ErrNonceExhausted {
		t.Fatalf("expected ErrNonceExhausted, got %v", err)
	}
}

func TestNonceIncrementCarries(t *testing.T) {
	var n Nonce
	n[NonceSize-1] = 0xff
	n[NonceSize-2] = 0xff
	n.Increment()
	if n[NonceSize-1] != 0 || n[NonceSize-2] != 0 || n[NonceSize-3] != 1 {
		t.Fatalf("carry not propagated: %x", n)
	}
}
