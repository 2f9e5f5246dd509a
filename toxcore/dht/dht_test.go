package dht

import (
	"math/rand"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheusHen/toxcore/toxcore/crypto"
	"github.com/TheusHen/toxcore/toxcore/protocol"
)

var epoch = time.Unix(1_700_000_000, 0)

func keyWith(first byte, rest ...byte) crypto.PublicKey {
	var pk crypto.PublicKey
	pk[0] = first
	copy(pk[1:], rest)
	pk[31] |= 1
	return pk
}

func randomKey(r *rand.Rand) crypto.PublicKey {
	var pk crypto.PublicKey
	r.Read(pk[:])
	return pk
}

func addrFor(pk crypto.PublicKey) protocol.PeerAddress {
	return protocol.PeerAddress{
		PublicKey: pk,
		Addr:      netip.AddrPortFrom(netip.AddrFrom4([4]byte{10, 0, pk[0], pk[1]}), 33445),
	}
}

func entryFor(pk crypto.PublicKey, seen time.Time) Entry {
	return Entry{Addr: addrFor(pk), LastSeen: seen}
}

func TestBucketIndex(t *testing.T) {
	self := crypto.PublicKey{}
	assert.Equal(t, -1, BucketIndex(self, self))

	var low crypto.PublicKey
	low[31] = 1
	assert.Equal(t, 0, BucketIndex(self, low))

	var high crypto.PublicKey
	high[0] = 0x80
	assert.Equal(t, 255, BucketIndex(self, high))

	var mid crypto.PublicKey
	mid[30] = 0x01
	assert.Equal(t, 8, BucketIndex(self, mid))
}

func TestInsertAndGet(t *testing.T) {
	self := keyWith(0)
	tbl := NewTable(self, TableConfig{})

	pk := keyWith(0x40)
	require.True(t, tbl.InsertOrUpdate(entryFor(pk, epoch)))
	require.Equal(t, 1, tbl.Len())

	e, ok := tbl.Get(pk)
	require.True(t, ok)
	assert.Equal(t, epoch, e.LastSeen)
	assert.False(t, e.Confirmed)

	// Self and invalid addresses are refused.
	assert.False(t, tbl.InsertOrUpdate(entryFor(self, epoch)))
	assert.False(t, tbl.InsertOrUpdate(Entry{}))
	assert.Equal(t, 1, tbl.Len())
}

func TestUnconfirmedUpdateKeepsConfirmedAddress(t *testing.T) {
	tbl := NewTable(keyWith(0), TableConfig{})
	pk := keyWith(0x40)
	real := addrFor(pk)
	require.True(t, tbl.MarkResponded(real, epoch, 20*time.Millisecond))

	spoofed := real
	spoofed.Addr = netip.MustParseAddrPort("203.0.113.9:1")
	tbl.InsertOrUpdate(Entry{Addr: spoofed, LastSeen: epoch.Add(time.Second)})

	e, _ := tbl.Get(pk)
	assert.Equal(t, real, e.Addr)
	assert.True(t, e.Confirmed)
	assert.Equal(t, 20*time.Millisecond, e.RTT)
}

func TestFullBucketReplacesFarthest(t *testing.T) {
	self := crypto.PublicKey{}
	tbl := NewTable(self, TableConfig{BucketSize: 3})

	// All in bucket 255 (top bit set), increasingly far from self.
	keys := []crypto.PublicKey{keyWith(0x81), keyWith(0x90), keyWith(0xf0)}
	for _, k := range keys {
		require.True(t, tbl.InsertOrUpdate(entryFor(k, epoch)))
	}
	require.Equal(t, 3, tbl.bucketLen(255))

	// Farther than everything: rejected.
	assert.False(t, tbl.InsertOrUpdate(entryFor(keyWith(0xff), epoch)))

	// Closer than the farthest: replaces 0xf0.
	closer := keyWith(0x88)
	assert.True(t, tbl.InsertOrUpdate(entryFor(closer, epoch)))
	_, ok := tbl.Get(keyWith(0xf0))
	assert.False(t, ok)
	_, ok = tbl.Get(closer)
	assert.True(t, ok)
	assert.Equal(t, 3, tbl.Len())
}

func TestClosestToOrdering(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	self := randomKey(r)
	tbl := NewTable(self, TableConfig{})
	for i := 0; i < 300; i++ {
		tbl.InsertOrUpdate(entryFor(randomKey(r), epoch.Add(time.Duration(i)*time.Second)))
	}
	require.Greater(t, tbl.Len(), 0)

	for round := 0; round < 20; round++ {
		target := randomKey(r)
		got := tbl.ClosestTo(target, 16)
		require.Len(t, got, min(16, tbl.Len()))
		for i := 1; i < len(got); i++ {
			assert.LessOrEqual(t, CompareDistance(got[i-1].PublicKey, got[i].PublicKey, target), 0)
		}
		// No mutation between calls: identical result.
		assert.Equal(t, got, tbl.ClosestTo(target, 16))
	}
}

func TestClosestToIsExhaustive(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	tbl := NewTable(randomKey(r), TableConfig{})
	var all []crypto.PublicKey
	for i := 0; i < 40; i++ {
		k := randomKey(r)
		if tbl.InsertOrUpdate(entryFor(k, epoch)) {
			all = append(all, k)
		}
	}
	target := randomKey(r)
	best := all[0]
	for _, k := range all[1:] {
		if CompareDistance(k, best, target) < 0 {
			best = k
		}
	}
	got := tbl.ClosestTo(target, 1)
	require.Len(t, got, 1)
	assert.Equal(t, best, got[0].PublicKey)
	assert.Nil(t, tbl.ClosestTo(target, 0))
}

func TestEvictStale(t *testing.T) {
	tbl := NewTable(keyWith(0), TableConfig{StaleAfter: time.Minute})
	old := keyWith(0x10)
	fresh := keyWith(0x20)
	tbl.InsertOrUpdate(entryFor(old, epoch))
	tbl.InsertOrUpdate(entryFor(fresh, epoch.Add(50*time.Second)))

	assert.Empty(t, tbl.EvictStale(epoch.Add(time.Minute)))

	evicted := tbl.EvictStale(epoch.Add(61 * time.Second))
	require.Len(t, evicted, 1)
	assert.Equal(t, old, evicted[0].Addr.PublicKey)
	assert.Equal(t, 1, tbl.Len())

	tbl.Touch(fresh, epoch.Add(2*time.Minute))
	assert.Empty(t, tbl.EvictStale(epoch.Add(2*time.Minute+30*time.Second)))
}

func TestMarkRespondedSmoothsRTT(t *testing.T) {
	tbl := NewTable(keyWith(0), TableConfig{})
	pk := keyWith(0x33)
	tbl.InsertOrUpdate(entryFor(pk, epoch))
	tbl.MarkResponded(addrFor(pk), epoch, 80*time.Millisecond)
	tbl.MarkResponded(addrFor(pk), epoch.Add(time.Second), 160*time.Millisecond)

	e, _ := tbl.Get(pk)
	assert.True(t, e.Confirmed)
	assert.Equal(t, 90*time.Millisecond, e.RTT)
	assert.Len(t, tbl.Confirmed(pk, 8), 1)
}

func TestRemove(t *testing.T) {
	tbl := NewTable(keyWith(0), TableConfig{})
	pk := keyWith(0x70)
	tbl.InsertOrUpdate(entryFor(pk, epoch))
	assert.True(t, tbl.Remove(pk))
	assert.False(t, tbl.Remove(pk))
	assert.Equal(t, 0, tbl.Len())
}

func TestPingTracker(t *testing.T) {
	tr, err := NewPingTracker(4, 5*time.Second)
	require.NoError(t, err)
	peer := keyWith(0x10)
	other := keyWith(0x20)

	id, err := tr.Issue(peer, protocol.PacketPingRequest, epoch)
	require.NoError(t, err)
	assert.True(t, tr.Outstanding(peer, protocol.PacketPingRequest, epoch))

	// Wrong key or wrong request type never resolves.
	_, ok := tr.Resolve(id, other, protocol.PacketPingRequest, epoch)
	assert.False(t, ok)
	_, ok = tr.Resolve(id, peer, protocol.PacketGetNodes, epoch)
	assert.False(t, ok)

	rtt, ok := tr.Resolve(id, peer, protocol.PacketPingRequest, epoch.Add(120*time.Millisecond))
	require.True(t, ok)
	assert.Equal(t, 120*time.Millisecond, rtt)

	// Ids are single use.
	_, ok = tr.Resolve(id, peer, protocol.PacketPingRequest, epoch)
	assert.False(t, ok)
	assert.Equal(t, 0, tr.Len())
}

func TestPingTrackerTimeoutAndEviction(t *testing.T) {
	tr, err := NewPingTracker(2, time.Second)
	require.NoError(t, err)
	peer := keyWith(0x10)

	late, _ := tr.Issue(peer, protocol.PacketGetNodes, epoch)
	_, ok := tr.Resolve(late, peer, protocol.PacketGetNodes, epoch.Add(2*time.Second))
	assert.False(t, ok)

	first, _ := tr.Issue(peer, protocol.PacketGetNodes, epoch)
	tr.Issue(peer, protocol.PacketGetNodes, epoch)
	tr.Issue(peer, protocol.PacketGetNodes, epoch)
	_, ok = tr.Resolve(first, peer, protocol.PacketGetNodes, epoch)
	assert.False(t, ok, "oldest id must be evicted once the tracker is full")
}

func BenchmarkClosestTo(b *testing.B) {
	r := rand.New(rand.NewSource(3))
	tbl := NewTable(randomKey(r), TableConfig{})
	for i := 0; i < 2000; i++ {
		tbl.InsertOrUpdate(entryFor(randomKey(r), epoch))
	}
	target := randomKey(r)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tbl.ClosestTo(target, 8)
	}
}
