package dht

import (
	"log/slog"
	"sort"
	"time"

	"github.com/TheusHen/toxcore/toxcore/crypto"
	"github.com/TheusHen/toxcore/toxcore/logging"
	"github.com/TheusHen/toxcore/toxcore/protocol"
)

const (
	// BucketSize is k, the number of entries one bucket holds.
	BucketSize = 8
	NumBuckets = crypto.PublicKeySize * 8

	// DefaultStaleAfter is how long a silent node is kept.
	DefaultStaleAfter = 122 * time.Second
)

type TableConfig struct {
	BucketSize int
	StaleAfter time.Duration
	Logger     *slog.Logger
}

// Table is the DHT node table. Not safe for concurrent use.
type Table struct {
	self    crypto.PublicKey
	cfg     TableConfig
	log     *slog.Logger
	buckets [NumBuckets][]*Entry
	count   int
}

func NewTable(self crypto.PublicKey, cfg TableConfig) *Table {
	if cfg.BucketSize <= 0 {
		cfg.BucketSize = BucketSize
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	return &Table{self: self, cfg: cfg, log: cfg.Logger}
}

func (t *Table) Self() crypto.PublicKey { return t.self }

func (t *Table) Len() int { return t.count }

func (t *Table) find(pk crypto.PublicKey) (int, int) {
	idx := BucketIndex(t.self, pk)
	if idx < 0 {
		return -1, -1
	}
	for i, e := range t.buckets[idx] {
		if e.Addr.PublicKey == pk {
			return idx, i
		}
	}
	return idx, -1
}

// InsertOrUpdate adds e or refreshes the entry with the same key. When
// the bucket is full the entry farthest from self is replaced if e is
// closer; otherwise e is rejected and false is returned.
//
// An unconfirmed update never changes the address of a confirmed entry.
func (t *Table) InsertOrUpdate(e Entry) bool {
	if !e.Addr.IsValid() {
		return false
	}
	idx, pos := t.find(e.Addr.PublicKey)
	if idx < 0 {
		return false
	}
	if pos >= 0 {
		cur := t.buckets[idx][pos]
		if cur.Confirmed && !e.Confirmed {
			return true
		}
		cur.Addr = e.Addr
		if e.LastSeen.After(cur.LastSeen) {
			cur.LastSeen = e.LastSeen
		}
		if e.RTT > 0 {
			cur.RTT = e.RTT
		}
		cur.Confirmed = cur.Confirmed || e.Confirmed
		return true
	}

	b := t.buckets[idx]
	if len(b) < t.cfg.BucketSize {
		ne := e
		t.buckets[idx] = append(b, &ne)
		t.count++
		t.log.Debug("node added", "peer", e.Addr.PublicKey.Short(), "bucket", idx, "confirmed", e.Confirmed)
		return true
	}

	far := 0
	for i := 1; i < len(b); i++ {
		if XOR(t.self, b[i].Addr.PublicKey).Cmp(XOR(t.self, b[far].Addr.PublicKey)) > 0 {
			far = i
		}
	}
	if XOR(t.self, e.Addr.PublicKey).Cmp(XOR(t.self, b[far].Addr.PublicKey)) >= 0 {
		return false
	}
	t.log.Debug("node replaced", "peer", e.Addr.PublicKey.Short(), "evicted", b[far].Addr.PublicKey.Short(), "bucket", idx)
	ne := e
	b[far] = &ne
	return true
}

// MarkResponded records an authenticated answer from pk at addr. The
// entry is created if missing.
func (t *Table) MarkResponded(addr protocol.PeerAddress, now time.Time, rtt time.Duration) bool {
	idx, pos := t.find(addr.PublicKey)
	if idx < 0 {
		return false
	}
	if pos < 0 {
		return t.InsertOrUpdate(Entry{Addr: addr, LastSeen: now, RTT: rtt, Confirmed: true})
	}
	cur := t.buckets[idx][pos]
	cur.Addr = addr
	cur.LastSeen = now
	cur.RTT = smoothRTT(cur.RTT, rtt)
	cur.Confirmed = true
	return true
}

// Touch refreshes LastSeen of a known entry without confirming it.
func (t *Table) Touch(pk crypto.PublicKey, now time.Time) {
	idx, pos := t.find(pk)
	if pos < 0 {
		return
	}
	if cur := t.buckets[idx][pos]; now.After(cur.LastSeen) {
		cur.LastSeen = now
	}
}

func (t *Table) Get(pk crypto.PublicKey) (Entry, bool) {
	idx, pos := t.find(pk)
	if pos < 0 {
		return Entry{}, false
	}
	return *t.buckets[idx][pos], true
}

func (t *Table) Remove(pk crypto.PublicKey) bool {
	idx, pos := t.find(pk)
	if pos < 0 {
		return false
	}
	b := t.buckets[idx]
	t.buckets[idx] = append(b[:pos], b[pos+1:]...)
	t.count--
	return true
}

// EvictStale removes every entry unseen for longer than StaleAfter and
// returns them.
func (t *Table) EvictStale(now time.Time) []Entry {
	var evicted []Entry
	for idx, b := range t.buckets {
		if len(b) == 0 {
			continue
		}
		kept := b[:0]
		for _, e := range b {
			if e.Stale(now, t.cfg.StaleAfter) {
				evicted = append(evicted, *e)
				continue
			}
			kept = append(kept, e)
		}
		for i := len(kept); i < len(b); i++ {
			b[i] = nil
		}
		t.buckets[idx] = kept
	}
	t.count -= len(evicted)
	for _, e := range evicted {
		t.log.Debug("node evicted", "peer", e.Addr.PublicKey.Short(), "last_seen", e.LastSeen)
	}
	return evicted
}

// Entries returns a copy of every entry, closest to self first.
func (t *Table) Entries() []Entry {
	return t.Closest(t.self, t.count, nil)
}

// ClosestTo returns up to n addresses in ascending XOR distance from
// target. Equal distances are ordered most recently seen first. The table
// is not modified.
func (t *Table) ClosestTo(target crypto.PublicKey, n int) []protocol.PeerAddress {
	entries := t.Closest(target, n, nil)
	out := make([]protocol.PeerAddress, len(entries))
	for i, e := range entries {
		out[i] = e.Addr
	}
	return out
}

// Closest is ClosestTo returning whole entries, limited to those accepted
// by keep when it is non-nil.
func (t *Table) Closest(target crypto.PublicKey, n int, keep func(Entry) bool) []Entry {
	if n <= 0 {
		return nil
	}
	all := make([]Entry, 0, t.count)
	for _, b := range t.buckets {
		for _, e := range b {
			if keep == nil || keep(*e) {
				all = append(all, *e)
			}
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		if c := CompareDistance(all[i].Addr.PublicKey, all[j].Addr.PublicKey, target); c != 0 {
			return c < 0
		}
		return all[i].LastSeen.After(all[j].LastSeen)
	})
	if len(all) > n {
		all = all[:n]
	}
	return all
}

// Confirmed returns up to n confirmed entries closest to target.
func (t *Table) Confirmed(target crypto.PublicKey, n int) []Entry {
	return t.Closest(target, n, func(e Entry) bool { return e.Confirmed })
}

// bucketLen returns the number of entries in bucket i.
func (t *Table) bucketLen(i int) int {
	if i < 0 || i >= NumBuckets {
		return 0
	}
	return len(t.buckets[i])
}
