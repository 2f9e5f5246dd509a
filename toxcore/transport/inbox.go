package transport

import (
	"net/netip"
	"sync"
	"sync/atomic"
)

// DefaultInboxSize is the number of datagrams an Inbox buffers.
const DefaultInboxSize = 512

type datagram struct {
	data []byte
	from netip.AddrPort
}

// Inbox buffers datagrams between a reader goroutine and a non-blocking
// consumer. When the buffer is full new datagrams are dropped and counted,
// the way a kernel socket buffer drops them.
type Inbox struct {
	ch      chan datagram
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64
}

func NewInbox(size int) *Inbox {
	if size <= 0 {
		size = DefaultInboxSize
	}
	return &Inbox{ch: make(chan datagram, size), done: make(chan struct{})}
}

// Push queues a copy of b. It never blocks.
func (q *Inbox) Push(b []byte, from netip.AddrPort) bool {
	select {
	case <-q.done:
		return false
	default:
	}
	select {
	case q.ch <- datagram{data: append([]byte(nil), b...), from: from}:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Pop copies the oldest datagram into b, truncating it if b is short.
func (q *Inbox) Pop(b []byte) (int, netip.AddrPort, error) {
	select {
	case d := <-q.ch:
		return copy(b, d.data), d.from, nil
	default:
	}
	select {
	case <-q.done:
		return 0, netip.AddrPort{}, ErrClosed
	default:
		return 0, netip.AddrPort{}, ErrWouldBlock
	}
}

// Close stops accepting datagrams. Queued datagrams are discarded.
func (q *Inbox) Close() {
	q.once.Do(func() { close(q.done) })
}

// Done is closed when the inbox is closed.
func (q *Inbox) Done() <-chan struct{} { return q.done }

// Dropped returns how many datagrams were lost to a full buffer.
func (q *Inbox) Dropped() uint64 { return q.dropped.Load() }
