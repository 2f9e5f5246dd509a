// Package transport defines the socket capability the node consumes.
//
// Every transport exposes a non-blocking ReadFrom: when nothing is queued
// it returns ErrWouldBlock at once. Sockets that can only be read with
// blocking calls are drained by a reader goroutine into an Inbox.
package transport

import (
	"errors"
	"net/netip"
)

var (
	ErrWouldBlock = errors.New("transport: would block")
	ErrClosed     = errors.New("transport: closed")
	ErrNoRoute    = errors.New("transport: no route to address")
)

// PacketConn is a datagram socket with a non-blocking read side.
type PacketConn interface {
	// ReadFrom copies the next queued datagram into b. It returns
	// ErrWouldBlock when nothing is queued and ErrClosed once closed.
	ReadFrom(b []byte) (int, netip.AddrPort, error)
	WriteTo(b []byte, to netip.AddrPort) (int, error)
	LocalAddr() netip.AddrPort
	Close() error
}

// IsWouldBlock reports whether err means "no data now".
func IsWouldBlock(err error) bool {
	return errors.Is(err, ErrWouldBlock)
}
