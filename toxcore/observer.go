package toxcore

import (
	"github.com/TheusHen/toxcore/toxcore/connection"
	"github.com/TheusHen/toxcore/toxcore/crypto"
	"github.com/TheusHen/toxcore/toxcore/logging"
)

// LogObserver receives every log record at or above Options.LogLevel,
// with the file, line and function that emitted it. It is called
// synchronously and must not call back into the Node.
type LogObserver = logging.Observer

type LogObserverFunc = logging.ObserverFunc

// SourceLocation is where a log record was emitted.
type SourceLocation = logging.Source

// ConnectionStatus is the node-wide connection status.
type ConnectionStatus = connection.Status

const (
	ConnectionNone       = connection.None
	ConnectionConnecting = connection.Connecting
	ConnectionUDP        = connection.ConnectedUDP
	ConnectionRelay      = connection.ConnectedRelay
)

// StatusObserver is told about every connection status transition.
type StatusObserver = connection.Observer

type StatusObserverFunc = connection.ObserverFunc

// MessageObserver receives application payloads from established
// sessions.
type MessageObserver interface {
	Received(peer crypto.PublicKey, payload []byte)
}

type MessageObserverFunc func(peer crypto.PublicKey, payload []byte)

func (f MessageObserverFunc) Received(peer crypto.PublicKey, payload []byte) { f(peer, payload) }
