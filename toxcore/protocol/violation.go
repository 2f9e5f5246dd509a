package protocol

import (
	"errors"
	"fmt"
)

// Reason classifies a malformed packet.
type Reason uint8

const (
	ReasonEmpty Reason = iota + 1
	ReasonUnknownType
	ReasonTooShort
	ReasonTooLong
	ReasonBadVersion
	ReasonBadPayload
	ReasonBadNode
)

func (r Reason) String() string {
	switch r {
	case ReasonEmpty:
		return "empty"
	case ReasonUnknownType:
		return "unknown_type"
	case ReasonTooShort:
		return "too_short"
	case ReasonTooLong:
		return "too_long"
	case ReasonBadVersion:
		return "bad_version"
	case ReasonBadPayload:
		return "bad_payload"
	case ReasonBadNode:
		return "bad_node"
	default:
		return "unknown"
	}
}

// Violation reports a packet that failed structural validation. Violations
// are dropped and counted by the caller, never surfaced to the host.
type Violation struct {
	Type   PacketType
	Reason Reason
}

func (v *Violation) Error() string {
	return fmt.Sprintf("protocol: %s packet: %s", v.Type, v.Reason)
}

func violation(t PacketType, r Reason) error {
	return &Violation{Type: t, Reason: r}
}

// AsViolation extracts a *Violation from err.
func AsViolation(err error) (*Violation, bool) {
	var v *Violation
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}
