package toxcore

import (
	"errors"
	"fmt"
)

var (
	ErrClosed      = errors.New("toxcore: node closed")
	ErrUDPDisabled = errors.New("toxcore: UDP is disabled")
)

// ConfigError reports an invalid Options field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("toxcore: invalid option %s: %s", e.Field, e.Reason)
}

// NetworkError reports a socket, resolve or dial failure.
type NetworkError struct {
	Op   string
	Addr string
	Err  error
}

func (e *NetworkError) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("toxcore: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("toxcore: %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }
