package transport

import (
	"errors"
	"fmt"
)

var (
	ErrConnectTimeout    = errors.New("connect timed out")
	ErrConnectInProgress = errors.New("connect already in progress")
	ErrNotConnected      = errors.New("not connected")
	ErrClosed            = errors.New("transport closed")
)

// ConnectError wraps a transport-level failure during dial or handshake.
type ConnectError struct {
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect: %v", e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}
