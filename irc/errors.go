package irc

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrNilTransport      = errors.New("irc: transport cannot be nil")
	ErrNilState          = errors.New("irc: connection state cannot be nil")
	ErrNilListener       = errors.New("irc: listener cannot be nil")
	ErrConnectFailed     = errors.New("irc: connect failed")
	ErrConnectTimeout    = errors.New("irc: connect timed out")
	ErrConnectInProgress = errors.New("irc: connect in progress")
	ErrAlreadyConnected  = errors.New("irc: already connected")
	ErrClosed            = errors.New("irc: connection closed")
	ErrNotConnected      = errors.New("irc: not connected")
	ErrInvalidTarget     = errors.New("irc: invalid target")
	ErrEmptyMessage      = errors.New("irc: empty message")
	ErrInvalidNick       = errors.New("irc: invalid nickname")
	ErrInvalidChannel    = errors.New("irc: invalid channel name")
	ErrChannelLimit      = errors.New("irc: channel limit reached")
	ErrNotJoined         = errors.New("irc: not joined to channel")
	ErrListFailed        = errors.New("irc: channel list failed")
)

// ConnectError is returned by Connection.Connect when the transport reports
// a failure. It matches ErrConnectFailed with errors.Is.
type ConnectError struct {
	Address string
	Err     error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("irc: failed to connect to %s: %v", e.Address, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// Is reports ErrConnectFailed as a match.
func (e *ConnectError) Is(target error) bool {
	return target == ErrConnectFailed
}
