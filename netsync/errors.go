package netsync

import (
	"fmt"

	"github.com/vcsnet/netsync/netsync/netcmd"
)

// ErrorKind classifies session failures.
type ErrorKind uint8

const (
	// BadDecode is malformed or tampered input. The connection is dropped
	// without notifying the peer.
	BadDecode ErrorKind = iota + 1
	// FailedIdentification is a failed key, nonce or signature check.
	FailedIdentification
	// NotPermitted is a denied role or branch permission.
	NotPermitted
	// MixingVersions is an epoch mismatch or an unsupported protocol version.
	MixingVersions
	// BadCommand is a command that is valid on the wire but out of place.
	BadCommand
	// UnknownKey is a cert signed by a key the store doesn't know.
	UnknownKey
	// NetworkError is a transport failure or unexpected EOF.
	NetworkError
	// LocalFailure is a failure of the local store or a checkpoint.
	LocalFailure
)

func (k ErrorKind) String() string {
	switch k {
	case BadDecode:
		return "bad decode"
	case FailedIdentification:
		return "failed identification"
	case NotPermitted:
		return "not permitted"
	case MixingVersions:
		return "mixing versions"
	case BadCommand:
		return "bad command"
	case UnknownKey:
		return "unknown key"
	case NetworkError:
		return "network error"
	case LocalFailure:
		return "local failure"
	}
	return fmt.Sprintf("<unknown error kind %d>", uint8(k))
}

// code is the wire code reported for errors of this kind.
func (k ErrorKind) code() netcmd.ErrorCode {
	switch k {
	case FailedIdentification:
		return netcmd.FailedIdentification
	case NotPermitted:
		return netcmd.NotPermitted
	case MixingVersions:
		return netcmd.MixingVersions
	case BadCommand:
		return netcmd.BadCommand
	case UnknownKey:
		return netcmd.UnknownKey
	}
	return 0
}

// notifies reports whether the peer is sent an error command before the
// connection is closed.
func (k ErrorKind) notifies() bool {
	return k != BadDecode && k != NetworkError && k != LocalFailure
}

func kindOf(code netcmd.ErrorCode) ErrorKind {
	switch code {
	case netcmd.FailedIdentification:
		return FailedIdentification
	case netcmd.NotPermitted, netcmd.RoleMismatch:
		return NotPermitted
	case netcmd.MixingVersions:
		return MixingVersions
	case netcmd.UnknownKey:
		return UnknownKey
	}
	return BadCommand
}

// Error is a session failure. Errors compare equal under errors.Is to the
// sentinel of their kind.
type Error struct {
	Kind ErrorKind
	Code netcmd.ErrorCode
	Msg  string
	// Remote is set when the error was reported by the peer.
	Remote bool
	Err    error
}

var (
	ErrBadDecode            = &Error{Kind: BadDecode}
	ErrFailedIdentification = &Error{Kind: FailedIdentification}
	ErrNotPermitted         = &Error{Kind: NotPermitted}
	ErrMixingVersions       = &Error{Kind: MixingVersions}
	ErrBadCommand           = &Error{Kind: BadCommand}
	ErrUnknownKey           = &Error{Kind: UnknownKey}
	ErrNetwork              = &Error{Kind: NetworkError}
	ErrLocalFailure         = &Error{Kind: LocalFailure}
)

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: kind.code(), Msg: fmt.Sprintf(format, args...)}
}

func wrapError(kind ErrorKind, err error, format string, args ...any) *Error {
	e := newError(kind, format, args...)
	e.Err = err
	return e
}

func (e *Error) Error() string {
	prefix := e.Kind.String()
	if e.Remote {
		prefix = "peer reported " + prefix
	}
	msg := e.Msg
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Code != 0 {
		return fmt.Sprintf("%s (%d): %s", prefix, int(e.Code), msg)
	}
	return fmt.Sprintf("%s: %s", prefix, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Msg == "" && t.Err == nil && t.Code == 0 {
		return t.Kind == e.Kind
	}
	return t == e
}
