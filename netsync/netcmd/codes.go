package netcmd

import "fmt"

const (
	// MinVersion is the oldest protocol version spoken.
	MinVersion uint8 = 6
	// MaxVersion is the newest protocol version spoken.
	MaxVersion uint8 = 7
	// UsherVersion is stamped on usher greetings, which precede negotiation.
	UsherVersion uint8 = 0

	// DefaultMaxPayload bounds the payload of a single command.
	DefaultMaxPayload = 2<<20 + 4096

	// CompressThreshold is the payload size above which data and deltas are compressed.
	CompressThreshold = 0xfff

	// NonceSize is the size of handshake nonces.
	NonceSize = 20
	// SessionKeySize is the size of the session key chosen by the client.
	SessionKeySize = 20
)

// Code identifies a command. The values are part of the wire protocol.
type Code uint8

const (
	CodeError      Code = 0
	CodeBye        Code = 1
	CodeHello      Code = 2
	CodeAnonymous  Code = 3
	CodeAuth       Code = 4
	CodeConfirm    Code = 5
	CodeRefine     Code = 6
	CodeDone       Code = 7
	CodeData       Code = 8
	CodeDelta      Code = 9
	CodeUsher      Code = 100
	CodeUsherReply Code = 101
)

// Valid reports whether c is a known command code.
func (c Code) Valid() bool {
	return c <= CodeDelta || c == CodeUsher || c == CodeUsherReply
}

// Authenticated reports whether commands with this code are covered by the HMAC chain.
func (c Code) Authenticated() bool {
	return c != CodeUsher && c != CodeUsherReply
}

func (c Code) String() string {
	switch c {
	case CodeError:
		return "error"
	case CodeBye:
		return "bye"
	case CodeHello:
		return "hello"
	case CodeAnonymous:
		return "anonymous"
	case CodeAuth:
		return "auth"
	case CodeConfirm:
		return "confirm"
	case CodeRefine:
		return "refine"
	case CodeDone:
		return "done"
	case CodeData:
		return "data"
	case CodeDelta:
		return "delta"
	case CodeUsher:
		return "usher"
	case CodeUsherReply:
		return "usher_reply"
	}
	return fmt.Sprintf("<unknown code %d>", uint8(c))
}

// ErrorCode is the numeric code carried in error commands and used as a
// process exit status.
type ErrorCode int

const (
	NoError              ErrorCode = 200
	PartialTransfer      ErrorCode = 211
	NoTransfer           ErrorCode = 212
	NotPermitted         ErrorCode = 412
	UnknownKey           ErrorCode = 422
	MixingVersions       ErrorCode = 432
	RoleMismatch         ErrorCode = 512
	BadCommand           ErrorCode = 521
	FailedIdentification ErrorCode = 532
)

func (c ErrorCode) String() string {
	switch c {
	case NoError:
		return "no error"
	case PartialTransfer:
		return "partial transfer"
	case NoTransfer:
		return "no transfer"
	case NotPermitted:
		return "not permitted"
	case UnknownKey:
		return "unknown key"
	case MixingVersions:
		return "mixing versions"
	case RoleMismatch:
		return "role mismatch"
	case BadCommand:
		return "bad command"
	case FailedIdentification:
		return "failed identification"
	}
	return fmt.Sprintf("error %d", int(c))
}

// Role says which direction items may flow in a session.
type Role uint8

const (
	SourceRole        Role = 1
	SinkRole          Role = 2
	SourceAndSinkRole Role = 3
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r >= SourceRole && r <= SourceAndSinkRole
}

// Sends reports whether a peer in this role sends items.
func (r Role) Sends() bool { return r == SourceRole || r == SourceAndSinkRole }

// Receives reports whether a peer in this role receives items.
func (r Role) Receives() bool { return r == SinkRole || r == SourceAndSinkRole }

// Corresponding returns the role the other side takes.
func (r Role) Corresponding() Role {
	switch r {
	case SourceRole:
		return SinkRole
	case SinkRole:
		return SourceRole
	}
	return r
}

func (r Role) String() string {
	switch r {
	case SourceRole:
		return "source"
	case SinkRole:
		return "sink"
	case SourceAndSinkRole:
		return "source and sink"
	}
	return fmt.Sprintf("<unknown role %d>", uint8(r))
}

// RefinementType distinguishes refinement queries from responses.
type RefinementType uint8

const (
	Query    RefinementType = 0
	Response RefinementType = 1
)

func (t RefinementType) String() string {
	switch t {
	case Query:
		return "query"
	case Response:
		return "response"
	}
	return fmt.Sprintf("<unknown refinement %d>", uint8(t))
}

// Compression is the flag byte preceding data and delta payloads.
type Compression uint8

const (
	Raw  Compression = 0
	Gzip Compression = 1
	Zstd Compression = 2
)
