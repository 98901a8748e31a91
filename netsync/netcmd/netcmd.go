// Package netcmd implements the framing and payloads of netsync commands.
//
// A frame is
//
//	version:u8 | code:u8 | uvarint(len) | payload[len] | hmac[20]
//
// where the HMAC is omitted for usher and usher_reply commands.
package netcmd

import (
	"crypto/hmac"
	"errors"
	"fmt"

	"github.com/multiformats/go-varint"
)

// ErrBadDecode is returned for malformed or tampered input.
var ErrBadDecode = errors.New("netcmd: bad decode")

func badDecode(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadDecode, fmt.Sprintf(format, args...))
}

// Cmd is a single framed command.
type Cmd struct {
	Version uint8
	Code    Code
	Payload []byte
}

// EncodedSize returns the size of the frame carrying c.
func (c *Cmd) EncodedSize() int {
	n := 2 + varint.UvarintSize(uint64(len(c.Payload))) + len(c.Payload)
	if c.Code.Authenticated() {
		n += MACSize
	}
	return n
}

// Limits bound what Read accepts.
type Limits struct {
	MinVersion uint8
	MaxVersion uint8
	MaxPayload int
}

// DefaultLimits accepts every supported version.
func DefaultLimits() Limits {
	return Limits{
		MinVersion: MinVersion,
		MaxVersion: MaxVersion,
		MaxPayload: DefaultMaxPayload,
	}
}

// Read decodes one command from the front of buf. It returns a nil command
// and no error when buf doesn't hold a complete frame yet. On success it
// returns the number of bytes consumed, and mac has advanced over the frame.
func Read(buf []byte, mac *ChainedHMAC, lim Limits) (*Cmd, int, error) {
	if len(buf) < 2 {
		return nil, 0, nil
	}
	version, code := buf[0], Code(buf[1])
	if !code.Valid() {
		return nil, 0, badDecode("unknown command code 0x%x", uint8(code))
	}
	tooOld, tooNew := version < lim.MinVersion, version > lim.MaxVersion
	switch {
	case code == CodeUsher, code == CodeUsherReply:
		// Negotiated by the session.
	case tooOld, tooNew:
		return nil, 0, badDecode("protocol version %d of %s outside [%d, %d]",
			version, code, lim.MinVersion, lim.MaxVersion)
	}
	size, n, err := varint.FromUvarint(buf[2:])
	switch {
	case errors.Is(err, varint.ErrUnderflow):
		return nil, 0, nil
	case err != nil:
		return nil, 0, badDecode("payload length: %v", err)
	case size > uint64(lim.MaxPayload):
		return nil, 0, badDecode("oversized payload of %d bytes", size)
	}
	end := 2 + n + int(size)
	total := end
	if code.Authenticated() {
		total += MACSize
	}
	if len(buf) < total {
		return nil, 0, nil
	}
	if code.Authenticated() {
		want := mac.Process(buf[:end])
		if !hmac.Equal(want[:], buf[end:total]) {
			return nil, 0, badDecode("bad HMAC on %s command", code)
		}
	}
	cmd := &Cmd{
		Version: version,
		Code:    code,
		Payload: append([]byte(nil), buf[2+n:end]...),
	}
	return cmd, total, nil
}

// Write appends the frame of cmd to dst, advancing mac for authenticated
// commands.
func Write(dst []byte, cmd *Cmd, mac *ChainedHMAC) []byte {
	start := len(dst)
	dst = append(dst, cmd.Version, byte(cmd.Code))
	dst = append(dst, varint.ToUvarint(uint64(len(cmd.Payload)))...)
	dst = append(dst, cmd.Payload...)
	if cmd.Code.Authenticated() {
		sum := mac.Process(dst[start:])
		dst = append(dst, sum[:]...)
	}
	return dst
}
