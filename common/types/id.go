package types

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"slices"

	"github.com/spacemeshos/go-scale"

	"github.com/vcsnet/netsync/hash"
)

// IDSize is the size of an item identifier in bytes.
const IDSize = hash.Size

// ID is the content hash identifying any synchronized item.
type ID [IDSize]byte

// EmptyID is the canonical empty ID.
var EmptyID ID

// CalcID computes the ID of the given bytes.
func CalcID(data ...[]byte) ID {
	return ID(hash.Sum20(data...))
}

// BytesToID copies buf into an ID. Shorter input is zero-padded on the right.
func BytesToID(buf []byte) (id ID) {
	copy(id[:], buf)
	return id
}

// HexToID parses a 40-character hex string.
func HexToID(s string) (ID, error) {
	var id ID
	buf, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("decode id %q: %w", s, err)
	}
	if len(buf) != IDSize {
		return id, fmt.Errorf("decode id %q: want %d bytes, got %d", s, IDSize, len(buf))
	}
	copy(id[:], buf)
	return id, nil
}

// Bytes returns the byte slice of the ID.
func (id ID) Bytes() []byte { return id[:] }

// IsEmpty reports whether id is all zeroes.
func (id ID) IsEmpty() bool { return id == EmptyID }

// String implements fmt.Stringer.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// ShortString returns the first 10 hex characters, for logging purposes.
func (id ID) ShortString() string {
	return Shorten(id.String(), 10)
}

// Compare returns an integer comparing two ids lexicographically.
func (id ID) Compare(other ID) int {
	return bytes.Compare(id[:], other[:])
}

// EncodeScale implements scale codec interface.
func (id *ID) EncodeScale(e *scale.Encoder) (int, error) {
	return scale.EncodeByteArray(e, id[:])
}

// DecodeScale implements scale codec interface.
func (id *ID) DecodeScale(d *scale.Decoder) (int, error) {
	return scale.DecodeByteArray(d, id[:])
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(buf []byte) error {
	parsed, err := HexToID(string(buf))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// SortIDs sorts ids in place in ascending order.
func SortIDs(ids []ID) {
	slices.SortFunc(ids, func(a, b ID) int { return a.Compare(b) })
}

// Shorten truncates s to at most maxlen bytes.
func Shorten(s string, maxlen int) string {
	return s[:min(maxlen, len(s))]
}
