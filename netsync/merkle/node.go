// Package merkle implements the radix-16 merkle trie indexing the items a
// peer offers for one item type.
package merkle

import (
	"errors"
	"fmt"

	"github.com/multiformats/go-varint"
	"go.uber.org/zap/zapcore"

	"github.com/vcsnet/netsync/common/types"
)

const (
	// FanoutBits is the number of id bits consumed per level.
	FanoutBits = 4
	// Slots is the number of children of a node.
	Slots = 1 << FanoutBits
	// Levels is the depth of a trie over 20-byte ids.
	Levels = types.IDSize * 8 / FanoutBits
	// BitmapSize is the size of the serialized slot state bitmap.
	BitmapSize = Slots * 2 / 8
)

// ErrMalformed is returned when a serialized node is invalid.
var ErrMalformed = errors.New("merkle: malformed node")

// SlotState is the content kind of a slot.
type SlotState uint8

const (
	Empty   SlotState = 0
	Leaf    SlotState = 1
	Subtree SlotState = 2
)

func (s SlotState) String() string {
	switch s {
	case Empty:
		return "empty"
	case Leaf:
		return "leaf"
	case Subtree:
		return "subtree"
	}
	return fmt.Sprintf("<invalid slot state %d>", uint8(s))
}

// Node is one trie node. Leaf slots hold item ids, subtree slots hold the
// hash of the child node.
type Node struct {
	Level  uint8
	Prefix types.ID
	Type   types.ItemType
	Leaves uint64
	States [Slots]SlotState
	Hashes [Slots]types.ID
}

// NewNode returns an empty node.
func NewNode(t types.ItemType, level uint8, prefix types.ID) *Node {
	return &Node{Level: level, Prefix: prefix, Type: t}
}

// Key returns the table key of the node.
func (n *Node) Key() Key {
	return Key{Level: n.Level, Prefix: n.Prefix}
}

// ChildPrefix returns the prefix of the child under slot.
func (n *Node) ChildPrefix(slot int) types.ID {
	return withNibble(n.Prefix, int(n.Level), slot)
}

// Hash returns the content hash of the node.
func (n *Node) Hash() types.ID {
	return types.CalcID(n.body())
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (n *Node) MarshalLogObject(encoder zapcore.ObjectEncoder) error {
	encoder.AddUint8("level", n.Level)
	encoder.AddString("prefix", PrefixString(n.Prefix, int(n.Level)))
	encoder.AddString("type", n.Type.String())
	encoder.AddUint64("leaves", n.Leaves)
	return nil
}

func prefixLen(level int) int {
	return (level*FanoutBits + 7) / 8
}

func (n *Node) body() []byte {
	plen := prefixLen(int(n.Level))
	buf := make([]byte, 0, 1+plen+1+10+BitmapSize+Slots*types.IDSize)
	buf = append(buf, varint.ToUvarint(uint64(n.Level))...)
	buf = append(buf, n.Prefix[:plen]...)
	buf = append(buf, byte(n.Type))
	buf = append(buf, varint.ToUvarint(n.Leaves)...)
	var bitmap [BitmapSize]byte
	for slot, state := range n.States {
		bitmap[slot/4] |= byte(state) << (2 * (slot % 4))
	}
	buf = append(buf, bitmap[:]...)
	for slot, state := range n.States {
		if state != Empty {
			buf = append(buf, n.Hashes[slot][:]...)
		}
	}
	return buf
}

// MarshalBinary returns the self-hash followed by the node body.
func (n *Node) MarshalBinary() ([]byte, error) {
	body := n.body()
	sum := types.CalcID(body)
	return append(sum[:], body...), nil
}

// UnmarshalBinary decodes a node serialized with MarshalBinary. The whole
// buffer must be consumed.
func (n *Node) UnmarshalBinary(buf []byte) error {
	used, err := n.decode(buf)
	if err != nil {
		return err
	}
	if used != len(buf) {
		return fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(buf)-used)
	}
	return nil
}

// Decode decodes a node from the front of buf and returns the number of
// bytes used.
func Decode(buf []byte) (*Node, int, error) {
	var n Node
	used, err := n.decode(buf)
	if err != nil {
		return nil, 0, err
	}
	return &n, used, nil
}

func (n *Node) decode(buf []byte) (int, error) {
	if len(buf) < types.IDSize {
		return 0, fmt.Errorf("%w: short self hash", ErrMalformed)
	}
	want := types.BytesToID(buf[:types.IDSize])
	pos := types.IDSize

	level, used, err := varint.FromUvarint(buf[pos:])
	if err != nil {
		return 0, fmt.Errorf("%w: level: %w", ErrMalformed, err)
	}
	if level >= Levels {
		return 0, fmt.Errorf("%w: level %d out of range", ErrMalformed, level)
	}
	pos += used
	n.Level = uint8(level)

	plen := prefixLen(int(level))
	if len(buf) < pos+plen+1 {
		return 0, fmt.Errorf("%w: short prefix", ErrMalformed)
	}
	n.Prefix = types.ID{}
	copy(n.Prefix[:], buf[pos:pos+plen])
	if n.Prefix != truncate(n.Prefix, int(level)) {
		return 0, fmt.Errorf("%w: prefix has bits past level %d", ErrMalformed, level)
	}
	pos += plen

	n.Type = types.ItemType(buf[pos])
	if !n.Type.Valid() {
		return 0, fmt.Errorf("%w: item type %d", ErrMalformed, buf[pos])
	}
	pos++

	n.Leaves, used, err = varint.FromUvarint(buf[pos:])
	if err != nil {
		return 0, fmt.Errorf("%w: leaf count: %w", ErrMalformed, err)
	}
	pos += used

	if len(buf) < pos+BitmapSize {
		return 0, fmt.Errorf("%w: short bitmap", ErrMalformed)
	}
	for slot := range n.States {
		state := SlotState(buf[pos+slot/4] >> (2 * (slot % 4)) & 0x3)
		if state > Subtree {
			return 0, fmt.Errorf("%w: slot %d state %d", ErrMalformed, slot, state)
		}
		n.States[slot] = state
	}
	pos += BitmapSize

	for slot, state := range n.States {
		n.Hashes[slot] = types.EmptyID
		if state == Empty {
			continue
		}
		if len(buf) < pos+types.IDSize {
			return 0, fmt.Errorf("%w: short slot %d", ErrMalformed, slot)
		}
		copy(n.Hashes[slot][:], buf[pos:pos+types.IDSize])
		pos += types.IDSize
	}

	if got := types.CalcID(buf[types.IDSize:pos]); got != want {
		return 0, fmt.Errorf("%w: self hash %s, computed %s", ErrMalformed, want.ShortString(), got.ShortString())
	}
	return pos, nil
}
