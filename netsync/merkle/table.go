package merkle

import (
	"encoding/hex"

	"github.com/vcsnet/netsync/common/types"
)

// Key addresses a node in a Table. Prefix nibbles at and past Level are zero.
type Key struct {
	Level  uint8
	Prefix types.ID
}

// Table holds the nodes of one trie.
type Table map[Key]*Node

// nibble returns the i-th 4-bit digit of id, most significant first.
func nibble(id types.ID, i int) int {
	b := id[i/2]
	if i%2 == 0 {
		return int(b >> 4)
	}
	return int(b & 0xf)
}

// truncate keeps the first level nibbles of id.
func truncate(id types.ID, level int) types.ID {
	var out types.ID
	copy(out[:], id[:level/2])
	if level%2 == 1 {
		out[level/2] = id[level/2] & 0xf0
	}
	return out
}

func withNibble(prefix types.ID, level, slot int) types.ID {
	if level%2 == 0 {
		prefix[level/2] |= byte(slot) << 4
	} else {
		prefix[level/2] |= byte(slot)
	}
	return prefix
}

// SlotFor returns the slot and node prefix for id at level.
func SlotFor(id types.ID, level int) (int, types.ID) {
	return nibble(id, level), truncate(id, level)
}

// PrefixString renders the first level nibbles of prefix in hex.
func PrefixString(prefix types.ID, level int) string {
	return hex.EncodeToString(prefix[:])[:level]
}

// NewTable returns a table holding an empty root node for t.
func NewTable(t types.ItemType) Table {
	root := NewNode(t, 0, types.EmptyID)
	return Table{root.Key(): root}
}

// Node returns the node at (level, prefix).
func (tab Table) Node(level int, prefix types.ID) (*Node, bool) {
	n, ok := tab[Key{Level: uint8(level), Prefix: prefix}]
	return n, ok
}

// Insert adds leaf to the trie below level. Colliding leaves are pushed one
// level down until they separate. Subtree hashes are left stale until
// Recalculate.
func (tab Table) Insert(t types.ItemType, leaf types.ID, level int) {
	slot, prefix := SlotFor(leaf, level)
	n, ok := tab.Node(level, prefix)
	if !ok {
		n = NewNode(t, uint8(level), prefix)
		tab[n.Key()] = n
	}
	switch n.States[slot] {
	case Empty:
		n.States[slot] = Leaf
		n.Hashes[slot] = leaf
	case Leaf:
		existing := n.Hashes[slot]
		if existing == leaf {
			return
		}
		tab.Insert(t, existing, level+1)
		tab.Insert(t, leaf, level+1)
		n.States[slot] = Subtree
		n.Hashes[slot] = types.EmptyID
	case Subtree:
		tab.Insert(t, leaf, level+1)
	}
}

// Recalculate recomputes leaf counts and subtree hashes below the node at
// (level, prefix) and returns its hash.
func (tab Table) Recalculate(prefix types.ID, level int) types.ID {
	n, ok := tab.Node(level, prefix)
	if !ok {
		return types.EmptyID
	}
	n.Leaves = 0
	for slot, state := range n.States {
		switch state {
		case Leaf:
			n.Leaves++
		case Subtree:
			child := n.ChildPrefix(slot)
			n.Hashes[slot] = tab.Recalculate(child, level+1)
			if c, ok := tab.Node(level+1, child); ok {
				n.Leaves += c.Leaves
			}
		}
	}
	return n.Hash()
}

// Locate finds the node holding id as a leaf.
func (tab Table) Locate(id types.ID) (*Node, int, bool) {
	for level := 0; level < Levels; level++ {
		slot, prefix := SlotFor(id, level)
		n, ok := tab.Node(level, prefix)
		if !ok {
			return nil, 0, false
		}
		switch n.States[slot] {
		case Leaf:
			if n.Hashes[slot] == id {
				return n, slot, true
			}
			return nil, 0, false
		case Subtree:
			continue
		default:
			return nil, 0, false
		}
	}
	return nil, 0, false
}

// CollectItems adds every leaf below the node at (level, prefix) to items.
func (tab Table) CollectItems(prefix types.ID, level int, items map[types.ID]struct{}) {
	n, ok := tab.Node(level, prefix)
	if !ok {
		return
	}
	for slot, state := range n.States {
		switch state {
		case Leaf:
			items[n.Hashes[slot]] = struct{}{}
		case Subtree:
			tab.CollectItems(n.ChildPrefix(slot), level+1, items)
		}
	}
}
