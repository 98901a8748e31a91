package types

import "fmt"

// ItemType partitions synchronized items. The values are part of the wire
// protocol.
type ItemType byte

const (
	RevisionItem ItemType = 2
	FileItem     ItemType = 3
	CertItem     ItemType = 4
	KeyItem      ItemType = 5
	EpochItem    ItemType = 6
)

// RefinedItemTypes are the item types reconciled with merkle refinement, in
// the order refinement is started.
var RefinedItemTypes = [...]ItemType{EpochItem, KeyItem, CertItem, RevisionItem}

// Valid reports whether t is a known item type.
func (t ItemType) Valid() bool {
	return t >= RevisionItem && t <= EpochItem
}

// Refined reports whether items of this type take part in refinement.
func (t ItemType) Refined() bool {
	return t.Valid() && t != FileItem
}

func (t ItemType) String() string {
	switch t {
	case RevisionItem:
		return "revision"
	case FileItem:
		return "file"
	case CertItem:
		return "cert"
	case KeyItem:
		return "key"
	case EpochItem:
		return "epoch"
	}
	return fmt.Sprintf("<unknown item type %d>", byte(t))
}
