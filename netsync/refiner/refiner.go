// Package refiner reconciles the item sets of two peers for one item type by
// exchanging merkle trie nodes.
package refiner

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/exp/maps"

	"github.com/vcsnet/netsync/common/types"
	"github.com/vcsnet/netsync/netsync/merkle"
	"github.com/vcsnet/netsync/netsync/netcmd"
)

var (
	// ErrQueryUnderflow is returned for a response nobody asked for.
	ErrQueryUnderflow = errors.New("refiner: underflow on query-in-flight counter")
	// ErrItemUnderflow is returned when more items arrive than announced.
	ErrItemUnderflow = errors.New("refiner: underflow on items-to-receive counter")
	// ErrWrongType is returned for a node of another item type.
	ErrWrongType = errors.New("refiner: node of wrong item type")
	// ErrTooDeep is returned for a subtree below the last trie level.
	ErrTooDeep = errors.New("refiner: subtree below last level")
	// ErrDuplicateDone is returned for a second done from the peer.
	ErrDuplicateDone = errors.New("refiner: refinement already done")
)

// Voice is the side of the connection a refiner speaks for.
type Voice uint8

const (
	ClientVoice Voice = iota
	ServerVoice
)

func (v Voice) String() string {
	if v == ServerVoice {
		return "server"
	}
	return "client"
}

// Callbacks receive the commands a refiner wants sent to the peer.
type Callbacks interface {
	QueueRefine(typ netcmd.RefinementType, node *merkle.Node)
	QueueDone(t types.ItemType, count uint64)
}

// Opt configures a Refiner.
type Opt func(*Refiner)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Opt {
	return func(r *Refiner) {
		r.logger = logger
	}
}

// Refiner runs the refinement of one item type.
type Refiner struct {
	logger *zap.Logger
	typ    types.ItemType
	voice  Voice
	cb     Callbacks

	table     merkle.Table
	local     map[types.ID]struct{}
	peer      map[types.ID]struct{}
	toSend    map[types.ID]struct{}
	toReceive uint64

	inFlight   int
	calculated bool
	done       bool
	unexplored bool
}

// New returns a refiner for items of type t.
func New(t types.ItemType, voice Voice, cb Callbacks, opts ...Opt) *Refiner {
	r := &Refiner{
		logger: zap.NewNop(),
		typ:    t,
		voice:  voice,
		cb:     cb,
		table:  merkle.NewTable(t),
		local:  map[types.ID]struct{}{},
		peer:   map[types.ID]struct{}{},
		toSend: map[types.ID]struct{}{},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.Stringer("type", t), zap.Stringer("voice", voice))
	return r
}

// Type returns the item type refined.
func (r *Refiner) Type() types.ItemType { return r.typ }

// NoteLocalItem adds id to the local set. Call Reindex once all items are noted.
func (r *Refiner) NoteLocalItem(id types.ID) {
	r.local[id] = struct{}{}
	r.table.Insert(r.typ, id, 0)
}

// LocalItemExists reports whether id was noted locally.
func (r *Refiner) LocalItemExists(id types.ID) bool {
	_, ok := r.local[id]
	return ok
}

// LocalItems returns the number of locally noted items.
func (r *Refiner) LocalItems() int { return len(r.local) }

// Reindex recomputes the trie hashes.
func (r *Refiner) Reindex() {
	r.table.Recalculate(types.EmptyID, 0)
}

// BeginRefinement queries the peer with the root node.
func (r *Refiner) BeginRefinement() {
	root, _ := r.table.Node(0, types.EmptyID)
	r.cb.QueueRefine(netcmd.Query, root)
	r.inFlight++
	r.logger.Debug("beginning refinement", zap.Int("local items", len(r.local)))
}

// ProcessRefinement handles one node received from the peer.
func (r *Refiner) ProcessRefinement(typ netcmd.RefinementType, theirs *merkle.Node) error {
	if theirs.Type != r.typ {
		return fmt.Errorf("%w: %s node in %s refinement", ErrWrongType, theirs.Type, r.typ)
	}
	ours, ok := r.table.Node(int(theirs.Level), theirs.Prefix)
	if !ok {
		ours = merkle.NewNode(r.typ, theirs.Level, theirs.Prefix)
	}

	for slot := range merkle.Slots {
		their, our := theirs.States[slot], ours.States[slot]
		if their == merkle.Leaf {
			r.peer[theirs.Hashes[slot]] = struct{}{}
		}
		if typ == netcmd.Response && their == merkle.Subtree && our != merkle.Subtree {
			r.unexplored = true
		}
		if typ == netcmd.Query {
			switch {
			case their == merkle.Leaf && our == merkle.Subtree:
				if n, _, ok := r.table.Locate(theirs.Hashes[slot]); ok {
					r.cb.QueueRefine(netcmd.Query, n)
					r.inFlight++
				}
			case their == merkle.Subtree && our == merkle.Leaf:
				if err := r.sendSyntheticSubquery(ours, slot); err != nil {
					return err
				}
			}
		}
		if their == merkle.Subtree && our == merkle.Subtree {
			switch {
			case theirs.Hashes[slot] == ours.Hashes[slot]:
				r.table.CollectItems(ours.ChildPrefix(slot), int(ours.Level)+1, r.peer)
			case typ == netcmd.Query:
				child, ok := r.table.Node(int(ours.Level)+1, ours.ChildPrefix(slot))
				if !ok {
					return fmt.Errorf("refiner: missing %s node under slot %d of %s",
						r.typ, slot, merkle.PrefixString(ours.Prefix, int(ours.Level)))
				}
				r.cb.QueueRefine(netcmd.Query, child)
				r.inFlight++
			}
		}
	}

	if typ == netcmd.Response {
		if r.inFlight == 0 {
			return ErrQueryUnderflow
		}
		r.inFlight--
		if r.voice == ClientVoice && r.inFlight == 0 {
			r.calculateItemsToSend()
			r.cb.QueueDone(r.typ, uint64(len(r.toSend)))
		}
		return nil
	}
	r.cb.QueueRefine(netcmd.Response, ours)
	return nil
}

func (r *Refiner) sendSyntheticSubquery(ours *merkle.Node, slot int) error {
	level := int(ours.Level) + 1
	if level >= merkle.Levels {
		return ErrTooDeep
	}
	leaf := ours.Hashes[slot]
	subslot, prefix := merkle.SlotFor(leaf, level)
	synth := merkle.NewNode(r.typ, uint8(level), prefix)
	synth.States[subslot] = ours.States[slot]
	synth.Hashes[subslot] = leaf
	r.cb.QueueRefine(netcmd.Query, synth)
	r.inFlight++
	return nil
}

func (r *Refiner) calculateItemsToSend() {
	if r.calculated {
		return
	}
	clear(r.toSend)
	r.toReceive = 0
	for id := range r.local {
		if _, ok := r.peer[id]; !ok {
			r.toSend[id] = struct{}{}
		}
	}
	r.calculated = true
}

// ProcessDone handles the peer's done command announcing count items.
func (r *Refiner) ProcessDone(count uint64) error {
	if r.done {
		return ErrDuplicateDone
	}
	r.calculateItemsToSend()
	r.toReceive = count
	r.logger.Debug("finished refinement",
		zap.Int("to send", len(r.toSend)),
		zap.Uint64("to receive", r.toReceive),
	)
	if r.voice == ServerVoice {
		r.cb.QueueDone(r.typ, uint64(len(r.toSend)))
	}
	r.done = true
	clear(r.table)
	return nil
}

// Done reports whether refinement finished.
func (r *Refiner) Done() bool { return r.done }

// QueriesInFlight returns the number of unanswered queries.
func (r *Refiner) QueriesInFlight() int { return r.inFlight }

// ItemsToSend returns the items the peer lacks.
func (r *Refiner) ItemsToSend() []types.ID {
	ids := maps.Keys(r.toSend)
	types.SortIDs(ids)
	return ids
}

// ShouldSend reports whether id is still waiting to be sent.
func (r *Refiner) ShouldSend(id types.ID) bool {
	_, ok := r.toSend[id]
	return ok
}

// PendingSends returns the number of items waiting to be sent.
func (r *Refiner) PendingSends() int { return len(r.toSend) }

// NoteItemSent removes id from the items to send.
func (r *Refiner) NoteItemSent(id types.ID) {
	delete(r.toSend, id)
}

// PeerOnlyItems returns the number of items the peer announced that are
// not local. more is set when a response hid peer subtrees that were never
// explored, so the peer may hold additional items.
func (r *Refiner) PeerOnlyItems() (n int, more bool) {
	for id := range r.peer {
		if _, ok := r.local[id]; !ok {
			n++
		}
	}
	return n, r.unexplored
}

// ItemsToReceive returns the number of items still expected from the peer.
func (r *Refiner) ItemsToReceive() uint64 { return r.toReceive }

// NoteItemArrived counts one received item.
func (r *Refiner) NoteItemArrived() error {
	if r.toReceive == 0 {
		return fmt.Errorf("%w: %s", ErrItemUnderflow, r.typ)
	}
	r.toReceive--
	return nil
}
