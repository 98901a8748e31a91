// Package enumerator walks the revision graph in ancestry order and emits
// the files, revisions and certs the peer lacks, parents before children.
package enumerator

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/vcsnet/netsync/common/types"
	"github.com/vcsnet/netsync/log"
)

// ErrStalled is returned when no queued revision can make progress.
var ErrStalled = errors.New("enumerator: no revision has all parents enumerated")

// Graph exposes the local revision graph.
type Graph interface {
	Parents(rev types.ID) ([]types.ID, error)
	Children(rev types.ID) ([]types.ID, error)
	Revision(rev types.ID) (*types.Revision, error)
}

// Callbacks decide what to send and do the sending.
type Callbacks interface {
	// ProcessThisRev reports whether the peer lacks rev.
	ProcessThisRev(rev types.ID) bool
	// QueueThisCert reports whether the peer lacks cert.
	QueueThisCert(cert types.ID) bool
	// QueueThisFile reports whether file still needs to be sent.
	QueueThisFile(file types.ID) bool

	NoteFileData(file types.ID) error
	NoteFileDelta(base, target types.ID) error
	NoteRev(rev types.ID) error
	NoteCert(cert types.ID) error
}

type itemKind uint8

const (
	fileData itemKind = iota
	fileDelta
	revItem
	certItem
)

type item struct {
	kind   itemKind
	base   types.ID
	target types.ID
}

// Opt configures an Enumerator.
type Opt func(*Enumerator)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Opt {
	return func(e *Enumerator) {
		e.logger = logger
	}
}

// Enumerator emits one item per Step.
type Enumerator struct {
	logger *zap.Logger
	graph  Graph
	cb     Callbacks

	scope      map[types.ID]struct{}
	certs      map[types.ID][]types.ID
	started    bool
	revs       []types.ID
	enumerated map[types.ID]struct{}
	items      []item
	requeued   int
}

// New returns an enumerator over the revisions later noted with NoteRevision.
func New(graph Graph, cb Callbacks, opts ...Opt) *Enumerator {
	e := &Enumerator{
		logger:     zap.NewNop(),
		graph:      graph,
		cb:         cb,
		scope:      map[types.ID]struct{}{},
		certs:      map[types.ID][]types.ID{},
		enumerated: map[types.ID]struct{}{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NoteRevision adds rev to the walk. Parents outside the walk count as
// already enumerated.
func (e *Enumerator) NoteRevision(rev types.ID) {
	e.scope[rev] = struct{}{}
}

// NoteCert indexes cert as attached to rev.
func (e *Enumerator) NoteCert(rev, cert types.ID) {
	for _, c := range e.certs[rev] {
		if c == cert {
			return
		}
	}
	e.certs[rev] = append(e.certs[rev], cert)
}

func (e *Enumerator) inScope(rev types.ID) bool {
	_, ok := e.scope[rev]
	return ok
}

func (e *Enumerator) start() error {
	e.started = true
	ids := make([]types.ID, 0, len(e.scope))
	for rev := range e.scope {
		ids = append(ids, rev)
	}
	types.SortIDs(ids)
	for _, rev := range ids {
		parents, err := e.graph.Parents(rev)
		if err != nil {
			return fmt.Errorf("parents of %s: %w", rev.ShortString(), err)
		}
		root := true
		for _, p := range parents {
			if e.inScope(p) {
				root = false
				break
			}
		}
		if root {
			e.revs = append(e.revs, rev)
		}
	}
	e.logger.Debug("enumerating revisions",
		zap.Int("revisions", len(e.scope)),
		zap.Int("roots", len(e.revs)),
	)
	return nil
}

// Done reports whether every revision was walked and every item emitted.
func (e *Enumerator) Done() bool {
	if !e.started {
		return len(e.scope) == 0
	}
	return len(e.revs) == 0 && len(e.items) == 0
}

func (e *Enumerator) allParentsEnumerated(rev types.ID) (bool, error) {
	parents, err := e.graph.Parents(rev)
	if err != nil {
		return false, fmt.Errorf("parents of %s: %w", rev.ShortString(), err)
	}
	for _, p := range parents {
		if !e.inScope(p) {
			continue
		}
		if _, ok := e.enumerated[p]; !ok {
			return false, nil
		}
	}
	return true, nil
}

// Step emits at most one item.
func (e *Enumerator) Step() error {
	if !e.started {
		if err := e.start(); err != nil {
			return err
		}
	}
	for !e.Done() {
		if len(e.items) == 0 && len(e.revs) > 0 {
			if err := e.visit(); err != nil {
				return err
			}
			continue
		}
		if len(e.items) > 0 {
			it := e.items[0]
			e.items = e.items[1:]
			return e.emit(it)
		}
	}
	return nil
}

func (e *Enumerator) visit() error {
	rev := e.revs[0]
	e.revs = e.revs[1:]
	if _, ok := e.enumerated[rev]; ok {
		return nil
	}
	ready, err := e.allParentsEnumerated(rev)
	if err != nil {
		return err
	}
	if !ready {
		e.revs = append(e.revs, rev)
		e.requeued++
		if e.requeued > len(e.revs) {
			return fmt.Errorf("%w: %d revisions waiting", ErrStalled, len(e.revs))
		}
		return nil
	}
	e.requeued = 0
	e.enumerated[rev] = struct{}{}

	children, err := e.graph.Children(rev)
	if err != nil {
		return fmt.Errorf("children of %s: %w", rev.ShortString(), err)
	}
	for i := len(children) - 1; i >= 0; i-- {
		child := children[i]
		if _, ok := e.enumerated[child]; ok || !e.inScope(child) {
			continue
		}
		e.revs = append([]types.ID{child}, e.revs...)
	}

	if e.cb.ProcessThisRev(rev) {
		r, err := e.graph.Revision(rev)
		if err != nil {
			return fmt.Errorf("load %s: %w", rev.ShortString(), err)
		}
		queued := map[types.ID]struct{}{}
		for _, ch := range r.Changes {
			if _, ok := queued[ch.Target]; ok || !e.cb.QueueThisFile(ch.Target) {
				continue
			}
			queued[ch.Target] = struct{}{}
			if ch.Added() {
				e.items = append(e.items, item{kind: fileData, target: ch.Target})
			} else {
				e.items = append(e.items, item{kind: fileDelta, base: ch.Base, target: ch.Target})
			}
		}
		e.items = append(e.items, item{kind: revItem, target: rev})
	}
	for _, cert := range e.certs[rev] {
		if e.cb.QueueThisCert(cert) {
			e.items = append(e.items, item{kind: certItem, target: cert})
		}
	}
	return nil
}

func (e *Enumerator) emit(it item) error {
	switch it.kind {
	case fileData:
		return e.cb.NoteFileData(it.target)
	case fileDelta:
		return e.cb.NoteFileDelta(it.base, it.target)
	case revItem:
		e.logger.Debug("emitting revision", log.ZShortStringer("id", it.target))
		return e.cb.NoteRev(it.target)
	case certItem:
		return e.cb.NoteCert(it.target)
	}
	return nil
}
