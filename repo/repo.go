// Package repo implements the storage collaborators of netsync on top of the
// sqlite tables in sql/.
package repo

import (
	"bytes"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/kr/binarydist"
	"go.uber.org/zap"

	"github.com/vcsnet/netsync/codec"
	"github.com/vcsnet/netsync/common/types"
	"github.com/vcsnet/netsync/log"
	"github.com/vcsnet/netsync/sql"
	"github.com/vcsnet/netsync/sql/certs"
	"github.com/vcsnet/netsync/sql/epochs"
	"github.com/vcsnet/netsync/sql/files"
	"github.com/vcsnet/netsync/sql/keys"
	"github.com/vcsnet/netsync/sql/revisions"
	"github.com/vcsnet/netsync/sql/vars"
)

var (
	// ErrHashMismatch is returned when item data does not hash to the claimed id.
	ErrHashMismatch = errors.New("repo: item hash mismatch")
	// ErrMissingParent is returned when a revision refers to an unknown parent.
	ErrMissingParent = errors.New("repo: missing parent revision")
	// ErrMissingBase is returned when a delta refers to an unknown base file.
	ErrMissingBase = errors.New("repo: missing delta base")
	// ErrUnsupportedType is returned for operations on item types that don't support them.
	ErrUnsupportedType = errors.New("repo: unsupported item type")
)

const defaultCacheSize = 4096

// Opt configures Repository.
type Opt func(*Repository)

// WithLogger sets the repository logger.
func WithLogger(logger *zap.Logger) Opt {
	return func(r *Repository) {
		r.logger = logger
	}
}

// WithCacheSize sets the number of revisions whose parents are cached.
func WithCacheSize(size int) Opt {
	return func(r *Repository) {
		r.cacheSize = size
	}
}

// Repository is a content addressed store of revisions, files, certs, keys
// and branch epochs.
type Repository struct {
	db        sql.Executor
	logger    *zap.Logger
	cacheSize int
	parents   *lru.Cache[types.ID, []types.ID]
}

// New creates a Repository over db. db is usually a *sql.Database for local
// use or a *sql.TxGuard while serving peers.
func New(db sql.Executor, opts ...Opt) *Repository {
	r := &Repository{
		db:        db,
		logger:    zap.NewNop(),
		cacheSize: defaultCacheSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	cache, err := lru.New[types.ID, []types.ID](r.cacheSize)
	if err != nil {
		panic(fmt.Sprintf("parents cache: %v", err))
	}
	r.parents = cache
	return r
}

// Exists reports whether the item is stored.
func (r *Repository) Exists(t types.ItemType, id types.ID) (bool, error) {
	switch t {
	case types.RevisionItem:
		return revisions.Has(r.db, id)
	case types.FileItem:
		return files.Has(r.db, id)
	case types.CertItem:
		return certs.Has(r.db, id)
	case types.KeyItem:
		return keys.Has(r.db, id)
	case types.EpochItem:
		return epochs.Has(r.db, id)
	}
	return false, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
}

// Get returns the canonical bytes of the item.
func (r *Repository) Get(t types.ItemType, id types.ID) ([]byte, error) {
	switch t {
	case types.RevisionItem:
		var blob sql.Blob
		if err := revisions.GetBlob(r.db, id, &blob); err != nil {
			return nil, err
		}
		return blob.Bytes, nil
	case types.FileItem:
		return files.Get(r.db, id)
	case types.CertItem:
		var blob sql.Blob
		if err := certs.GetBlob(r.db, id, &blob); err != nil {
			return nil, err
		}
		return blob.Bytes, nil
	case types.KeyItem:
		key, err := keys.Get(r.db, id)
		if err != nil {
			return nil, err
		}
		return codec.Encode(key)
	case types.EpochItem:
		epoch, err := epochs.GetByID(r.db, id)
		if err != nil {
			return nil, err
		}
		return codec.Encode(epoch)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
}

// Put verifies and stores item data received from a peer. It returns false
// if the item was already present or is a cert on a missing revision.
func (r *Repository) Put(t types.ItemType, id types.ID, data []byte) (bool, error) {
	if got := types.CalcID(data); got != id {
		return false, fmt.Errorf("%w: %s %s hashes to %s", ErrHashMismatch, t, id.ShortString(), got.ShortString())
	}
	exists, err := r.Exists(t, id)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	switch t {
	case types.RevisionItem:
		var rev types.Revision
		if err := codec.Decode(data, &rev); err != nil {
			return false, fmt.Errorf("decode revision %s: %w", id.ShortString(), err)
		}
		err = r.addRevision(&rev)
	case types.FileItem:
		err = files.Add(r.db, id, data)
	case types.CertItem:
		var cert types.Cert
		if err := codec.Decode(data, &cert); err != nil {
			return false, fmt.Errorf("decode cert %s: %w", id.ShortString(), err)
		}
		var ok bool
		if ok, err = revisions.Has(r.db, cert.Revision); err != nil {
			return false, err
		}
		if !ok {
			r.logger.Warn("dropping cert on missing revision", zap.Object("cert", &cert))
			return false, nil
		}
		_, err = certs.Add(r.db, &cert)
	case types.KeyItem:
		var key types.PublicKey
		if err := codec.Decode(data, &key); err != nil {
			return false, fmt.Errorf("decode key %s: %w", id.ShortString(), err)
		}
		_, err = keys.Add(r.db, &key)
	case types.EpochItem:
		var epoch types.Epoch
		if err := codec.Decode(data, &epoch); err != nil {
			return false, fmt.Errorf("decode epoch %s: %w", id.ShortString(), err)
		}
		err = epochs.Set(r.db, &epoch)
	default:
		return false, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
	}
	if err != nil {
		return false, err
	}
	r.logger.Debug("stored item", zap.Stringer("type", t), log.ZShortStringer("id", id))
	return true, nil
}

// Delta returns a delta turning base into target. A stored delta is reused,
// otherwise one is computed from the file contents.
func (r *Repository) Delta(t types.ItemType, base, target types.ID) ([]byte, error) {
	if t != types.FileItem {
		return nil, fmt.Errorf("%w: delta of %s", ErrUnsupportedType, t)
	}
	delta, err := files.GetDelta(r.db, base, target)
	switch {
	case err == nil:
		return delta, nil
	case !errors.Is(err, sql.ErrNotFound):
		return nil, err
	}
	old, err := files.Get(r.db, base)
	if err != nil {
		return nil, err
	}
	data, err := files.Get(r.db, target)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := binarydist.Diff(bytes.NewReader(old), bytes.NewReader(data), &buf); err != nil {
		return nil, fmt.Errorf("diff %s->%s: %w", base.ShortString(), target.ShortString(), err)
	}
	return buf.Bytes(), nil
}

// PutDelta reconstructs target from base and delta, verifies its hash and
// stores it. It returns false if target was already present.
func (r *Repository) PutDelta(t types.ItemType, base, target types.ID, delta []byte) (bool, error) {
	if t != types.FileItem {
		return false, fmt.Errorf("%w: delta of %s", ErrUnsupportedType, t)
	}
	exists, err := files.Has(r.db, target)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	old, err := files.Get(r.db, base)
	switch {
	case errors.Is(err, sql.ErrNotFound):
		return false, fmt.Errorf("%w: %s", ErrMissingBase, base.ShortString())
	case err != nil:
		return false, err
	}
	var out bytes.Buffer
	if err := binarydist.Patch(bytes.NewReader(old), &out, bytes.NewReader(delta)); err != nil {
		return false, fmt.Errorf("patch %s->%s: %w", base.ShortString(), target.ShortString(), err)
	}
	if got := types.CalcID(out.Bytes()); got != target {
		return false, fmt.Errorf("%w: delta %s->%s yields %s",
			ErrHashMismatch, base.ShortString(), target.ShortString(), got.ShortString())
	}
	if err := files.Add(r.db, target, out.Bytes()); err != nil {
		return false, err
	}
	if err := files.AddDelta(r.db, base, target, delta); err != nil {
		return false, err
	}
	return true, nil
}

// Parents returns the parents of a revision.
func (r *Repository) Parents(rev types.ID) ([]types.ID, error) {
	if parents, ok := r.parents.Get(rev); ok {
		return parents, nil
	}
	parents, err := revisions.Parents(r.db, rev)
	if err != nil {
		return nil, err
	}
	r.parents.Add(rev, parents)
	return parents, nil
}

// Children returns the known children of a revision.
func (r *Repository) Children(rev types.ID) ([]types.ID, error) {
	return revisions.Children(r.db, rev)
}

// Revision loads a decoded revision.
func (r *Repository) Revision(id types.ID) (*types.Revision, error) {
	return revisions.Get(r.db, id)
}

// Cert loads a decoded cert.
func (r *Repository) Cert(id types.ID) (*types.Cert, error) {
	return certs.Get(r.db, id)
}

// Key loads a public key.
func (r *Repository) Key(id types.ID) (*types.PublicKey, error) {
	return keys.Get(r.db, id)
}

// EpochFor returns the epoch of a branch and whether one is set.
func (r *Repository) EpochFor(branch string) (types.EpochValue, bool, error) {
	value, err := epochs.Get(r.db, branch)
	switch {
	case errors.Is(err, sql.ErrNotFound):
		return types.ZeroEpoch, false, nil
	case err != nil:
		return value, false, err
	}
	return value, true, nil
}

// SetEpoch replaces the epoch of a branch.
func (r *Repository) SetEpoch(branch string, value types.EpochValue) error {
	return epochs.Set(r.db, &types.Epoch{Branch: branch, Value: value})
}

// Branches lists all branch names.
func (r *Repository) Branches() ([]string, error) {
	return certs.Branches(r.db)
}

// BranchRevisions lists the revisions carrying a branch cert for branch.
func (r *Repository) BranchRevisions(branch string) ([]types.ID, error) {
	return certs.BranchRevisions(r.db, branch)
}

// BranchCerts lists the ids of the branch certs naming branch.
func (r *Repository) BranchCerts(branch string) ([]types.ID, error) {
	return certs.ForBranch(r.db, branch)
}

// RevisionCerts lists the ids of certs on a revision.
func (r *Repository) RevisionCerts(rev types.ID) ([]types.ID, error) {
	return certs.ForRevision(r.db, rev)
}

// KnownServer returns the key id remembered for a server address.
func (r *Repository) KnownServer(addr string) (types.ID, bool, error) {
	buf, err := vars.Get(r.db, vars.KnownServers, addr)
	switch {
	case errors.Is(err, sql.ErrNotFound):
		return types.EmptyID, false, nil
	case err != nil:
		return types.EmptyID, false, err
	}
	return types.BytesToID(buf), true, nil
}

// RememberServer stores the key id of a server address.
func (r *Repository) RememberServer(addr string, key types.ID) error {
	return vars.Set(r.db, vars.KnownServers, addr, key.Bytes())
}
