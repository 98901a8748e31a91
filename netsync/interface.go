package netsync

import (
	"github.com/vcsnet/netsync/common/types"
	"github.com/vcsnet/netsync/signing"
)

//go:generate mockgen -typed -package=netsync -destination=./mocks.go -source=./interface.go -exclude_interfaces=ItemStore,AncestryService,BranchService,KnownServers,Repository

// ItemStore stores items received from peers and serves items to send.
type ItemStore interface {
	Exists(t types.ItemType, id types.ID) (bool, error)
	Get(t types.ItemType, id types.ID) ([]byte, error)
	// Put verifies and stores data. It returns false if the item was present.
	Put(t types.ItemType, id types.ID, data []byte) (bool, error)
	// Delta returns a delta that turns base into target.
	Delta(t types.ItemType, base, target types.ID) ([]byte, error)
	PutDelta(t types.ItemType, base, target types.ID, delta []byte) (bool, error)
}

// AncestryService exposes the revision graph.
type AncestryService interface {
	Parents(rev types.ID) ([]types.ID, error)
	Children(rev types.ID) ([]types.ID, error)
	Revision(rev types.ID) (*types.Revision, error)
}

// BranchService exposes branches and the certs placing revisions on them.
type BranchService interface {
	EpochFor(branch string) (types.EpochValue, bool, error)
	SetEpoch(branch string, value types.EpochValue) error
	Branches() ([]string, error)
	BranchCerts(branch string) ([]types.ID, error)
	RevisionCerts(rev types.ID) ([]types.ID, error)
	Cert(id types.ID) (*types.Cert, error)
	Key(id types.ID) (*types.PublicKey, error)
}

// KnownServers remembers the key each server presented on first contact.
type KnownServers interface {
	KnownServer(addr string) (types.ID, bool, error)
	RememberServer(addr string, key types.ID) error
}

// Repository is the local store a session synchronizes.
type Repository interface {
	ItemStore
	AncestryService
	BranchService
	KnownServers
}

// PolicyHooks decide permissions and observe session lifecycles.
type PolicyHooks interface {
	CheckSignature(key *types.PublicKey, domain signing.Domain, text, sig []byte) bool
	ReadPermitted(branch string, id Identity) bool
	WritePermitted(id Identity) bool
	NoteSyncStart(info *SyncInfo)
	NoteSyncEnd(result *Result)
}

// Checkpointer batches the writes of a session into transactions.
type Checkpointer interface {
	MaybeCheckpoint(size int) error
	Checkpoint() error
}
