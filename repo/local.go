package repo

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/vcsnet/netsync/common/types"
	"github.com/vcsnet/netsync/log"
	"github.com/vcsnet/netsync/signing"
	"github.com/vcsnet/netsync/sql/certs"
	"github.com/vcsnet/netsync/sql/files"
	"github.com/vcsnet/netsync/sql/keys"
	"github.com/vcsnet/netsync/sql/revisions"
)

// AddFile stores file contents and returns their id.
func (r *Repository) AddFile(data []byte) (types.ID, error) {
	id := types.CalcID(data)
	return id, files.Add(r.db, id, data)
}

// AddRevision stores a revision whose parents and files are already present.
func (r *Repository) AddRevision(rev *types.Revision) (types.ID, error) {
	for _, change := range rev.Changes {
		for _, id := range []types.ID{change.Base, change.Target} {
			if id.IsEmpty() {
				continue
			}
			ok, err := files.Has(r.db, id)
			if err != nil {
				return types.EmptyID, err
			}
			if !ok {
				return types.EmptyID, fmt.Errorf("revision refers to missing file %s at %s", id.ShortString(), change.Path)
			}
		}
	}
	if err := r.addRevision(rev); err != nil {
		return types.EmptyID, err
	}
	return rev.ID(), nil
}

func (r *Repository) addRevision(rev *types.Revision) error {
	for _, parent := range rev.Parents {
		ok, err := revisions.Has(r.db, parent)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingParent, parent.ShortString())
		}
	}
	id, err := revisions.Add(r.db, rev)
	if err != nil {
		return err
	}
	r.logger.Debug("added revision", log.ZShortStringer("id", id), zap.Object("revision", rev))
	return nil
}

// AddKey stores a public key.
func (r *Repository) AddKey(key *types.PublicKey) (types.ID, error) {
	return keys.Add(r.db, key)
}

// Certify signs and stores a cert on a revision. The signer's public key is
// stored as well so that peers can verify the cert.
func (r *Repository) Certify(signer *signing.EdSigner, rev types.ID, name string, value []byte) (types.ID, error) {
	ok, err := revisions.Has(r.db, rev)
	if err != nil {
		return types.EmptyID, err
	}
	if !ok {
		return types.EmptyID, fmt.Errorf("certify missing revision %s", rev.ShortString())
	}
	pub := signer.PublicKey()
	if _, err := keys.Add(r.db, &pub); err != nil {
		return types.EmptyID, err
	}
	cert := &types.Cert{
		Revision: rev,
		Name:     name,
		Value:    value,
		Key:      pub.ID(),
	}
	cert.Signature = signer.Sign(signing.CERT, cert.SignedBytes())
	return certs.Add(r.db, cert)
}

// AddToBranch puts a revision on a branch with a signed branch cert.
func (r *Repository) AddToBranch(signer *signing.EdSigner, rev types.ID, branch string) (types.ID, error) {
	return r.Certify(signer, rev, types.BranchCertName, []byte(branch))
}
