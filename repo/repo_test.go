package repo

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vcsnet/netsync/codec"
	"github.com/vcsnet/netsync/common/types"
	"github.com/vcsnet/netsync/log/logtest"
	"github.com/vcsnet/netsync/signing"
	"github.com/vcsnet/netsync/sql"
)

func newTestRepo(tb testing.TB) *Repository {
	tb.Helper()
	return New(sql.InMemory(), WithLogger(logtest.New(tb)), WithCacheSize(16))
}

func newSigner(tb testing.TB) *signing.EdSigner {
	tb.Helper()
	signer, err := signing.NewEdSigner(signing.WithName("tester@example.com"))
	require.NoError(tb, err)
	return signer
}

func TestLocalHistory(t *testing.T) {
	r := newTestRepo(t)
	signer := newSigner(t)

	file, err := r.AddFile([]byte("content"))
	require.NoError(t, err)
	root := &types.Revision{Changes: []types.FileChange{{Path: "a", Target: file}}}
	rootID, err := r.AddRevision(root)
	require.NoError(t, err)

	_, err = r.AddRevision(&types.Revision{Parents: []types.ID{{0xff}}})
	require.ErrorIs(t, err, ErrMissingParent)
	_, err = r.AddRevision(&types.Revision{Changes: []types.FileChange{{Path: "b", Target: types.ID{1}}}})
	require.Error(t, err)

	child, err := r.AddRevision(&types.Revision{Parents: []types.ID{rootID}, Message: "child"})
	require.NoError(t, err)

	parents, err := r.Parents(child)
	require.NoError(t, err)
	require.Equal(t, []types.ID{rootID}, parents)
	parents, err = r.Parents(child)
	require.NoError(t, err)
	require.Equal(t, []types.ID{rootID}, parents)

	children, err := r.Children(rootID)
	require.NoError(t, err)
	require.Equal(t, []types.ID{child}, children)

	certID, err := r.AddToBranch(signer, child, "main")
	require.NoError(t, err)
	branches, err := r.Branches()
	require.NoError(t, err)
	require.Equal(t, []string{"main"}, branches)
	revs, err := r.BranchRevisions("main")
	require.NoError(t, err)
	require.Equal(t, []types.ID{child}, revs)
	onChild, err := r.RevisionCerts(child)
	require.NoError(t, err)
	require.Equal(t, []types.ID{certID}, onChild)

	cert, err := r.Cert(certID)
	require.NoError(t, err)
	key, err := r.Key(cert.Key)
	require.NoError(t, err)
	verifier, err := signing.NewEdVerifier()
	require.NoError(t, err)
	require.True(t, verifier.Verify(signing.CERT, key, cert.SignedBytes(), cert.Signature))
}

func TestPutVerifiesHash(t *testing.T) {
	r := newTestRepo(t)
	data := []byte("file")
	_, err := r.Put(types.FileItem, types.ID{1}, data)
	require.ErrorIs(t, err, ErrHashMismatch)

	added, err := r.Put(types.FileItem, types.CalcID(data), data)
	require.NoError(t, err)
	require.True(t, added)
	added, err = r.Put(types.FileItem, types.CalcID(data), data)
	require.NoError(t, err)
	require.False(t, added)
}

func TestPutRevisionRequiresParents(t *testing.T) {
	r := newTestRepo(t)
	rev := &types.Revision{Parents: []types.ID{{7}}}
	data := codec.MustEncode(rev)
	_, err := r.Put(types.RevisionItem, types.CalcID(data), data)
	require.ErrorIs(t, err, ErrMissingParent)
}

func TestPutDropsCertOnMissingRevision(t *testing.T) {
	r := newTestRepo(t)
	signer := newSigner(t)
	cert := &types.Cert{
		Revision: types.ID{9},
		Name:     types.BranchCertName,
		Value:    []byte("net.example.main"),
		Key:      signer.KeyID(),
	}
	cert.Signature = signer.Sign(signing.CERT, cert.SignedBytes())
	data := codec.MustEncode(cert)

	added, err := r.Put(types.CertItem, cert.ID(), data)
	require.NoError(t, err)
	require.False(t, added)
	exists, err := r.Exists(types.CertItem, cert.ID())
	require.NoError(t, err)
	require.False(t, exists)
}

func TestItemsRoundTrip(t *testing.T) {
	src := newTestRepo(t)
	dst := newTestRepo(t)
	signer := newSigner(t)

	rev, err := src.AddRevision(&types.Revision{Message: "root"})
	require.NoError(t, err)
	certID, err := src.AddToBranch(signer, rev, "main")
	require.NoError(t, err)
	require.NoError(t, src.SetEpoch("main", types.EpochValue{3}))
	epoch := types.Epoch{Branch: "main", Value: types.EpochValue{3}}

	for _, item := range []struct {
		t  types.ItemType
		id types.ID
	}{
		{types.EpochItem, epoch.ID()},
		{types.KeyItem, signer.KeyID()},
		{types.RevisionItem, rev},
		{types.CertItem, certID},
	} {
		data, err := src.Get(item.t, item.id)
		require.NoError(t, err, item.t)
		added, err := dst.Put(item.t, item.id, data)
		require.NoError(t, err, item.t)
		require.True(t, added, item.t)
		exists, err := dst.Exists(item.t, item.id)
		require.NoError(t, err)
		require.True(t, exists)
	}
	value, ok, err := dst.EpochFor("main")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, types.EpochValue{3}, value)

	_, ok, err = dst.EpochFor("other")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDeltas(t *testing.T) {
	src := newTestRepo(t)
	dst := newTestRepo(t)

	old := bytes.Repeat([]byte("line of text\n"), 200)
	updated := append(bytes.Clone(old), []byte("one more line\n")...)
	base, err := src.AddFile(old)
	require.NoError(t, err)
	target, err := src.AddFile(updated)
	require.NoError(t, err)

	delta, err := src.Delta(types.FileItem, base, target)
	require.NoError(t, err)

	_, err = dst.PutDelta(types.FileItem, base, target, delta)
	require.ErrorIs(t, err, ErrMissingBase)

	_, err = dst.AddFile(old)
	require.NoError(t, err)
	added, err := dst.PutDelta(types.FileItem, base, target, delta)
	require.NoError(t, err)
	require.True(t, added)
	got, err := dst.Get(types.FileItem, target)
	require.NoError(t, err)
	require.Equal(t, updated, got)

	again, err := dst.Delta(types.FileItem, base, target)
	require.NoError(t, err)
	require.Equal(t, delta, again)

	_, err = src.Delta(types.RevisionItem, base, target)
	require.ErrorIs(t, err, ErrUnsupportedType)
}

func TestPutDeltaHashMismatch(t *testing.T) {
	r := newTestRepo(t)
	base, err := r.AddFile([]byte("aaaa"))
	require.NoError(t, err)
	other, err := r.AddFile([]byte("bbbb"))
	require.NoError(t, err)
	delta, err := r.Delta(types.FileItem, base, other)
	require.NoError(t, err)

	_, err = r.PutDelta(types.FileItem, base, types.ID{5}, delta)
	require.ErrorIs(t, err, ErrHashMismatch)
}

func TestKnownServers(t *testing.T) {
	r := newTestRepo(t)
	_, ok, err := r.KnownServer("host:4691")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, r.RememberServer("host:4691", types.ID{1}))
	id, ok, err := r.KnownServer("host:4691")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, types.ID{1}, id)
}
