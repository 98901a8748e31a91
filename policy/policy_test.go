package policy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vcsnet/netsync/common/types"
	"github.com/vcsnet/netsync/globish"
	"github.com/vcsnet/netsync/log/logtest"
	"github.com/vcsnet/netsync/netsync"
	"github.com/vcsnet/netsync/netsync/netcmd"
	"github.com/vcsnet/netsync/signing"
)

var (
	alice = netsync.Identity{Key: types.ID{1}, Name: "alice@example.com"}
	bob   = netsync.Identity{Key: types.ID{2}, Name: "bob@example.com"}
	anon  = netsync.Identity{}
)

func TestReadPermitted(t *testing.T) {
	h, err := New(Config{
		Read: []ReadRule{
			{Branches: "net.example.secret*", Allow: []string{alice.Key.String()}},
			{Branches: "net.example.*", Exclude: "net.example.private", Allow: []string{Anyone}, Deny: []string{"bob@example.com"}},
			{Branches: "org.*", Allow: []string{"bob@example.com"}},
		},
	}, WithLogger(logtest.New(t)))
	require.NoError(t, err)

	for _, tc := range []struct {
		branch string
		id     netsync.Identity
		want   bool
	}{
		{"net.example.secret", alice, true},
		{"net.example.secret", bob, false},
		{"net.example.secret", anon, false},
		{"net.example.main", anon, true},
		{"net.example.main", alice, true},
		{"net.example.main", bob, false},
		{"net.example.private", alice, false},
		{"org.other", bob, true},
		{"org.other", alice, false},
		{"unmatched", alice, false},
	} {
		require.Equal(t, tc.want, h.ReadPermitted(tc.branch, tc.id), "%s by %s", tc.branch, tc.id.Name)
	}
}

func TestWritePermitted(t *testing.T) {
	h, err := New(Config{Write: []string{"alice@example.com", bob.Key.String()}})
	require.NoError(t, err)
	require.True(t, h.WritePermitted(alice))
	require.True(t, h.WritePermitted(netsync.Identity{Key: bob.Key}))
	require.False(t, h.WritePermitted(netsync.Identity{Key: types.ID{3}, Name: "carol"}))
	require.False(t, h.WritePermitted(anon))

	anyone, err := New(Config{Write: []string{Anyone}})
	require.NoError(t, err)
	require.True(t, anyone.WritePermitted(bob))
	require.False(t, anyone.WritePermitted(anon))
}

func TestDefaultConfig(t *testing.T) {
	h, err := New(DefaultConfig())
	require.NoError(t, err)
	require.True(t, h.ReadPermitted("anything", anon))
	require.False(t, h.WritePermitted(alice))
}

func TestInvalidPattern(t *testing.T) {
	_, err := New(Config{Read: []ReadRule{{Branches: "a\tb"}}})
	require.ErrorIs(t, err, globish.ErrInvalidPattern)
}

func TestCheckSignature(t *testing.T) {
	signer, err := signing.NewEdSigner()
	require.NoError(t, err)
	h, err := New(DefaultConfig())
	require.NoError(t, err)
	key := signer.PublicKey()
	msg := []byte("nonce")
	sig := signer.Sign(signing.AUTH, msg)
	require.True(t, h.CheckSignature(&key, signing.AUTH, msg, sig))
	require.False(t, h.CheckSignature(&key, signing.CERT, msg, sig))
	require.False(t, h.CheckSignature(&key, signing.AUTH, []byte("other"), sig))
}

func TestNoteSync(t *testing.T) {
	h, err := New(DefaultConfig(), WithLogger(logtest.New(t)))
	require.NoError(t, err)
	info := netsync.SyncInfo{Session: "s", Peer: "p", Voice: netsync.ServerVoice, Role: netcmd.SourceRole, Remote: alice}
	h.NoteSyncStart(&info)
	h.NoteSyncEnd(&netsync.Result{
		SyncInfo: info,
		Code:     netcmd.NoError,
		In:       netsync.Counts{types.RevisionItem: 2},
		Out:      netsync.Counts{},
	})
	h.NoteSyncEnd(&netsync.Result{SyncInfo: info, Code: netcmd.NoTransfer, Err: errors.New("closed")})
}
