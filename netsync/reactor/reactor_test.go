package reactor

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/sync/errgroup"

	"github.com/vcsnet/netsync/codec"
	"github.com/vcsnet/netsync/common/types"
	"github.com/vcsnet/netsync/log/logtest"
	"github.com/vcsnet/netsync/netsync"
	"github.com/vcsnet/netsync/netsync/netcmd"
	"github.com/vcsnet/netsync/repo"
	"github.com/vcsnet/netsync/signing"
	"github.com/vcsnet/netsync/sql"
	"github.com/vcsnet/netsync/sql/revisions"
)

type peer struct {
	db     *sql.Database
	guard  *sql.TxGuard
	repo   *repo.Repository
	signer *signing.EdSigner
	policy *netsync.MockPolicyHooks
}

func newPeer(t *testing.T, name string) *peer {
	t.Helper()
	signer, err := signing.NewEdSigner(signing.WithName(name))
	require.NoError(t, err)
	verifier, err := signing.NewEdVerifier()
	require.NoError(t, err)
	policy := netsync.NewMockPolicyHooks(gomock.NewController(t))
	policy.EXPECT().CheckSignature(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(key *types.PublicKey, d signing.Domain, text, sig []byte) bool {
			return verifier.Verify(d, key, text, sig)
		}).AnyTimes()
	policy.EXPECT().ReadPermitted(gomock.Any(), gomock.Any()).Return(true).AnyTimes()
	policy.EXPECT().WritePermitted(gomock.Any()).Return(true).AnyTimes()
	policy.EXPECT().NoteSyncStart(gomock.Any()).AnyTimes()
	policy.EXPECT().NoteSyncEnd(gomock.Any()).AnyTimes()
	db, err := sql.Open("file:" + filepath.Join(t.TempDir(), "netsync.sql"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &peer{db: db, signer: signer, policy: policy}
}

// open starts the guarded transaction the reactor writes through. Local
// history must be created before.
func (p *peer) open(t *testing.T) {
	t.Helper()
	guard, err := sql.NewTxGuard(context.Background(), p.db)
	require.NoError(t, err)
	p.guard = guard
	p.repo = repo.New(guard)
}

func (p *peer) local() *repo.Repository {
	return repo.New(p.db)
}

func (p *peer) commit(t *testing.T, branch, msg string, parents ...types.ID) types.ID {
	t.Helper()
	r := p.local()
	file, err := r.AddFile([]byte(msg))
	require.NoError(t, err)
	id, err := r.AddRevision(&types.Revision{
		Parents:   parents,
		Changes:   []types.FileChange{{Path: msg, Target: file}},
		Author:    p.signer.Name(),
		Message:   msg,
		Timestamp: 1700000000,
	})
	require.NoError(t, err)
	_, err = r.AddToBranch(p.signer, id, branch)
	require.NoError(t, err)
	return id
}

func (p *peer) server(t *testing.T, nc net.Conn) (*netsync.Session, error) {
	return netsync.NewServer(nc.RemoteAddr().String(), netcmd.SourceAndSinkRole, p.repo, p.policy,
		netsync.WithSigner(p.signer),
		netsync.WithLogger(logtest.New(t).Named("server")),
	)
}

func (p *peer) client(t *testing.T, addr string, role netcmd.Role) *netsync.Session {
	s, err := netsync.NewClient(addr, role, p.repo, p.policy,
		netsync.WithSigner(p.signer),
		netsync.WithLogger(logtest.New(t).Named("client")),
	)
	require.NoError(t, err)
	return s
}

func TestServePush(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := newPeer(t, "alice@example.com")
	server := newPeer(t, "server@example.net")
	key := client.signer.PublicKey()
	_, err := server.local().AddKey(&key)
	require.NoError(t, err)
	r1 := client.commit(t, "main", "first")
	r2 := client.commit(t, "main", "second", r1)
	client.open(t)
	server.open(t)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := New(server.guard, WithLogger(logtest.New(t).Named("server-reactor")))
	cl := New(client.guard, WithLogger(logtest.New(t).Named("client-reactor")))
	var eg errgroup.Group
	eg.Go(func() error { return srv.Run(ctx) })
	eg.Go(func() error {
		return srv.Serve(ctx, l, func(_ context.Context, nc net.Conn) (*netsync.Session, error) { return server.server(t, nc) })
	})
	eg.Go(func() error { return cl.Run(ctx) })

	nc, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	done, err := cl.AddSession(ctx, client.client(t, l.Addr().String(), netcmd.SourceRole), nc)
	require.NoError(t, err)

	var res *netsync.Result
	select {
	case res = <-done:
	case <-ctx.Done():
		require.FailNow(t, "timed out waiting for the session")
	}
	require.True(t, res.OK(), "client: %v", res.Err)
	require.Equal(t, 2, res.Out[types.RevisionItem])

	cl.Shutdown()
	require.Eventually(t, func() bool {
		revs, err := server.local().BranchRevisions("main")
		return err == nil && len(revs) == 2
	}, 10*time.Second, 10*time.Millisecond, "server commits at shutdown of the session")
	srv.Shutdown()
	require.NoError(t, eg.Wait())

	revs, err := server.local().BranchRevisions("main")
	require.NoError(t, err)
	require.ElementsMatch(t, []types.ID{r1, r2}, revs)
	known, ok, err := client.local().KnownServer(l.Addr().String())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, server.signer.KeyID(), known)
}

func TestPipePull(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := newPeer(t, "alice@example.com")
	server := newPeer(t, "server@example.net")
	var tip types.ID
	for _, msg := range []string{"one", "two", "three", "four"} {
		if tip.IsEmpty() {
			tip = server.commit(t, "main", msg)
		} else {
			tip = server.commit(t, "main", msg, tip)
		}
	}
	client.open(t)
	server.open(t)

	srv := New(server.guard, WithLogger(logtest.New(t).Named("server-reactor")))
	cl := New(client.guard, WithLogger(logtest.New(t).Named("client-reactor")))
	var eg errgroup.Group
	eg.Go(func() error { return srv.Run(ctx) })
	eg.Go(func() error { return cl.Run(ctx) })

	cconn, sconn := net.Pipe()
	ss, err := server.server(t, sconn)
	require.NoError(t, err)
	sdone, err := srv.AddSession(ctx, ss, sconn)
	require.NoError(t, err)
	cdone, err := cl.AddSession(ctx, client.client(t, "pipe", netcmd.SinkRole), cconn)
	require.NoError(t, err)

	cres, sres := <-cdone, <-sdone
	require.True(t, cres.OK(), "client: %v", cres.Err)
	require.True(t, sres.OK(), "server: %v", sres.Err)
	require.Len(t, cres.Received[types.RevisionItem], 4)
	require.Equal(t, tip, cres.Received[types.RevisionItem][3])

	cl.Shutdown()
	srv.Shutdown()
	require.NoError(t, eg.Wait())
	revs, err := client.local().BranchRevisions("main")
	require.NoError(t, err)
	require.Len(t, revs, 4)
}

func TestFailedSessionKeepsVerifiedItems(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := newPeer(t, "alice@example.com")
	server := newPeer(t, "server@example.net")
	key := client.signer.PublicKey()
	_, err := server.local().AddKey(&key)
	require.NoError(t, err)
	r1 := client.commit(t, "main", "first")
	r2 := client.commit(t, "main", "second", r1)

	// r2 is stored with contents that hash to another id
	rev, err := revisions.Get(client.db, r2)
	require.NoError(t, err)
	rev.Message = "rewritten"
	_, err = client.db.Exec("update revisions set data = ?2 where id = ?1", func(stmt *sql.Statement) {
		stmt.BindBytes(1, r2.Bytes())
		stmt.BindBytes(2, codec.MustEncode(rev))
	}, nil)
	require.NoError(t, err)

	client.open(t)
	server.open(t)
	srv := New(server.guard, WithLogger(logtest.New(t).Named("server-reactor")))
	cl := New(client.guard, WithLogger(logtest.New(t).Named("client-reactor")))
	var eg errgroup.Group
	eg.Go(func() error { return srv.Run(ctx) })
	eg.Go(func() error { return cl.Run(ctx) })

	cconn, sconn := net.Pipe()
	ss, err := server.server(t, sconn)
	require.NoError(t, err)
	sdone, err := srv.AddSession(ctx, ss, sconn)
	require.NoError(t, err)
	cdone, err := cl.AddSession(ctx, client.client(t, "pipe", netcmd.SourceRole), cconn)
	require.NoError(t, err)

	cres, sres := <-cdone, <-sdone
	require.False(t, cres.OK())
	require.ErrorIs(t, sres.Err, netsync.ErrBadDecode)
	require.Equal(t, netcmd.PartialTransfer, sres.Code)

	cl.Shutdown()
	srv.Shutdown()
	require.NoError(t, eg.Wait())
	exists, err := server.local().Exists(types.RevisionItem, r1)
	require.NoError(t, err)
	require.True(t, exists, "verified items of a failed session are committed")
	exists, err = server.local().Exists(types.RevisionItem, r2)
	require.NoError(t, err)
	require.False(t, exists)
}

func TestIdleSessionPruned(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	server := newPeer(t, "server@example.net")
	server.open(t)
	clock := clockwork.NewFakeClock()
	r := New(server.guard, WithClock(clock), WithLogger(logtest.New(t)))
	var eg errgroup.Group
	eg.Go(func() error { return r.Run(ctx) })

	cconn, sconn := net.Pipe()
	defer cconn.Close()
	s, err := netsync.NewServer("idle", netcmd.SourceRole, server.repo, server.policy,
		netsync.WithSigner(server.signer),
		netsync.WithClock(clock),
	)
	require.NoError(t, err)
	done, err := r.AddSession(ctx, s, sconn)
	require.NoError(t, err)

	var res *netsync.Result
	require.Eventually(t, func() bool {
		clock.Advance(time.Hour)
		select {
		case res = <-done:
			return true
		default:
			return false
		}
	}, 10*time.Second, 10*time.Millisecond)
	require.ErrorIs(t, res.Err, ErrIdle)
	require.Equal(t, netcmd.NoTransfer, res.Code)

	r.Shutdown()
	require.NoError(t, eg.Wait())
}

func TestCanceledRunRollsBack(t *testing.T) {
	server := newPeer(t, "server@example.net")
	server.open(t)
	ctx, cancel := context.WithCancel(context.Background())
	r := New(server.guard)
	errc := make(chan error, 1)
	go func() { errc <- r.Run(ctx) }()

	_, err := server.repo.AddFile([]byte("uncommitted"))
	require.NoError(t, err)
	cancel()
	require.ErrorIs(t, <-errc, context.Canceled)

	_, err = r.AddSession(context.Background(), nil, nil)
	require.ErrorIs(t, err, ErrStopped)
	exists, err := server.local().Exists(types.FileItem, types.CalcID([]byte("uncommitted")))
	require.NoError(t, err)
	require.False(t, exists)
}

func TestSessionLimit(t *testing.T) {
	server := newPeer(t, "server@example.net")
	server.open(t)
	cfg := DefaultConfig()
	cfg.MaxSessions = 1
	r := New(server.guard, WithConfig(cfg))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var eg errgroup.Group
	eg.Go(func() error { return r.Run(ctx) })

	cconn, sconn := net.Pipe()
	defer cconn.Close()
	s, err := server.server(t, sconn)
	require.NoError(t, err)
	_, err = r.AddSession(ctx, s, sconn)
	require.NoError(t, err)

	_, other := net.Pipe()
	s2, err := server.server(t, other)
	require.NoError(t, err)
	_, err = r.AddSession(ctx, s2, other)
	require.ErrorIs(t, err, ErrTooManySessions)

	r.Shutdown()
	require.NoError(t, eg.Wait())
}
