package node

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/vcsnet/netsync/common/types"
	"github.com/vcsnet/netsync/config"
	"github.com/vcsnet/netsync/log/logtest"
	"github.com/vcsnet/netsync/netsync"
	"github.com/vcsnet/netsync/netsync/netcmd"
	"github.com/vcsnet/netsync/policy"
)

func testConfig(t *testing.T, key string) config.Config {
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Key = key
	return cfg
}

func openNode(t *testing.T, cfg config.Config, genkey bool) *Node {
	t.Helper()
	n := New(cfg, WithLogger(logtest.New(t).Named(cfg.Key)))
	if genkey {
		_, err := n.GenerateKey(cfg.Key)
		require.NoError(t, err)
	}
	require.NoError(t, n.Open())
	t.Cleanup(func() { n.Close() })
	return n
}

func TestGenerateKey(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := testConfig(t, "")
	n := New(cfg, WithFs(fs))
	signer, err := n.GenerateKey("alice@example.com")
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", signer.Name())
	exists, err := afero.Exists(fs, filepath.Join(cfg.KeysPath(), "alice@example.com.key"))
	require.NoError(t, err)
	require.True(t, exists)
	require.NoDirExists(t, cfg.KeysPath())

	_, err = n.GenerateKey("alice@example.com")
	require.ErrorContains(t, err, "already exists")
	_, err = n.GenerateKey("../escape")
	require.Error(t, err)

	names, err := n.Keys()
	require.NoError(t, err)
	require.Equal(t, []string{"alice@example.com"}, names)
}

func TestOpenStoresOwnKey(t *testing.T) {
	n := openNode(t, testConfig(t, "alice@example.com"), true)
	require.NotNil(t, n.Signer())
	exists, err := n.Repo().Exists(types.KeyItem, n.Signer().KeyID())
	require.NoError(t, err)
	require.True(t, exists)
}

func TestOpenMissingKey(t *testing.T) {
	n := New(testConfig(t, "nobody"))
	require.Error(t, n.Open())
}

func TestDataDirLocked(t *testing.T) {
	cfg := testConfig(t, "")
	openNode(t, cfg, false)
	second := New(cfg)
	require.ErrorIs(t, second.Open(), ErrLocked)
}

func TestServeRequiresKey(t *testing.T) {
	n := openNode(t, testConfig(t, ""), false)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.ErrorIs(t, n.Serve(context.Background(), l), ErrNoKey)
}

func TestPushAndPull(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	serverCfg := testConfig(t, "server@example.net")
	serverCfg.Policy = policy.Config{
		Read:  []policy.ReadRule{{Branches: "*", Allow: []string{policy.Anyone}}},
		Write: []string{"alice@example.com"},
	}
	server := openNode(t, serverCfg, true)
	alice := openNode(t, testConfig(t, "alice@example.com"), true)
	carol := openNode(t, testConfig(t, ""), false)

	key := alice.Signer().PublicKey()
	_, err := server.Repo().AddKey(&key)
	require.NoError(t, err)

	file, err := alice.Repo().AddFile([]byte("package main\n"))
	require.NoError(t, err)
	rev, err := alice.Repo().AddRevision(&types.Revision{
		Changes:   []types.FileChange{{Path: "main.go", Target: file}},
		Author:    "alice@example.com",
		Message:   "initial import",
		Timestamp: 1700000000,
	})
	require.NoError(t, err)
	_, err = alice.Repo().AddToBranch(alice.Signer(), rev, "net.example.app")
	require.NoError(t, err)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	sctx, stop := context.WithCancel(ctx)
	served := make(chan error, 1)
	go func() { served <- server.Serve(sctx, l) }()
	addr := l.Addr().String()

	laptop, err := alice.GenerateKey("laptop@example.com")
	require.NoError(t, err)
	pushKeys, err := alice.PushKeys("laptop@example.com")
	require.NoError(t, err)
	res, err := alice.Sync(ctx, addr, netcmd.SourceRole, Include(nil), "", pushKeys)
	require.NoError(t, err)
	require.True(t, res.OK(), "push: %v", res.Err)
	require.Equal(t, 1, res.Out[types.RevisionItem])
	exists, err := server.Repo().Exists(types.KeyItem, laptop.KeyID())
	require.NoError(t, err)
	require.True(t, exists)

	res, err = carol.Sync(ctx, addr, netcmd.SinkRole, "net.example.*", "", netsync.WithDryRun())
	require.NoError(t, err)
	require.True(t, res.OK(), "dry run: %v", res.Err)
	require.Equal(t, 1, res.DryRun.In[types.RevisionItem])
	require.Empty(t, res.Received[types.RevisionItem])
	exists, err = carol.Repo().Exists(types.RevisionItem, rev)
	require.NoError(t, err)
	require.False(t, exists)

	res, err = carol.Sync(ctx, addr, netcmd.SinkRole, Include([]string{"net.example.*", "org.*"}), "")
	require.NoError(t, err)
	require.True(t, res.OK(), "pull: %v", res.Err)
	require.Equal(t, []types.ID{rev}, res.Received[types.RevisionItem])
	data, err := carol.Repo().Get(types.FileItem, file)
	require.NoError(t, err)
	require.Equal(t, "package main\n", string(data))

	res, err = carol.Sync(ctx, addr, netcmd.SourceRole, "*", "")
	require.NoError(t, err)
	require.Equal(t, netcmd.NotPermitted, res.Code)
	require.ErrorIs(t, res.Err, netsync.ErrNotPermitted)

	stop()
	require.NoError(t, <-served)
}

func TestSyncDialFailure(t *testing.T) {
	n := openNode(t, testConfig(t, ""), false)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	_, err = n.Sync(context.Background(), addr, netcmd.SinkRole, "*", "")
	var opErr *net.OpError
	require.True(t, errors.As(err, &opErr), "got %v", err)

	// the guard of the failed sync was released
	_, err = n.Repo().AddFile([]byte("still writable"))
	require.NoError(t, err)
}

func TestHelpers(t *testing.T) {
	require.Equal(t, "example.net:4691", NormalizeAddress("example.net"))
	require.Equal(t, "example.net:5000", NormalizeAddress("example.net:5000"))
	require.Equal(t, "[::1]:4691", NormalizeAddress("::1"))

	for text, role := range map[string]netcmd.Role{
		"source":          netcmd.SourceRole,
		"sink":            netcmd.SinkRole,
		"source-and-sink": netcmd.SourceAndSinkRole,
		"Both":            netcmd.SourceAndSinkRole,
	} {
		got, err := ParseRole(text)
		require.NoError(t, err)
		require.Equal(t, role, got)
	}
	_, err := ParseRole("mirror")
	require.Error(t, err)

	require.Equal(t, "*", Include(nil))
	require.Equal(t, "a.*", Include([]string{"a.*"}))
	require.Equal(t, "{a.*,b}", Include([]string{"a.*", "b"}))
}
