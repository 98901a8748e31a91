// Package node wires a repository, identity and policy into a process that
// serves or synchronizes with peers.
package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/vcsnet/netsync/common/types"
	"github.com/vcsnet/netsync/config"
	"github.com/vcsnet/netsync/log"
	"github.com/vcsnet/netsync/metrics"
	"github.com/vcsnet/netsync/netsync"
	"github.com/vcsnet/netsync/netsync/netcmd"
	"github.com/vcsnet/netsync/netsync/reactor"
	"github.com/vcsnet/netsync/policy"
	"github.com/vcsnet/netsync/repo"
	"github.com/vcsnet/netsync/signing"
	"github.com/vcsnet/netsync/sql"
)

// DefaultPort is used for addresses without a port.
const DefaultPort = "4691"

const lockFile = "LOCK"

var (
	// ErrLocked is returned when another process uses the data dir.
	ErrLocked = errors.New("node: data dir is locked by another process")
	// ErrNoKey is returned when serving without an identity.
	ErrNoKey = errors.New("node: serving requires a key")
	// ErrNotOpen is returned when the node is used before Open.
	ErrNotOpen = errors.New("node: not open")
)

// Opt configures a Node.
type Opt func(*Node)

// WithLogger sets the logger every module logger is derived from. Without
// it module loggers are built from the logging config.
func WithLogger(logger *zap.Logger) Opt {
	return func(n *Node) {
		n.logger = logger
	}
}

// WithFs sets the filesystem holding identity files.
func WithFs(fs afero.Fs) Opt {
	return func(n *Node) {
		n.fs = fs
	}
}

// Node is a netsync process over one data dir.
type Node struct {
	cfg    config.Config
	logger *zap.Logger
	fs     afero.Fs

	lock   *flock.Flock
	db     *sql.Database
	repo   *repo.Repository
	keys   *signing.KeyStore
	signer *signing.EdSigner
	policy *policy.Hooks
}

// New creates a node. Call Open before use.
func New(cfg config.Config, opts ...Opt) *Node {
	n := &Node{cfg: cfg, fs: afero.NewOsFs()}
	for _, opt := range opts {
		opt(n)
	}
	n.keys = signing.NewKeyStore(n.fs, cfg.KeysPath())
	return n
}

func (n *Node) addLogger(module string) *zap.Logger {
	if n.logger != nil {
		return n.logger.Named(module)
	}
	text, err := n.cfg.Logging.Level(module)
	if err != nil {
		panic(err)
	}
	lvl, err := log.ParseLevel(text)
	if err != nil {
		lvl = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	encoder, err := log.NewEncoder(n.cfg.Logging.Encoder)
	if err != nil {
		encoder, _ = log.NewEncoder(log.ConsoleEncoder)
	}
	return log.NewWithLevel(module, lvl, encoder)
}

// GenerateKey creates a named identity in the keys dir.
func (n *Node) GenerateKey(name string) (*signing.EdSigner, error) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("invalid key name %q", name)
	}
	path := n.keys.Path(name)
	if exists, err := afero.Exists(n.fs, path); err != nil {
		return nil, err
	} else if exists {
		return nil, fmt.Errorf("key %s already exists at %s", name, path)
	}
	if err := n.fs.MkdirAll(n.cfg.KeysPath(), 0o700); err != nil {
		return nil, fmt.Errorf("create keys dir: %w", err)
	}
	signer, err := signing.NewEdSigner(signing.WithName(name), signing.ToFile(path))
	if err != nil {
		return nil, fmt.Errorf("generate key %s: %w", name, err)
	}
	n.addLogger("node").Info("generated key",
		zap.String("name", name),
		zap.Stringer("id", signer.KeyID()),
	)
	return signer, nil
}

// Keys lists the names of stored identities.
func (n *Node) Keys() ([]string, error) {
	return n.keys.List()
}

// Open locks the data dir, opens the database and loads the identity.
func (n *Node) Open() error {
	logger := n.addLogger("node")
	if err := os.MkdirAll(n.cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	lock := flock.New(filepath.Join(n.cfg.DataDir, lockFile))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock data dir: %w", err)
	}
	if !locked {
		return fmt.Errorf("%w: %s", ErrLocked, n.cfg.DataDir)
	}
	n.lock = lock

	db, err := sql.Open("file:"+n.cfg.DatabasePath(),
		sql.WithLogger(n.addLogger("sql")),
		sql.WithConnections(n.cfg.DatabaseConnections),
		sql.WithLatencyMetering(n.cfg.CollectMetrics),
	)
	if err != nil {
		return errors.Join(err, n.Close())
	}
	n.db = db
	n.repo = n.newRepo(db)

	if n.cfg.Key != "" {
		signer, err := n.keys.Load(n.cfg.Key)
		if err != nil {
			return errors.Join(err, n.Close())
		}
		key := signer.PublicKey()
		if _, err := n.repo.AddKey(&key); err != nil {
			return errors.Join(fmt.Errorf("store own key: %w", err), n.Close())
		}
		n.signer = signer
	}
	hooks, err := policy.New(n.cfg.Policy, policy.WithLogger(n.addLogger("policy")))
	if err != nil {
		return errors.Join(err, n.Close())
	}
	n.policy = hooks
	logger.Info("node opened",
		zap.String("data dir", n.cfg.DataDir),
		zap.String("key", n.cfg.Key),
	)
	return nil
}

// Close releases the database and the data dir lock.
func (n *Node) Close() error {
	var errs []error
	if n.db != nil {
		errs = append(errs, n.db.Close())
		n.db = nil
	}
	if n.lock != nil {
		errs = append(errs, n.lock.Unlock())
		n.lock = nil
	}
	return errors.Join(errs...)
}

// Repo returns the repository outside of any session transaction.
func (n *Node) Repo() *repo.Repository { return n.repo }

// Signer returns the identity, nil when anonymous.
func (n *Node) Signer() *signing.EdSigner { return n.signer }

func (n *Node) newRepo(db sql.Executor) *repo.Repository {
	return repo.New(db, repo.WithLogger(n.addLogger("repo")), repo.WithCacheSize(n.cfg.CacheSize))
}

func (n *Node) newReactor() (*reactor.Reactor, *repo.Repository, *sql.TxGuard, error) {
	if n.db == nil {
		return nil, nil, nil, ErrNotOpen
	}
	guard, err := sql.NewTxGuard(context.Background(), n.db,
		sql.WithGuardLogger(n.addLogger("sql")),
		sql.WithCheckpointBytes(n.cfg.Reactor.CheckpointBytes),
		sql.WithCheckpointItems(n.cfg.Reactor.CheckpointItems),
	)
	if err != nil {
		return nil, nil, nil, err
	}
	r := reactor.New(guard,
		reactor.WithConfig(n.cfg.Reactor),
		reactor.WithLogger(n.addLogger("reactor")),
	)
	return r, n.newRepo(guard), guard, nil
}

func (n *Node) sessionOpts(opts ...netsync.Opt) []netsync.Opt {
	return append([]netsync.Opt{
		netsync.WithConfig(n.cfg.Netsync),
		netsync.WithLogger(n.addLogger("netsync")),
		netsync.WithSigner(n.signer),
	}, opts...)
}

// ListenAndServe serves on the configured bind address.
func (n *Node) ListenAndServe(ctx context.Context) error {
	l, err := net.Listen("tcp", n.cfg.Serve.Bind)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", n.cfg.Serve.Bind, err)
	}
	return n.Serve(ctx, l)
}

// Serve accepts sessions from l until ctx is canceled. Failed sessions are
// logged, they don't stop the server.
func (n *Node) Serve(ctx context.Context, l net.Listener) error {
	defer l.Close()
	if n.signer == nil {
		return ErrNoKey
	}
	role, err := ParseRole(n.cfg.Serve.Role)
	if err != nil {
		return err
	}
	r, store, _, err := n.newReactor()
	if err != nil {
		return err
	}
	if n.cfg.CollectMetrics {
		srv := metrics.NewServer(n.addLogger("node"), n.cfg.MetricsPort)
		srv.Start()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Stop(ctx)
		}()
	}
	factory := func(ctx context.Context, nc net.Conn) (*netsync.Session, error) {
		return netsync.NewServer(nc.RemoteAddr().String(), role, store, n.policy, n.sessionOpts(netsync.WithContext(ctx))...)
	}
	// Run outlives ctx so that stopping the server commits finished work.
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return r.Run(context.Background()) })
	eg.Go(func() error {
		defer r.Shutdown()
		return r.Serve(ctx, l, factory)
	})
	return eg.Wait()
}

// PushKeys returns an option offering the named identities to the peer.
// Their public keys are stored in the repository first.
func (n *Node) PushKeys(names ...string) (netsync.Opt, error) {
	if n.repo == nil {
		return nil, ErrNotOpen
	}
	ids := make([]types.ID, 0, len(names))
	for _, name := range names {
		signer, err := n.keys.Load(name)
		if err != nil {
			return nil, err
		}
		key := signer.PublicKey()
		id, err := n.repo.AddKey(&key)
		if err != nil {
			return nil, fmt.Errorf("store key %s: %w", name, err)
		}
		ids = append(ids, id)
	}
	return netsync.WithKeysToPush(ids...), nil
}

// Sync runs one client session against addr and waits for its result.
func (n *Node) Sync(
	ctx context.Context,
	addr string,
	role netcmd.Role,
	include, exclude string,
	opts ...netsync.Opt,
) (*netsync.Result, error) {
	addr = NormalizeAddress(addr)
	ctx = log.WithNewSessionID(ctx)
	r, store, guard, err := n.newReactor()
	if err != nil {
		return nil, err
	}
	var dialer net.Dialer
	nc, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("dial %s: %w", addr, err), guard.Release())
	}
	opts = append([]netsync.Opt{
		netsync.WithContext(ctx),
		netsync.WithPatterns(include, exclude),
	}, opts...)
	s, err := netsync.NewClient(addr, role, store, n.policy, n.sessionOpts(opts...)...)
	if err != nil {
		nc.Close()
		return nil, errors.Join(err, guard.Release())
	}

	errc := make(chan error, 1)
	go func() { errc <- r.Run(ctx) }()
	done, err := r.AddSession(ctx, s, nc)
	if err != nil {
		nc.Close()
		return nil, errors.Join(err, <-errc)
	}
	var res *netsync.Result
	select {
	case res = <-done:
		r.Shutdown()
	case err = <-errc:
		// Run closes every session before it returns.
		return <-done, err
	}
	if err := <-errc; err != nil {
		return res, err
	}
	if n.cfg.MetricsPush != "" {
		if err := metrics.PushOnce(n.cfg.MetricsPush, "netsync", addr); err != nil {
			n.addLogger("node").Warn("failed to push metrics", zap.Error(err))
		}
	}
	return res, nil
}

// NormalizeAddress appends the default port to addresses without one.
func NormalizeAddress(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(strings.Trim(addr, "[]"), DefaultPort)
}

// ParseRole parses the textual forms of a role.
func ParseRole(s string) (netcmd.Role, error) {
	switch strings.ToLower(s) {
	case "source":
		return netcmd.SourceRole, nil
	case "sink":
		return netcmd.SinkRole, nil
	case "source-and-sink", "both":
		return netcmd.SourceAndSinkRole, nil
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

// Include combines include patterns into the single pattern sent to peers.
func Include(patterns []string) string {
	switch len(patterns) {
	case 0:
		return "*"
	case 1:
		return patterns[0]
	}
	return "{" + strings.Join(patterns, ",") + "}"
}
