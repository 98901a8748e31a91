// Package policy implements configurable permission hooks for sessions.
package policy

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/vcsnet/netsync/common/types"
	"github.com/vcsnet/netsync/globish"
	"github.com/vcsnet/netsync/netsync"
	"github.com/vcsnet/netsync/signing"
)

// Anyone in a rule allows every peer, anonymous ones included for reads.
const Anyone = "*"

// ReadRule grants read access to the branches matching Branches.
type ReadRule struct {
	Branches string   `mapstructure:"branches"`
	Exclude  string   `mapstructure:"exclude"`
	Allow    []string `mapstructure:"allow"`
	Deny     []string `mapstructure:"deny"`
}

// Config lists who may read which branches and who may write.
//
// Peers are named by key name or by hex key id. The first read rule whose
// patterns match a branch decides, a branch without a matching rule can't
// be read.
type Config struct {
	Read  []ReadRule `mapstructure:"read"`
	Write []string   `mapstructure:"write"`
}

// DefaultConfig allows anyone to read every branch and nobody to write.
func DefaultConfig() Config {
	return Config{
		Read: []ReadRule{{Branches: "*", Allow: []string{Anyone}}},
	}
}

// Opt configures Hooks.
type Opt func(*Hooks)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Opt {
	return func(h *Hooks) {
		h.logger = logger
	}
}

type rule struct {
	matcher globish.Matcher
	allow   peers
	deny    peers
}

type peers map[string]struct{}

func newPeers(names []string) peers {
	p := make(peers, len(names))
	for _, name := range names {
		p[name] = struct{}{}
	}
	return p
}

func (p peers) contains(id netsync.Identity) bool {
	if _, ok := p[Anyone]; ok {
		return true
	}
	if id.Anonymous() {
		return false
	}
	if _, ok := p[id.Name]; ok && id.Name != "" {
		return true
	}
	_, ok := p[id.Key.String()]
	return ok
}

// Hooks implements netsync.PolicyHooks.
type Hooks struct {
	logger   *zap.Logger
	verifier *signing.EdVerifier
	read     []rule
	write    peers
}

var _ netsync.PolicyHooks = (*Hooks)(nil)

// New compiles the configuration into hooks.
func New(cfg Config, opts ...Opt) (*Hooks, error) {
	verifier, err := signing.NewEdVerifier()
	if err != nil {
		return nil, err
	}
	h := &Hooks{
		logger:   zap.NewNop(),
		verifier: verifier,
		write:    newPeers(cfg.Write),
	}
	for _, opt := range opts {
		opt(h)
	}
	for i, r := range cfg.Read {
		m, err := globish.NewMatcher(r.Branches, r.Exclude)
		if err != nil {
			return nil, fmt.Errorf("read rule %d: %w", i, err)
		}
		h.read = append(h.read, rule{matcher: m, allow: newPeers(r.Allow), deny: newPeers(r.Deny)})
	}
	return h, nil
}

// CheckSignature verifies an ed25519 signature.
func (h *Hooks) CheckSignature(key *types.PublicKey, d signing.Domain, text, sig []byte) bool {
	return h.verifier.Verify(d, key, text, sig)
}

// ReadPermitted reports whether id may read branch.
func (h *Hooks) ReadPermitted(branch string, id netsync.Identity) bool {
	for _, r := range h.read {
		if !r.matcher.Matches(branch) {
			continue
		}
		if !id.Anonymous() && r.deny.contains(id) {
			return false
		}
		return r.allow.contains(id)
	}
	return false
}

// WritePermitted reports whether id may write. Anonymous peers never may.
func (h *Hooks) WritePermitted(id netsync.Identity) bool {
	return !id.Anonymous() && h.write.contains(id)
}

// NoteSyncStart logs the start of a session.
func (h *Hooks) NoteSyncStart(info *netsync.SyncInfo) {
	started.WithLabelValues(info.Voice.String(), info.Role.String()).Inc()
	h.logger.Info("sync started",
		zap.String("session", info.Session),
		zap.String("peer", info.Peer),
		zap.Object("remote", info.Remote),
		zap.String("include", info.Include),
		zap.String("exclude", info.Exclude),
	)
}

// NoteSyncEnd logs the outcome of a session and the items it moved.
func (h *Hooks) NoteSyncEnd(res *netsync.Result) {
	ended.WithLabelValues(res.Voice.String(), res.Code.String()).Inc()
	for t, n := range res.In {
		items.WithLabelValues("in", t.String()).Add(float64(n))
	}
	for t, n := range res.Out {
		items.WithLabelValues("out", t.String()).Add(float64(n))
	}
	fields := []zap.Field{
		zap.String("session", res.Session),
		zap.String("peer", res.Peer),
		zap.Stringer("code", res.Code),
		zap.Int("revisions in", res.In[types.RevisionItem]),
		zap.Int("revisions out", res.Out[types.RevisionItem]),
		zap.Int("certs in", res.In[types.CertItem]),
		zap.Int("certs out", res.Out[types.CertItem]),
		zap.Int("keys in", res.In[types.KeyItem]),
		zap.Int("keys out", res.Out[types.KeyItem]),
	}
	if res.OK() {
		h.logger.Info("sync finished", fields...)
		return
	}
	h.logger.Warn("sync failed", append(fields, zap.Error(res.Err))...)
}
