// Package netsync implements the session state machine of the netsync
// protocol: the handshake, merkle refinement of item sets, transfer of
// the missing items and the three phase shutdown.
//
// A Session is not safe for concurrent use. The reactor feeds it bytes read
// from the transport, calls DoWork and writes out whatever TakeOutput
// returns.
package netsync

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/vcsnet/netsync/common/types"
	"github.com/vcsnet/netsync/globish"
	"github.com/vcsnet/netsync/log"
	"github.com/vcsnet/netsync/netsync/enumerator"
	"github.com/vcsnet/netsync/netsync/netcmd"
	"github.com/vcsnet/netsync/netsync/refiner"
	"github.com/vcsnet/netsync/signing"
)

// Opt configures a Session.
type Opt func(*Session)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Opt {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithConfig sets the session configuration.
func WithConfig(cfg Config) Opt {
	return func(s *Session) {
		s.cfg = cfg
	}
}

// WithClock sets the clock used for idle timeouts and the step budget.
func WithClock(clock clockwork.Clock) Opt {
	return func(s *Session) {
		s.clock = clock
	}
}

// WithSigner sets the local identity. Servers require one, clients without
// one connect anonymously.
func WithSigner(signer *signing.EdSigner) Opt {
	return func(s *Session) {
		s.signer = signer
	}
}

// WithPatterns sets the branches a client asks to synchronize.
func WithPatterns(include, exclude string) Opt {
	return func(s *Session) {
		s.include = include
		s.exclude = exclude
	}
}

// WithKeysToPush offers additional public keys to the peer.
func WithKeysToPush(keys ...types.ID) Opt {
	return func(s *Session) {
		s.keysToPush = append(s.keysToPush, keys...)
	}
}

// WithDryRun makes a client stop after refinement and report what a
// synchronization would transfer. Nothing is stored or sent.
func WithDryRun() Opt {
	return func(s *Session) {
		s.dryRun = true
	}
}

// WithContext takes the session id from ctx when it carries one.
func WithContext(ctx context.Context) Opt {
	return func(s *Session) {
		if id, ok := log.ExtractSessionID(ctx); ok {
			s.id = id
		}
	}
}

// Session is one side of a netsync connection.
type Session struct {
	logger *zap.Logger
	cfg    Config
	clock  clockwork.Clock
	id     string

	voice      Voice
	role       netcmd.Role
	allowed    netcmd.Role
	peer       string
	repo       Repository
	policy     PolicyHooks
	signer     *signing.EdSigner
	keysToPush []types.ID
	dryRun     bool

	include string
	exclude string
	matcher globish.Matcher

	version   uint8
	limits    netcmd.Limits
	readMAC   *netcmd.ChainedHMAC
	writeMAC  *netcmd.ChainedHMAC
	nonce     [netcmd.NonceSize]byte
	serverBox [signing.BoxKeySize]byte

	inbuf    []byte
	outbuf   []byte
	inflight int
	lastIO   time.Time
	created  time.Time

	state            State
	authenticated    bool
	completedHello   bool
	remote           Identity
	encounteredError bool
	pendingErr       error
	err              error
	closed           bool
	shutdownEOF      bool
	started          bool
	ended            bool
	refiningItems    bool
	keysRefined      bool
	estimate         *Estimate

	epochs *refiner.Refiner
	keys   *refiner.Refiner
	certs  *refiner.Refiner
	revs   *refiner.Refiner
	enum   *enumerator.Enumerator

	filesSent map[types.ID]struct{}

	bytesIn  uint64
	bytesOut uint64
	in       Counts
	out      Counts
	received map[types.ItemType][]types.ID
}

// NewClient creates the session of a client that connected to peer and
// acts in role.
func NewClient(peer string, role netcmd.Role, repo Repository, policy PolicyHooks, opts ...Opt) (*Session, error) {
	s, err := newSession(ClientVoice, peer, role, repo, policy, opts...)
	if err != nil {
		return nil, err
	}
	if s.matcher, err = globish.NewMatcher(s.include, s.exclude); err != nil {
		return nil, fmt.Errorf("branch patterns: %w", err)
	}
	return s, nil
}

// NewServer creates the session of a server accepting a connection from
// peer. allowed is the most a client may do: a source server only serves
// reads, a sink server only accepts writes.
func NewServer(peer string, allowed netcmd.Role, repo Repository, policy PolicyHooks, opts ...Opt) (*Session, error) {
	s, err := newSession(ServerVoice, peer, allowed, repo, policy, opts...)
	if err != nil {
		return nil, err
	}
	if s.signer == nil {
		return nil, errors.New("netsync: server session requires a signer")
	}
	if s.dryRun {
		return nil, errors.New("netsync: only clients run dry")
	}
	return s, nil
}

func newSession(
	voice Voice,
	peer string,
	role netcmd.Role,
	repo Repository,
	policy PolicyHooks,
	opts ...Opt,
) (*Session, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("netsync: invalid role %s", role)
	}
	s := &Session{
		logger:    zap.NewNop(),
		cfg:       DefaultConfig(),
		clock:     clockwork.NewRealClock(),
		id:        uuid.NewString(),
		voice:     voice,
		role:      role,
		allowed:   role,
		peer:      peer,
		repo:      repo,
		policy:    policy,
		include:   "*",
		readMAC:   netcmd.NewChainedHMAC(nil),
		writeMAC:  netcmd.NewChainedHMAC(nil),
		filesSent: map[types.ID]struct{}{},
		in:        Counts{},
		out:       Counts{},
		received:  map[types.ItemType][]types.ID{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.version = s.cfg.MaxVersion
	s.limits = s.cfg.limits()
	s.created = s.clock.Now()
	s.lastIO = s.created
	s.logger = s.logger.With(
		zap.String("session", s.id),
		zap.String("peer", s.peer),
		zap.Stringer("voice", s.voice),
	)

	cb := itemSender{s}
	s.epochs = refiner.New(types.EpochItem, voice, cb, refiner.WithLogger(s.logger))
	s.keys = refiner.New(types.KeyItem, voice, cb, refiner.WithLogger(s.logger))
	s.certs = refiner.New(types.CertItem, voice, cb, refiner.WithLogger(s.logger))
	s.revs = refiner.New(types.RevisionItem, voice, cb, refiner.WithLogger(s.logger))
	s.enum = enumerator.New(repo, cb, enumerator.WithLogger(s.logger))
	return s, nil
}

// ID returns the session identifier used in logs and hooks.
func (s *Session) ID() string { return s.id }

// Peer returns the remote address.
func (s *Session) Peer() string { return s.peer }

// Voice returns the side this session speaks for.
func (s *Session) Voice() Voice { return s.voice }

// Role returns the role of this side. For servers it is settled by the
// client's service request.
func (s *Session) Role() netcmd.Role { return s.role }

// State returns the protocol state.
func (s *Session) State() State { return s.state }

// Remote returns the identity of the peer.
func (s *Session) Remote() Identity { return s.remote }

// Err returns the error the session failed with, if any.
func (s *Session) Err() error { return s.err }

// Start queues the greeting of a server. It is a no-op for clients, which
// wait for the greeting.
func (s *Session) Start() error {
	s.lastIO = s.clock.Now()
	if s.voice != ServerVoice {
		return nil
	}
	return s.writeVersion(netcmd.UsherVersion, &netcmd.Usher{Greeting: s.cfg.Greeting})
}

// Feed appends bytes read from the transport.
func (s *Session) Feed(data []byte) {
	s.lastIO = s.clock.Now()
	s.bytesIn += uint64(len(data))
	bytesTransferred.WithLabelValues(dirIn).Add(float64(len(data)))
	if s.encounteredError {
		return
	}
	s.inbuf = append(s.inbuf, data...)
}

// TakeOutput hands the queued output to the transport. The bytes count as
// in flight until NoteFlushed.
func (s *Session) TakeOutput() []byte {
	out := s.outbuf
	s.outbuf = nil
	s.inflight += len(out)
	return out
}

// NoteFlushed records that n bytes of output were written.
func (s *Session) NoteFlushed(n int) {
	s.lastIO = s.clock.Now()
	s.inflight -= n
	s.bytesOut += uint64(n)
	bytesTransferred.WithLabelValues(dirOut).Add(float64(n))
}

// NoteEOF records that the peer closed the connection.
func (s *Session) NoteEOF() {
	defer func() { s.closed = true }()
	switch {
	case s.err != nil, s.encounteredError, s.state == Confirmed:
	case s.state == Shutdown:
		if s.voice == ServerVoice {
			s.logger.Warn("client closed the connection during shutdown, it may report a failure")
		} else {
			s.logger.Info("server closed the connection during shutdown")
		}
		s.shutdownEOF = true
	default:
		s.err = newError(NetworkError, "connection closed by peer in %s state", s.state)
	}
}

// NoteIOError records a transport failure.
func (s *Session) NoteIOError(err error) {
	s.closed = true
	if s.err != nil || s.state == Confirmed {
		return
	}
	s.err = wrapError(NetworkError, err, "transport failure in %s state", s.state)
}

// TimedOut reports whether the session has been idle for longer than the
// idle timeout.
func (s *Session) TimedOut(now time.Time) bool {
	return now.Sub(s.lastIO) > s.cfg.IdleTimeout
}

// Flushed reports whether all output was written.
func (s *Session) Flushed() bool {
	return len(s.outbuf) == 0 && s.inflight == 0
}

// Finished reports whether the connection should be closed.
func (s *Session) Finished() bool {
	if s.closed {
		return true
	}
	return s.Flushed() && (s.encounteredError || s.state == Confirmed)
}

func (s *Session) outputOverfull() bool {
	return len(s.outbuf)+s.inflight > s.cfg.OutputHighWater
}

// DoWork processes the buffered input and queues output. It returns false
// once the connection should be closed.
func (s *Session) DoWork(guard Checkpointer) bool {
	if s.closed {
		return false
	}
	for !s.encounteredError && !s.outputOverfull() {
		cmd, n, err := netcmd.Read(s.inbuf, s.readMAC, s.limits)
		if err != nil {
			s.fail(wrapError(BadDecode, err, "reading command"))
			return false
		}
		if cmd == nil {
			break
		}
		s.inbuf = s.inbuf[n:]
		if !s.process(guard, cmd) {
			return false
		}
	}
	if !s.encounteredError && s.completedHello {
		if err := s.afterWork(guard); err != nil && !s.fail(err) {
			return false
		}
	}
	return !s.Finished()
}

func (s *Session) process(guard Checkpointer, cmd *netcmd.Cmd) bool {
	s.logger.Debug("processing command",
		zap.Stringer("code", cmd.Code),
		zap.Int("size", len(cmd.Payload)),
	)
	err := s.dispatch(guard, cmd)
	if err == nil {
		err, s.pendingErr = s.pendingErr, nil
	}
	if err == nil && s.completedHello {
		err = s.afterWork(guard)
	}
	if err == nil {
		if cerr := guard.MaybeCheckpoint(cmd.EncodedSize()); cerr != nil {
			err = wrapError(LocalFailure, cerr, "checkpoint")
		}
	}
	if err != nil {
		return s.fail(err)
	}
	return true
}

// afterWork enumerates items to send and starts the shutdown once a client
// has nothing left to do.
func (s *Session) afterWork(guard Checkpointer) error {
	if err := s.maybeStep(); err != nil {
		return err
	}
	if s.voice == ClientVoice && s.state == Working && (s.dryRunFinished() || s.finishedWorking()) {
		s.logger.Debug("finished working, shutting down")
		s.state = Shutdown
		if err := guard.Checkpoint(); err != nil {
			return wrapError(LocalFailure, err, "checkpoint")
		}
		return s.write(&netcmd.Bye{Phase: 0})
	}
	err := s.pendingErr
	s.pendingErr = nil
	return err
}

// fail records err. Errors the peer should hear about are queued as an
// error command and the session lingers until it is flushed. It returns
// false when the connection should be dropped right away.
func (s *Session) fail(err error) bool {
	var serr *Error
	if !errors.As(err, &serr) {
		serr = wrapError(LocalFailure, err, "local failure")
	}
	if s.err == nil {
		s.err = serr
	}
	s.logger.Warn("session failed", zap.Error(serr))
	if serr.Remote || !serr.Kind.notifies() {
		s.closed = true
		return false
	}
	if werr := s.write(&netcmd.Error{Code: serr.Code, Message: serr.Msg}); werr != nil {
		s.closed = true
		return false
	}
	s.encounteredError = true
	s.inbuf = nil
	return true
}

func (s *Session) write(p netcmd.Payload) error {
	return s.writeVersion(s.version, p)
}

func (s *Session) writeVersion(version uint8, p netcmd.Payload) error {
	if s.encounteredError {
		return nil
	}
	cmd, err := netcmd.New(version, p)
	if err != nil {
		return wrapError(LocalFailure, err, "encoding %s command", p.CmdCode())
	}
	s.outbuf = netcmd.Write(s.outbuf, cmd, s.writeMAC)
	return nil
}

// queue writes p from a callback that can't return an error. The error is
// reported once the current command is processed.
func (s *Session) queue(p netcmd.Payload) {
	if err := s.write(p); err != nil && s.pendingErr == nil {
		s.pendingErr = err
	}
}

func (s *Session) setSessionKey(key []byte) error {
	c2s, s2c, err := directionKeys(key)
	if err != nil {
		return wrapError(LocalFailure, err, "session key")
	}
	if s.voice == ClientVoice {
		s.writeMAC.SetKey(c2s)
		s.readMAC.SetKey(s2c)
	} else {
		s.writeMAC.SetKey(s2c)
		s.readMAC.SetKey(c2s)
	}
	return nil
}

func (s *Session) info() SyncInfo {
	return SyncInfo{
		Session: s.id,
		Peer:    s.peer,
		Voice:   s.voice,
		Role:    s.role,
		Remote:  s.remote,
		Include: s.include,
		Exclude: s.exclude,
	}
}

func (s *Session) noteStart() {
	if s.started {
		return
	}
	s.started = true
	info := s.info()
	sessionsStarted.WithLabelValues(s.voice.String(), s.role.String()).Inc()
	s.logger.Info("session started",
		zap.Stringer("role", s.role),
		zap.Object("remote", s.remote),
		zap.String("include", s.include),
		zap.String("exclude", s.exclude),
	)
	s.policy.NoteSyncStart(&info)
}

// End summarizes the session and reports it to the policy hooks. Call it
// once after the connection is closed.
func (s *Session) End() *Result {
	res := &Result{
		SyncInfo: s.info(),
		Err:      s.err,
		BytesIn:  s.bytesIn,
		BytesOut: s.bytesOut,
		In:       s.in,
		Out:      s.out,
		Received: s.received,
		DryRun:   s.estimate,
	}
	var serr *Error
	switch {
	case s.state == Confirmed || s.shutdownEOF:
		res.Code = netcmd.NoError
		res.Err = nil
	case errors.As(s.err, &serr) && serr.Code != 0:
		res.Code = serr.Code
	case s.in.Total()+s.out.Total() > 0:
		res.Code = netcmd.PartialTransfer
	default:
		res.Code = netcmd.NoTransfer
	}
	if res.Err == nil && res.Code != netcmd.NoError {
		res.Err = newError(NetworkError, "session closed in %s state", s.state)
	}
	if s.ended {
		return res
	}
	s.ended = true
	sessionsFinished.WithLabelValues(s.voice.String(), res.Code.String()).Inc()
	sessionDuration.WithLabelValues(s.voice.String()).Observe(s.clock.Since(s.created).Seconds())
	fields := []zap.Field{
		zap.Stringer("code", res.Code),
		zap.Uint64("bytes in", res.BytesIn),
		zap.Uint64("bytes out", res.BytesOut),
		zap.Int("items in", res.In.Total()),
		zap.Int("items out", res.Out.Total()),
	}
	if res.OK() {
		s.logger.Info("session finished", fields...)
	} else {
		s.logger.Warn("session ended with error", append(fields, zap.Error(res.Err))...)
	}
	if revs := res.Received[types.RevisionItem]; len(revs) > 0 {
		s.logger.Debug("received revisions", log.ZShortStringers("ids", revs))
	}
	if s.started {
		s.policy.NoteSyncEnd(res)
	}
	return res
}

func randomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, wrapError(LocalFailure, err, "random bytes")
	}
	return buf, nil
}
