// Package reactor drives netsync sessions over network connections.
//
// All session logic runs on the goroutine executing Run. Every connection is
// pumped by a reader and a writer goroutine that report what they did to the
// loop, so no session ever blocks on I/O.
package reactor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/vcsnet/netsync/log"
	"github.com/vcsnet/netsync/netsync"
)

var (
	// ErrStopped is returned when a session is added to a reactor that no
	// longer runs.
	ErrStopped = errors.New("reactor: stopped")
	// ErrTooManySessions is returned when the session limit is reached.
	ErrTooManySessions = errors.New("reactor: too many sessions")
	// ErrIdle is recorded on sessions pruned for inactivity.
	ErrIdle = errors.New("reactor: idle timeout")
)

// Guard batches the database writes of all sessions into transactions.
//
// Sessions share the guard, so items stored by a session that fails later
// are not rolled back: they are committed with the next checkpoint. Every
// item is verified before it is stored and certs wait for their revision,
// so such leftovers are consistent and the next session skips them.
type Guard interface {
	netsync.Checkpointer
	Commit() error
	Release() error
}

// Config tunes the reactor.
type Config struct {
	// Tick bounds how long the loop waits before checking idle sessions.
	Tick time.Duration `mapstructure:"tick"`
	// ReadBuffer is the size of a single read from a connection.
	ReadBuffer int `mapstructure:"read-buffer"`
	// MaxSessions bounds concurrently served sessions, 0 means no limit.
	MaxSessions int `mapstructure:"max-sessions"`
	// AcceptRate is the number of connections accepted per second.
	AcceptRate float64 `mapstructure:"accept-rate"`
	// AcceptBurst is the number of connections accepted without waiting.
	AcceptBurst int `mapstructure:"accept-burst"`
	// CheckpointOutput forces a checkpoint when a single flush carries more
	// bytes than this.
	CheckpointOutput int `mapstructure:"checkpoint-output"`
	// CheckpointBytes and CheckpointItems bound the received work batched
	// into one transaction.
	CheckpointBytes int `mapstructure:"checkpoint-bytes"`
	CheckpointItems int `mapstructure:"checkpoint-items"`
}

// DefaultConfig returns the default reactor configuration.
func DefaultConfig() Config {
	return Config{
		Tick:             time.Second,
		ReadBuffer:       64 << 10,
		MaxSessions:      256,
		AcceptRate:       20,
		AcceptBurst:      50,
		CheckpointOutput: 4 << 20,
		CheckpointBytes:  10 << 20,
		CheckpointItems:  1000,
	}
}

// Opt configures a Reactor.
type Opt func(*Reactor)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Opt {
	return func(r *Reactor) {
		r.logger = logger
	}
}

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Opt {
	return func(r *Reactor) {
		r.cfg = cfg
	}
}

// WithClock sets the clock driving ticks.
func WithClock(clock clockwork.Clock) Opt {
	return func(r *Reactor) {
		r.clock = clock
	}
}

// SessionFactory creates the server session for an accepted connection. ctx
// carries the id of the new session.
type SessionFactory func(ctx context.Context, nc net.Conn) (*netsync.Session, error)

// Reactor owns sessions and the transaction guard they write through.
type Reactor struct {
	logger *zap.Logger
	cfg    Config
	clock  clockwork.Clock
	guard  Guard

	events  chan event
	added   chan *conn
	stop    chan struct{}
	stopped chan struct{}
	active  atomic.Int64
	pumps   errgroup.Group

	// owned by the loop
	conns map[*conn]struct{}
}

// New creates a reactor writing through guard.
func New(guard Guard, opts ...Opt) *Reactor {
	r := &Reactor{
		logger:  zap.NewNop(),
		cfg:     DefaultConfig(),
		clock:   clockwork.NewRealClock(),
		guard:   guard,
		events:  make(chan event),
		added:   make(chan *conn),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
		conns:   map[*conn]struct{}{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddSession hands a session and its transport to the reactor. The returned
// channel receives the session result once the connection is closed.
func (r *Reactor) AddSession(ctx context.Context, s *netsync.Session, nc net.Conn) (<-chan *netsync.Result, error) {
	if n := r.active.Add(1); r.cfg.MaxSessions > 0 && n > int64(r.cfg.MaxSessions) {
		r.active.Add(-1)
		return nil, ErrTooManySessions
	}
	c := newConn(s, nc)
	select {
	case r.added <- c:
		return c.result, nil
	case <-r.stopped:
		r.active.Add(-1)
		return nil, ErrStopped
	case <-ctx.Done():
		r.active.Add(-1)
		return nil, ctx.Err()
	}
}

// Serve accepts connections from l until ctx is canceled or the reactor
// stops. Sessions that can't be created or added are logged and dropped.
func (r *Reactor) Serve(ctx context.Context, l net.Listener, factory SessionFactory) error {
	limit := rate.NewLimiter(rate.Limit(r.cfg.AcceptRate), r.cfg.AcceptBurst)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-ctx.Done():
		case <-r.stopped:
		}
		l.Close()
	}()
	r.logger.Info("serving", zap.Stringer("address", l.Addr()))
	for {
		if err := limit.Wait(ctx); err != nil {
			return nil
		}
		nc, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		sctx := log.WithNewSessionID(ctx)
		s, err := factory(sctx, nc)
		if err != nil {
			r.logger.Warn("failed to create session",
				log.ZContext(sctx),
				zap.Stringer("peer", nc.RemoteAddr()),
				zap.Error(err),
			)
			accepted.WithLabelValues("failed").Inc()
			nc.Close()
			continue
		}
		if _, err := r.AddSession(ctx, s, nc); err != nil {
			r.logger.Warn("session rejected",
				log.ZContext(sctx),
				zap.Stringer("peer", nc.RemoteAddr()),
				zap.Error(err),
			)
			accepted.WithLabelValues("rejected").Inc()
			nc.Close()
			continue
		}
		accepted.WithLabelValues("ok").Inc()
	}
}

// Shutdown stops Run gracefully: open sessions are closed and the work done
// so far is committed.
func (r *Reactor) Shutdown() {
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
}

// Run executes the session loop until Shutdown is called or ctx is
// canceled. Work of sessions still open when ctx is canceled is rolled back
// to the last checkpoint.
func (r *Reactor) Run(ctx context.Context) (err error) {
	defer close(r.stopped)
	ticker := r.clock.NewTicker(r.cfg.Tick)
	defer ticker.Stop()
	defer func() {
		for c := range r.conns {
			c.session.NoteIOError(ErrStopped)
			r.finish(c)
		}
		r.pumps.Wait()
		if err != nil {
			if rerr := r.guard.Release(); rerr != nil {
				r.logger.Error("failed to release transaction", zap.Error(rerr))
			}
			return
		}
		err = r.guard.Commit()
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.stop:
			return nil
		case c := <-r.added:
			r.start(c)
			r.service(c)
		case ev := <-r.events:
			if _, ok := r.conns[ev.conn]; !ok {
				continue
			}
			r.apply(ev)
			r.service(ev.conn)
		case now := <-ticker.Chan():
			r.prune(now)
		}
	}
}

func (r *Reactor) start(c *conn) {
	r.conns[c] = struct{}{}
	activeSessions.Inc()
	if err := c.session.Start(); err != nil {
		c.session.NoteIOError(err)
	}
	r.pumps.Go(func() error {
		c.readLoop(r.events, r.cfg.ReadBuffer)
		return nil
	})
	r.pumps.Go(func() error {
		c.writeLoop(r.events)
		return nil
	})
}

func (r *Reactor) apply(ev event) {
	s := ev.conn.session
	switch {
	case ev.write:
		ev.conn.writing = false
		s.NoteFlushed(ev.flushed)
		if ev.err != nil {
			s.NoteIOError(ev.err)
		}
	case ev.err != nil:
		if errors.Is(ev.err, io.EOF) {
			s.NoteEOF()
		} else {
			s.NoteIOError(ev.err)
		}
	default:
		s.Feed(ev.data)
		ev.conn.paused = true
	}
}

// service lets the session work on its input and hands its output to the
// writer.
func (r *Reactor) service(c *conn) {
	s := c.session
	if !s.DoWork(r.guard) {
		r.finish(c)
		return
	}
	if !c.writing {
		if out := s.TakeOutput(); len(out) > 0 {
			if r.cfg.CheckpointOutput > 0 && len(out) > r.cfg.CheckpointOutput {
				if err := r.guard.Checkpoint(); err != nil {
					r.logger.Error("checkpoint failed", zap.Error(err))
				}
			}
			c.writing = true
			c.out <- out
		}
	}
	if c.paused {
		c.paused = false
		c.resume <- struct{}{}
	}
}

func (r *Reactor) prune(now time.Time) {
	for c := range r.conns {
		if !c.session.TimedOut(now) {
			continue
		}
		r.logger.Info("pruning idle session",
			zap.String("session", c.session.ID()),
			zap.String("peer", c.session.Peer()),
		)
		c.session.NoteIOError(ErrIdle)
		r.finish(c)
	}
}

func (r *Reactor) finish(c *conn) {
	c.close()
	delete(r.conns, c)
	r.active.Add(-1)
	activeSessions.Dec()
	res := c.session.End()
	if !res.OK() && c.session.Voice() == netsync.ServerVoice {
		r.logger.Warn("session failed",
			zap.String("session", res.Session),
			zap.String("peer", res.Peer),
			zap.Stringer("code", res.Code),
			zap.Error(res.Err),
		)
	}
	c.result <- res
}
