package sql

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrGuardClosed is returned when a committed or released guard is used.
var ErrGuardClosed = errors.New("database: transaction guard closed")

const (
	defaultCheckpointBytes = 10 << 20
	defaultCheckpointItems = 1000
)

// GuardOpt configures a TxGuard.
type GuardOpt func(*TxGuard)

// WithCheckpointBytes sets how many processed bytes trigger a checkpoint.
// Values below one keep the default.
func WithCheckpointBytes(n int) GuardOpt {
	return func(g *TxGuard) {
		if n > 0 {
			g.checkpointBytes = n
		}
	}
}

// WithCheckpointItems sets how many processed items trigger a checkpoint.
// Values below one keep the default.
func WithCheckpointItems(n int) GuardOpt {
	return func(g *TxGuard) {
		if n > 0 {
			g.checkpointItems = n
		}
	}
}

// WithGuardLogger sets the guard logger.
func WithGuardLogger(logger *zap.Logger) GuardOpt {
	return func(g *TxGuard) {
		g.logger = logger
	}
}

// TxGuard keeps a write transaction open across many small operations and
// commits it in batches. Work done since the last checkpoint is rolled back
// by Release unless Commit was called.
//
// TxGuard implements Executor, statements always run inside the current
// transaction.
type TxGuard struct {
	ctx    context.Context
	db     *Database
	tx     *Tx
	logger *zap.Logger

	checkpointBytes int
	checkpointItems int
	pendingBytes    int
	pendingItems    int
}

// NewTxGuard begins a transaction on db.
func NewTxGuard(ctx context.Context, db *Database, opts ...GuardOpt) (*TxGuard, error) {
	g := &TxGuard{
		ctx:             ctx,
		db:              db,
		logger:          zap.NewNop(),
		checkpointBytes: defaultCheckpointBytes,
		checkpointItems: defaultCheckpointItems,
	}
	for _, opt := range opts {
		opt(g)
	}
	tx, err := db.Tx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin guarded transaction: %w", err)
	}
	g.tx = tx
	return g, nil
}

// Exec runs the query in the guarded transaction.
func (g *TxGuard) Exec(query string, encoder Encoder, decoder Decoder) (int, error) {
	if g.tx == nil {
		return 0, ErrGuardClosed
	}
	return g.tx.Exec(query, encoder, decoder)
}

// MaybeCheckpoint accounts for one processed item of the given size and
// checkpoints when a batch limit is reached.
func (g *TxGuard) MaybeCheckpoint(size int) error {
	g.pendingBytes += size
	g.pendingItems++
	if g.pendingBytes > g.checkpointBytes || g.pendingItems > g.checkpointItems {
		return g.checkpoint("batch")
	}
	return nil
}

// Checkpoint commits the work done so far and begins a new transaction.
func (g *TxGuard) Checkpoint() error {
	return g.checkpoint("forced")
}

func (g *TxGuard) checkpoint(reason string) error {
	if g.tx == nil {
		return ErrGuardClosed
	}
	if err := g.tx.Commit(); err != nil {
		return fmt.Errorf("checkpoint commit: %w", err)
	}
	g.tx.Release()
	g.logger.Debug("transaction checkpoint",
		zap.String("reason", reason),
		zap.Int("bytes", g.pendingBytes),
		zap.Int("items", g.pendingItems),
	)
	checkpoints.WithLabelValues(reason).Inc()
	g.pendingBytes, g.pendingItems = 0, 0
	tx, err := g.db.Tx(g.ctx)
	if err != nil {
		g.tx = nil
		return fmt.Errorf("checkpoint begin: %w", err)
	}
	g.tx = tx
	return nil
}

// Commit commits the outstanding work and closes the guard.
func (g *TxGuard) Commit() error {
	if g.tx == nil {
		return ErrGuardClosed
	}
	err := g.tx.Commit()
	g.tx.Release()
	g.tx = nil
	if err != nil {
		return fmt.Errorf("commit guarded transaction: %w", err)
	}
	return nil
}

// Release rolls back uncommitted work and closes the guard. It is safe to
// call after Commit.
func (g *TxGuard) Release() error {
	if g.tx == nil {
		return nil
	}
	err := g.tx.Release()
	g.tx = nil
	return err
}
