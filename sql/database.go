package sql

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	sqlite "github.com/go-llsqlite/crawshaw"
	"github.com/go-llsqlite/crawshaw/sqlitex"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var (
	// ErrNoConnection is returned when the pool is closed or ctx ends before
	// a connection frees up.
	ErrNoConnection = errors.New("database: no free connection")
	// ErrNotFound is returned for a missing record.
	ErrNotFound = errors.New("database: not found")
	// ErrObjectExists is returned when a primary key or unique constraint
	// rejects an insert.
	ErrObjectExists = errors.New("database: object exists")
	// ErrTooNew is returned when the schema is newer than this build knows.
	ErrTooNew = errors.New("database version is too new")
	// ErrForeignDatabase is returned for a database created by another
	// application.
	ErrForeignDatabase = errors.New("database: not a netsync database")
)

// creatorCode is stored as the sqlite application id of every repository,
// "NSYN" in ASCII.
const creatorCode = 0x4e53594e

// Executor runs one statement. Database, Tx and TxGuard implement it, so
// table packages work inside and outside transactions alike.
type Executor interface {
	Exec(string, Encoder, Decoder) (int, error)
}

// Statement is a prepared sqlite statement.
type Statement = sqlite.Stmt

// Encoder binds the parameters of a statement, either positional (?1) or
// named (@id). See https://www.sqlite.org/c3ref/bind_blob.html.
type Encoder func(*Statement)

// Decoder is called for every result row until it returns false.
type Decoder func(*Statement) bool

// Opt configures Open.
type Opt func(*options)

type options struct {
	connections int
	migrations  Migrations
	latency     bool
	memory      bool
	logger      *zap.Logger
}

// WithConnections sets the size of the connection pool.
func WithConnections(n int) Opt {
	return func(o *options) {
		o.connections = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Opt {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMigrations replaces the embedded repository schema.
func WithMigrations(migrations Migrations) Opt {
	return func(o *options) {
		o.migrations = migrations
	}
}

// WithLatencyMetering records the duration of every statement.
func WithLatencyMetering(enable bool) Opt {
	return func(o *options) {
		o.latency = enable
	}
}

// InMemory opens a private in-memory database with a single connection and
// panics on failure. Meant for tests.
func InMemory(opts ...Opt) *Database {
	opts = append(opts, WithConnections(1), func(o *options) { o.memory = true })
	db, err := Open("file::memory:?mode=memory", opts...)
	if err != nil {
		panic(err)
	}
	return db
}

// Open opens the repository database at uri in WAL mode, checks that it
// belongs to netsync and brings its schema up to date.
func Open(uri string, opts ...Opt) (*Database, error) {
	o := &options{
		connections: 16,
		migrations:  embeddedMigrations,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	var flags sqlite.OpenFlags
	if !o.memory {
		flags = sqlite.SQLITE_OPEN_READWRITE | sqlite.SQLITE_OPEN_CREATE |
			sqlite.SQLITE_OPEN_WAL | sqlite.SQLITE_OPEN_URI | sqlite.SQLITE_OPEN_NOMUTEX
	}
	pool, err := sqlitex.Open(uri, flags, o.connections)
	if err != nil {
		return nil, fmt.Errorf("open db %s: %w", uri, err)
	}
	db := &Database{pool: pool, logger: o.logger.With(zap.String("uri", uri))}
	if o.latency {
		db.latency = queryDuration
	}
	if err := db.prepare(o.migrations); err != nil {
		return nil, errors.Join(fmt.Errorf("prepare %s: %w", uri, err), db.Close())
	}
	return db, nil
}

func pragmaInt(db Executor, name string) (int, error) {
	var v int
	if _, err := db.Exec("PRAGMA "+name+";", nil, func(stmt *Statement) bool {
		v = stmt.ColumnInt(0)
		return true
	}); err != nil {
		return 0, fmt.Errorf("read %s: %w", name, err)
	}
	return v, nil
}

func version(db Executor) (int, error) {
	return pragmaInt(db, "user_version")
}

// prepare claims a fresh database and migrates it in one write transaction.
func (db *Database) prepare(migrations Migrations) error {
	tx, err := db.begin(context.Background(), "BEGIN IMMEDIATE;")
	if err != nil {
		return err
	}
	defer tx.Release()

	owner, err := pragmaInt(tx, "application_id")
	if err != nil {
		return err
	}
	before, err := version(tx)
	if err != nil {
		return err
	}
	switch {
	case owner == creatorCode:
	case owner == 0 && before == 0:
		// binding values in pragma statements is not allowed
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA application_id = %d;", creatorCode), nil, nil); err != nil {
			return fmt.Errorf("claim database: %w", err)
		}
	default:
		return fmt.Errorf("%w: application id %#x", ErrForeignDatabase, owner)
	}
	if migrations != nil {
		if err := migrations(tx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	after, err := version(tx)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if after != before {
		db.logger.Info("database migrated", zap.Int("from", before), zap.Int("to", after))
	}
	return nil
}

// Database is a pool of connections to one sqlite file.
type Database struct {
	pool    *sqlitex.Pool
	logger  *zap.Logger
	latency *prometheus.HistogramVec

	mu     sync.Mutex
	closed bool
}

func (db *Database) conn(ctx context.Context) (*sqlite.Conn, error) {
	start := time.Now()
	conn := db.pool.Get(ctx)
	if conn == nil {
		return nil, ErrNoConnection
	}
	connWaitLatency.Observe(time.Since(start).Seconds())
	return conn, nil
}

func (db *Database) begin(ctx context.Context, stmt string) (*Tx, error) {
	conn, err := db.conn(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Prep(stmt).Step(); err != nil {
		db.pool.Put(conn)
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &Tx{db: db, conn: conn}, nil
}

// Tx begins a deferred transaction. It takes the write lock with its first
// write statement, see https://www.sqlite.org/lang_transaction.html.
func (db *Database) Tx(ctx context.Context) (*Tx, error) {
	return db.begin(ctx, "BEGIN;")
}

// Exec runs query on a pooled connection outside of any transaction. It
// blocks until a connection is free.
func (db *Database) Exec(query string, encoder Encoder, decoder Decoder) (int, error) {
	conn, err := db.conn(context.Background())
	if err != nil {
		return 0, err
	}
	defer db.pool.Put(conn)
	return db.run(conn, query, encoder, decoder)
}

// Close closes every pooled connection. Closing twice is a no-op.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	if err := db.pool.Close(); err != nil {
		return fmt.Errorf("close pool: %w", err)
	}
	db.closed = true
	return nil
}

func (db *Database) run(conn *sqlite.Conn, query string, encoder Encoder, decoder Decoder) (int, error) {
	if db.latency != nil {
		defer func(start time.Time) {
			db.latency.WithLabelValues(query).Observe(float64(time.Since(start)))
		}(time.Now())
	}
	stmt, err := conn.Prepare(query)
	if err != nil {
		return 0, fmt.Errorf("prepare %s: %w", query, err)
	}
	if encoder != nil {
		encoder(stmt)
	}
	defer stmt.ClearBindings()

	for rows := 0; ; {
		row, err := stmt.Step()
		switch code := sqlite.ErrCode(err); {
		case err == nil:
		case code == sqlite.SQLITE_CONSTRAINT_PRIMARYKEY, code == sqlite.SQLITE_CONSTRAINT_UNIQUE:
			return 0, ErrObjectExists
		default:
			return 0, fmt.Errorf("step %d: %w", rows, err)
		}
		if !row {
			return rows, nil
		}
		rows++
		if decoder != nil && !decoder(stmt) {
			if err := stmt.Reset(); err != nil {
				return rows, fmt.Errorf("statement reset: %w", err)
			}
			return rows, nil
		}
	}
}

// Tx is a transaction holding one pooled connection until Release.
type Tx struct {
	db        *Database
	conn      *sqlite.Conn
	committed bool
	released  bool
}

// Commit commits the transaction. Release must still be called.
func (tx *Tx) Commit() error {
	if _, err := tx.conn.Prep("COMMIT;").Step(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	tx.committed = true
	return nil
}

// Release rolls back unless committed and returns the connection to the
// pool. Later calls do nothing.
func (tx *Tx) Release() error {
	if tx.released {
		return nil
	}
	tx.released = true
	defer tx.db.pool.Put(tx.conn)
	if tx.committed {
		return nil
	}
	if _, err := tx.conn.Prep("ROLLBACK;").Step(); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// Exec runs query inside the transaction.
func (tx *Tx) Exec(query string, encoder Encoder, decoder Decoder) (int, error) {
	return tx.db.run(tx.conn, query, encoder, decoder)
}

// Blob is a reusable buffer for blob columns.
type Blob struct {
	Bytes []byte
}

func (b *Blob) fromColumn(stmt *Statement, col int) {
	n := stmt.ColumnLen(col)
	if cap(b.Bytes) < n {
		b.Bytes = make([]byte, n)
	}
	b.Bytes = b.Bytes[:n]
	if n != 0 {
		stmt.ColumnBytes(col, b.Bytes)
	}
}

// LoadBlob runs query with id bound to ?1 and copies the first column of
// the first row into blob.
func LoadBlob(db Executor, query string, id []byte, blob *Blob) error {
	rows, err := db.Exec(query, func(stmt *Statement) {
		stmt.BindBytes(1, id)
	}, func(stmt *Statement) bool {
		blob.fromColumn(stmt, 0)
		return true
	})
	switch {
	case err != nil:
		return fmt.Errorf("get %x: %w", id, err)
	case rows == 0:
		return fmt.Errorf("%w: object %x", ErrNotFound, id)
	}
	return nil
}
