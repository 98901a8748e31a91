// Package files stores file contents and the deltas between file versions.
package files

import (
	"fmt"

	"github.com/vcsnet/netsync/common/types"
	"github.com/vcsnet/netsync/sql"
)

// Add stores file data under id. Existing files are left unchanged.
func Add(db sql.Executor, id types.ID, data []byte) error {
	if _, err := db.Exec("insert or ignore into files (id, data) values (?1, ?2);",
		func(stmt *sql.Statement) {
			stmt.BindBytes(1, id.Bytes())
			stmt.BindBytes(2, data)
		}, nil); err != nil {
		return fmt.Errorf("insert file %s: %w", id.ShortString(), err)
	}
	return nil
}

// Has reports whether the file is stored.
func Has(db sql.Executor, id types.ID) (bool, error) {
	rows, err := db.Exec("select 1 from files where id = ?1;",
		func(stmt *sql.Statement) {
			stmt.BindBytes(1, id.Bytes())
		}, nil)
	if err != nil {
		return false, fmt.Errorf("has file %s: %w", id.ShortString(), err)
	}
	return rows > 0, nil
}

// Get loads the file contents.
func Get(db sql.Executor, id types.ID) ([]byte, error) {
	var blob sql.Blob
	if err := sql.LoadBlob(db, "select data from files where id = ?1;", id.Bytes(), &blob); err != nil {
		return nil, err
	}
	return blob.Bytes, nil
}

// AddDelta records a delta turning base into id.
func AddDelta(db sql.Executor, base, id types.ID, delta []byte) error {
	if _, err := db.Exec("insert or replace into file_deltas (base, id, delta) values (?1, ?2, ?3);",
		func(stmt *sql.Statement) {
			stmt.BindBytes(1, base.Bytes())
			stmt.BindBytes(2, id.Bytes())
			stmt.BindBytes(3, delta)
		}, nil); err != nil {
		return fmt.Errorf("insert delta %s->%s: %w", base.ShortString(), id.ShortString(), err)
	}
	return nil
}

// GetDelta loads a delta turning base into id.
func GetDelta(db sql.Executor, base, id types.ID) ([]byte, error) {
	var delta []byte
	rows, err := db.Exec("select delta from file_deltas where base = ?1 and id = ?2;",
		func(stmt *sql.Statement) {
			stmt.BindBytes(1, base.Bytes())
			stmt.BindBytes(2, id.Bytes())
		}, func(stmt *sql.Statement) bool {
			delta = make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, delta)
			return true
		})
	if err != nil {
		return nil, fmt.Errorf("get delta %s->%s: %w", base.ShortString(), id.ShortString(), err)
	}
	if rows == 0 {
		return nil, fmt.Errorf("%w: delta %s->%s", sql.ErrNotFound, base.ShortString(), id.ShortString())
	}
	return delta, nil
}
