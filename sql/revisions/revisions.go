// Package revisions stores revisions and the parent/child edges between them.
package revisions

import (
	"fmt"

	"github.com/vcsnet/netsync/codec"
	"github.com/vcsnet/netsync/common/types"
	"github.com/vcsnet/netsync/sql"
)

// Add stores the revision and its ancestry edges. Adding an existing
// revision is a no-op.
func Add(db sql.Executor, rev *types.Revision) (types.ID, error) {
	buf, err := codec.Encode(rev)
	if err != nil {
		return types.EmptyID, fmt.Errorf("encode revision: %w", err)
	}
	id := types.CalcID(buf)
	if _, err := db.Exec("insert or ignore into revisions (id, data) values (?1, ?2);",
		func(stmt *sql.Statement) {
			stmt.BindBytes(1, id.Bytes())
			stmt.BindBytes(2, buf)
		}, nil); err != nil {
		return id, fmt.Errorf("insert revision %s: %w", id.ShortString(), err)
	}
	for _, parent := range rev.Parents {
		if _, err := db.Exec("insert or ignore into revision_ancestry (parent, child) values (?1, ?2);",
			func(stmt *sql.Statement) {
				stmt.BindBytes(1, parent.Bytes())
				stmt.BindBytes(2, id.Bytes())
			}, nil); err != nil {
			return id, fmt.Errorf("insert ancestry %s: %w", id.ShortString(), err)
		}
	}
	return id, nil
}

// Has reports whether the revision is stored.
func Has(db sql.Executor, id types.ID) (bool, error) {
	rows, err := db.Exec("select 1 from revisions where id = ?1;",
		func(stmt *sql.Statement) {
			stmt.BindBytes(1, id.Bytes())
		}, nil)
	if err != nil {
		return false, fmt.Errorf("has revision %s: %w", id.ShortString(), err)
	}
	return rows > 0, nil
}

// GetBlob loads the encoded revision into blob.
func GetBlob(db sql.Executor, id types.ID, blob *sql.Blob) error {
	return sql.LoadBlob(db, "select data from revisions where id = ?1;", id.Bytes(), blob)
}

// Get loads and decodes the revision.
func Get(db sql.Executor, id types.ID) (*types.Revision, error) {
	var blob sql.Blob
	if err := GetBlob(db, id, &blob); err != nil {
		return nil, err
	}
	var rev types.Revision
	if err := codec.Decode(blob.Bytes, &rev); err != nil {
		return nil, fmt.Errorf("decode revision %s: %w", id.ShortString(), err)
	}
	return &rev, nil
}

// Parents returns the parents of the revision.
func Parents(db sql.Executor, id types.ID) ([]types.ID, error) {
	return edges(db, "select parent from revision_ancestry where child = ?1;", id)
}

// Children returns the known children of the revision.
func Children(db sql.Executor, id types.ID) ([]types.ID, error) {
	return edges(db, "select child from revision_ancestry where parent = ?1;", id)
}

func edges(db sql.Executor, query string, id types.ID) (rst []types.ID, err error) {
	if _, err := db.Exec(query,
		func(stmt *sql.Statement) {
			stmt.BindBytes(1, id.Bytes())
		}, func(stmt *sql.Statement) bool {
			var other types.ID
			stmt.ColumnBytes(0, other[:])
			rst = append(rst, other)
			return true
		}); err != nil {
		return nil, fmt.Errorf("ancestry of %s: %w", id.ShortString(), err)
	}
	return rst, nil
}

// IterateIDs calls fn for every stored revision until fn returns false.
func IterateIDs(db sql.Executor, fn func(types.ID) bool) error {
	if _, err := db.Exec("select id from revisions;", nil,
		func(stmt *sql.Statement) bool {
			var id types.ID
			stmt.ColumnBytes(0, id[:])
			return fn(id)
		}); err != nil {
		return fmt.Errorf("iterate revisions: %w", err)
	}
	return nil
}
