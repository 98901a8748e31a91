// Package keys stores named public keys.
package keys

import (
	"fmt"

	"github.com/vcsnet/netsync/common/types"
	"github.com/vcsnet/netsync/sql"
)

// Add stores the key. Adding an existing key is a no-op.
func Add(db sql.Executor, key *types.PublicKey) (types.ID, error) {
	id := key.ID()
	if _, err := db.Exec("insert or ignore into public_keys (id, name, pubkey) values (?1, ?2, ?3);",
		func(stmt *sql.Statement) {
			stmt.BindBytes(1, id.Bytes())
			stmt.BindText(2, key.Name)
			stmt.BindBytes(3, key.Pub[:])
		}, nil); err != nil {
		return id, fmt.Errorf("insert key %s: %w", key.Name, err)
	}
	return id, nil
}

// Has reports whether the key is stored.
func Has(db sql.Executor, id types.ID) (bool, error) {
	rows, err := db.Exec("select 1 from public_keys where id = ?1;",
		func(stmt *sql.Statement) {
			stmt.BindBytes(1, id.Bytes())
		}, nil)
	if err != nil {
		return false, fmt.Errorf("has key %s: %w", id.ShortString(), err)
	}
	return rows > 0, nil
}

func decodeKey(stmt *sql.Statement) *types.PublicKey {
	key := &types.PublicKey{Name: stmt.ColumnText(0)}
	stmt.ColumnBytes(1, key.Pub[:])
	return key
}

// Get loads the key with the given id.
func Get(db sql.Executor, id types.ID) (*types.PublicKey, error) {
	var key *types.PublicKey
	rows, err := db.Exec("select name, pubkey from public_keys where id = ?1;",
		func(stmt *sql.Statement) {
			stmt.BindBytes(1, id.Bytes())
		}, func(stmt *sql.Statement) bool {
			key = decodeKey(stmt)
			return false
		})
	if err != nil {
		return nil, fmt.Errorf("get key %s: %w", id.ShortString(), err)
	}
	if rows == 0 {
		return nil, fmt.Errorf("%w: key %s", sql.ErrNotFound, id.ShortString())
	}
	return key, nil
}

// ByName returns all keys stored under name.
func ByName(db sql.Executor, name string) (rst []*types.PublicKey, err error) {
	if _, err := db.Exec("select name, pubkey from public_keys where name = ?1;",
		func(stmt *sql.Statement) {
			stmt.BindText(1, name)
		}, func(stmt *sql.Statement) bool {
			rst = append(rst, decodeKey(stmt))
			return true
		}); err != nil {
		return nil, fmt.Errorf("keys named %s: %w", name, err)
	}
	return rst, nil
}
