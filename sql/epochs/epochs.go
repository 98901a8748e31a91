// Package epochs stores the current epoch of every branch.
package epochs

import (
	"fmt"

	"github.com/vcsnet/netsync/common/types"
	"github.com/vcsnet/netsync/sql"
)

// Set records the epoch of a branch, replacing the previous one.
func Set(db sql.Executor, epoch *types.Epoch) error {
	id := epoch.ID()
	if _, err := db.Exec(`insert into branch_epochs (branch, epoch, id) values (?1, ?2, ?3)
		on conflict (branch) do update set epoch = ?2, id = ?3;`,
		func(stmt *sql.Statement) {
			stmt.BindText(1, epoch.Branch)
			stmt.BindBytes(2, epoch.Value[:])
			stmt.BindBytes(3, id.Bytes())
		}, nil); err != nil {
		return fmt.Errorf("set epoch of %s: %w", epoch.Branch, err)
	}
	return nil
}

// Get returns the epoch of a branch or sql.ErrNotFound.
func Get(db sql.Executor, branch string) (types.EpochValue, error) {
	var value types.EpochValue
	rows, err := db.Exec("select epoch from branch_epochs where branch = ?1;",
		func(stmt *sql.Statement) {
			stmt.BindText(1, branch)
		}, func(stmt *sql.Statement) bool {
			stmt.ColumnBytes(0, value[:])
			return false
		})
	if err != nil {
		return value, fmt.Errorf("get epoch of %s: %w", branch, err)
	}
	if rows == 0 {
		return value, fmt.Errorf("%w: epoch of %s", sql.ErrNotFound, branch)
	}
	return value, nil
}

// GetByID returns the epoch item with the given id.
func GetByID(db sql.Executor, id types.ID) (*types.Epoch, error) {
	var epoch *types.Epoch
	rows, err := db.Exec("select branch, epoch from branch_epochs where id = ?1;",
		func(stmt *sql.Statement) {
			stmt.BindBytes(1, id.Bytes())
		}, func(stmt *sql.Statement) bool {
			epoch = &types.Epoch{Branch: stmt.ColumnText(0)}
			stmt.ColumnBytes(1, epoch.Value[:])
			return false
		})
	if err != nil {
		return nil, fmt.Errorf("get epoch %s: %w", id.ShortString(), err)
	}
	if rows == 0 {
		return nil, fmt.Errorf("%w: epoch %s", sql.ErrNotFound, id.ShortString())
	}
	return epoch, nil
}

// Has reports whether an epoch item with the id is stored.
func Has(db sql.Executor, id types.ID) (bool, error) {
	rows, err := db.Exec("select 1 from branch_epochs where id = ?1;",
		func(stmt *sql.Statement) {
			stmt.BindBytes(1, id.Bytes())
		}, nil)
	if err != nil {
		return false, fmt.Errorf("has epoch %s: %w", id.ShortString(), err)
	}
	return rows > 0, nil
}

// All returns every stored epoch ordered by branch.
func All(db sql.Executor) (rst []types.Epoch, err error) {
	if _, err := db.Exec("select branch, epoch from branch_epochs order by branch;", nil,
		func(stmt *sql.Statement) bool {
			epoch := types.Epoch{Branch: stmt.ColumnText(0)}
			stmt.ColumnBytes(1, epoch.Value[:])
			rst = append(rst, epoch)
			return true
		}); err != nil {
		return nil, fmt.Errorf("list epochs: %w", err)
	}
	return rst, nil
}
