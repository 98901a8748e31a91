// Package vars is a small domain/name keyed store for persistent settings,
// such as the keys of servers a client has talked to before.
package vars

import (
	"fmt"

	"github.com/vcsnet/netsync/sql"
)

// KnownServers is the domain holding server key ids by address.
const KnownServers = "known-servers"

// Set stores value under (domain, name), replacing any previous value.
func Set(db sql.Executor, domain, name string, value []byte) error {
	if _, err := db.Exec(`insert into vars (domain, name, value) values (?1, ?2, ?3)
		on conflict (domain, name) do update set value = ?3;`,
		func(stmt *sql.Statement) {
			stmt.BindText(1, domain)
			stmt.BindText(2, name)
			stmt.BindBytes(3, value)
		}, nil); err != nil {
		return fmt.Errorf("failed to set var %s/%s: %w", domain, name, err)
	}
	return nil
}

// Get loads the value under (domain, name).
func Get(db sql.Executor, domain, name string) ([]byte, error) {
	var value []byte
	rows, err := db.Exec("select value from vars where domain = ?1 and name = ?2;",
		func(stmt *sql.Statement) {
			stmt.BindText(1, domain)
			stmt.BindText(2, name)
		}, func(stmt *sql.Statement) bool {
			value = make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, value)
			return true
		})
	if err != nil {
		return nil, fmt.Errorf("failed to get var %s/%s: %w", domain, name, err)
	}
	if rows == 0 {
		return nil, fmt.Errorf("failed to get var %s/%s: %w", domain, name, sql.ErrNotFound)
	}
	return value, nil
}

// Delete removes the value under (domain, name).
func Delete(db sql.Executor, domain, name string) error {
	if _, err := db.Exec("delete from vars where domain = ?1 and name = ?2;",
		func(stmt *sql.Statement) {
			stmt.BindText(1, domain)
			stmt.BindText(2, name)
		}, nil); err != nil {
		return fmt.Errorf("failed to delete var %s/%s: %w", domain, name, err)
	}
	return nil
}
