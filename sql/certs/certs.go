// Package certs stores signed revision certs and answers branch queries.
package certs

import (
	"fmt"

	"github.com/vcsnet/netsync/codec"
	"github.com/vcsnet/netsync/common/types"
	"github.com/vcsnet/netsync/sql"
)

// Add stores the cert. Adding an existing cert is a no-op.
func Add(db sql.Executor, cert *types.Cert) (types.ID, error) {
	buf, err := codec.Encode(cert)
	if err != nil {
		return types.EmptyID, fmt.Errorf("encode cert: %w", err)
	}
	id := types.CalcID(buf)
	if _, err := db.Exec(`insert or ignore into certs
		(id, revision, name, value, key, signature, data) values (?1, ?2, ?3, ?4, ?5, ?6, ?7);`,
		func(stmt *sql.Statement) {
			stmt.BindBytes(1, id.Bytes())
			stmt.BindBytes(2, cert.Revision.Bytes())
			stmt.BindText(3, cert.Name)
			stmt.BindBytes(4, cert.Value)
			stmt.BindBytes(5, cert.Key.Bytes())
			stmt.BindBytes(6, cert.Signature)
			stmt.BindBytes(7, buf)
		}, nil); err != nil {
		return id, fmt.Errorf("insert cert %s: %w", id.ShortString(), err)
	}
	return id, nil
}

// Has reports whether the cert is stored.
func Has(db sql.Executor, id types.ID) (bool, error) {
	rows, err := db.Exec("select 1 from certs where id = ?1;",
		func(stmt *sql.Statement) {
			stmt.BindBytes(1, id.Bytes())
		}, nil)
	if err != nil {
		return false, fmt.Errorf("has cert %s: %w", id.ShortString(), err)
	}
	return rows > 0, nil
}

// GetBlob loads the encoded cert into blob.
func GetBlob(db sql.Executor, id types.ID, blob *sql.Blob) error {
	return sql.LoadBlob(db, "select data from certs where id = ?1;", id.Bytes(), blob)
}

// Get loads and decodes the cert.
func Get(db sql.Executor, id types.ID) (*types.Cert, error) {
	var blob sql.Blob
	if err := GetBlob(db, id, &blob); err != nil {
		return nil, err
	}
	var cert types.Cert
	if err := codec.Decode(blob.Bytes, &cert); err != nil {
		return nil, fmt.Errorf("decode cert %s: %w", id.ShortString(), err)
	}
	return &cert, nil
}

// ForRevision returns the ids of all certs on the revision.
func ForRevision(db sql.Executor, rev types.ID) (rst []types.ID, err error) {
	if _, err := db.Exec("select id from certs where revision = ?1 order by id;",
		func(stmt *sql.Statement) {
			stmt.BindBytes(1, rev.Bytes())
		}, func(stmt *sql.Statement) bool {
			var id types.ID
			stmt.ColumnBytes(0, id[:])
			rst = append(rst, id)
			return true
		}); err != nil {
		return nil, fmt.Errorf("certs for %s: %w", rev.ShortString(), err)
	}
	return rst, nil
}

// BranchRevisions returns the revisions carrying a branch cert for branch.
func BranchRevisions(db sql.Executor, branch string) (rst []types.ID, err error) {
	if _, err := db.Exec("select distinct revision from certs where name = ?1 and value = ?2;",
		func(stmt *sql.Statement) {
			stmt.BindText(1, types.BranchCertName)
			stmt.BindBytes(2, []byte(branch))
		}, func(stmt *sql.Statement) bool {
			var id types.ID
			stmt.ColumnBytes(0, id[:])
			rst = append(rst, id)
			return true
		}); err != nil {
		return nil, fmt.Errorf("revisions of branch %s: %w", branch, err)
	}
	return rst, nil
}

// Branches returns the names of all branches in ascending order.
func Branches(db sql.Executor) (rst []string, err error) {
	if _, err := db.Exec("select distinct value from certs where name = ?1 order by value;",
		func(stmt *sql.Statement) {
			stmt.BindText(1, types.BranchCertName)
		}, func(stmt *sql.Statement) bool {
			buf := make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, buf)
			rst = append(rst, string(buf))
			return true
		}); err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	return rst, nil
}

// ForBranch returns the ids of the branch certs naming branch.
func ForBranch(db sql.Executor, branch string) (rst []types.ID, err error) {
	if _, err := db.Exec("select id from certs where name = ?1 and value = ?2 order by id;",
		func(stmt *sql.Statement) {
			stmt.BindText(1, types.BranchCertName)
			stmt.BindBytes(2, []byte(branch))
		}, func(stmt *sql.Statement) bool {
			var id types.ID
			stmt.ColumnBytes(0, id[:])
			rst = append(rst, id)
			return true
		}); err != nil {
		return nil, fmt.Errorf("certs of branch %s: %w", branch, err)
	}
	return rst, nil
}
