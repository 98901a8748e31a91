package sql

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func testTables(db Executor) error {
	if _, err := db.Exec(`create table testing1 (
		id varchar primary key,
		field int
	)`, nil, nil); err != nil {
		return err
	}
	return nil
}

func testURI(tb testing.TB) string {
	tb.Helper()
	return "file:" + filepath.Join(tb.TempDir(), "state.sql")
}

func insert(tb testing.TB, db Executor, key string, value int64) {
	tb.Helper()
	_, err := db.Exec("insert into testing1(id, field) values (?1, ?2)", func(stmt *Statement) {
		stmt.BindText(1, key)
		stmt.BindInt64(2, value)
	}, nil)
	require.NoError(tb, err)
}

func count(tb testing.TB, db Executor, key string) int {
	tb.Helper()
	rows, err := db.Exec("select 1 from testing1 where id = ?1", func(stmt *Statement) {
		stmt.BindText(1, key)
	}, nil)
	require.NoError(tb, err)
	return rows
}

func TestTransactionIsolation(t *testing.T) {
	db := InMemory(WithMigrations(testTables))

	tx, err := db.Tx(context.Background())
	require.NoError(t, err)
	insert(t, tx, "dsada", 20)
	require.Equal(t, 1, count(t, tx, "dsada"))
	require.NoError(t, tx.Release())

	require.Equal(t, 0, count(t, db, "dsada"))
}

func TestObjectExists(t *testing.T) {
	db := InMemory(WithMigrations(testTables))
	insert(t, db, "k", 1)
	_, err := db.Exec("insert into testing1(id, field) values (?1, ?2)", func(stmt *Statement) {
		stmt.BindText(1, "k")
		stmt.BindInt64(2, 2)
	}, nil)
	require.ErrorIs(t, err, ErrObjectExists)
}

func TestLoadBlob(t *testing.T) {
	db := InMemory()
	_, err := db.Exec("insert into files (id, data) values (?1, ?2)", func(stmt *Statement) {
		stmt.BindBytes(1, []byte("id"))
		stmt.BindBytes(2, []byte("payload"))
	}, nil)
	require.NoError(t, err)

	var blob Blob
	require.NoError(t, LoadBlob(db, "select data from files where id = ?1", []byte("id"), &blob))
	require.Equal(t, []byte("payload"), blob.Bytes)
	require.ErrorIs(t, LoadBlob(db, "select data from files where id = ?1", []byte("no"), &blob), ErrNotFound)
}

func TestMigrationsAppliedOnce(t *testing.T) {
	uri := testURI(t)
	db, err := Open(uri)
	require.NoError(t, err)
	expected, err := SchemaVersion()
	require.NoError(t, err)
	v, err := version(db)
	require.NoError(t, err)
	require.Equal(t, expected, v)
	require.NoError(t, db.Close())

	db, err = Open(uri)
	require.NoError(t, err)
	v, err = version(db)
	require.NoError(t, err)
	require.Equal(t, expected, v)
	require.NoError(t, db.Close())
}

func TestDatabaseTooNew(t *testing.T) {
	uri := testURI(t)
	db, err := Open(uri)
	require.NoError(t, err)
	_, err = db.Exec("PRAGMA user_version = 1000;", nil, nil)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = Open(uri)
	require.ErrorIs(t, err, ErrTooNew)
}

func TestCreatorCode(t *testing.T) {
	t.Run("fresh database is claimed", func(t *testing.T) {
		db := InMemory()
		owner, err := pragmaInt(db, "application_id")
		require.NoError(t, err)
		require.Equal(t, creatorCode, owner)
	})
	t.Run("other application", func(t *testing.T) {
		uri := testURI(t)
		db, err := Open(uri, WithMigrations(func(db Executor) error {
			_, err := db.Exec("PRAGMA application_id = 7;", nil, nil)
			return err
		}))
		require.NoError(t, err)
		require.NoError(t, db.Close())

		_, err = Open(uri)
		require.ErrorIs(t, err, ErrForeignDatabase)
	})
	t.Run("unclaimed database with a schema", func(t *testing.T) {
		uri := testURI(t)
		db, err := Open(uri, WithMigrations(func(db Executor) error {
			_, err := db.Exec("PRAGMA application_id = 0;", nil, nil)
			if err != nil {
				return err
			}
			_, err = db.Exec("PRAGMA user_version = 3;", nil, nil)
			return err
		}))
		require.NoError(t, err)
		require.NoError(t, db.Close())

		_, err = Open(uri)
		require.ErrorIs(t, err, ErrForeignDatabase)
	})
}

func TestFailedMigrationLeavesDatabaseUnclaimed(t *testing.T) {
	uri := testURI(t)
	_, err := Open(uri, WithMigrations(func(db Executor) error {
		if err := testTables(db); err != nil {
			return err
		}
		_, err := db.Exec("not a statement", nil, nil)
		return err
	}))
	require.Error(t, err)

	db, err := Open(uri, WithMigrations(testTables))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	insert(t, db, "a", 1)
	require.Equal(t, 1, count(t, db, "a"))
}
