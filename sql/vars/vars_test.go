package vars

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vcsnet/netsync/sql"
)

func TestVars(t *testing.T) {
	db := sql.InMemory()
	_, err := Get(db, KnownServers, "localhost:4691")
	require.ErrorIs(t, err, sql.ErrNotFound)

	require.NoError(t, Set(db, KnownServers, "localhost:4691", []byte{1}))
	require.NoError(t, Set(db, KnownServers, "localhost:4691", []byte{2}))
	value, err := Get(db, KnownServers, "localhost:4691")
	require.NoError(t, err)
	require.Equal(t, []byte{2}, value)

	_, err = Get(db, "other", "localhost:4691")
	require.ErrorIs(t, err, sql.ErrNotFound)

	require.NoError(t, Delete(db, KnownServers, "localhost:4691"))
	_, err = Get(db, KnownServers, "localhost:4691")
	require.ErrorIs(t, err, sql.ErrNotFound)
}
