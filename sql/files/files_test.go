package files

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vcsnet/netsync/common/types"
	"github.com/vcsnet/netsync/sql"
)

func TestFiles(t *testing.T) {
	db := sql.InMemory()
	data := []byte("hello world")
	id := types.CalcID(data)

	has, err := Has(db, id)
	require.NoError(t, err)
	require.False(t, has)
	_, err = Get(db, id)
	require.ErrorIs(t, err, sql.ErrNotFound)

	require.NoError(t, Add(db, id, data))
	require.NoError(t, Add(db, id, data))
	got, err := Get(db, id)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestDeltas(t *testing.T) {
	db := sql.InMemory()
	base, target := types.ID{1}, types.ID{2}
	_, err := GetDelta(db, base, target)
	require.ErrorIs(t, err, sql.ErrNotFound)

	require.NoError(t, AddDelta(db, base, target, []byte("delta")))
	got, err := GetDelta(db, base, target)
	require.NoError(t, err)
	require.Equal(t, []byte("delta"), got)

	_, err = GetDelta(db, target, base)
	require.ErrorIs(t, err, sql.ErrNotFound)
}
