package epochs

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vcsnet/netsync/common/types"
	"github.com/vcsnet/netsync/sql"
)

func TestEpochs(t *testing.T) {
	db := sql.InMemory()
	_, err := Get(db, "main")
	require.ErrorIs(t, err, sql.ErrNotFound)

	first := &types.Epoch{Branch: "main", Value: types.EpochValue{1}}
	require.NoError(t, Set(db, first))
	value, err := Get(db, "main")
	require.NoError(t, err)
	require.Equal(t, first.Value, value)

	has, err := Has(db, first.ID())
	require.NoError(t, err)
	require.True(t, has)

	second := &types.Epoch{Branch: "main", Value: types.EpochValue{2}}
	require.NoError(t, Set(db, second))
	has, err = Has(db, first.ID())
	require.NoError(t, err)
	require.False(t, has, "replaced epoch item is gone")

	got, err := GetByID(db, second.ID())
	require.NoError(t, err)
	require.Equal(t, second, got)

	require.NoError(t, Set(db, &types.Epoch{Branch: "dev"}))
	all, err := All(db)
	require.NoError(t, err)
	require.Equal(t, []types.Epoch{{Branch: "dev"}, *second}, all)
}
