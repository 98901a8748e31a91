package types

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	fuzz "github.com/google/gofuzz"
	"github.com/stretchr/testify/require"

	"github.com/vcsnet/netsync/codec"
)

func TestRevisionID(t *testing.T) {
	file := CalcID([]byte("contents"))
	root := Revision{
		Changes: []FileChange{{Path: "a.txt", Target: file}},
		Author:  "alice",
		Message: "initial",
	}
	child := Revision{
		Parents: []ID{root.ID()},
		Changes: []FileChange{{Path: "a.txt", Base: file, Target: CalcID([]byte("more"))}},
		Author:  "alice",
	}
	require.NotEqual(t, root.ID(), child.ID())
	require.True(t, root.Changes[0].Added())
	require.False(t, child.Changes[0].Added())

	buf, err := codec.Encode(&child)
	require.NoError(t, err)
	var decoded Revision
	require.NoError(t, codec.Decode(buf, &decoded))
	require.Equal(t, child.ID(), decoded.ID())
	require.Equal(t, CalcID(buf), child.ID())
}

type identified interface {
	codec.Encodable
	ID() ID
}

func TestRandomItemsRoundTrip(t *testing.T) {
	f := fuzz.NewWithSeed(1001).NilChance(0)
	for range 100 {
		var (
			rev  Revision
			cert Cert
			ep   Epoch
			key  PublicKey
		)
		f.Fuzz(&rev)
		f.Fuzz(&cert)
		f.Fuzz(&ep)
		f.Fuzz(&key)
		for _, pair := range [][2]identified{
			{&rev, &Revision{}},
			{&cert, &Cert{}},
			{&ep, &Epoch{}},
			{&key, &PublicKey{}},
		} {
			orig, decoded := pair[0], pair[1]
			buf, err := codec.Encode(orig)
			require.NoError(t, err)
			require.NoError(t, codec.Decode(buf, decoded.(codec.Decodable)))
			require.Empty(t, cmp.Diff(orig, decoded, cmpopts.EquateEmpty()))
			require.Equal(t, orig.ID(), decoded.ID())
		}
	}
}

func TestCertSignedBytesExcludeSignature(t *testing.T) {
	c := Cert{Revision: CalcID([]byte("r")), Name: BranchCertName, Value: []byte("trunk")}
	unsigned := c.SignedBytes()
	id := c.ID()
	c.Signature = []byte{1, 2, 3}
	require.Equal(t, unsigned, c.SignedBytes())
	require.NotEqual(t, id, c.ID())
	require.True(t, c.IsBranch())
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	e := Epoch{Branch: "trunk"}
	buf := codec.MustEncode(&e)
	var decoded Epoch
	require.Error(t, codec.Decode(append(buf, 0), &decoded))
}

func TestHexToID(t *testing.T) {
	id := CalcID([]byte("x"))
	parsed, err := HexToID(id.String())
	require.NoError(t, err)
	require.Equal(t, id, parsed)
	_, err = HexToID("abcd")
	require.Error(t, err)
}

func TestItemType(t *testing.T) {
	for _, typ := range RefinedItemTypes {
		require.True(t, typ.Refined(), typ.String())
	}
	require.True(t, FileItem.Valid())
	require.False(t, FileItem.Refined())
	require.False(t, ItemType(1).Valid())
	require.Equal(t, "epoch", EpochItem.String())
}
