package types

import (
	"encoding/hex"

	"github.com/spacemeshos/go-scale"

	"github.com/vcsnet/netsync/codec"
)

// EpochValue is the random marker of a branch history.
type EpochValue [IDSize]byte

// ZeroEpoch is the epoch of a branch that never had one set.
var ZeroEpoch EpochValue

func (e EpochValue) String() string {
	return hex.EncodeToString(e[:])
}

// Epoch binds a branch name to its epoch marker.
type Epoch struct {
	Branch string
	Value  EpochValue
}

// ID computes the epoch item id.
func (e *Epoch) ID() ID {
	return CalcID(codec.MustEncode(e))
}

// EncodeScale implements scale codec interface.
func (e *Epoch) EncodeScale(enc *scale.Encoder) (total int, err error) {
	{
		n, err := scale.EncodeStringWithLimit(enc, e.Branch, maxBranchLen)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeByteArray(enc, e.Value[:])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// DecodeScale implements scale codec interface.
func (e *Epoch) DecodeScale(dec *scale.Decoder) (total int, err error) {
	{
		field, n, err := scale.DecodeStringWithLimit(dec, maxBranchLen)
		if err != nil {
			return total, err
		}
		total += n
		e.Branch = field
	}
	{
		n, err := scale.DecodeByteArray(dec, e.Value[:])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
