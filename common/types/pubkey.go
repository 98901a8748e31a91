package types

import (
	"github.com/spacemeshos/go-scale"

	"github.com/vcsnet/netsync/codec"
)

// PublicKeySize is the size of an ed25519 public key.
const PublicKeySize = 32

// PublicKey is a named identity key.
type PublicKey struct {
	Name string
	Pub  [PublicKeySize]byte
}

// ID computes the key id.
func (k *PublicKey) ID() ID {
	return CalcID(codec.MustEncode(k))
}

// EncodeScale implements scale codec interface.
func (k *PublicKey) EncodeScale(enc *scale.Encoder) (total int, err error) {
	{
		n, err := scale.EncodeStringWithLimit(enc, k.Name, maxKeyNameLen)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeByteArray(enc, k.Pub[:])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// DecodeScale implements scale codec interface.
func (k *PublicKey) DecodeScale(dec *scale.Decoder) (total int, err error) {
	{
		field, n, err := scale.DecodeStringWithLimit(dec, maxKeyNameLen)
		if err != nil {
			return total, err
		}
		total += n
		k.Name = field
	}
	{
		n, err := scale.DecodeByteArray(dec, k.Pub[:])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
