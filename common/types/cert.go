package types

import (
	"github.com/spacemeshos/go-scale"
	"go.uber.org/zap/zapcore"

	"github.com/vcsnet/netsync/codec"
)

// BranchCertName is the name of the cert placing a revision on a branch.
const BranchCertName = "branch"

// Cert is a signed statement about a revision.
type Cert struct {
	Revision  ID
	Name      string
	Value     []byte
	Key       ID
	Signature []byte
}

// IsBranch reports whether the cert places its revision on a branch.
func (c *Cert) IsBranch() bool { return c.Name == BranchCertName }

// SignedBytes returns the bytes covered by the signature.
func (c *Cert) SignedBytes() []byte {
	body := certBody{Revision: c.Revision, Name: c.Name, Value: c.Value}
	return codec.MustEncode(&body)
}

// ID computes the cert id from its full encoding, signature included.
func (c *Cert) ID() ID {
	return CalcID(codec.MustEncode(c))
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (c *Cert) MarshalLogObject(encoder zapcore.ObjectEncoder) error {
	if c == nil {
		return nil
	}
	encoder.AddString("revision", c.Revision.ShortString())
	encoder.AddString("name", c.Name)
	encoder.AddString("key", c.Key.ShortString())
	return nil
}

// EncodeScale implements scale codec interface.
func (c *Cert) EncodeScale(enc *scale.Encoder) (total int, err error) {
	body := certBody{Revision: c.Revision, Name: c.Name, Value: c.Value}
	{
		n, err := body.EncodeScale(enc)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeByteArray(enc, c.Key[:])
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeByteSliceWithLimit(enc, c.Signature, maxSignature)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// DecodeScale implements scale codec interface.
func (c *Cert) DecodeScale(dec *scale.Decoder) (total int, err error) {
	var body certBody
	{
		n, err := body.DecodeScale(dec)
		if err != nil {
			return total, err
		}
		total += n
		c.Revision, c.Name, c.Value = body.Revision, body.Name, body.Value
	}
	{
		n, err := scale.DecodeByteArray(dec, c.Key[:])
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		field, n, err := scale.DecodeByteSliceWithLimit(dec, maxSignature)
		if err != nil {
			return total, err
		}
		total += n
		c.Signature = field
	}
	return total, nil
}

type certBody struct {
	Revision ID
	Name     string
	Value    []byte
}

func (b *certBody) EncodeScale(enc *scale.Encoder) (total int, err error) {
	{
		n, err := scale.EncodeByteArray(enc, b.Revision[:])
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeStringWithLimit(enc, b.Name, maxCertNameLen)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeByteSliceWithLimit(enc, b.Value, maxCertValue)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (b *certBody) DecodeScale(dec *scale.Decoder) (total int, err error) {
	{
		n, err := scale.DecodeByteArray(dec, b.Revision[:])
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		field, n, err := scale.DecodeStringWithLimit(dec, maxCertNameLen)
		if err != nil {
			return total, err
		}
		total += n
		b.Name = field
	}
	{
		field, n, err := scale.DecodeByteSliceWithLimit(dec, maxCertValue)
		if err != nil {
			return total, err
		}
		total += n
		b.Value = field
	}
	return total, nil
}
