package types

import (
	"github.com/spacemeshos/go-scale"
	"go.uber.org/zap/zapcore"

	"github.com/vcsnet/netsync/codec"
)

const (
	maxParents     = 64
	maxChanges     = 1 << 16
	maxPathLen     = 4096
	maxAuthorLen   = 1024
	maxMessageLen  = 1 << 16
	maxCertNameLen = 256
	maxCertValue   = 1 << 16
	maxSignature   = 256
	maxKeyNameLen  = 256
	maxBranchLen   = 1024
)

// FileChange records that the file at Path became Target. Base is empty
// when the file is new in the revision.
type FileChange struct {
	Path   string
	Base   ID
	Target ID
}

// Added reports whether the change introduces a new file.
func (c *FileChange) Added() bool { return c.Base.IsEmpty() }

// EncodeScale implements scale codec interface.
func (c *FileChange) EncodeScale(enc *scale.Encoder) (total int, err error) {
	{
		n, err := scale.EncodeStringWithLimit(enc, c.Path, maxPathLen)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeByteArray(enc, c.Base[:])
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeByteArray(enc, c.Target[:])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// DecodeScale implements scale codec interface.
func (c *FileChange) DecodeScale(dec *scale.Decoder) (total int, err error) {
	{
		field, n, err := scale.DecodeStringWithLimit(dec, maxPathLen)
		if err != nil {
			return total, err
		}
		total += n
		c.Path = field
	}
	{
		n, err := scale.DecodeByteArray(dec, c.Base[:])
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.DecodeByteArray(dec, c.Target[:])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Revision is a node of the history graph. A revision without parents is a root.
type Revision struct {
	Parents   []ID
	Changes   []FileChange
	Author    string
	Message   string
	Timestamp uint64
}

// ID computes the revision id from its canonical encoding.
func (r *Revision) ID() ID {
	return CalcID(codec.MustEncode(r))
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (r *Revision) MarshalLogObject(encoder zapcore.ObjectEncoder) error {
	if r == nil {
		return nil
	}
	encoder.AddInt("parents", len(r.Parents))
	encoder.AddInt("changes", len(r.Changes))
	encoder.AddString("author", r.Author)
	encoder.AddUint64("timestamp", r.Timestamp)
	return nil
}

// EncodeScale implements scale codec interface.
func (r *Revision) EncodeScale(enc *scale.Encoder) (total int, err error) {
	{
		n, err := scale.EncodeStructSliceWithLimit(enc, r.Parents, maxParents)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeStructSliceWithLimit(enc, r.Changes, maxChanges)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeStringWithLimit(enc, r.Author, maxAuthorLen)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeStringWithLimit(enc, r.Message, maxMessageLen)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeCompact64(enc, r.Timestamp)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// DecodeScale implements scale codec interface.
func (r *Revision) DecodeScale(dec *scale.Decoder) (total int, err error) {
	{
		field, n, err := scale.DecodeStructSliceWithLimit[ID](dec, maxParents)
		if err != nil {
			return total, err
		}
		total += n
		r.Parents = field
	}
	{
		field, n, err := scale.DecodeStructSliceWithLimit[FileChange](dec, maxChanges)
		if err != nil {
			return total, err
		}
		total += n
		r.Changes = field
	}
	{
		field, n, err := scale.DecodeStringWithLimit(dec, maxAuthorLen)
		if err != nil {
			return total, err
		}
		total += n
		r.Author = field
	}
	{
		field, n, err := scale.DecodeStringWithLimit(dec, maxMessageLen)
		if err != nil {
			return total, err
		}
		total += n
		r.Message = field
	}
	{
		field, n, err := scale.DecodeCompact64(dec)
		if err != nil {
			return total, err
		}
		total += n
		r.Timestamp = field
	}
	return total, nil
}
