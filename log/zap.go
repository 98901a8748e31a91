package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ShortStringer is implemented by values with an abbreviated log form, like item ids.
type ShortStringer interface {
	ShortString() string
}

type shortStringer struct {
	ShortStringer
}

func (s shortStringer) String() string { return s.ShortString() }

// ZShortStringer logs the short form of val.
func ZShortStringer(name string, val ShortStringer) zap.Field {
	return zap.Stringer(name, shortStringer{val})
}

// ZShortStringers logs the short forms of vals as an array.
func ZShortStringers[T ShortStringer](name string, vals []T) zap.Field {
	return zap.Array(name, zapcore.ArrayMarshalerFunc(func(enc zapcore.ArrayEncoder) error {
		for _, v := range vals {
			enc.AppendString(v.ShortString())
		}
		return nil
	}))
}
