package netcmd

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// maxDecompressed bounds the size of a decompressed payload.
const maxDecompressed = 64 << 20

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
)

func zstdCodecs() (*zstd.Encoder, *zstd.Decoder) {
	zstdOnce.Do(func() {
		var err error
		zstdEnc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			panic(fmt.Sprintf("zstd encoder: %v", err))
		}
		zstdDec, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecompressed))
		if err != nil {
			panic(fmt.Sprintf("zstd decoder: %v", err))
		}
	})
	return zstdEnc, zstdDec
}

// compressionFor picks the compression used for data of the given size at
// the given protocol version.
func compressionFor(version uint8, size int) Compression {
	switch {
	case size <= CompressThreshold:
		return Raw
	case version >= 7:
		return Zstd
	default:
		return Gzip
	}
}

func compress(c Compression, data []byte) ([]byte, error) {
	switch c {
	case Raw:
		return data, nil
	case Gzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return buf.Bytes(), nil
	case Zstd:
		enc, _ := zstdCodecs()
		return enc.EncodeAll(data, nil), nil
	}
	return nil, fmt.Errorf("unknown compression %d", c)
}

func decompress(c Compression, data []byte) ([]byte, error) {
	switch c {
	case Raw:
		return data, nil
	case Gzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, badDecode("gzip header: %v", err)
		}
		defer r.Close()
		out, err := io.ReadAll(io.LimitReader(r, maxDecompressed+1))
		if err != nil {
			return nil, badDecode("gzip stream: %v", err)
		}
		if len(out) > maxDecompressed {
			return nil, badDecode("gzip stream exceeds %d bytes", maxDecompressed)
		}
		return out, nil
	case Zstd:
		_, dec := zstdCodecs()
		out, err := dec.DecodeAll(data, nil)
		if err != nil {
			return nil, badDecode("zstd stream: %v", err)
		}
		return out, nil
	}
	return nil, badDecode("unknown compression flag %d", uint8(c))
}
