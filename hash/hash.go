// Package hash computes the 20-byte content identifiers used for every
// synchronized item.
package hash

import (
	"sync"

	"github.com/zeebo/blake3"
)

// Size of an item identifier in bytes.
const Size = 20

// hashers are reset before they are put back.
var hashers = sync.Pool{
	New: func() any {
		return blake3.New()
	},
}

// Sum20 returns the first 20 bytes of the blake3 digest of the concatenated chunks.
func Sum20(chunks ...[]byte) (out [Size]byte) {
	hasher := hashers.Get().(*blake3.Hasher)
	defer func() {
		hasher.Reset()
		hashers.Put(hasher)
	}()
	for _, chunk := range chunks {
		hasher.Write(chunk)
	}
	// blake3 is an XOF, reading a prefix of the output stream is the
	// canonical way of getting a shorter digest.
	hasher.Digest().Read(out[:])
	return out
}
