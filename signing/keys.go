package signing

import (
	"github.com/oasisprotocol/curve25519-voi/primitives/ed25519"
)

// PrivateKey is an alias to ed25519.PrivateKey.
type PrivateKey = ed25519.PrivateKey

const (
	// PrivateKeySize size of the private key in bytes.
	PrivateKeySize = ed25519.PrivateKeySize
	// SignatureSize size of a signature in bytes.
	SignatureSize = ed25519.SignatureSize
)
