package signing

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/box"
)

// BoxKeySize is the size of the X25519 keys used to seal session keys.
const BoxKeySize = 32

var boxKeyInfo = []byte("netsync session key box")

// ErrOpenSealed is returned when a sealed message can't be opened with the key.
var ErrOpenSealed = errors.New("signing: sealed box can't be opened")

// BoxKey is an X25519 key pair derived from an identity key. Peers seal
// session keys to its public half.
type BoxKey struct {
	priv [BoxKeySize]byte
	pub  [BoxKeySize]byte
}

func deriveBoxKey(seed []byte) *BoxKey {
	var k BoxKey
	kdf := hkdf.New(sha256.New, seed, nil, boxKeyInfo)
	if _, err := io.ReadFull(kdf, k.priv[:]); err != nil {
		panic(fmt.Sprintf("hkdf: %v", err))
	}
	pub, err := curve25519.X25519(k.priv[:], curve25519.Basepoint)
	if err != nil {
		panic(fmt.Sprintf("x25519: %v", err))
	}
	copy(k.pub[:], pub)
	return &k
}

// Public returns the public half.
func (k *BoxKey) Public() [BoxKeySize]byte {
	return k.pub
}

// Open decrypts a message sealed with Seal to this key.
func (k *BoxKey) Open(sealed []byte) ([]byte, error) {
	out, ok := box.OpenAnonymous(nil, sealed, &k.pub, &k.priv)
	if !ok {
		return nil, ErrOpenSealed
	}
	return out, nil
}

// Seal encrypts msg so that only the holder of pub's private half can read it.
func Seal(pub []byte, msg []byte) ([]byte, error) {
	if len(pub) != BoxKeySize {
		return nil, fmt.Errorf("box key: want %d bytes, got %d", BoxKeySize, len(pub))
	}
	var key [BoxKeySize]byte
	copy(key[:], pub)
	sealed, err := box.SealAnonymous(nil, msg, &key, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	return sealed, nil
}
