package signing

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
	"github.com/oasisprotocol/curve25519-voi/primitives/ed25519"

	"github.com/vcsnet/netsync/common/types"
)

// Domain separates signatures made for different purposes with the same key.
type Domain byte

const (
	// CERT signs revision certificates.
	CERT Domain = 0
	// AUTH signs the server nonce during the netsync handshake.
	AUTH Domain = 1
)

// String returns the string representation of a domain.
func (d Domain) String() string {
	switch d {
	case CERT:
		return "CERT"
	case AUTH:
		return "AUTH"
	default:
		return "UNKNOWN"
	}
}

// KeyFileExt is the extension of identity files.
const KeyFileExt = ".key"

type edSignerOption struct {
	priv   PrivateKey
	file   string
	name   string
	prefix []byte
}

// EdSignerOptionFunc modifies EdSigner.
type EdSignerOptionFunc func(*edSignerOption) error

// WithPrefix sets the prefix mixed into every signed message.
func WithPrefix(prefix []byte) EdSignerOptionFunc {
	return func(opt *edSignerOption) error {
		opt.prefix = prefix
		return nil
	}
}

// WithName sets the key name announced to peers.
func WithName(name string) EdSignerOptionFunc {
	return func(opt *edSignerOption) error {
		opt.name = name
		return nil
	}
}

// ToFile writes the private key to a file after creation.
func ToFile(path string) EdSignerOptionFunc {
	return func(opt *edSignerOption) error {
		if opt.file != "" {
			return errors.New("invalid option ToFile: file already set")
		}
		opt.file = path
		return nil
	}
}

// FromFile loads the private key from a file.
func FromFile(path string) EdSignerOptionFunc {
	return func(opt *edSignerOption) error {
		if opt.priv != nil {
			return errors.New("invalid option FromFile: private key already set")
		}
		if opt.file != "" {
			return errors.New("invalid option FromFile: file already set")
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to open identity file at %s: %w", path, err)
		}
		priv, err := decodePrivateKey(data)
		if err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		opt.priv = priv
		opt.file = path
		return nil
	}
}

// WithPrivateKey sets the private key used by EdSigner.
func WithPrivateKey(priv PrivateKey) EdSignerOptionFunc {
	return func(opt *edSignerOption) error {
		if opt.priv != nil {
			return errors.New("invalid option WithPrivateKey: private key already set")
		}
		if err := checkPrivateKey(priv); err != nil {
			return err
		}
		opt.priv = priv
		return nil
	}
}

// WithKeyFromRand sets the private key used by EdSigner using predictable randomness source.
func WithKeyFromRand(rand io.Reader) EdSignerOptionFunc {
	return func(opt *edSignerOption) error {
		_, priv, err := ed25519.GenerateKey(rand)
		if err != nil {
			return fmt.Errorf("could not generate key pair: %w", err)
		}
		opt.priv = priv
		return nil
	}
}

func checkPrivateKey(priv PrivateKey) error {
	if len(priv) != PrivateKeySize {
		return fmt.Errorf("invalid key length %d: too small or too large", len(priv))
	}
	keyPair := ed25519.NewKeyFromSeed(priv[:32])
	if !bytes.Equal(keyPair[32:], priv.Public().(ed25519.PublicKey)) {
		return errors.New("private and public do not match")
	}
	return nil
}

func decodePrivateKey(data []byte) (PrivateKey, error) {
	data = bytes.TrimSpace(data)
	if n := hex.DecodedLen(len(data)); n != PrivateKeySize {
		return nil, fmt.Errorf("invalid key size %d/%d", n, PrivateKeySize)
	}
	dst := make([]byte, PrivateKeySize)
	if _, err := hex.Decode(dst, data); err != nil {
		return nil, fmt.Errorf("decoding private key: %w", err)
	}
	priv := PrivateKey(dst)
	if err := checkPrivateKey(priv); err != nil {
		return nil, err
	}
	return priv, nil
}

// EdSigner represents an ED25519 signer.
type EdSigner struct {
	priv   PrivateKey
	name   string
	prefix []byte
}

// NewEdSigner returns an auto-generated ed signer.
func NewEdSigner(opts ...EdSignerOptionFunc) (*EdSigner, error) {
	cfg := &edSignerOption{}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.priv == nil {
		_, priv, err := ed25519.GenerateKey(nil)
		if err != nil {
			return nil, fmt.Errorf("could not generate key pair: %w", err)
		}
		cfg.priv = priv

		if cfg.file != "" {
			_, err := os.Stat(cfg.file)
			switch {
			case errors.Is(err, fs.ErrNotExist):
			case err != nil:
				return nil, fmt.Errorf("stat identity file %s: %w", filepath.Base(cfg.file), err)
			default:
				return nil, fmt.Errorf("save identity file %s: %w", filepath.Base(cfg.file), fs.ErrExist)
			}
			dst := make([]byte, hex.EncodedLen(len(cfg.priv)))
			hex.Encode(dst, cfg.priv)
			if err := atomic.WriteFile(cfg.file, bytes.NewReader(dst)); err != nil {
				return nil, fmt.Errorf("failed to write identity file: %w", err)
			}
			if err := os.Chmod(cfg.file, 0o600); err != nil {
				return nil, fmt.Errorf("restrict identity file: %w", err)
			}
		}
	}
	name := cfg.name
	if name == "" && cfg.file != "" {
		name = strings.TrimSuffix(filepath.Base(cfg.file), KeyFileExt)
	}
	return &EdSigner{priv: cfg.priv, name: name, prefix: cfg.prefix}, nil
}

// Sign signs the provided message.
func (es *EdSigner) Sign(d Domain, m []byte) []byte {
	return ed25519.Sign(es.priv, signedMessage(es.prefix, d, m))
}

// Name returns the key name announced to peers.
func (es *EdSigner) Name() string {
	return es.name
}

// PublicKey returns the public key record of the signer.
func (es *EdSigner) PublicKey() types.PublicKey {
	pub := types.PublicKey{Name: es.name}
	copy(pub.Pub[:], es.priv.Public().(ed25519.PublicKey))
	return pub
}

// KeyID returns the id of the signer's public key item.
func (es *EdSigner) KeyID() types.ID {
	pub := es.PublicKey()
	return pub.ID()
}

// PrivateKey returns private key.
func (es *EdSigner) PrivateKey() PrivateKey {
	return es.priv
}

// BoxKey derives the key used to receive sealed session keys.
func (es *EdSigner) BoxKey() *BoxKey {
	return deriveBoxKey(es.priv.Seed())
}

// Prefix returns the signing prefix.
func (es *EdSigner) Prefix() []byte {
	return es.prefix
}

func (es *EdSigner) String() string {
	return es.KeyID().ShortString()
}

func signedMessage(prefix []byte, d Domain, m []byte) []byte {
	msg := make([]byte, 0, len(prefix)+1+len(m))
	msg = append(msg, prefix...)
	msg = append(msg, byte(d))
	msg = append(msg, m...)
	return msg
}
