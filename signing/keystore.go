package signing

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// KeyStore reads identity files from a directory.
type KeyStore struct {
	fs  afero.Fs
	dir string
}

// NewKeyStore creates a key store rooted at dir.
func NewKeyStore(fs afero.Fs, dir string) *KeyStore {
	return &KeyStore{fs: fs, dir: dir}
}

// Path returns the identity file path for a key name.
func (ks *KeyStore) Path(name string) string {
	return filepath.Join(ks.dir, name+KeyFileExt)
}

// List returns the names of all stored keys.
func (ks *KeyStore) List() ([]string, error) {
	entries, err := afero.ReadDir(ks.fs, ks.dir)
	if err != nil {
		return nil, fmt.Errorf("list keys in %s: %w", ks.dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), KeyFileExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), KeyFileExt))
	}
	sort.Strings(names)
	return names, nil
}

// Load reads the named key.
func (ks *KeyStore) Load(name string, opts ...EdSignerOptionFunc) (*EdSigner, error) {
	data, err := afero.ReadFile(ks.fs, ks.Path(name))
	if err != nil {
		return nil, fmt.Errorf("read key %s: %w", name, err)
	}
	priv, err := decodePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("key %s: %w", name, err)
	}
	opts = append([]EdSignerOptionFunc{WithPrivateKey(priv), WithName(name)}, opts...)
	return NewEdSigner(opts...)
}
