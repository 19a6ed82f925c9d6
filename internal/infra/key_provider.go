package infra

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/eliteGoblin/focusd/focusforge/internal/domain"
)

// StoreKeySize is the raw SQLCipher key length in bytes.
const StoreKeySize = 32

const storeKeyFileName = "state.enc.key"

// ErrInvalidStoreKey is returned for a key of the wrong length or encoding.
var ErrInvalidStoreKey = errors.New("invalid store key")

// KeyFile keeps the encrypted store's key next to the database, hex encoded
// in a 0600 file.
type KeyFile struct {
	path string
}

// NewKeyFile returns the key file for the encrypted store in dataDir.
func NewKeyFile(dataDir string) *KeyFile {
	return &KeyFile{path: filepath.Join(dataDir, storeKeyFileName)}
}

// Path returns the key file path.
func (f *KeyFile) Path() string {
	return f.path
}

// LoadKey reads the key. A missing file is not an error.
func (f *KeyFile) LoadKey() ([]byte, bool, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read key file: %w", err)
	}
	key, err := hex.DecodeString(string(bytes.TrimSpace(data)))
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s is not hex", ErrInvalidStoreKey, f.path)
	}
	if err := checkStoreKey(key); err != nil {
		return nil, false, err
	}
	return key, true, nil
}

// SaveKey writes key, replacing any previous one.
func (f *KeyFile) SaveKey(key []byte) error {
	if err := checkStoreKey(key); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := atomicWrite(f.path, []byte(hex.EncodeToString(key)+"\n")); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}

// NewStoreKey returns a random key for the encrypted store.
func NewStoreKey() ([]byte, error) {
	key := make([]byte, StoreKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate store key: %w", err)
	}
	return key, nil
}

// LoadOrCreateKey returns the stored key, creating and saving one on first
// use. created reports whether a new key was written.
func LoadOrCreateKey(p domain.KeyProvider) (key []byte, created bool, err error) {
	key, found, err := p.LoadKey()
	if err != nil || found {
		return key, false, err
	}
	if key, err = NewStoreKey(); err != nil {
		return nil, false, err
	}
	if err := p.SaveKey(key); err != nil {
		return nil, false, err
	}
	return key, true, nil
}

func checkStoreKey(key []byte) error {
	if len(key) != StoreKeySize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidStoreKey, len(key), StoreKeySize)
	}
	return nil
}

var _ domain.KeyProvider = (*KeyFile)(nil)
