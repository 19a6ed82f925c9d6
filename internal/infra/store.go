package infra

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/focusforge/internal/domain"
)

// Store backends.
const (
	StoreFile      = "file"
	StoreSQLite    = "sqlite"
	StoreEncrypted = "encrypted"
)

// IsStoreBackend reports whether name is a known backend.
func IsStoreBackend(name string) bool {
	switch name {
	case StoreFile, StoreSQLite, StoreEncrypted:
		return true
	}
	return false
}

// OpenStore opens the state store backend in dataDir.
// The encrypted backend creates its key on first use.
func OpenStore(backend, dataDir string, logger *zap.Logger) (domain.StateStore, error) {
	switch backend {
	case StoreFile:
		s, err := NewFileStoreWithLogger(dataDir, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("opened state store", zap.String("backend", backend), zap.String("path", s.Path()))
		return s, nil

	case StoreSQLite:
		s, err := NewSQLiteStore(dataDir)
		if err != nil {
			return nil, err
		}
		logger.Info("opened state store", zap.String("backend", backend), zap.String("path", s.Path()))
		return s, nil

	case StoreEncrypted:
		keyFile := NewKeyFile(dataDir)
		key, created, err := LoadOrCreateKey(keyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load store key: %w", err)
		}
		if created {
			logger.Info("generated store key", zap.String("path", keyFile.Path()))
		}
		s, err := NewEncryptedStore(dataDir, key)
		if err != nil {
			return nil, err
		}
		logger.Info("opened state store", zap.String("backend", backend), zap.String("path", s.Path()))
		return s, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", backend)
}
