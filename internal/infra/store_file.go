package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/focusforge/internal/domain"
)

const stateFileName = "state.json"

// FileStore implements domain.StateStore as a single JSON document.
// Every Set rewrites the whole document under the file lock, so a multi-key
// write lands together or not at all. A document that no longer parses reads
// as empty and is replaced by the next Set.
type FileStore struct {
	mu     sync.Mutex
	path   string
	logger *zap.Logger
}

// NewFileStore creates a file store in dataDir.
func NewFileStore(dataDir string) (*FileStore, error) {
	return NewFileStoreWithLogger(dataDir, zap.NewNop())
}

// NewFileStoreWithLogger creates a file store in dataDir that reports
// recovered documents to logger.
func NewFileStoreWithLogger(dataDir string, logger *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	s := NewFileStoreWithPath(filepath.Join(dataDir, stateFileName))
	s.logger = logger
	return s, nil
}

// NewFileStoreWithPath creates a file store at a specific path (for testing).
func NewFileStoreWithPath(path string) *FileStore {
	return &FileStore{path: path, logger: zap.NewNop()}
}

// Path returns the state file path.
func (s *FileStore) Path() string {
	return s.path
}

// Get decodes the value stored under key into v.
func (s *FileStore) Get(ctx context.Context, key string, v any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return false, err
	}
	raw, ok := doc[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("failed to decode %q: %w", key, err)
	}
	return true, nil
}

// Set merges values into the document and writes it atomically.
func (s *FileStore) Set(ctx context.Context, values map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return withFileLock(s.path, func() error {
		doc, err := s.read()
		if err != nil {
			return err
		}
		for k, v := range values {
			raw, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("failed to encode %q: %w", k, err)
			}
			doc[k] = raw
		}
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return err
		}
		if err := atomicWrite(s.path, data); err != nil {
			return fmt.Errorf("failed to write state file: %w", err)
		}
		return nil
	})
}

// Close is a no-op; the file is only open during reads and writes.
func (s *FileStore) Close() error {
	return nil
}

// read loads the document. Only I/O failures are errors; an unparseable
// document is logged and read as empty.
func (s *FileStore) read() (map[string]json.RawMessage, error) {
	doc := make(map[string]json.RawMessage)
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn("state file is corrupt, starting from an empty document",
			zap.String("path", s.path),
			zap.Int("bytes", len(data)),
			zap.Error(err))
		return make(map[string]json.RawMessage), nil
	}
	return doc, nil
}

// Ensure FileStore implements domain.StateStore.
var _ domain.StateStore = (*FileStore)(nil)
