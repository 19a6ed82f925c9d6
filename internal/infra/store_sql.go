package infra

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mutecomm/go-sqlcipher/v4" // registers the "sqlite3" (SQLCipher) driver
	_ "modernc.org/sqlite"

	"github.com/eliteGoblin/focusd/focusforge/internal/domain"
)

const (
	sqliteDBName    = "state.db"
	encryptedDBName = "state.enc.db"
)

// SQLStore implements domain.StateStore on a SQLite `kv` table.
// Two drivers back it: modernc.org/sqlite (plain) and SQLCipher (encrypted).
type SQLStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore opens (or creates) a plain SQLite store in dataDir.
func NewSQLiteStore(dataDir string) (*SQLStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, sqliteDBName)
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	return newSQLStore(db, dbPath)
}

// NewEncryptedStore opens (or creates) a SQLCipher store in dataDir.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func NewEncryptedStore(dataDir string, key []byte) (*SQLStore, error) {
	if err := checkStoreKey(key); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, encryptedDBName)
	keyHex := hex.EncodeToString(key)

	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, keyHex)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}
	db.SetMaxOpenConns(1)

	return newSQLStore(db, dbPath)
}

func newSQLStore(db *sql.DB, dbPath string) (*SQLStore, error) {
	// Verify the connection (and the key, for SQLCipher)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLStore{db: db, dbPath: dbPath}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Path returns the database file path.
func (s *SQLStore) Path() string {
	return s.dbPath
}

// Get decodes the value stored under key into v.
func (s *SQLStore) Get(ctx context.Context, key string, v any) (bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %q: %w", key, err)
	}
	if err := json.Unmarshal([]byte(value), v); err != nil {
		return false, fmt.Errorf("failed to decode %q: %w", key, err)
	}
	return true, nil
}

// Set writes all values in one transaction.
func (s *SQLStore) Set(ctx context.Context, values map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for k, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode %q: %w", k, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO kv (key, value, updated_at) VALUES (?, ?, ?)`,
			k, string(raw), now)
		if err != nil {
			return fmt.Errorf("failed to write %q: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ensure SQLStore implements domain.StateStore.
var _ domain.StateStore = (*SQLStore)(nil)
