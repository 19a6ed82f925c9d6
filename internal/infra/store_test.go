package infra

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/eliteGoblin/focusd/focusforge/internal/domain"
)

// storeFactory opens a backend in dir. Reopening the same dir sees the same data.
type storeFactory func(t *testing.T, dir string) domain.StateStore

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		StoreFile: func(t *testing.T, dir string) domain.StateStore {
			s, err := NewFileStore(dir)
			require.NoError(t, err)
			return s
		},
		StoreSQLite: func(t *testing.T, dir string) domain.StateStore {
			s, err := NewSQLiteStore(dir)
			require.NoError(t, err)
			return s
		},
		StoreEncrypted: func(t *testing.T, dir string) domain.StateStore {
			key, _, err := LoadOrCreateKey(NewKeyFile(dir))
			require.NoError(t, err)
			s, err := NewEncryptedStore(dir, key)
			require.NoError(t, err)
			return s
		},
	}
}

func TestStateStore_Backends(t *testing.T) {
	ctx := context.Background()

	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			t.Run("missing key", func(t *testing.T) {
				s := open(t, t.TempDir())
				defer s.Close()

				var record domain.TimerRecord
				found, err := s.Get(ctx, domain.KeyTimerData, &record)
				require.NoError(t, err)
				assert.False(t, found)
			})

			t.Run("multi-key set round trips", func(t *testing.T) {
				s := open(t, t.TempDir())
				defer s.Close()

				record := domain.TimerRecord{State: domain.StateBreaking, EndTime: 1_700_000_300_000}
				require.NoError(t, s.Set(ctx, map[string]any{
					domain.KeyTimerData:  record,
					domain.KeyCycleCount: 2,
					domain.KeySettings:   domain.DefaultSettings(),
				}))

				var gotRecord domain.TimerRecord
				found, err := s.Get(ctx, domain.KeyTimerData, &gotRecord)
				require.NoError(t, err)
				require.True(t, found)
				assert.Equal(t, record, gotRecord)

				var count int
				_, err = s.Get(ctx, domain.KeyCycleCount, &count)
				require.NoError(t, err)
				assert.Equal(t, 2, count)

				var settings domain.Settings
				_, err = s.Get(ctx, domain.KeySettings, &settings)
				require.NoError(t, err)
				assert.Equal(t, domain.DefaultSettings(), settings)
			})

			t.Run("set overwrites and keeps other keys", func(t *testing.T) {
				s := open(t, t.TempDir())
				defer s.Close()

				require.NoError(t, s.Set(ctx, map[string]any{domain.KeyCycleCount: 1, domain.KeyTimerData: domain.IdleRecord()}))
				require.NoError(t, s.Set(ctx, map[string]any{domain.KeyCycleCount: 0}))

				var count int
				_, err := s.Get(ctx, domain.KeyCycleCount, &count)
				require.NoError(t, err)
				assert.Equal(t, 0, count)

				var record domain.TimerRecord
				found, err := s.Get(ctx, domain.KeyTimerData, &record)
				require.NoError(t, err)
				assert.True(t, found)
			})

			t.Run("survives reopen", func(t *testing.T) {
				dir := t.TempDir()
				s := open(t, dir)
				record := domain.TimerRecord{State: domain.StateFocusing, EndTime: 42}
				require.NoError(t, s.Set(ctx, map[string]any{domain.KeyTimerData: record}))
				require.NoError(t, s.Close())

				reopened := open(t, dir)
				defer reopened.Close()
				var got domain.TimerRecord
				found, err := reopened.Get(ctx, domain.KeyTimerData, &got)
				require.NoError(t, err)
				require.True(t, found)
				assert.Equal(t, record, got)
			})
		})
	}
}

func TestFileStore_ConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), stateFileName)
	a := NewFileStoreWithPath(path)
	b := NewFileStoreWithPath(path)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			assert.NoError(t, a.Set(ctx, map[string]any{"a": n}))
		}(i)
		go func(n int) {
			defer wg.Done()
			assert.NoError(t, b.Set(ctx, map[string]any{"b": n}))
		}(i)
	}
	wg.Wait()

	var va, vb int
	foundA, err := a.Get(ctx, "a", &va)
	require.NoError(t, err)
	foundB, err := a.Get(ctx, "b", &vb)
	require.NoError(t, err)
	assert.True(t, foundA)
	assert.True(t, foundB, "no writer lost the other's key")
}

func TestFileStore_CorruptFileRecovers(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, stateFileName)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	core, logs := observer.New(zap.WarnLevel)
	s, err := NewFileStoreWithLogger(dir, zap.New(core))
	require.NoError(t, err)

	var record domain.TimerRecord
	found, err := s.Get(ctx, domain.KeyTimerData, &record)
	require.NoError(t, err)
	assert.False(t, found, "corrupt document reads as empty")

	require.NoError(t, s.Set(ctx, map[string]any{domain.KeyTimerData: domain.IdleRecord()}))

	found, err = s.Get(ctx, domain.KeyTimerData, &record)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, domain.IdleRecord(), record)
	assert.Equal(t, 2, logs.FilterMessageSnippet("corrupt").Len(), "logged by the Get and the Set")

	reopened := NewFileStoreWithPath(path)
	found, err = reopened.Get(ctx, domain.KeyTimerData, &record)
	require.NoError(t, err)
	assert.True(t, found, "the rewrite is valid JSON")
}

func TestFileStore_UndecodableValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), stateFileName)
	require.NoError(t, os.WriteFile(path, []byte(`{"timerData": "not a record"}`), 0600))

	var record domain.TimerRecord
	_, err := NewFileStoreWithPath(path).Get(context.Background(), domain.KeyTimerData, &record)
	assert.Error(t, err)
}

func TestEncryptedStore_WrongKey(t *testing.T) {
	dir := t.TempDir()
	key, err := NewStoreKey()
	require.NoError(t, err)

	s, err := NewEncryptedStore(dir, key)
	require.NoError(t, err)
	require.NoError(t, s.Set(context.Background(), map[string]any{domain.KeyCycleCount: 1}))
	require.NoError(t, s.Close())

	other, err := NewStoreKey()
	require.NoError(t, err)
	_, err = NewEncryptedStore(dir, other)
	assert.Error(t, err, "wrong key cannot open the database")
}

func TestEncryptedStore_ShortKey(t *testing.T) {
	_, err := NewEncryptedStore(t.TempDir(), []byte("passphrase"))
	assert.ErrorIs(t, err, ErrInvalidStoreKey)
}

func TestOpenStore_EncryptedReusesKey(t *testing.T) {
	dir := t.TempDir()
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)

	s, err := OpenStore(StoreEncrypted, dir, logger)
	require.NoError(t, err)
	require.NoError(t, s.Set(context.Background(), map[string]any{domain.KeyCycleCount: 2}))
	require.NoError(t, s.Close())

	s, err = OpenStore(StoreEncrypted, dir, logger)
	require.NoError(t, err)
	defer s.Close()

	var n int
	found, err := s.Get(context.Background(), domain.KeyCycleCount, &n)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, logs.FilterMessage("generated store key").Len())
}

func TestOpenStore(t *testing.T) {
	for _, backend := range []string{StoreFile, StoreSQLite, StoreEncrypted} {
		t.Run(backend, func(t *testing.T) {
			s, err := OpenStore(backend, t.TempDir(), zap.NewNop())
			require.NoError(t, err)
			assert.NoError(t, s.Close())
		})
	}

	_, err := OpenStore("redis", t.TempDir(), zap.NewNop())
	assert.Error(t, err)
	assert.False(t, IsStoreBackend("redis"))
}
