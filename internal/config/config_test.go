package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func env(values map[string]string) func(string) string {
	return func(k string) string { return values[k] }
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(filepath.Join(dir, FileName), dir)

	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(dir), cfg)
	assert.Equal(t, "127.0.0.1:7425", cfg.ListenAddr)
	assert.Equal(t, "sqlite", cfg.Store)
	assert.Equal(t, filepath.Join(dir, "focusforge.log"), cfg.LogFile)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: 127.0.0.1:9000
store: encrypted
log_level: debug
heartbeat_interval: 5s
`), 0600))

	cfg, err := Load(path, dir)

	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.ListenAddr)
	assert.Equal(t, "encrypted", cfg.Store)
	assert.Equal(t, zapcore.DebugLevel, cfg.Level())
	assert.Equal(t, 5*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, dir, cfg.DataDir, "unset keys keep defaults")
}

func TestLoad_RelocatedDataDirMovesLog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte("data_dir: /srv/focus\n"), 0600))

	cfg, err := Load(path, dir)

	require.NoError(t, err)
	assert.Equal(t, "/srv/focus/focusforge.log", cfg.LogFile)
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte("listen_addr: [oops"), 0600))

	cfg, err := Load(path, dir)

	assert.Error(t, err)
	assert.Equal(t, DefaultConfig(dir), cfg)
}

func TestSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", FileName)
	cfg := DefaultConfig(dir)
	cfg.Store = "file"

	require.NoError(t, Save(path, cfg))
	got, err := Load(path, dir)

	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestResolve_Precedence(t *testing.T) {
	fileDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(fileDir, FileName),
		[]byte("listen_addr: 127.0.0.1:1111\nstore: file\n"), 0600))

	tests := []struct {
		name     string
		env      map[string]string
		o        Overrides
		wantAddr string
	}{
		{
			name:     "file",
			o:        Overrides{DataDir: fileDir},
			wantAddr: "127.0.0.1:1111",
		},
		{
			name:     "env beats file",
			env:      map[string]string{EnvListenAddr: "127.0.0.1:2222"},
			o:        Overrides{DataDir: fileDir},
			wantAddr: "127.0.0.1:2222",
		},
		{
			name:     "flag beats env",
			env:      map[string]string{EnvListenAddr: "127.0.0.1:2222"},
			o:        Overrides{DataDir: fileDir, ListenAddr: "127.0.0.1:3333"},
			wantAddr: "127.0.0.1:3333",
		},
		{
			name:     "data dir from env",
			env:      map[string]string{EnvDataDir: fileDir},
			wantAddr: "127.0.0.1:1111",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Resolve(tt.o, env(tt.env))
			require.NoError(t, err)
			assert.Equal(t, tt.wantAddr, cfg.ListenAddr)
			assert.Equal(t, fileDir, cfg.DataDir)
			assert.Equal(t, "file", cfg.Store)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "empty listen addr", mutate: func(c *Config) { c.ListenAddr = "" }},
		{name: "empty data dir", mutate: func(c *Config) { c.DataDir = "" }},
		{name: "unknown store", mutate: func(c *Config) { c.Store = "redis" }},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "loud" }},
		{name: "zero heartbeat", mutate: func(c *Config) { c.HeartbeatInterval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig(t.TempDir())
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestResolve_FlagStoreValidated(t *testing.T) {
	_, err := Resolve(Overrides{DataDir: t.TempDir(), Store: "mongo"}, env(nil))
	assert.Error(t, err)
}
