// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers db_cfg shapes, env var expansion, and environment settings

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultConfigFile)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoadDB_FileShape(t *testing.T) {
	path := writeConfig(t, `{"db_cfg": {"file": "/var/lib/moneypilot/test.db"}}`)

	cfg, err := LoadDB(path)
	if err != nil {
		t.Fatalf("LoadDB() error = %v", err)
	}

	if cfg.Kind() != KindFile {
		t.Errorf("Kind() = %q, want %q", cfg.Kind(), KindFile)
	}
	if cfg.File.FilePath != "/var/lib/moneypilot/test.db" {
		t.Errorf("File.FilePath = %q, want %q", cfg.File.FilePath, "/var/lib/moneypilot/test.db")
	}
	if cfg.Network != nil {
		t.Error("Network should be nil for the file shape")
	}
}

func TestLoadDB_RelativeFileResolvedAgainstWorkingDir(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	cfg, err := ParseDB([]byte(`{"db_cfg": {"file": "test.db"}}`))
	require.NoError(t, err)

	wd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(wd, "test.db"), cfg.File.FilePath)
}

func TestLoadDB_MemoryPathKept(t *testing.T) {
	cfg, err := ParseDB([]byte(`{"db_cfg": {"file": ":memory:"}}`))
	require.NoError(t, err)
	assert.Equal(t, MemoryPath, cfg.File.FilePath)
}

func TestLoadDB_NetworkShape(t *testing.T) {
	path := writeConfig(t, `{
	"db_cfg": {
		"host": "db.local",
		"db": "moneypilot",
		"user": "mp",
		"password": "secret"
	}
}`)

	cfg, err := LoadDB(path)
	require.NoError(t, err)

	assert.Equal(t, KindNetwork, cfg.Kind())
	require.NotNil(t, cfg.Network)
	assert.Equal(t, "db.local", cfg.Network.Host)
	assert.Equal(t, "moneypilot", cfg.Network.Database)
	assert.Equal(t, "mp", cfg.Network.User)
	assert.Equal(t, "secret", cfg.Network.Password)
	assert.Equal(t, "db.local:3306", cfg.Network.Addr())
	assert.NotContains(t, cfg.Network.String(), "secret")
}

func TestLoadDB_NetworkHostWithPort(t *testing.T) {
	cfg, err := ParseDB([]byte(`{"db_cfg": {"host": "10.0.0.5:3307", "db": "mp", "user": "u", "password": ""}}`))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5:3307", cfg.Network.Addr())
	assert.Empty(t, cfg.Network.Password)
}

func TestLoadDB_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_MP_DB_PASSWORD", "from-env")

	path := writeConfig(t, `{"db_cfg": {"host": "db", "db": "mp", "user": "u", "password": "${TEST_MP_DB_PASSWORD}"}}`)

	cfg, err := LoadDB(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Network.Password)
}

func TestLoadDB_EnvVarValuesAreNotParsedAsJSON(t *testing.T) {
	tests := []struct {
		name     string
		password string
	}{
		{"quote", `pa"ss`},
		{"backslash", `pa\ss\w`},
		{"quote and backslash", `pa"ss\w`},
		{"injected keys", `x","file":"/tmp/evil`},
	}

	path := writeConfig(t, `{"db_cfg": {"host": "db", "db": "mp", "user": "u", "password": "${TEST_MP_DB_PASSWORD}"}}`)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_MP_DB_PASSWORD", tt.password)

			cfg, err := LoadDB(path)
			require.NoError(t, err)
			require.Equal(t, KindNetwork, cfg.Kind())
			assert.Equal(t, tt.password, cfg.Network.Password)
		})
	}
}

func TestLoadDB_EnvVarInFilePath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TEST_MP_DATA_DIR", dir)

	cfg, err := ParseDB([]byte(`{"db_cfg": {"file": "${TEST_MP_DATA_DIR}/ledger.db"}}`))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "ledger.db"), cfg.File.FilePath)
}

func TestLoadDB_IgnoresOtherTopLevelKeys(t *testing.T) {
	cfg, err := ParseDB([]byte(`{"app": {"user_mode": "single"}, "db_cfg": {"file": ":memory:"}}`))
	require.NoError(t, err)
	assert.Equal(t, KindFile, cfg.Kind())
}

func TestLoadDB_InvalidShapes(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing db_cfg", `{}`},
		{"null db_cfg", `{"db_cfg": null}`},
		{"db_cfg not an object", `{"db_cfg": "test.db"}`},
		{"empty object", `{"db_cfg": {}}`},
		{"both shapes", `{"db_cfg": {"file": "x.db", "host": "h", "db": "d", "user": "u", "password": "p"}}`},
		{"file plus one network key", `{"db_cfg": {"file": "x.db", "host": "h"}}`},
		{"unknown keys only", `{"db_cfg": {"path": "x.db"}}`},
		{"unknown key beside file", `{"db_cfg": {"file": "x.db", "mode": "rw"}}`},
		{"network missing password", `{"db_cfg": {"host": "h", "db": "d", "user": "u"}}`},
		{"network empty host", `{"db_cfg": {"host": "", "db": "d", "user": "u", "password": "p"}}`},
		{"file not a string", `{"db_cfg": {"file": 42}}`},
		{"file empty", `{"db_cfg": {"file": "  "}}`},
		{"password null", `{"db_cfg": {"host": "h", "db": "d", "user": "u", "password": null}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDB([]byte(tt.content))
			if !errors.Is(err, ErrInvalidShape) {
				t.Errorf("ParseDB() error = %v, want ErrInvalidShape", err)
			}
		})
	}
}

func TestLoadDB_FileNotFound(t *testing.T) {
	_, err := LoadDB(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, ErrUnreadable)
}

func TestLoadDB_InvalidJSON(t *testing.T) {
	path := writeConfig(t, `{"db_cfg": {"file": `)
	_, err := LoadDB(path)
	assert.ErrorIs(t, err, ErrUnreadable)
}

func TestDBConfig_Validate(t *testing.T) {
	assert.ErrorIs(t, DBConfig{}.Validate(), ErrInvalidShape)
	assert.ErrorIs(t, DBConfig{
		File:    &FileBackendConfig{FilePath: "a"},
		Network: &NetworkBackendConfig{Host: "h"},
	}.Validate(), ErrInvalidShape)
	assert.NoError(t, DBConfig{File: &FileBackendConfig{FilePath: "a"}}.Validate())
}

func TestLoadSettings_Defaults(t *testing.T) {
	s, err := LoadSettings()
	require.NoError(t, err)

	assert.Equal(t, DefaultConfigFile, s.ConfigPath)
	assert.Equal(t, DefaultPort, s.Server.Port)
	assert.Equal(t, ":8765", s.Server.Addr())
	assert.Equal(t, 10*time.Second, s.RequestTimeout)
	assert.Equal(t, 5*time.Minute, s.ReplayWindow)
	assert.Equal(t, "info", s.Logging.Level)
	assert.Equal(t, "text", s.Logging.Format)
	assert.False(t, s.Metrics.Enabled)
}

func TestLoadSettings_FromEnvironment(t *testing.T) {
	t.Setenv("WEBSOCKET_PORT", "9000")
	t.Setenv("MONEYPILOT_LISTEN_HOST", "127.0.0.1")
	t.Setenv("MONEYPILOT_LOG_LEVEL", "debug")
	t.Setenv("MONEYPILOT_LOG_FORMAT", "json")
	t.Setenv("MONEYPILOT_REQUEST_TIMEOUT", "2s")
	t.Setenv("MONEYPILOT_METRICS", "true")
	t.Setenv("MONEYPILOT_REPLAY_WINDOW", "30s")
	t.Setenv("MONEYPILOT_CONFIG", "/etc/moneypilot/configuration.json")

	s, err := LoadSettings()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", s.Server.Addr())
	assert.Equal(t, "debug", s.Logging.Level)
	assert.Equal(t, "json", s.Logging.Format)
	assert.Equal(t, 2*time.Second, s.RequestTimeout)
	assert.True(t, s.Metrics.Enabled)
	assert.Equal(t, 30*time.Second, s.ReplayWindow)
	assert.Equal(t, "/etc/moneypilot/configuration.json", s.ConfigPath)
}

func TestSettingsValidate(t *testing.T) {
	valid := func() Settings {
		return Settings{
			ConfigPath:     DefaultConfigFile,
			RequestTimeout: time.Second,
			Server:         ServerConfig{Port: DefaultPort},
			Logging:        LoggingConfig{Level: "info", Format: "text"},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"port zero", func(s *Settings) { s.Server.Port = 0 }},
		{"port too large", func(s *Settings) { s.Server.Port = 70000 }},
		{"zero timeout", func(s *Settings) { s.RequestTimeout = 0 }},
		{"negative replay window", func(s *Settings) { s.ReplayWindow = -time.Second }},
		{"bad level", func(s *Settings) { s.Logging.Level = "trace" }},
		{"bad format", func(s *Settings) { s.Logging.Format = "xml" }},
		{"empty config path", func(s *Settings) { s.ConfigPath = "" }},
	}

	require.NoError(t, valid().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(&s)
			assert.ErrorIs(t, s.Validate(), ErrInvalidSettings)
		})
	}
}

func TestLoad_RejectsInvalidShapeBeforeAnythingElse(t *testing.T) {
	path := writeConfig(t, `{"db_cfg": {}}`)

	s := Settings{
		ConfigPath:     path,
		RequestTimeout: time.Second,
		Server:         ServerConfig{Port: DefaultPort},
		Logging:        LoggingConfig{Level: "info", Format: "text"},
	}
	cfg, err := Load(s)
	assert.Nil(t, cfg)
	assert.ErrorIs(t, err, ErrInvalidShape)
}
