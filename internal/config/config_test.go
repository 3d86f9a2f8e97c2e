package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, BackendSQLite, cfg.StoreBackend)
	assert.Equal(t, BlobLocal, cfg.BlobBackend)
	assert.Equal(t, 12*time.Hour, cfg.SessionTTL)
	assert.Equal(t, "http://localhost:8080/auth/github/callback", cfg.GitHubCallbackURL)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORSOrigins)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("STORE_BACKEND", "Firestore")
	t.Setenv("FIRESTORE_PROJECT", "demo")
	t.Setenv("CORS_ORIGIN", "https://a.test, https://b.test")
	t.Setenv("JANITOR_GRACE", "1h")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, BackendFirestore, cfg.StoreBackend)
	assert.Equal(t, "demo", cfg.FirestoreProject)
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, cfg.CORSOrigins)
	assert.Equal(t, time.Hour, cfg.JanitorGrace)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("blob_backend: gcs\ngcs_bucket: pages\ncomment_rate_burst: 9\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BlobGCS, cfg.BlobBackend)
	assert.Equal(t, "pages", cfg.GCSBucket)
	assert.Equal(t, 9, cfg.CommentRateBurst)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Port:                 8080,
			StoreBackend:         BackendSQLite,
			DBPath:               ":memory:",
			BlobBackend:          BlobLocal,
			BlobDir:              "files",
			JWTSecret:            strings.Repeat("s", 32),
			SessionTTL:           time.Hour,
			CommentRatePerMinute: 10,
			CommentRateBurst:     3,
			JanitorInterval:      time.Minute,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "unknown store", mutate: func(c *Config) { c.StoreBackend = "mongo" }, wantErr: "STORE_BACKEND"},
		{name: "firestore without project", mutate: func(c *Config) { c.StoreBackend = BackendFirestore }, wantErr: "FIRESTORE_PROJECT"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.BlobBackend = BlobGCS }, wantErr: "GCS_BUCKET"},
		{name: "unknown blob", mutate: func(c *Config) { c.BlobBackend = "s3" }, wantErr: "BLOB_BACKEND"},
		{name: "short secret", mutate: func(c *Config) { c.JWTSecret = "short" }, wantErr: "JWT_SECRET"},
		{name: "bad port", mutate: func(c *Config) { c.Port = 0 }, wantErr: "PORT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateStorage_IgnoresServerSettings(t *testing.T) {
	cfg := &Config{
		StoreBackend: BackendSQLite,
		DBPath:       "data/linkblocks.db",
		BlobBackend:  BlobLocal,
		BlobDir:      "data/files",
	}
	assert.NoError(t, cfg.ValidateStorage())
	assert.Error(t, cfg.Validate(), "the server still needs a port and a secret")
}
