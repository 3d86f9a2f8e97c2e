// Package config reads the server settings from the environment and an
// optional linkblocks.yaml. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	BackendSQLite    = "sqlite"
	BackendFirestore = "firestore"
	BlobLocal        = "local"
	BlobGCS          = "gcs"
)

type Config struct {
	Port     int
	LogLevel slog.Level

	StoreBackend     string
	DBPath           string
	FirestoreProject string

	BlobBackend string
	BlobDir     string
	BlobBaseURL string
	GCSBucket   string

	JWTSecret          string
	SessionTTL         time.Duration
	SecureCookies      bool
	GitHubClientID     string
	GitHubClientSecret string
	GitHubCallbackURL  string

	CORSOrigins []string

	CommentRatePerMinute int
	CommentRateBurst     int

	JanitorInterval time.Duration
	JanitorGrace    time.Duration

	LinkPlaceholderImage string
	ThemeSampleImage     string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("store_backend", BackendSQLite)
	v.SetDefault("db_path", "data/linkblocks.db")
	v.SetDefault("blob_backend", BlobLocal)
	v.SetDefault("blob_dir", "data/files")
	v.SetDefault("blob_base_url", "/files")
	v.SetDefault("session_ttl", "12h")
	v.SetDefault("secure_cookies", false)
	v.SetDefault("cors_origin", "http://localhost:3000")
	v.SetDefault("comment_rate_per_minute", 10)
	v.SetDefault("comment_rate_burst", 3)
	v.SetDefault("janitor_interval", "5m")
	v.SetDefault("janitor_grace", "15m")
	v.SetDefault("link_placeholder_image", "/files/static/link-placeholder.png")
	v.SetDefault("theme_sample_image", "/files/static/sample-background.jpg")
}

// Load reads configFile if set, otherwise ./linkblocks.yaml when present,
// and overlays the environment.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("linkblocks")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: reading config file: %w", err)
		}
	}

	cfg := &Config{
		Port:                 v.GetInt("port"),
		StoreBackend:         strings.ToLower(v.GetString("store_backend")),
		DBPath:               v.GetString("db_path"),
		FirestoreProject:     v.GetString("firestore_project"),
		BlobBackend:          strings.ToLower(v.GetString("blob_backend")),
		BlobDir:              v.GetString("blob_dir"),
		BlobBaseURL:          strings.TrimSuffix(v.GetString("blob_base_url"), "/"),
		GCSBucket:            v.GetString("gcs_bucket"),
		JWTSecret:            v.GetString("jwt_secret"),
		SessionTTL:           v.GetDuration("session_ttl"),
		SecureCookies:        v.GetBool("secure_cookies"),
		GitHubClientID:       v.GetString("github_client_id"),
		GitHubClientSecret:   v.GetString("github_client_secret"),
		GitHubCallbackURL:    v.GetString("github_callback_url"),
		CORSOrigins:          splitList(v.GetString("cors_origin")),
		CommentRatePerMinute: v.GetInt("comment_rate_per_minute"),
		CommentRateBurst:     v.GetInt("comment_rate_burst"),
		JanitorInterval:      v.GetDuration("janitor_interval"),
		JanitorGrace:         v.GetDuration("janitor_grace"),
		LinkPlaceholderImage: v.GetString("link_placeholder_image"),
		ThemeSampleImage:     v.GetString("theme_sample_image"),
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(v.GetString("log_level"))); err != nil {
		return nil, fmt.Errorf("config: LOG_LEVEL: %w", err)
	}
	if cfg.GitHubCallbackURL == "" {
		cfg.GitHubCallbackURL = fmt.Sprintf("http://localhost:%d/auth/github/callback", cfg.Port)
	}

	return cfg, nil
}

// Validate reports the first setting that would stop the server from
// starting.
func (c *Config) Validate() error {
	if err := c.ValidateStorage(); err != nil {
		return err
	}
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("config: PORT %d out of range", c.Port)
	case len(c.JWTSecret) < 16:
		return errors.New("config: JWT_SECRET must be at least 16 characters")
	case c.SessionTTL <= 0:
		return errors.New("config: SESSION_TTL must be positive")
	case c.CommentRatePerMinute <= 0 || c.CommentRateBurst <= 0:
		return errors.New("config: comment rate limits must be positive")
	case c.JanitorInterval <= 0:
		return errors.New("config: JANITOR_INTERVAL must be positive")
	}
	return nil
}

// ValidateStorage checks only the store and blob settings. blocksctl uses
// it since it never serves HTTP or signs tokens.
func (c *Config) ValidateStorage() error {
	switch {
	case c.StoreBackend != BackendSQLite && c.StoreBackend != BackendFirestore:
		return fmt.Errorf("config: STORE_BACKEND must be %q or %q, got %q", BackendSQLite, BackendFirestore, c.StoreBackend)
	case c.StoreBackend == BackendSQLite && c.DBPath == "":
		return errors.New("config: DB_PATH is required for the sqlite backend")
	case c.StoreBackend == BackendFirestore && c.FirestoreProject == "":
		return errors.New("config: FIRESTORE_PROJECT is required for the firestore backend")
	case c.BlobBackend != BlobLocal && c.BlobBackend != BlobGCS:
		return fmt.Errorf("config: BLOB_BACKEND must be %q or %q, got %q", BlobLocal, BlobGCS, c.BlobBackend)
	case c.BlobBackend == BlobLocal && c.BlobDir == "":
		return errors.New("config: BLOB_DIR is required for the local blob backend")
	case c.BlobBackend == BlobGCS && c.GCSBucket == "":
		return errors.New("config: GCS_BUCKET is required for the gcs blob backend")
	}
	return nil
}

// AuthEnabled reports whether GitHub login can be offered.
func (c *Config) AuthEnabled() bool {
	return c.GitHubClientID != "" && c.GitHubClientSecret != ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
