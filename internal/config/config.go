package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Application identity inside the remote store
	App AppConfig `mapstructure:"app" json:"app"`

	// Operator identity (authentication itself is delegated)
	Auth AuthConfig `mapstructure:"auth" json:"auth"`

	// Remote realtime store
	Store StoreConfig `mapstructure:"store" json:"store"`

	// Generative completion backend
	Completion CompletionConfig `mapstructure:"completion" json:"completion"`

	// Attachment uploads
	Blob BlobConfig `mapstructure:"blob" json:"blob"`

	// AI assistant policy
	Assistant AssistantConfig `mapstructure:"assistant" json:"assistant"`

	// Live collection sync behavior
	Sync SyncConfig `mapstructure:"sync" json:"sync"`

	// Logging
	Log LogConfig `mapstructure:"log" json:"log"`

	// Local store emulator
	Dev DevConfig `mapstructure:"dev" json:"dev,omitempty"`
}

// AppConfig identifies the application tree in the store.
type AppConfig struct {
	ID         string `mapstructure:"id" json:"id"`
	AdminEmail string `mapstructure:"admin_email" json:"admin_email"`
}

// AuthConfig carries the already-authenticated operator.
type AuthConfig struct {
	UID   string `mapstructure:"uid" json:"uid,omitempty"`
	Email string `mapstructure:"email" json:"email,omitempty"`
	Token string `mapstructure:"token" json:"token,omitempty"`

	// Combined credentials document: local path or s3://bucket/key
	CredentialsFile string `mapstructure:"credentials_file" json:"credentials_file,omitempty"`

	// Where `login` keeps the signed-in identity
	TokenFile string `mapstructure:"token_file" json:"token_file"`
}

// StoreConfig for the realtime store connection.
type StoreConfig struct {
	URL               string        `mapstructure:"url" json:"url"`
	Timeout           time.Duration `mapstructure:"timeout" json:"timeout"`
	MaxRetries        int           `mapstructure:"max_retries" json:"max_retries"`
	UserAgent         string        `mapstructure:"user_agent" json:"user_agent"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" json:"heartbeat_interval"`
	PongTimeout       time.Duration `mapstructure:"pong_timeout" json:"pong_timeout"`
}

// CompletionConfig for the generative-language backend.
type CompletionConfig struct {
	BaseURL string        `mapstructure:"base_url" json:"base_url"`
	APIKey  string        `mapstructure:"api_key" json:"api_key,omitempty"`
	Models  []string      `mapstructure:"models" json:"models"`
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
}

// BlobConfig for attachment uploads.
type BlobConfig struct {
	Provider     string `mapstructure:"provider" json:"provider"` // cloudinary, s3
	BaseURL      string `mapstructure:"base_url" json:"base_url"`
	CloudName    string `mapstructure:"cloud_name" json:"cloud_name"`
	UploadPreset string `mapstructure:"upload_preset" json:"upload_preset"`
	Folder       string `mapstructure:"folder" json:"folder"`
	S3Bucket     string `mapstructure:"s3_bucket" json:"s3_bucket,omitempty"`
	S3Region     string `mapstructure:"s3_region" json:"s3_region,omitempty"`
	S3Prefix     string `mapstructure:"s3_prefix" json:"s3_prefix,omitempty"`
}

// AssistantConfig for AI-assisted features.
type AssistantConfig struct {
	AutoReply    string `mapstructure:"auto_reply" json:"auto_reply"` // direct, review, off
	HistoryLimit int    `mapstructure:"history_limit" json:"history_limit"`
	ChatLimit    int    `mapstructure:"chat_limit" json:"chat_limit"`
}

// SyncConfig for the live collection engine.
type SyncConfig struct {
	EventBuffer int `mapstructure:"event_buffer" json:"event_buffer"`
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level" json:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" json:"format"` // text, json
	File   string `mapstructure:"file" json:"file"`     // Log file path (empty = stderr)
	Color  bool   `mapstructure:"color" json:"color"`
}

// DevConfig for the local store emulator.
type DevConfig struct {
	Addr      string `mapstructure:"addr" json:"addr"`
	DBPath    string `mapstructure:"db_path" json:"db_path"`
	UploadDir string `mapstructure:"upload_dir" json:"upload_dir"`
	Seed      string `mapstructure:"seed" json:"seed,omitempty"`
}

// Auto-reply policies.
const (
	AutoReplyDirect = "direct"
	AutoReplyReview = "review"
	AutoReplyOff    = "off"
)

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	dataDir := ".clinicdesk"

	return &Config{
		App: AppConfig{
			ID:         "dentista-inteligente-app",
			AdminEmail: "admin@ts.com",
		},
		Auth: AuthConfig{
			TokenFile: filepath.Join(dataDir, "auth", "token.json"),
		},
		Store: StoreConfig{
			URL:               "http://localhost:8089",
			Timeout:           30 * time.Second,
			MaxRetries:        3,
			UserAgent:         "clinicdesk/1.0",
			HeartbeatInterval: 30 * time.Second,
			PongTimeout:       10 * time.Second,
		},
		Completion: CompletionConfig{
			BaseURL: "https://generativelanguage.googleapis.com",
			Models:  []string{"gemini-1.5-flash", "gemini-1.5-pro", "gemini-pro"},
			Timeout: 60 * time.Second,
		},
		Blob: BlobConfig{
			Provider: "cloudinary",
			BaseURL:  "https://api.cloudinary.com",
			Folder:   "dentista_ia_uploads",
		},
		Assistant: AssistantConfig{
			AutoReply:    AutoReplyReview,
			HistoryLimit: 5,
			ChatLimit:    50,
		},
		Sync: SyncConfig{
			EventBuffer: 100,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Color:  true,
		},
		Dev: DevConfig{
			Addr:      ":8089",
			DBPath:    filepath.Join(dataDir, "store.db"),
			UploadDir: filepath.Join(dataDir, "uploads"),
		},
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.App.ID == "" {
		return errors.New("app.id is required")
	}

	if c.Store.URL == "" {
		return errors.New("store.url is required")
	}

	if c.Store.Timeout <= 0 {
		return errors.New("store.timeout must be positive")
	}

	if c.Store.MaxRetries < 0 {
		return errors.New("store.max_retries cannot be negative")
	}

	if len(c.Completion.Models) == 0 {
		return errors.New("completion.models must list at least one model")
	}

	switch c.Blob.Provider {
	case "cloudinary", "s3":
	default:
		return fmt.Errorf("invalid blob provider: %s", c.Blob.Provider)
	}

	switch c.Assistant.AutoReply {
	case AutoReplyDirect, AutoReplyReview, AutoReplyOff:
	default:
		return fmt.Errorf("invalid assistant.auto_reply: %s", c.Assistant.AutoReply)
	}

	if c.Assistant.HistoryLimit <= 0 || c.Assistant.ChatLimit <= 0 {
		return errors.New("assistant limits must be positive")
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	return nil
}

// EnsureDirectories creates directories needed by the store emulator and log file.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Dev.DBPath),
		c.Dev.UploadDir,
	}

	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(c.Log.File))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}
