package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath string
	envPrefix  string
	envFile    string
}

// NewLoader creates a config loader.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		envPrefix:  "CLINICDESK",
		envFile:    ".env",
	}
}

// Load reads configuration from defaults, file and environment, in that order.
func (l *Loader) Load() (*Config, error) {
	// A missing .env is normal
	if _, err := os.Stat(l.envFile); err == nil {
		if err := godotenv.Load(l.envFile); err != nil {
			return nil, fmt.Errorf("load %s: %w", l.envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(l.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if l.configPath != "" {
		v.SetConfigFile(l.configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	} else {
		v.SetConfigName("clinicdesk")
		for _, dir := range l.defaultDirs() {
			v.AddConfigPath(dir)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("load config file %s: %w", v.ConfigFileUsed(), err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// defaultDirs returns default config file locations.
func (l *Loader) defaultDirs() []string {
	dirs := []string{"."}

	if homeDir, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs,
			filepath.Join(homeDir, ".config", "clinicdesk"),
			filepath.Join(homeDir, ".clinicdesk"),
		)
	}

	return dirs
}

// setDefaults registers every key so environment overrides resolve.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("app.id", d.App.ID)
	v.SetDefault("app.admin_email", d.App.AdminEmail)

	v.SetDefault("auth.uid", d.Auth.UID)
	v.SetDefault("auth.email", d.Auth.Email)
	v.SetDefault("auth.token", d.Auth.Token)
	v.SetDefault("auth.credentials_file", d.Auth.CredentialsFile)
	v.SetDefault("auth.token_file", d.Auth.TokenFile)

	v.SetDefault("store.url", d.Store.URL)
	v.SetDefault("store.timeout", d.Store.Timeout)
	v.SetDefault("store.max_retries", d.Store.MaxRetries)
	v.SetDefault("store.user_agent", d.Store.UserAgent)
	v.SetDefault("store.heartbeat_interval", d.Store.HeartbeatInterval)
	v.SetDefault("store.pong_timeout", d.Store.PongTimeout)

	v.SetDefault("completion.base_url", d.Completion.BaseURL)
	v.SetDefault("completion.api_key", d.Completion.APIKey)
	v.SetDefault("completion.models", d.Completion.Models)
	v.SetDefault("completion.timeout", d.Completion.Timeout)

	v.SetDefault("blob.provider", d.Blob.Provider)
	v.SetDefault("blob.base_url", d.Blob.BaseURL)
	v.SetDefault("blob.cloud_name", d.Blob.CloudName)
	v.SetDefault("blob.upload_preset", d.Blob.UploadPreset)
	v.SetDefault("blob.folder", d.Blob.Folder)
	v.SetDefault("blob.s3_bucket", d.Blob.S3Bucket)
	v.SetDefault("blob.s3_region", d.Blob.S3Region)
	v.SetDefault("blob.s3_prefix", d.Blob.S3Prefix)

	v.SetDefault("assistant.auto_reply", d.Assistant.AutoReply)
	v.SetDefault("assistant.history_limit", d.Assistant.HistoryLimit)
	v.SetDefault("assistant.chat_limit", d.Assistant.ChatLimit)

	v.SetDefault("sync.event_buffer", d.Sync.EventBuffer)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.color", d.Log.Color)

	v.SetDefault("dev.addr", d.Dev.Addr)
	v.SetDefault("dev.db_path", d.Dev.DBPath)
	v.SetDefault("dev.upload_dir", d.Dev.UploadDir)
	v.SetDefault("dev.seed", d.Dev.Seed)
}

// SaveExample writes an example YAML config file.
func SaveExample(path string) error {
	example := `# clinicdesk configuration
# Environment variables override these settings using the CLINICDESK_ prefix,
# for example CLINICDESK_LOG_LEVEL=debug or CLINICDESK_COMPLETION_API_KEY=...

app:
  id: dentista-inteligente-app
  admin_email: admin@ts.com

auth:
  uid: ""
  email: ""
  token: ""

store:
  url: http://localhost:8089
  timeout: 30s
  max_retries: 3

completion:
  api_key: ""
  models: [gemini-1.5-flash, gemini-1.5-pro, gemini-pro]

blob:
  provider: cloudinary
  cloud_name: ""
  upload_preset: ""
  folder: dentista_ia_uploads

assistant:
  auto_reply: review
  history_limit: 5
  chat_limit: 50

log:
  level: info
  format: text
`
	if err := os.WriteFile(path, []byte(example), 0600); err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	return nil
}
