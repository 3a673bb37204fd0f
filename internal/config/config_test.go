package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/clinicdesk/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	assert.Equal(t, "dentista-inteligente-app", cfg.App.ID)
	assert.Equal(t, "admin@ts.com", cfg.App.AdminEmail)
	assert.Equal(t, []string{"gemini-1.5-flash", "gemini-1.5-pro", "gemini-pro"}, cfg.Completion.Models)
	assert.Equal(t, "dentista_ia_uploads", cfg.Blob.Folder)
	assert.Equal(t, config.AutoReplyReview, cfg.Assistant.AutoReply)
	assert.Equal(t, 5, cfg.Assistant.HistoryLimit)
	assert.Equal(t, 50, cfg.Assistant.ChatLimit)
	assert.Positive(t, cfg.Store.Timeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr string
	}{
		{
			name:    "valid config",
			modify:  func(c *config.Config) {},
			wantErr: "",
		},
		{
			name: "missing store URL",
			modify: func(c *config.Config) {
				c.Store.URL = ""
			},
			wantErr: "store.url is required",
		},
		{
			name: "no models",
			modify: func(c *config.Config) {
				c.Completion.Models = nil
			},
			wantErr: "completion.models",
		},
		{
			name: "unknown blob provider",
			modify: func(c *config.Config) {
				c.Blob.Provider = "ftp"
			},
			wantErr: "invalid blob provider",
		},
		{
			name: "unknown auto reply policy",
			modify: func(c *config.Config) {
				c.Assistant.AutoReply = "always"
			},
			wantErr: "invalid assistant.auto_reply",
		},
		{
			name: "invalid log level",
			modify: func(c *config.Config) {
				c.Log.Level = "invalid"
			},
			wantErr: "invalid log level",
		},
		{
			name: "negative timeout",
			modify: func(c *config.Config) {
				c.Store.Timeout = -1
			},
			wantErr: "store.timeout must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr != "" {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoaderEnv(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("CLINICDESK_STORE_URL", "https://store.example.com")
	t.Setenv("CLINICDESK_STORE_TIMEOUT", "45s")
	t.Setenv("CLINICDESK_LOG_LEVEL", "DEBUG")
	t.Setenv("CLINICDESK_ASSISTANT_AUTO_REPLY", "direct")
	t.Setenv("CLINICDESK_COMPLETION_API_KEY", "key-from-env-123")

	loader := config.NewLoader("")
	cfg, err := loader.Load()

	require.NoError(t, err)
	assert.Equal(t, "https://store.example.com", cfg.Store.URL)
	assert.Equal(t, 45*time.Second, cfg.Store.Timeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, config.AutoReplyDirect, cfg.Assistant.AutoReply)
	assert.Equal(t, "key-from-env-123", cfg.Completion.APIKey)
}

func TestLoaderDotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(".env", []byte("CLINICDESK_AUTH_UID=uid-from-dotenv\n"), 0600))
	t.Cleanup(func() { os.Unsetenv("CLINICDESK_AUTH_UID") })

	cfg, err := config.NewLoader("").Load()

	require.NoError(t, err)
	assert.Equal(t, "uid-from-dotenv", cfg.Auth.UID)
}

func TestLoaderFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "clinicdesk.yaml")

	configYAML := `
store:
  url: https://file.example.com
completion:
  models: [fast, smart]
log:
  level: warn
  format: json
`
	require.NoError(t, os.WriteFile(configPath, []byte(configYAML), 0644))

	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()

	require.NoError(t, err)
	assert.Equal(t, "https://file.example.com", cfg.Store.URL)
	assert.Equal(t, []string{"fast", "smart"}, cfg.Completion.Models)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	// untouched keys keep their defaults
	assert.Equal(t, "dentista-inteligente-app", cfg.App.ID)
}

func TestLoaderInvalidFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "clinicdesk.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("log:\n  level: loud\n"), 0644))

	_, err := config.NewLoader(configPath).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestSaveExample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clinicdesk.yaml")
	require.NoError(t, config.SaveExample(path))

	cfg, err := config.NewLoader(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "cloudinary", cfg.Blob.Provider)
}

func TestConfigEnsureDirectories(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Dev.DBPath = filepath.Join(tmpDir, "data", "store.db")
	cfg.Dev.UploadDir = filepath.Join(tmpDir, "data", "uploads")
	cfg.Log.File = filepath.Join(tmpDir, "logs", "app.log")

	err := cfg.EnsureDirectories()
	require.NoError(t, err)

	assert.DirExists(t, filepath.Dir(cfg.Dev.DBPath))
	assert.DirExists(t, cfg.Dev.UploadDir)
	assert.DirExists(t, filepath.Dir(cfg.Log.File))
}

// chdir changes the working directory for the duration of the test,
// restoring it on cleanup (equivalent to testing.T.Chdir on Go 1.24+).
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
