package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RAG-Telebot/server/internal/apperr"
)

var envNames = []string{
	"TELEGRAM_TOKEN", "ADMIN_ID", "OPENROUTER_API_KEY", "CHAT_MODEL", "CHAT_BASE_URL", "MAX_TOKENS",
	"TEMPERATURE", "EMBEDDING_API_KEY", "EMBEDDING_BASE_URL", "EMBEDDING_MODEL", "EMBEDDING_DIM",
	"VECTOR_BACKEND", "QDRANT_URL", "QDRANT_API_KEY", "QDRANT_COLLECTION", "MYSQL_DSN", "REDIS_ADDR",
	"REDIS_PASSWORD", "RENDER_URL", "PORT", "SIMILARITY_THRESHOLD", "TOP_K", "MAX_CONTEXT",
	"SYSTEM_PROMPT", "LOG_LEVEL", "LOG_FORMAT",
}

// clearEnv blanks every recognized variable for the duration of the test
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range envNames {
		t.Setenv(name, "")
	}
}

func validEnv(t *testing.T) {
	t.Helper()
	clearEnv(t)
	t.Setenv("TELEGRAM_TOKEN", "123:abc")
	t.Setenv("OPENROUTER_API_KEY", "sk-or")
	t.Setenv("QDRANT_URL", "https://qdrant.example.com")
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 5000, cfg.Server.Port)
	assert.Equal(t, "x-ai/grok-4-fast:free", cfg.AI.Chat.Model)
	assert.Equal(t, "https://openrouter.ai/api/v1", cfg.AI.Chat.BaseURL)
	assert.Equal(t, 1000, cfg.AI.Chat.MaxTokens)
	assert.InDelta(t, 0.7, cfg.AI.Chat.Temperature, 1e-9)
	assert.Equal(t, 10, cfg.Conversation.MaxContext)
	assert.Equal(t, 1536, cfg.AI.Embedding.Dimension)
	assert.Equal(t, BackendQdrant, cfg.Knowledge.Backend)
	assert.Equal(t, "knowledge", cfg.Database.Qdrant.Collection)
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlData := `
server:
  port: 8080
knowledge:
  top_k: 5
  min_score: 0.2
conversation:
  max_context: 4
  persona: "yaml persona"
ai:
  chat:
    timeout: 20s
`
	require.NoError(t, os.WriteFile(path, []byte(yamlData), 0o600))

	t.Setenv("TOP_K", "7")
	t.Setenv("ADMIN_ID", "42")
	t.Setenv("OPENROUTER_API_KEY", "sk-or")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 7, cfg.Knowledge.TopK, "env wins over yaml")
	assert.InDelta(t, 0.2, cfg.Knowledge.MinScore, 1e-9)
	assert.Equal(t, 4, cfg.Conversation.MaxContext)
	assert.Equal(t, "yaml persona", cfg.Conversation.Persona)
	assert.Equal(t, 20*time.Second, cfg.AI.Chat.Timeout)
	assert.Equal(t, int64(42), cfg.Telegram.AdminID)
	assert.Equal(t, "sk-or", cfg.AI.Embedding.APIKey, "embedding key falls back to chat key")
	// untouched defaults survive a partial file
	assert.Equal(t, 1000, cfg.AI.Chat.MaxTokens)
}

func TestLoad_InvalidNumber(t *testing.T) {
	clearEnv(t)
	t.Setenv("TOP_K", "many")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TOP_K")
}

func TestLoad_BadYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unterminated"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate_MissingRequired(t *testing.T) {
	tests := []struct {
		name    string
		unset   string
		backend string
		want    string
	}{
		{"telegram token", "TELEGRAM_TOKEN", "", "TELEGRAM_TOKEN"},
		{"chat key", "OPENROUTER_API_KEY", "", "OPENROUTER_API_KEY"},
		{"qdrant url", "QDRANT_URL", "", "QDRANT_URL"},
		{"mysql dsn", "MYSQL_DSN", BackendMySQL, "MYSQL_DSN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			validEnv(t)
			t.Setenv(tt.unset, "")
			if tt.backend != "" {
				t.Setenv("VECTOR_BACKEND", tt.backend)
			}

			cfg, err := Load("")
			require.NoError(t, err)

			err = cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, apperr.ErrMissingConfig)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_MemoryBackendNeedsNoStoreURL(t *testing.T) {
	validEnv(t)
	t.Setenv("QDRANT_URL", "")
	t.Setenv("VECTOR_BACKEND", BackendMemory)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())
}

func TestValidate_Ranges(t *testing.T) {
	validEnv(t)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"top_k", func(c *Config) { c.Knowledge.TopK = 0 }},
		{"min_score", func(c *Config) { c.Knowledge.MinScore = 1.5 }},
		{"max_context", func(c *Config) { c.Conversation.MaxContext = 0 }},
		{"dimension", func(c *Config) { c.AI.Embedding.Dimension = 0 }},
		{"negative temperature", func(c *Config) { c.AI.Chat.Temperature = -0.1 }},
		{"temperature above 2", func(c *Config) { c.AI.Chat.Temperature = 2.5 }},
		{"workers", func(c *Config) { c.Queue.MaxWorkers = 0 }},
		{"backend", func(c *Config) { c.Knowledge.Backend = "sqlite" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			require.NoError(t, cfg.Validate())

			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_ZeroTemperatureAllowed(t *testing.T) {
	validEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.AI.Chat.Temperature = 0
	assert.NoError(t, cfg.Validate())
}

func TestLoadEnvFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("TELEGRAM_TOKEN=from-file\nADMIN_ID=7\n"), 0o600))

	// an already set variable is not overridden
	t.Setenv("ADMIN_ID", "9")
	require.NoError(t, os.Unsetenv("TELEGRAM_TOKEN"))
	t.Cleanup(func() { _ = os.Unsetenv("TELEGRAM_TOKEN") })

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "from-file", os.Getenv("TELEGRAM_TOKEN"))
	assert.Equal(t, "9", os.Getenv("ADMIN_ID"))

	assert.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "none.env")))
}

func TestWebhookURL(t *testing.T) {
	cfg := Default()
	cfg.Server.BaseURL = "https://bot.example.com/"
	cfg.Telegram.Token = "123:abc"
	assert.Equal(t, "https://bot.example.com/webhook/123:abc", cfg.WebhookURL())
	assert.Equal(t, ":5000", cfg.Server.Addr())
}
