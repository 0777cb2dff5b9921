package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"RAG-Telebot/server/internal/apperr"
)

// Vector backends
const (
	BackendQdrant = "qdrant"
	BackendMySQL  = "mysql"
	BackendMemory = "memory"
)

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Telegram     TelegramConfig     `yaml:"telegram"`
	Database     DatabaseConfig     `yaml:"database"`
	AI           AIConfig           `yaml:"ai"`
	Knowledge    KnowledgeConfig    `yaml:"knowledge"`
	Conversation ConversationConfig `yaml:"conversation"`
	Replies      RepliesConfig      `yaml:"replies"`
	Queue        QueueConfig        `yaml:"queue"`
	Logging      LoggingConfig      `yaml:"logging"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	BaseURL      string        `yaml:"base_url"` // public deployment URL, used for the webhook and OpenRouter referer
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type TelegramConfig struct {
	Token   string        `yaml:"token"`
	AdminID int64         `yaml:"admin_id"`
	Timeout time.Duration `yaml:"timeout"`
}

type DatabaseConfig struct {
	MySQL  MySQLConfig  `yaml:"mysql"`
	Redis  RedisConfig  `yaml:"redis"`
	Qdrant QdrantConfig `yaml:"qdrant"`
}

type MySQLConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"pool_size"`
	DedupTTL time.Duration `yaml:"dedup_ttl"`
}

type QdrantConfig struct {
	URL        string `yaml:"url"`
	APIKey     string `yaml:"api_key"`
	GRPCPort   int    `yaml:"grpc_port"`
	Collection string `yaml:"collection"`
}

type AIConfig struct {
	Chat      ChatConfig      `yaml:"chat"`
	Embedding EmbeddingConfig `yaml:"embedding"`
}

type ChatConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	Title       string        `yaml:"title"`
	RateLimit   float64       `yaml:"rate_limit"` // requests per second, 0 disables
	RateBurst   int           `yaml:"rate_burst"`
}

type EmbeddingConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Model     string        `yaml:"model"`
	APIKey    string        `yaml:"api_key"`
	Dimension int           `yaml:"dimension"`
	Timeout   time.Duration `yaml:"timeout"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

type KnowledgeConfig struct {
	Backend         string  `yaml:"backend"`
	TopK            int     `yaml:"top_k"`
	MinScore        float64 `yaml:"min_score"`
	AutoRemember    bool    `yaml:"auto_remember"`
	KnowledgeHeader string  `yaml:"knowledge_header"`
}

type ConversationConfig struct {
	MaxContext int    `yaml:"max_context"`
	Persona    string `yaml:"persona"`
}

// RepliesConfig holds the fixed user-facing texts
type RepliesConfig struct {
	Welcome        string `yaml:"welcome"`
	Help           string `yaml:"help"`
	Fallback       string `yaml:"fallback"`
	Refusal        string `yaml:"refusal"`
	Remembered     string `yaml:"remembered"`
	RememberFailed string `yaml:"remember_failed"`
	RememberUsage  string `yaml:"remember_usage"`
	Cleared        string `yaml:"cleared"`
	NothingFound   string `yaml:"nothing_found"`
	SearchUsage    string `yaml:"search_usage"`
	Busy           string `yaml:"busy"`
}

type QueueConfig struct {
	MaxWorkers   int `yaml:"max_workers"`
	MaxQueueSize int `yaml:"max_queue_size"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns a configuration with every knob populated
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         5000,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		Telegram: TelegramConfig{
			Timeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			MySQL: MySQLConfig{
				MaxOpenConns:    10,
				MaxIdleConns:    5,
				ConnMaxLifetime: time.Hour,
			},
			Redis: RedisConfig{
				PoolSize: 10,
				DedupTTL: 10 * time.Minute,
			},
			Qdrant: QdrantConfig{
				GRPCPort:   6334,
				Collection: "knowledge",
			},
		},
		AI: AIConfig{
			Chat: ChatConfig{
				BaseURL:     "https://openrouter.ai/api/v1",
				Model:       "x-ai/grok-4-fast:free",
				MaxTokens:   1000,
				Temperature: 0.7,
				Timeout:     30 * time.Second,
				Title:       "Grok TG Waifu Bot",
				RateBurst:   1,
			},
			Embedding: EmbeddingConfig{
				BaseURL:   "https://api.openai.com/v1",
				Model:     "text-embedding-3-small",
				Dimension: 1536,
				Timeout:   30 * time.Second,
				CacheTTL:  24 * time.Hour,
			},
		},
		Knowledge: KnowledgeConfig{
			Backend:         BackendQdrant,
			TopK:            3,
			MinScore:        0.7,
			KnowledgeHeader: "Relevant knowledge:\n{{knowledge}}",
		},
		Conversation: ConversationConfig{
			MaxContext: 10,
			Persona:    "You are a friendly, playful assistant chatting on Telegram. Keep answers short and warm. If you do not know something, say so honestly.",
		},
		Replies: RepliesConfig{
			Welcome:        "Hi! I'm your assistant. Just send me a message and I'll reply. Type /help for commands.",
			Help:           "Commands:\n/start - welcome message\n/help - this help\n/clear - forget our conversation\n/search <text> - look up stored knowledge\nremember <text> - store knowledge (admin only)",
			Fallback:       "Sorry, I couldn't come up with a reply right now. Please try again in a moment.",
			Refusal:        "Sorry, only the administrator can add knowledge.",
			Remembered:     "Got it, I'll remember that.",
			RememberFailed: "Sorry, I could not save that.",
			RememberUsage:  "Usage: remember <text>",
			Cleared:        "Conversation cleared.",
			NothingFound:   "Nothing relevant found.",
			SearchUsage:    "Usage: search <text>",
			Busy:           "I'm a bit busy right now, please try again shortly.",
		},
		Queue: QueueConfig{
			MaxWorkers:   8,
			MaxQueueSize: 100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads configuration from a YAML file layered over Default, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadEnvFile loads a .env file into the process environment without
// overriding variables that are already set. A missing file is ignored.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// applyEnv applies environment variable overrides
func applyEnv(cfg *Config) error {
	var errs []error

	setString := func(name string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: invalid %s %q: %w", name, v, err))
				return
			}
			*dst = n
		}
	}
	setFloat := func(name string, dst *float64) {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: invalid %s %q: %w", name, v, err))
				return
			}
			*dst = f
		}
	}

	setString("TELEGRAM_TOKEN", &cfg.Telegram.Token)
	if v := strings.TrimSpace(os.Getenv("ADMIN_ID")); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: invalid ADMIN_ID %q: %w", v, err))
		} else {
			cfg.Telegram.AdminID = id
		}
	}

	setString("OPENROUTER_API_KEY", &cfg.AI.Chat.APIKey)
	setString("CHAT_MODEL", &cfg.AI.Chat.Model)
	setString("CHAT_BASE_URL", &cfg.AI.Chat.BaseURL)
	setInt("MAX_TOKENS", &cfg.AI.Chat.MaxTokens)
	setFloat("TEMPERATURE", &cfg.AI.Chat.Temperature)

	setString("EMBEDDING_API_KEY", &cfg.AI.Embedding.APIKey)
	setString("EMBEDDING_BASE_URL", &cfg.AI.Embedding.BaseURL)
	setString("EMBEDDING_MODEL", &cfg.AI.Embedding.Model)
	setInt("EMBEDDING_DIM", &cfg.AI.Embedding.Dimension)

	setString("VECTOR_BACKEND", &cfg.Knowledge.Backend)
	setString("QDRANT_URL", &cfg.Database.Qdrant.URL)
	setString("QDRANT_API_KEY", &cfg.Database.Qdrant.APIKey)
	setString("QDRANT_COLLECTION", &cfg.Database.Qdrant.Collection)
	setString("MYSQL_DSN", &cfg.Database.MySQL.DSN)
	setString("REDIS_ADDR", &cfg.Database.Redis.Addr)
	setString("REDIS_PASSWORD", &cfg.Database.Redis.Password)

	setString("RENDER_URL", &cfg.Server.BaseURL)
	setInt("PORT", &cfg.Server.Port)

	setFloat("SIMILARITY_THRESHOLD", &cfg.Knowledge.MinScore)
	setInt("TOP_K", &cfg.Knowledge.TopK)
	setInt("MAX_CONTEXT", &cfg.Conversation.MaxContext)
	setString("SYSTEM_PROMPT", &cfg.Conversation.Persona)

	setString("LOG_LEVEL", &cfg.Logging.Level)
	setString("LOG_FORMAT", &cfg.Logging.Format)

	// The chat credential doubles as the embedding credential when none is given
	if cfg.AI.Embedding.APIKey == "" {
		cfg.AI.Embedding.APIKey = cfg.AI.Chat.APIKey
	}

	return errors.Join(errs...)
}

// Validate checks that every required setting is present and every knob is in range
func (c *Config) Validate() error {
	required := []struct {
		name  string
		value string
		need  bool
	}{
		{"TELEGRAM_TOKEN", c.Telegram.Token, true},
		{"OPENROUTER_API_KEY", c.AI.Chat.APIKey, true},
		{"QDRANT_URL", c.Database.Qdrant.URL, c.Knowledge.Backend == BackendQdrant},
		{"MYSQL_DSN", c.Database.MySQL.DSN, c.Knowledge.Backend == BackendMySQL},
	}
	for _, r := range required {
		if r.need && strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("config: %w %s", apperr.ErrMissingConfig, r.name)
		}
	}

	switch c.Knowledge.Backend {
	case BackendQdrant, BackendMySQL, BackendMemory:
	default:
		return fmt.Errorf("config: unknown VECTOR_BACKEND %q", c.Knowledge.Backend)
	}

	if c.Knowledge.Backend == BackendQdrant {
		if _, err := url.Parse(c.Database.Qdrant.URL); err != nil {
			return fmt.Errorf("config: invalid QDRANT_URL: %w", err)
		}
	}

	switch {
	case c.Knowledge.TopK < 1:
		return fmt.Errorf("config: TOP_K must be >= 1, got %d", c.Knowledge.TopK)
	case c.Knowledge.MinScore < -1 || c.Knowledge.MinScore > 1:
		return fmt.Errorf("config: SIMILARITY_THRESHOLD must be within [-1, 1], got %v", c.Knowledge.MinScore)
	case c.Conversation.MaxContext < 1:
		return fmt.Errorf("config: MAX_CONTEXT must be >= 1, got %d", c.Conversation.MaxContext)
	case c.AI.Embedding.Dimension < 1:
		return fmt.Errorf("config: EMBEDDING_DIM must be >= 1, got %d", c.AI.Embedding.Dimension)
	case c.AI.Chat.Temperature < 0 || c.AI.Chat.Temperature > 2:
		return fmt.Errorf("config: TEMPERATURE must be within [0, 2], got %v", c.AI.Chat.Temperature)
	case c.AI.Chat.MaxTokens < 1:
		return fmt.Errorf("config: MAX_TOKENS must be >= 1, got %d", c.AI.Chat.MaxTokens)
	case c.Queue.MaxWorkers < 1:
		return fmt.Errorf("config: queue.max_workers must be >= 1, got %d", c.Queue.MaxWorkers)
	case c.Queue.MaxQueueSize < 1:
		return fmt.Errorf("config: queue.max_queue_size must be >= 1, got %d", c.Queue.MaxQueueSize)
	}

	return nil
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// WebhookURL returns the public webhook URL for the given bot token
func (c *Config) WebhookURL() string {
	return strings.TrimRight(c.Server.BaseURL, "/") + "/webhook/" + c.Telegram.Token
}
