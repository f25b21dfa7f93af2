package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	HTTPAddr string
	DBDSN    string

	JWTSecret    string
	SessionTTL   time.Duration
	BcryptCost   int
	CookieSecure bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// rate limiting
	RateLimit        int
	RateWindow       time.Duration
	RateLimitAnonIP  bool
	IPRatePerSec     float64
	IPRateBurst      int
	ChatHistoryTurns int

	// retrieval
	RetrievalTopK     int
	GenerationTimeout time.Duration
	EmbedProvider     string
	EmbedModel        string
	EmbedCache        string
	GenAIAPIKey       string

	// AI provider
	AIProvider        string
	AIModel           string
	OllamaBaseURL     string
	OllamaModel       string
	OpenRouterBaseURL string
	OpenRouterAPIKey  string
	OpenRouterModel   string
	OpenRouterSiteURL string
	OpenRouterAppName string

	// rabbitMQ
	RabbitURL         string
	RabbitQueue       string
	WorkerConcurrency int

	LogLevel  string
	LogFormat string
	BooksFile string
}

// DefaultJWTSecret is only suitable for local development.
const DefaultJWTSecret = "dev-secret-change-me"

// UsesDefaultJWTSecret reports whether sessions are signed with DefaultJWTSecret.
func (c Config) UsesDefaultJWTSecret() bool {
	return c.JWTSecret == DefaultJWTSecret
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DB_DSN", "file::memory:?cache=shared")
	v.SetDefault("JWT_SECRET", DefaultJWTSecret)
	v.SetDefault("SESSION_TTL", "168h")
	v.SetDefault("BCRYPT_COST", 10)
	v.SetDefault("COOKIE_SECURE", false)

	v.SetDefault("REDIS_ADDR", "127.0.0.1:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("RATE_LIMIT", 10)
	v.SetDefault("RATE_WINDOW", "60s")
	v.SetDefault("RATE_LIMIT_ANON_BY_IP", false)
	v.SetDefault("IP_RATE_PER_SEC", 5.0)
	v.SetDefault("IP_RATE_BURST", 20)
	v.SetDefault("CHAT_HISTORY_TURNS", 4)

	v.SetDefault("RETRIEVAL_TOP_K", 2)
	v.SetDefault("GENERATION_TIMEOUT", "30s")
	v.SetDefault("EMBED_PROVIDER", "ollama")
	v.SetDefault("EMBED_MODEL", "")
	v.SetDefault("EMBED_CACHE", "memory")
	v.SetDefault("GENAI_API_KEY", "")

	v.SetDefault("AI_PROVIDER", "ollama")
	v.SetDefault("AI_MODEL", "")
	v.SetDefault("OLLAMA_BASE_URL", "http://localhost:11434")
	v.SetDefault("OLLAMA_MODEL", "llama3:latest")
	v.SetDefault("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1")
	v.SetDefault("OPENROUTER_API_KEY", "")
	v.SetDefault("OPENROUTER_MODEL", "openrouter/auto")
	v.SetDefault("OPENROUTER_SITE_URL", "")
	v.SetDefault("OPENROUTER_APP_NAME", "")

	v.SetDefault("RABBIT_URL", "")
	v.SetDefault("RABBIT_QUEUE", "ask_jobs")
	v.SetDefault("WORKER_CONCURRENCY", 2)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("BOOKS_FILE", "")
}

// Load reads .env (if present) and the environment. Env vars override .env.
func Load() Config {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // missing .env is fine

	v.AutomaticEnv()
	setDefaults(v)

	return fromViper(v)
}

func fromViper(v *viper.Viper) Config {
	cfg := Config{
		HTTPAddr: v.GetString("HTTP_ADDR"),
		DBDSN:    v.GetString("DB_DSN"),

		JWTSecret:    v.GetString("JWT_SECRET"),
		SessionTTL:   durationOr(v.GetString("SESSION_TTL"), 7*24*time.Hour),
		BcryptCost:   v.GetInt("BCRYPT_COST"),
		CookieSecure: v.GetBool("COOKIE_SECURE"),

		RedisAddr:     v.GetString("REDIS_ADDR"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),

		RateLimit:        v.GetInt("RATE_LIMIT"),
		RateWindow:       durationOr(v.GetString("RATE_WINDOW"), time.Minute),
		RateLimitAnonIP:  v.GetBool("RATE_LIMIT_ANON_BY_IP"),
		IPRatePerSec:     v.GetFloat64("IP_RATE_PER_SEC"),
		IPRateBurst:      v.GetInt("IP_RATE_BURST"),
		ChatHistoryTurns: v.GetInt("CHAT_HISTORY_TURNS"),

		RetrievalTopK:     v.GetInt("RETRIEVAL_TOP_K"),
		GenerationTimeout: durationOr(v.GetString("GENERATION_TIMEOUT"), 30*time.Second),
		EmbedProvider:     v.GetString("EMBED_PROVIDER"),
		EmbedModel:        v.GetString("EMBED_MODEL"),
		EmbedCache:        v.GetString("EMBED_CACHE"),
		GenAIAPIKey:       v.GetString("GENAI_API_KEY"),

		AIProvider:        v.GetString("AI_PROVIDER"),
		AIModel:           v.GetString("AI_MODEL"),
		OllamaBaseURL:     v.GetString("OLLAMA_BASE_URL"),
		OllamaModel:       v.GetString("OLLAMA_MODEL"),
		OpenRouterBaseURL: v.GetString("OPENROUTER_BASE_URL"),
		OpenRouterAPIKey:  v.GetString("OPENROUTER_API_KEY"),
		OpenRouterModel:   v.GetString("OPENROUTER_MODEL"),
		OpenRouterSiteURL: v.GetString("OPENROUTER_SITE_URL"),
		OpenRouterAppName: v.GetString("OPENROUTER_APP_NAME"),

		RabbitURL:         v.GetString("RABBIT_URL"),
		RabbitQueue:       v.GetString("RABBIT_QUEUE"),
		WorkerConcurrency: v.GetInt("WORKER_CONCURRENCY"),

		LogLevel:  v.GetString("LOG_LEVEL"),
		LogFormat: v.GetString("LOG_FORMAT"),
		BooksFile: v.GetString("BOOKS_FILE"),
	}

	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.RetrievalTopK <= 0 {
		cfg.RetrievalTopK = 2
	}
	if cfg.ChatHistoryTurns < 0 {
		cfg.ChatHistoryTurns = 4
	}
	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = 2
	}
	if cfg.WorkerConcurrency > 50 {
		cfg.WorkerConcurrency = 50
	}
	return cfg
}

func durationOr(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
