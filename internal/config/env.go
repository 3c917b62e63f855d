package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/markdave123-py/kbchat/internal/core"
)

type Config struct {
	Port      string
	LogLevel  string
	LogFormat string

	// blob container
	BlobBackend  string // s3 | dir
	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string
	BlobPrefix   string
	BlobDir      string

	// search index
	IndexBackend string // pgvector | sqlite
	DatabaseURL  string
	SslCertPath  string
	SQLitePath   string

	// models
	EmbedProvider string // openai | gemini | local
	EmbedModel    string
	EmbedDim      int
	OpenAIAPIKey  string
	OpenAIBaseURL string
	GeminiAPIKey  string
	ChatProvider  string // openai | gemini
	GenModel      string

	// answering
	AnswerMode string // generative | extractive
	SearchMode string // vector | hybrid | lexical
	TopK       int

	// ingestion
	ChunkMaxChars  int
	ChunkOverlap   int
	IndexBatchSize int
	EmbedBatchSize int
	EmbedRetries   int
	EmbedRPS       float64
	IngestWorkers  int
	FailFast       bool
	IDStrategy     string // random | content
	CallTimeout    time.Duration

	// bot channel
	MicrosoftAppID       string
	MicrosoftAppPassword string

	// admin surface
	AdminPasswordHash string
	JWTSecret         string
	CORSOrigins       []string
}

// LoadConfig loads .env, the optional tuning file at path and the process
// environment, in increasing order of precedence, and validates the result.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	t, err := LoadTuning(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:      getEnv("PORT", "8080"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		BlobBackend:  getEnv("BLOB_BACKEND", "s3"),
		AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:    getEnv("AWS_REGION", "us-east-2"),
		BucketName:   getEnv("BUCKET_NAME", "kb-files"),
		BlobPrefix:   getEnv("BLOB_PREFIX", ""),
		BlobDir:      getEnv("BLOB_DIR", "./kb-files"),

		IndexBackend: getEnv("INDEX_BACKEND", "pgvector"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		SslCertPath:  getEnv("SSL_CERT_PATH", ""),
		SQLitePath:   getEnv("SQLITE_PATH", "kbchat.db"),

		EmbedProvider: getEnv("EMBED_PROVIDER", "openai"),
		EmbedModel:    getEnv("EMBED_MODEL", ""),
		EmbedDim:      getEnvInt("EMBED_DIM", 0),
		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
		ChatProvider:  getEnv("CHAT_PROVIDER", "openai"),
		GenModel:      getEnv("GEN_MODEL", ""),

		AnswerMode: getEnv("ANSWER_MODE", t.AnswerMode),
		SearchMode: getEnv("SEARCH_MODE", t.SearchMode),
		TopK:       getEnvInt("TOP_K", t.TopK),

		ChunkMaxChars:  getEnvInt("CHUNK_MAX_CHARS", t.ChunkMaxChars),
		ChunkOverlap:   getEnvInt("CHUNK_OVERLAP", t.ChunkOverlap),
		IndexBatchSize: getEnvInt("INDEX_BATCH_SIZE", t.IndexBatchSize),
		EmbedBatchSize: getEnvInt("EMBED_BATCH_SIZE", t.EmbedBatchSize),
		EmbedRetries:   getEnvInt("EMBED_RETRIES", t.EmbedRetries),
		EmbedRPS:       getEnvFloat("EMBED_RPS", t.EmbedRPS),
		IngestWorkers:  getEnvInt("INGEST_WORKERS", t.IngestWorkers),
		FailFast:       getEnvBool("INGEST_FAIL_FAST", t.FailFast),
		IDStrategy:     getEnv("ID_STRATEGY", t.IDStrategy),
		CallTimeout:    getEnvDuration("CALL_TIMEOUT", t.CallTimeout),

		MicrosoftAppID:       getEnv("MICROSOFT_APP_ID", getEnv("MicrosoftAppId", "")),
		MicrosoftAppPassword: getEnv("MICROSOFT_APP_PASSWORD", getEnv("MicrosoftAppPassword", "")),

		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		JWTSecret:         getEnv("JWT_SECRET", ""),
		CORSOrigins:       splitList(getEnv("CORS_ORIGINS", "http://localhost:5173")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate fails fast on missing or inconsistent settings.
func (c *Config) Validate() error {
	switch c.BlobBackend {
	case "s3":
		if c.AwsAccessKey == "" || c.AwsSecretKey == "" {
			return core.ConfigError("AWS_ACCESS_KEY and AWS_SECRET_KEY must be set for the s3 blob backend")
		}
		if c.BucketName == "" {
			return core.ConfigError("BUCKET_NAME not set")
		}
	case "dir":
		if c.BlobDir == "" {
			return core.ConfigError("BLOB_DIR not set")
		}
	default:
		return core.ConfigError("unknown BLOB_BACKEND %q", c.BlobBackend)
	}

	switch c.IndexBackend {
	case "pgvector":
		if c.DatabaseURL == "" {
			return core.ConfigError("DATABASE_URL not set")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return core.ConfigError("SQLITE_PATH not set")
		}
	default:
		return core.ConfigError("unknown INDEX_BACKEND %q", c.IndexBackend)
	}

	switch c.EmbedProvider {
	case "openai":
		if c.OpenAIAPIKey == "" {
			return core.ConfigError("OPENAI_API_KEY not set")
		}
	case "gemini":
		if c.GeminiAPIKey == "" {
			return core.ConfigError("GEMINI_API_KEY not set")
		}
	case "local":
	default:
		return core.ConfigError("unknown EMBED_PROVIDER %q", c.EmbedProvider)
	}

	switch c.AnswerMode {
	case "extractive":
	case "generative":
		switch c.ChatProvider {
		case "openai":
			if c.OpenAIAPIKey == "" {
				return core.ConfigError("OPENAI_API_KEY not set for generative answers")
			}
		case "gemini":
			if c.GeminiAPIKey == "" {
				return core.ConfigError("GEMINI_API_KEY not set for generative answers")
			}
		default:
			return core.ConfigError("unknown CHAT_PROVIDER %q", c.ChatProvider)
		}
	default:
		return core.ConfigError("unknown ANSWER_MODE %q", c.AnswerMode)
	}

	switch c.SearchMode {
	case "vector", "hybrid", "lexical":
	default:
		return core.ConfigError("unknown SEARCH_MODE %q", c.SearchMode)
	}

	switch c.IDStrategy {
	case "random", "content":
	default:
		return core.ConfigError("unknown ID_STRATEGY %q", c.IDStrategy)
	}

	if c.ChunkMaxChars <= 0 {
		return core.ConfigError("CHUNK_MAX_CHARS must be positive")
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkMaxChars {
		return core.ConfigError("CHUNK_OVERLAP (%d) must be in [0, CHUNK_MAX_CHARS)", c.ChunkOverlap)
	}
	if c.TopK <= 0 || c.IndexBatchSize <= 0 || c.EmbedBatchSize <= 0 || c.IngestWorkers <= 0 {
		return core.ConfigError("TOP_K, INDEX_BATCH_SIZE, EMBED_BATCH_SIZE and INGEST_WORKERS must be positive")
	}
	if c.CallTimeout <= 0 {
		return core.ConfigError("CALL_TIMEOUT must be positive")
	}
	if c.AdminPasswordHash != "" && c.JWTSecret == "" {
		return core.ConfigError("JWT_SECRET must be set when ADMIN_PASSWORD_HASH is set")
	}
	return nil
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("config value is not an int, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("config value is not a number, using default", "key", key, "value", v, "default", def)
		return def
	}
	return f
}

func getEnvBool(key string, def bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("config value is not a bool, using default", "key", key, "value", v, "default", def)
		return def
	}
	return b
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("config value is not a duration, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
