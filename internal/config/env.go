// Package config provides application configuration.
package config

import (
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// EnvConfig holds all environment-based configuration. Field names map
// directly to environment variables; nested structs use underscore
// delimiter (e.g., POSTGRES_HOST, CHROMA_COLLECTION_NAME).
type EnvConfig struct {
	// Env: PORT (default: 3000)
	Port int `envconfig:"PORT" default:"3000"`

	// Env: WORKER_PORT (default: 3002)
	WorkerPort int `envconfig:"WORKER_PORT" default:"3002"`

	// Env: LOG_LEVEL (default: INFO)
	LogLevel string `envconfig:"LOG_LEVEL" default:"INFO"`

	// Env: LOG_FORMAT (default: pretty)
	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`

	// Env: LOCAL_STORAGE_PATH
	LocalStoragePath string `envconfig:"LOCAL_STORAGE_PATH"`

	// Env: DB_URL (sqlite fallback, used when POSTGRES_DATABASE is unset)
	DBURL string `envconfig:"DB_URL"`

	Postgres PostgresEnv `envconfig:"POSTGRES"`
	Redis    RedisEnv    `envconfig:"REDIS"`
	Chroma   ChromaEnv   `envconfig:"CHROMA"`
	OpenAI   OpenAIEnv   `envconfig:"OPENAI"`

	// Env: VECTOR_STORE_BATCH_SIZE (default: 1000)
	VectorStoreBatchSize int `envconfig:"VECTOR_STORE_BATCH_SIZE" default:"1000"`

	// Env: SEARCH_LIMIT (default: 5)
	SearchLimit int `envconfig:"SEARCH_LIMIT" default:"5"`

	// Env: MEMORY_MONITORING (default: false)
	MemoryMonitoring bool `envconfig:"MEMORY_MONITORING" default:"false"`
}

// PostgresEnv holds environment configuration for the relational store.
type PostgresEnv struct {
	Host     string `envconfig:"HOST"`
	Port     int    `envconfig:"PORT" default:"5432"`
	User     string `envconfig:"USER"`
	Password string `envconfig:"PASSWORD"`
	Database string `envconfig:"DATABASE"`
	SSLMode  string `envconfig:"SSLMODE" default:"disable"`
}

// RedisEnv holds environment configuration for the job wakeup pub/sub
// connection.
type RedisEnv struct {
	Host     string `envconfig:"HOST" default:"localhost"`
	Port     int    `envconfig:"PORT" default:"6379"`
	Password string `envconfig:"PASSWORD"`
	DB       int    `envconfig:"DB" default:"0"`
}

// ChromaEnv holds environment configuration for the vector store endpoint.
// The CHROMA_* names are kept for compatibility with the deployment
// tooling; the concrete client behind it speaks Qdrant's wire protocol.
type ChromaEnv struct {
	Host           string `envconfig:"HOST" default:"localhost"`
	Port           int    `envconfig:"PORT" default:"6334"`
	SSL            bool   `envconfig:"SSL" default:"false"`
	CollectionName string `envconfig:"COLLECTION_NAME" default:"rephole-collection"`
}

// OpenAIEnv holds environment configuration for the embedding provider.
type OpenAIEnv struct {
	APIKey         string `envconfig:"API_KEY"`
	OrganizationID string `envconfig:"ORGANIZATION_ID"`
	ProjectID      string `envconfig:"PROJECT_ID"`
	CacheDir       string `envconfig:"CACHE_DIR"`
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (EnvConfig, error) {
	var cfg EnvConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return EnvConfig{}, err
	}
	return cfg, nil
}

// LoadFromEnvWithPrefix loads configuration with a custom prefix.
func LoadFromEnvWithPrefix(prefix string) (EnvConfig, error) {
	var cfg EnvConfig
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return EnvConfig{}, err
	}
	return cfg, nil
}

// ToAppConfig converts EnvConfig to AppConfig.
func (e EnvConfig) ToAppConfig() AppConfig {
	cfg := NewAppConfig()

	if e.Port != 0 {
		cfg = applyOption(cfg, WithAPIPort(e.Port))
	}
	if e.WorkerPort != 0 {
		cfg = applyOption(cfg, WithWorkerPort(e.WorkerPort))
	}
	if e.LogLevel != "" {
		cfg = applyOption(cfg, WithLogLevel(e.LogLevel))
	}
	if e.LogFormat != "" {
		cfg = applyOption(cfg, WithLogFormat(parseLogFormat(e.LogFormat)))
	}
	if e.LocalStoragePath != "" {
		cfg = applyOption(cfg, WithLocalStoragePath(e.LocalStoragePath))
	}
	if e.DBURL != "" {
		cfg = applyOption(cfg, WithDBURL(e.DBURL))
	}

	cfg = applyOption(cfg, WithPostgres(e.Postgres.ToPostgresConfig()))
	cfg = applyOption(cfg, WithRedis(e.Redis.ToRedisConfig()))
	cfg = applyOption(cfg, WithChroma(e.Chroma.ToChromaConfig(e.VectorStoreBatchSize)))
	cfg = applyOption(cfg, WithOpenAI(e.OpenAI.ToOpenAIConfig()))

	if e.SearchLimit > 0 {
		cfg = applyOption(cfg, WithSearchLimit(e.SearchLimit))
	}
	cfg = applyOption(cfg, WithMemoryMonitoring(e.MemoryMonitoring))

	return cfg
}

func applyOption(cfg AppConfig, opt AppConfigOption) AppConfig {
	opt(&cfg)
	return cfg
}

// ToPostgresConfig converts PostgresEnv to PostgresConfig.
func (p PostgresEnv) ToPostgresConfig() PostgresConfig {
	opts := []PostgresConfigOption{
		WithPostgresSSLMode(p.SSLMode),
	}
	if p.Host != "" {
		opts = append(opts, WithPostgresHost(p.Host))
	}
	if p.Port != 0 {
		opts = append(opts, WithPostgresPort(p.Port))
	}
	if p.User != "" {
		opts = append(opts, WithPostgresUser(p.User))
	}
	if p.Password != "" {
		opts = append(opts, WithPostgresPassword(p.Password))
	}
	if p.Database != "" {
		opts = append(opts, WithPostgresDatabase(p.Database))
	}
	return NewPostgresConfigWithOptions(opts...)
}

// ToRedisConfig converts RedisEnv to RedisConfig.
func (r RedisEnv) ToRedisConfig() RedisConfig {
	opts := []RedisConfigOption{
		WithRedisDB(r.DB),
	}
	if r.Host != "" {
		opts = append(opts, WithRedisHost(r.Host))
	}
	if r.Port != 0 {
		opts = append(opts, WithRedisPort(r.Port))
	}
	if r.Password != "" {
		opts = append(opts, WithRedisPassword(r.Password))
	}
	return NewRedisConfigWithOptions(opts...)
}

// ToChromaConfig converts ChromaEnv to ChromaConfig.
func (c ChromaEnv) ToChromaConfig(batchSize int) ChromaConfig {
	opts := []ChromaConfigOption{
		WithChromaSSL(c.SSL),
	}
	if c.Host != "" {
		opts = append(opts, WithChromaHost(c.Host))
	}
	if c.Port != 0 {
		opts = append(opts, WithChromaPort(c.Port))
	}
	if c.CollectionName != "" {
		opts = append(opts, WithChromaCollectionName(c.CollectionName))
	}
	if batchSize > 0 {
		opts = append(opts, WithChromaBatchSize(batchSize))
	}
	return NewChromaConfigWithOptions(opts...)
}

// ToOpenAIConfig converts OpenAIEnv to OpenAIConfig.
func (o OpenAIEnv) ToOpenAIConfig() OpenAIConfig {
	opts := []OpenAIConfigOption{}
	if o.APIKey != "" {
		opts = append(opts, WithOpenAIAPIKey(o.APIKey))
	}
	if o.OrganizationID != "" {
		opts = append(opts, WithOpenAIOrganizationID(o.OrganizationID))
	}
	if o.ProjectID != "" {
		opts = append(opts, WithOpenAIProjectID(o.ProjectID))
	}
	if o.CacheDir != "" {
		opts = append(opts, WithOpenAICacheDir(o.CacheDir))
	}
	return NewOpenAIConfigWithOptions(opts...)
}

// parseLogFormat parses a log format string.
func parseLogFormat(s string) LogFormat {
	switch strings.ToLower(s) {
	case "json":
		return LogFormatJSON
	default:
		return LogFormatPretty
	}
}
