// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Default configuration values.
const (
	DefaultAPIHost  = "0.0.0.0"
	DefaultAPIPort  = 3000
	DefaultWorkerPort = 3002
	DefaultLogLevel = "INFO"

	DefaultLocalStoragePath = ".rephole/repos"

	DefaultChromaCollectionName = "rephole-collection"
	DefaultChromaHost           = "localhost"
	DefaultChromaPort           = 6334
	DefaultVectorStoreBatchSize = 1000

	DefaultOpenAIEmbeddingModel = "text-embedding-3-small"
	DefaultEmbeddingMaxTokens   = 8000
	DefaultEmbeddingCharsPerTok = 4

	DefaultRedisHost = "localhost"
	DefaultRedisPort = 6379
	DefaultRedisDB   = 0

	DefaultPostgresHost = "localhost"
	DefaultPostgresPort = 5432

	DefaultJobMaxAttempts         = 3
	DefaultJobInitialBackoff      = 5 * time.Second
	DefaultJobCompletedRetainTTL  = time.Hour
	DefaultJobCompletedRetainMax  = 100
	DefaultJobFailedRetainTTL     = 24 * time.Hour
	DefaultSearchLimit            = 5
	DefaultSearchLimitMax         = 100
)

// LogFormat represents the log output format.
type LogFormat string

// LogFormat values.
const (
	LogFormatPretty LogFormat = "pretty"
	LogFormatJSON   LogFormat = "json"
)

// ChromaConfig configures the vector store endpoint. The environment
// variable names follow the CHROMA_* convention the deployment tooling
// already expects; the concrete client wired behind it speaks Qdrant's
// gRPC protocol (see infrastructure/vectorstore).
type ChromaConfig struct {
	host           string
	port           int
	ssl            bool
	collectionName string
	batchSize      int
}

// NewChromaConfig creates a ChromaConfig with defaults.
func NewChromaConfig() ChromaConfig {
	return ChromaConfig{
		host:           DefaultChromaHost,
		port:           DefaultChromaPort,
		collectionName: DefaultChromaCollectionName,
		batchSize:      DefaultVectorStoreBatchSize,
	}
}

// Host returns the vector store host.
func (c ChromaConfig) Host() string { return c.host }

// Port returns the vector store port.
func (c ChromaConfig) Port() int { return c.port }

// SSL returns whether to use a TLS connection.
func (c ChromaConfig) SSL() bool { return c.ssl }

// CollectionName returns the collection/index name.
func (c ChromaConfig) CollectionName() string { return c.collectionName }

// BatchSize returns the maximum number of records per upsert batch.
func (c ChromaConfig) BatchSize() int { return c.batchSize }

// ChromaConfigOption is a functional option for ChromaConfig.
type ChromaConfigOption func(*ChromaConfig)

// WithChromaHost sets the vector store host.
func WithChromaHost(host string) ChromaConfigOption {
	return func(c *ChromaConfig) { c.host = host }
}

// WithChromaPort sets the vector store port.
func WithChromaPort(port int) ChromaConfigOption {
	return func(c *ChromaConfig) { c.port = port }
}

// WithChromaSSL sets whether to use TLS.
func WithChromaSSL(ssl bool) ChromaConfigOption {
	return func(c *ChromaConfig) { c.ssl = ssl }
}

// WithChromaCollectionName sets the collection name.
func WithChromaCollectionName(name string) ChromaConfigOption {
	return func(c *ChromaConfig) { c.collectionName = name }
}

// WithChromaBatchSize sets the upsert batch size.
func WithChromaBatchSize(n int) ChromaConfigOption {
	return func(c *ChromaConfig) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// NewChromaConfigWithOptions creates a ChromaConfig with functional options.
func NewChromaConfigWithOptions(opts ...ChromaConfigOption) ChromaConfig {
	c := NewChromaConfig()
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// PostgresConfig configures the relational store connection (repo state,
// content blobs).
type PostgresConfig struct {
	host     string
	port     int
	user     string
	password string
	database string
	sslMode  string
}

// NewPostgresConfig creates a PostgresConfig with defaults.
func NewPostgresConfig() PostgresConfig {
	return PostgresConfig{
		host:    DefaultPostgresHost,
		port:    DefaultPostgresPort,
		sslMode: "disable",
	}
}

// IsConfigured returns true when a database name has been set.
func (p PostgresConfig) IsConfigured() bool { return p.database != "" }

// URL builds a postgres:// connection URL.
func (p PostgresConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.user, p.password, p.host, p.port, p.database, p.sslMode)
}

// PostgresConfigOption is a functional option for PostgresConfig.
type PostgresConfigOption func(*PostgresConfig)

// WithPostgresHost sets the host.
func WithPostgresHost(host string) PostgresConfigOption {
	return func(p *PostgresConfig) { p.host = host }
}

// WithPostgresPort sets the port.
func WithPostgresPort(port int) PostgresConfigOption {
	return func(p *PostgresConfig) { p.port = port }
}

// WithPostgresUser sets the user.
func WithPostgresUser(user string) PostgresConfigOption {
	return func(p *PostgresConfig) { p.user = user }
}

// WithPostgresPassword sets the password.
func WithPostgresPassword(password string) PostgresConfigOption {
	return func(p *PostgresConfig) { p.password = password }
}

// WithPostgresDatabase sets the database name.
func WithPostgresDatabase(db string) PostgresConfigOption {
	return func(p *PostgresConfig) { p.database = db }
}

// WithPostgresSSLMode sets the sslmode query parameter.
func WithPostgresSSLMode(mode string) PostgresConfigOption {
	return func(p *PostgresConfig) { p.sslMode = mode }
}

// NewPostgresConfigWithOptions creates a PostgresConfig with options.
func NewPostgresConfigWithOptions(opts ...PostgresConfigOption) PostgresConfig {
	p := NewPostgresConfig()
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// RedisConfig configures the Redis connection used for job wakeup
// notifications; durable job state lives in the relational store.
type RedisConfig struct {
	host     string
	port     int
	password string
	db       int
}

// NewRedisConfig creates a RedisConfig with defaults.
func NewRedisConfig() RedisConfig {
	return RedisConfig{
		host: DefaultRedisHost,
		port: DefaultRedisPort,
		db:   DefaultRedisDB,
	}
}

// Addr returns the host:port address for the Redis client.
func (r RedisConfig) Addr() string { return fmt.Sprintf("%s:%d", r.host, r.port) }

// Password returns the Redis AUTH password, if any.
func (r RedisConfig) Password() string { return r.password }

// DB returns the Redis logical database index.
func (r RedisConfig) DB() int { return r.db }

// RedisConfigOption is a functional option for RedisConfig.
type RedisConfigOption func(*RedisConfig)

// WithRedisHost sets the host.
func WithRedisHost(host string) RedisConfigOption {
	return func(r *RedisConfig) { r.host = host }
}

// WithRedisPort sets the port.
func WithRedisPort(port int) RedisConfigOption {
	return func(r *RedisConfig) { r.port = port }
}

// WithRedisPassword sets the password.
func WithRedisPassword(password string) RedisConfigOption {
	return func(r *RedisConfig) { r.password = password }
}

// WithRedisDB sets the logical database index.
func WithRedisDB(db int) RedisConfigOption {
	return func(r *RedisConfig) { r.db = db }
}

// NewRedisConfigWithOptions creates a RedisConfig with options.
func NewRedisConfigWithOptions(opts ...RedisConfigOption) RedisConfig {
	r := NewRedisConfig()
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

// OpenAIConfig configures the embedding provider.
type OpenAIConfig struct {
	apiKey         string
	organizationID string
	projectID      string
	embeddingModel string
	maxTokens      int
	cacheDir       string
}

// NewOpenAIConfig creates an OpenAIConfig with defaults.
func NewOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		embeddingModel: DefaultOpenAIEmbeddingModel,
		maxTokens:      DefaultEmbeddingMaxTokens,
	}
}

// APIKey returns the API key.
func (o OpenAIConfig) APIKey() string { return o.apiKey }

// OrganizationID returns the organization ID, if any.
func (o OpenAIConfig) OrganizationID() string { return o.organizationID }

// ProjectID returns the project ID, if any.
func (o OpenAIConfig) ProjectID() string { return o.projectID }

// EmbeddingModel returns the embedding model identifier.
func (o OpenAIConfig) EmbeddingModel() string { return o.embeddingModel }

// MaxTokens returns the per-input token budget used for truncation.
func (o OpenAIConfig) MaxTokens() int { return o.maxTokens }

// CacheDir returns the directory for the provider's response cache, or
// "" when response caching is disabled.
func (o OpenAIConfig) CacheDir() string { return o.cacheDir }

// OpenAIConfigOption is a functional option for OpenAIConfig.
type OpenAIConfigOption func(*OpenAIConfig)

// WithOpenAIAPIKey sets the API key.
func WithOpenAIAPIKey(key string) OpenAIConfigOption {
	return func(o *OpenAIConfig) { o.apiKey = key }
}

// WithOpenAIOrganizationID sets the organization ID.
func WithOpenAIOrganizationID(id string) OpenAIConfigOption {
	return func(o *OpenAIConfig) { o.organizationID = id }
}

// WithOpenAIProjectID sets the project ID.
func WithOpenAIProjectID(id string) OpenAIConfigOption {
	return func(o *OpenAIConfig) { o.projectID = id }
}

// WithOpenAIEmbeddingModel sets the embedding model.
func WithOpenAIEmbeddingModel(model string) OpenAIConfigOption {
	return func(o *OpenAIConfig) { o.embeddingModel = model }
}

// WithOpenAIMaxTokens sets the truncation token budget.
func WithOpenAIMaxTokens(n int) OpenAIConfigOption {
	return func(o *OpenAIConfig) {
		if n > 0 {
			o.maxTokens = n
		}
	}
}

// WithOpenAICacheDir enables transport-level response caching under dir.
func WithOpenAICacheDir(dir string) OpenAIConfigOption {
	return func(o *OpenAIConfig) { o.cacheDir = dir }
}

// NewOpenAIConfigWithOptions creates an OpenAIConfig with options.
func NewOpenAIConfigWithOptions(opts ...OpenAIConfigOption) OpenAIConfig {
	o := NewOpenAIConfig()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// JobPolicyConfig configures the ingestion producer's enqueue/retention policy.
type JobPolicyConfig struct {
	maxAttempts        int
	initialBackoff     time.Duration
	completedRetainTTL time.Duration
	completedRetainMax int
	failedRetainTTL    time.Duration
}

// NewJobPolicyConfig creates a JobPolicyConfig with its default values.
func NewJobPolicyConfig() JobPolicyConfig {
	return JobPolicyConfig{
		maxAttempts:        DefaultJobMaxAttempts,
		initialBackoff:     DefaultJobInitialBackoff,
		completedRetainTTL: DefaultJobCompletedRetainTTL,
		completedRetainMax: DefaultJobCompletedRetainMax,
		failedRetainTTL:    DefaultJobFailedRetainTTL,
	}
}

// MaxAttempts returns the maximum number of delivery attempts.
func (j JobPolicyConfig) MaxAttempts() int { return j.maxAttempts }

// InitialBackoff returns the first retry delay; subsequent retries double it.
func (j JobPolicyConfig) InitialBackoff() time.Duration { return j.initialBackoff }

// CompletedRetainTTL returns how long completed jobs remain inspectable.
func (j JobPolicyConfig) CompletedRetainTTL() time.Duration { return j.completedRetainTTL }

// CompletedRetainMax returns the maximum completed jobs retained regardless of age.
func (j JobPolicyConfig) CompletedRetainMax() int { return j.completedRetainMax }

// FailedRetainTTL returns how long failed jobs remain inspectable.
func (j JobPolicyConfig) FailedRetainTTL() time.Duration { return j.failedRetainTTL }

// AppConfig holds the main application configuration.
type AppConfig struct {
	apiHost          string
	apiPort          int
	workerPort       int
	logLevel         string
	logFormat        LogFormat
	localStoragePath string
	dbURL            string
	postgres         PostgresConfig
	redis            RedisConfig
	chroma           ChromaConfig
	openai           OpenAIConfig
	jobPolicy        JobPolicyConfig
	searchLimit      int
	memoryMonitoring bool
}

// DefaultLogger returns the default slog logger for library consumers.
func DefaultLogger() *slog.Logger { return slog.Default() }

// PrepareStorageDir creates the local storage root if it does not exist.
func PrepareStorageDir(path string) (string, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("create local storage directory: %w", err)
	}
	return path, nil
}

// NewAppConfig creates a new AppConfig with defaults.
func NewAppConfig() AppConfig {
	home, err := os.UserHomeDir()
	storagePath := DefaultLocalStoragePath
	if err == nil {
		storagePath = filepath.Join(home, DefaultLocalStoragePath)
	}

	postgres := NewPostgresConfig()
	return AppConfig{
		apiHost:          DefaultAPIHost,
		apiPort:          DefaultAPIPort,
		workerPort:       DefaultWorkerPort,
		logLevel:         DefaultLogLevel,
		logFormat:        LogFormatPretty,
		localStoragePath: storagePath,
		dbURL:            "sqlite:///" + filepath.Join(storagePath, "..", "rephole.db"),
		postgres:         postgres,
		redis:            NewRedisConfig(),
		chroma:           NewChromaConfig(),
		openai:           NewOpenAIConfig(),
		jobPolicy:        NewJobPolicyConfig(),
		searchLimit:      DefaultSearchLimit,
	}
}

// APIHost returns the HTTP API bind host.
func (c AppConfig) APIHost() string { return c.apiHost }

// APIPort returns the HTTP API bind port.
func (c AppConfig) APIPort() int { return c.apiPort }

// APIAddr returns the combined API host:port address.
func (c AppConfig) APIAddr() string { return fmt.Sprintf("%s:%d", c.apiHost, c.apiPort) }

// WorkerPort returns the worker process's health-check port.
func (c AppConfig) WorkerPort() int { return c.workerPort }

// LogLevel returns the log level.
func (c AppConfig) LogLevel() string { return c.logLevel }

// LogFormat returns the log format.
func (c AppConfig) LogFormat() LogFormat { return c.logFormat }

// LocalStoragePath returns the root directory under which repositories are cloned.
func (c AppConfig) LocalStoragePath() string { return c.localStoragePath }

// DBURL returns the relational store connection URL. When Postgres is
// configured it takes precedence over the SQLite fallback.
func (c AppConfig) DBURL() string {
	if c.postgres.IsConfigured() {
		return c.postgres.URL()
	}
	return c.dbURL
}

// Postgres returns the Postgres configuration.
func (c AppConfig) Postgres() PostgresConfig { return c.postgres }

// Redis returns the Redis configuration.
func (c AppConfig) Redis() RedisConfig { return c.redis }

// Chroma returns the vector store configuration.
func (c AppConfig) Chroma() ChromaConfig { return c.chroma }

// OpenAI returns the embedding provider configuration.
func (c AppConfig) OpenAI() OpenAIConfig { return c.openai }

// JobPolicy returns the ingestion job retry/retention policy.
func (c AppConfig) JobPolicy() JobPolicyConfig { return c.jobPolicy }

// SearchLimit returns the default query result limit.
func (c AppConfig) SearchLimit() int { return c.searchLimit }

// MemoryMonitoring returns whether the worker logs heap-usage warnings.
func (c AppConfig) MemoryMonitoring() bool { return c.memoryMonitoring }

// EnsureLocalStorageDir creates the local storage root if it doesn't exist.
func (c AppConfig) EnsureLocalStorageDir() error {
	return os.MkdirAll(c.localStoragePath, 0o755)
}

// AppConfigOption is a functional option for AppConfig.
type AppConfigOption func(*AppConfig)

// WithAPIHost sets the API bind host.
func WithAPIHost(host string) AppConfigOption {
	return func(c *AppConfig) { c.apiHost = host }
}

// WithAPIPort sets the API bind port.
func WithAPIPort(port int) AppConfigOption {
	return func(c *AppConfig) {
		if port > 0 {
			c.apiPort = port
		}
	}
}

// WithWorkerPort sets the worker port.
func WithWorkerPort(port int) AppConfigOption {
	return func(c *AppConfig) {
		if port > 0 {
			c.workerPort = port
		}
	}
}

// WithLogLevel sets the log level.
func WithLogLevel(level string) AppConfigOption {
	return func(c *AppConfig) { c.logLevel = level }
}

// WithLogFormat sets the log format.
func WithLogFormat(format LogFormat) AppConfigOption {
	return func(c *AppConfig) { c.logFormat = format }
}

// WithLocalStoragePath sets the clone root directory.
func WithLocalStoragePath(path string) AppConfigOption {
	return func(c *AppConfig) {
		if path != "" {
			c.localStoragePath = path
		}
	}
}

// WithDBURL sets the SQLite fallback connection URL.
func WithDBURL(url string) AppConfigOption {
	return func(c *AppConfig) { c.dbURL = url }
}

// WithPostgres sets the Postgres configuration.
func WithPostgres(p PostgresConfig) AppConfigOption {
	return func(c *AppConfig) { c.postgres = p }
}

// WithRedis sets the Redis configuration.
func WithRedis(r RedisConfig) AppConfigOption {
	return func(c *AppConfig) { c.redis = r }
}

// WithChroma sets the vector store configuration.
func WithChroma(ch ChromaConfig) AppConfigOption {
	return func(c *AppConfig) { c.chroma = ch }
}

// WithOpenAI sets the embedding provider configuration.
func WithOpenAI(o OpenAIConfig) AppConfigOption {
	return func(c *AppConfig) { c.openai = o }
}

// WithJobPolicy sets the job retry/retention policy.
func WithJobPolicy(j JobPolicyConfig) AppConfigOption {
	return func(c *AppConfig) { c.jobPolicy = j }
}

// WithSearchLimit sets the default query result limit.
func WithSearchLimit(n int) AppConfigOption {
	return func(c *AppConfig) {
		if n > 0 {
			c.searchLimit = n
		}
	}
}

// WithMemoryMonitoring enables heap-usage threshold logging.
func WithMemoryMonitoring(enabled bool) AppConfigOption {
	return func(c *AppConfig) { c.memoryMonitoring = enabled }
}

// NewAppConfigWithOptions creates an AppConfig with functional options.
func NewAppConfigWithOptions(opts ...AppConfigOption) AppConfig {
	c := NewAppConfig()
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Apply returns a new AppConfig with the given options applied, leaving the
// receiver untouched.
func (c AppConfig) Apply(opts ...AppConfigOption) AppConfig {
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// LogAttrs returns slog attributes summarizing the configuration at startup.
// Sensitive values (API keys, passwords) are never logged directly.
func (c AppConfig) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.String("local_storage_path", c.localStoragePath),
		slog.String("log_level", c.logLevel),
		slog.String("db_url", c.maskedDBURL()),
		slog.String("chroma_host", c.chroma.Host()),
		slog.Int("chroma_port", c.chroma.Port()),
		slog.String("chroma_collection", c.chroma.CollectionName()),
		slog.Int("vector_store_batch_size", c.chroma.BatchSize()),
		slog.String("embedding_model", c.openai.EmbeddingModel()),
		slog.Bool("openai_configured", c.openai.APIKey() != ""),
		slog.String("redis_addr", c.redis.Addr()),
	}
}

func (c AppConfig) maskedDBURL() string {
	url := c.DBURL()
	if strings.HasPrefix(url, "sqlite:") {
		return url
	}
	return "postgres://***@" + c.postgres.host
}
