// Package wiring builds the dependency graph shared by the API server and
// worker entry points: database connection, vector store, embedding
// provider, git mirror, and the application-layer services built on top
// of them.
package wiring

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/rephole/rephole/application/service"
	"github.com/rephole/rephole/infrastructure/chunking"
	"github.com/rephole/rephole/infrastructure/git"
	"github.com/rephole/rephole/infrastructure/persistence"
	"github.com/rephole/rephole/infrastructure/provider"
	"github.com/rephole/rephole/infrastructure/queue"
	"github.com/rephole/rephole/infrastructure/vectorstore"
	"github.com/rephole/rephole/internal/config"
	"github.com/rephole/rephole/internal/database"
)

// Deps is the fully wired dependency graph. Both cmd/rephole-api and
// cmd/rephole-worker build one of these and pick the services they need
// off it.
type Deps struct {
	DB          database.Database
	Redis       *redis.Client
	Jobs        persistence.JobStore
	RepoStates  persistence.RepoStateStore
	Blobs       persistence.BlobStore
	Vectors     *vectorstore.Store
	Provider    *provider.OpenAIProvider
	Embedder    embeddingAdapter
	Mirror      git.Mirror
	Notifier    queue.Notifier
	Producer    service.Producer
	Retriever   service.Retriever
	Query       service.Query
	Worker      service.Worker
	StorageRoot string
}

// embeddingAdapter adapts provider.Embedder to the domain search.Embedder
// interface: the provider speaks in typed request/response value objects,
// the application layer only needs the raw [][]float64 shape.
type embeddingAdapter struct {
	inner provider.Embedder
}

// Embed implements search.Embedder.
func (a embeddingAdapter) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	resp, err := a.inner.Embed(ctx, provider.NewEmbeddingRequest(texts))
	if err != nil {
		return nil, err
	}
	return resp.Embeddings(), nil
}

// Build wires every infrastructure adapter and application service off of
// cfg. Callers must invoke the returned close function on shutdown.
func Build(ctx context.Context, cfg config.AppConfig, logger *slog.Logger) (*Deps, func() error, error) {
	db, err := database.NewDatabase(ctx, cfg.DBURL())
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := persistence.AutoMigrate(db); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}

	openaiCfg := cfg.OpenAI()
	if openaiCfg.APIKey() == "" {
		_ = db.Close()
		return nil, nil, fmt.Errorf("openai api key not configured")
	}
	providerCfg := provider.OpenAIConfig{
		APIKey:             openaiCfg.APIKey(),
		EmbeddingModel:     openaiCfg.EmbeddingModel(),
		EmbeddingMaxTokens: openaiCfg.MaxTokens(),
		Logger:             logger,
	}

	// Response caching is opt-in via OPENAI_CACHE_DIR: when set, embedding
	// calls with identical bodies are served from a local SQLite cache, so
	// re-running an ingestion job doesn't re-bill unchanged chunks.
	var cache *provider.CachingTransport
	if dir := openaiCfg.CacheDir(); dir != "" {
		cache, err = provider.NewCachingTransport(dir, nil)
		if err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("open provider response cache: %w", err)
		}
		providerCfg.HTTPClient = &http.Client{Transport: cache}
	}

	embProvider := provider.NewOpenAIProviderFromConfig(providerCfg)
	embedder := embeddingAdapter{inner: embProvider}

	closeEarly := func() {
		if cache != nil {
			_ = cache.Close()
		}
		_ = db.Close()
	}

	dimension, err := probeDimension(ctx, embProvider)
	if err != nil {
		closeEarly()
		return nil, nil, fmt.Errorf("probe embedding dimension: %w", err)
	}

	chroma := cfg.Chroma()
	vectors, err := vectorstore.New(
		chroma.Host(), chroma.Port(), chroma.CollectionName(), uint64(dimension),
		vectorstore.WithBatchSize(chroma.BatchSize()),
		vectorstore.WithTLS(chroma.SSL()),
	)
	if err != nil {
		closeEarly()
		return nil, nil, fmt.Errorf("connect vector store: %w", err)
	}

	redisCfg := cfg.Redis()
	redisClient := queue.NewClient(redisCfg.Addr(), redisCfg.Password(), redisCfg.DB())

	jobs := persistence.NewJobStore(db)
	repoStates := persistence.NewRepoStateStore(db)
	blobs := persistence.NewBlobStore(db)
	notifier := queue.NewNotifier(redisClient)
	mirror := git.NewMirror()

	jobPolicy := cfg.JobPolicy()
	producer := service.NewProducer(jobs, notifier, jobPolicy.MaxAttempts())
	retriever := service.NewRetriever(vectors, blobs)
	query := service.NewQuery(embedder, retriever)

	if err := cfg.EnsureLocalStorageDir(); err != nil {
		_ = vectors.Close()
		closeEarly()
		return nil, nil, fmt.Errorf("ensure local storage dir: %w", err)
	}

	worker := service.NewWorker(
		jobs, repoStates, mirror, blobs, vectors, embedder, chunking.ChunkFile,
		cfg.LocalStoragePath(), jobPolicy.InitialBackoff(),
		service.WithLogger(logger),
		service.WithIgnoreCheckerFactory(func(root string) (service.IgnoreChecker, error) {
			ig, err := git.NewIgnore(root)
			if err != nil {
				return nil, err
			}
			return ig, nil
		}),
	)

	deps := &Deps{
		DB:          db,
		Redis:       redisClient,
		Jobs:        jobs,
		RepoStates:  repoStates,
		Blobs:       blobs,
		Vectors:     vectors,
		Provider:    embProvider,
		Embedder:    embedder,
		Mirror:      mirror,
		Notifier:    notifier,
		Producer:    producer,
		Retriever:   retriever,
		Query:       query,
		Worker:      worker,
		StorageRoot: cfg.LocalStoragePath(),
	}

	closeFn := func() error {
		var errs []error
		if cache != nil {
			if err := cache.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if err := vectors.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := redisClient.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
		if len(errs) > 0 {
			return fmt.Errorf("close dependencies: %v", errs)
		}
		return nil
	}

	return deps, closeFn, nil
}

// probeDimension runs a single embedding call to learn the provider's
// vector width, since the vector store's collection must be created with
// a fixed size up front.
func probeDimension(ctx context.Context, embProvider *provider.OpenAIProvider) (int, error) {
	resp, err := embProvider.Embed(ctx, provider.NewEmbeddingRequest([]string{"dimension probe"}))
	if err != nil {
		return 0, err
	}
	embeddings := resp.Embeddings()
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return 0, fmt.Errorf("provider returned no embedding for dimension probe")
	}
	return len(embeddings[0]), nil
}
