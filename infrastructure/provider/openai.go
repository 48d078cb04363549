package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"
)

// DefaultBatchSize is the default number of texts per embedding API call.
const DefaultBatchSize = 10

// charsPerToken approximates the character-to-token ratio used to convert
// an input's token budget into a character truncation limit, avoiding a
// full tokenizer dependency for a coarse safety cap.
const charsPerToken = 4

// collapseWhitespace matches runs of whitespace (including newlines) to
// collapse before an input is sent to the embedding backend.
var collapseWhitespace = regexp.MustCompile(`\s+`)

// errEmbeddingCountMismatch indicates the API returned fewer embedding vectors
// than requested. This is retryable because transient upstream issues (e.g.
// rate-limiting behind a 200 status) can produce partial responses.
var errEmbeddingCountMismatch = errors.New("embedding response count mismatch")

// errUpstreamProviderFailure indicates the API returned HTTP 200 but the
// response body contained an error instead of embedding data. This happens
// with routing providers like OpenRouter when all upstream providers fail.
// The response has zero data, zero usage, and an empty model — retrying
// is futile because the upstream provider is down, not transiently overloaded.
var errUpstreamProviderFailure = errors.New("upstream provider failure")

// OpenAIProvider implements both text generation and embedding using OpenAI API.
type OpenAIProvider struct {
	client             *openai.Client
	chatModel          string
	embeddingModel     string
	maxRetries         int
	initialDelay       time.Duration
	backoffFactor      float64
	supportsText       bool
	supportsEmbedding  bool
	embeddingMaxTokens int
	logger             *slog.Logger
}

// OpenAIOption is a functional option for OpenAIProvider.
type OpenAIOption func(*OpenAIProvider)

// WithChatModel sets the chat completion model.
func WithChatModel(model string) OpenAIOption {
	return func(p *OpenAIProvider) {
		p.chatModel = model
		p.supportsText = true
	}
}

// WithEmbeddingModel sets the embedding model.
func WithEmbeddingModel(model string) OpenAIOption {
	return func(p *OpenAIProvider) {
		p.embeddingModel = model
		p.supportsEmbedding = true
	}
}

// WithMaxRetries sets the maximum retry count.
func WithMaxRetries(n int) OpenAIOption {
	return func(p *OpenAIProvider) { p.maxRetries = n }
}

// WithInitialDelay sets the initial retry delay.
func WithInitialDelay(d time.Duration) OpenAIOption {
	return func(p *OpenAIProvider) { p.initialDelay = d }
}

// WithBackoffFactor sets the backoff multiplier.
func WithBackoffFactor(f float64) OpenAIOption {
	return func(p *OpenAIProvider) { p.backoffFactor = f }
}

// WithEmbeddingMaxTokens sets the per-input token budget used to truncate
// embedding inputs before they reach the backend.
func WithEmbeddingMaxTokens(n int) OpenAIOption {
	return func(p *OpenAIProvider) { p.embeddingMaxTokens = n }
}

// WithLogger overrides the default slog logger.
func WithLogger(logger *slog.Logger) OpenAIOption {
	return func(p *OpenAIProvider) { p.logger = logger }
}

// NewOpenAIProvider creates a new OpenAI provider.
func NewOpenAIProvider(apiKey string, opts ...OpenAIOption) *OpenAIProvider {
	client := openai.NewClient(apiKey)

	p := &OpenAIProvider{
		client:             client,
		chatModel:          "gpt-4",
		embeddingModel:     "text-embedding-3-small",
		maxRetries:         5,
		initialDelay:       2 * time.Second,
		backoffFactor:      2.0,
		supportsText:       true,
		supportsEmbedding:  true,
		embeddingMaxTokens: DefaultEmbeddingMaxTokens,
		logger:             slog.Default(),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// DefaultEmbeddingMaxTokens bounds the per-input token budget used to
// truncate embedding inputs when the caller does not configure one.
const DefaultEmbeddingMaxTokens = 8000

// OpenAIConfig holds configuration for OpenAI provider.
type OpenAIConfig struct {
	APIKey             string
	BaseURL            string
	ChatModel          string
	EmbeddingModel     string
	Timeout            time.Duration
	MaxRetries         int
	InitialDelay       time.Duration
	BackoffFactor      float64
	EmbeddingMaxTokens int
	// HTTPClient, when set, is used as-is (e.g. wrapping a CachingTransport)
	// instead of the Timeout-derived default client.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewOpenAIProviderFromConfig creates a provider from configuration.
func NewOpenAIProviderFromConfig(cfg OpenAIConfig) *OpenAIProvider {
	config := openai.DefaultConfig(cfg.APIKey)

	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	switch {
	case cfg.HTTPClient != nil:
		config.HTTPClient = cfg.HTTPClient
	case cfg.Timeout > 0:
		config.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	client := openai.NewClientWithConfig(config)

	chatModel := cfg.ChatModel
	if chatModel == "" {
		chatModel = "gpt-4"
	}

	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = "text-embedding-3-small"
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 5
	}

	initialDelay := cfg.InitialDelay
	if initialDelay == 0 {
		initialDelay = 2 * time.Second
	}

	backoffFactor := cfg.BackoffFactor
	if backoffFactor == 0 {
		backoffFactor = 2.0
	}

	embeddingMaxTokens := cfg.EmbeddingMaxTokens
	if embeddingMaxTokens == 0 {
		embeddingMaxTokens = DefaultEmbeddingMaxTokens
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &OpenAIProvider{
		client:             client,
		chatModel:          chatModel,
		embeddingModel:     embeddingModel,
		maxRetries:         maxRetries,
		initialDelay:       initialDelay,
		backoffFactor:      backoffFactor,
		supportsText:       true,
		supportsEmbedding:  true,
		embeddingMaxTokens: embeddingMaxTokens,
		logger:             logger,
	}
}

// SupportsTextGeneration reports whether chat completion is enabled
// (true by default).
func (p *OpenAIProvider) SupportsTextGeneration() bool {
	return p.supportsText
}

// SupportsEmbedding reports whether embedding is enabled (true by
// default).
func (p *OpenAIProvider) SupportsEmbedding() bool {
	return p.supportsEmbedding
}

// Close is a no-op for the OpenAI provider.
func (p *OpenAIProvider) Close() error {
	return nil
}

// ChatCompletion generates a chat completion.
func (p *OpenAIProvider) ChatCompletion(ctx context.Context, req ChatCompletionRequest) (ChatCompletionResponse, error) {
	if !p.supportsText {
		return ChatCompletionResponse{}, ErrUnsupportedOperation
	}

	messages := make([]openai.ChatCompletionMessage, len(req.Messages()))
	for i, m := range req.Messages() {
		messages[i] = openai.ChatCompletionMessage{
			Role:    m.Role(),
			Content: m.Content(),
		}
	}

	openaiReq := openai.ChatCompletionRequest{
		Model:    p.chatModel,
		Messages: messages,
	}

	if req.MaxTokens() > 0 {
		openaiReq.MaxTokens = req.MaxTokens()
	}
	if req.Temperature() > 0 {
		openaiReq.Temperature = float32(req.Temperature())
	}

	var resp openai.ChatCompletionResponse
	var err error

	err = p.withRetry(ctx, func() error {
		resp, err = p.client.CreateChatCompletion(ctx, openaiReq)
		return err
	})

	if err != nil {
		return ChatCompletionResponse{}, p.wrapError("chat_completion", err)
	}

	if len(resp.Choices) == 0 {
		return ChatCompletionResponse{}, NewProviderError(
			"chat_completion", 0, "no choices in response", nil,
		)
	}

	usage := NewUsage(
		resp.Usage.PromptTokens,
		resp.Usage.CompletionTokens,
		resp.Usage.TotalTokens,
	)

	return NewChatCompletionResponse(
		resp.Choices[0].Message.Content,
		string(resp.Choices[0].FinishReason),
		usage,
	), nil
}

// Embed generates embeddings for the given texts in a single API call.
//
// Inputs are sanitized before anything reaches the backend: whitespace
// (including newlines) is trimmed and collapsed, each text is truncated to
// roughly embeddingMaxTokens tokens, and empty results are dropped. If
// nothing survives sanitization, Embed returns an empty response and no
// error, without making a network call.
func (p *OpenAIProvider) Embed(ctx context.Context, req EmbeddingRequest) (EmbeddingResponse, error) {
	if !p.supportsEmbedding {
		return EmbeddingResponse{}, ErrUnsupportedOperation
	}

	// Nothing to embed after sanitization is an empty result, not an
	// error — the caller decides whether an empty embedding set is a
	// problem (the query service treats it as a bad request).
	texts := p.sanitizeTexts(req.Texts())
	if len(texts) == 0 {
		return NewEmbeddingResponse(nil, Usage{}), nil
	}

	openaiReq := openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(p.embeddingModel),
		Input: texts,
	}

	var resp openai.EmbeddingResponse
	var err error

	err = p.withRetry(ctx, func() error {
		resp, err = p.client.CreateEmbeddings(ctx, openaiReq)
		if err != nil {
			return err
		}
		// Detect upstream provider failure: routing providers (e.g. OpenRouter)
		// return HTTP 200 with an error body that the go-openai library silently
		// parses as an empty response. When zero data comes back with zero usage
		// and no model, the upstream is down — not transiently overloaded.
		if len(resp.Data) == 0 && string(resp.Model) == "" && resp.Usage.TotalTokens == 0 {
			return fmt.Errorf(
				"%w: provider returned HTTP 200 with no embedding data, no model, and zero usage (upstream routing failure)",
				errUpstreamProviderFailure,
			)
		}
		if len(resp.Data) != len(texts) {
			return fmt.Errorf("%w: got %d vectors for %d texts", errEmbeddingCountMismatch, len(resp.Data), len(texts))
		}
		return nil
	})

	if err != nil {
		return EmbeddingResponse{}, p.wrapError("embedding", err)
	}

	embeddings := make([][]float64, len(resp.Data))
	for i, data := range resp.Data {
		embeddings[i] = make([]float64, len(data.Embedding))
		for j, v := range data.Embedding {
			embeddings[i][j] = float64(v)
		}
	}

	usage := NewUsage(resp.Usage.PromptTokens, 0, resp.Usage.TotalTokens)
	return NewEmbeddingResponse(embeddings, usage), nil
}

// sanitizeTexts trims and collapses whitespace in each text, truncates
// anything over the provider's token budget (approximated at charsPerToken
// characters per token), and drops entries that are empty afterward. A
// truncated input is logged at warn level rather than rejected outright.
func (p *OpenAIProvider) sanitizeTexts(texts []string) []string {
	maxTokens := p.embeddingMaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultEmbeddingMaxTokens
	}
	maxChars := maxTokens * charsPerToken

	sanitized := make([]string, 0, len(texts))
	for _, t := range texts {
		clean := collapseWhitespace.ReplaceAllString(strings.TrimSpace(t), " ")
		if clean == "" {
			continue
		}
		if len(clean) > maxChars {
			p.logger.Warn("truncating embedding input",
				"original_chars", len(clean), "max_chars", maxChars)
			cut := maxChars
			for cut > 0 && !utf8.RuneStart(clean[cut]) {
				cut--
			}
			clean = clean[:cut]
		}
		sanitized = append(sanitized, clean)
	}
	return sanitized
}

// withRetry executes fn with exponential backoff, retrying only errors
// isRetryable accepts. Grounded on the same cenkalti/backoff/v4 shape
// infrastructure/vectorstore.Store uses for its own retried calls —
// transport hiccups are retried here; job-level retries live at the
// queue layer, not in this client.
func (p *OpenAIProvider) withRetry(ctx context.Context, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.initialDelay
	b.Multiplier = p.backoffFactor

	bounded := backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.maxRetries)), ctx)

	var retried bool
	err := backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if !p.isRetryable(err) {
			return backoff.Permanent(err)
		}
		retried = true
		return err
	}, bounded)

	if err != nil && retried {
		return fmt.Errorf("max retries exceeded: %w", err)
	}
	return err
}

// isRetryable determines if an error should be retried.
func (p *OpenAIProvider) isRetryable(err error) bool {
	// Empty or partial embedding responses are retryable — upstream providers
	// can return 200 with no data under transient load conditions.
	if errors.Is(err, errEmbeddingCountMismatch) {
		return true
	}

	// HTTP client timeouts are retryable
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		// Network errors are retryable
		return true
	}

	return false
}

// wrapError wraps an OpenAI error into a ProviderError.
func (p *OpenAIProvider) wrapError(operation string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return NewProviderError(operation, apiErr.HTTPStatusCode, apiErr.Message, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return NewProviderError(operation, reqErr.HTTPStatusCode, reqErr.Error(), err)
	}

	return NewProviderError(operation, 0, err.Error(), err)
}

// Ensure OpenAIProvider implements the interfaces.
var (
	_ FullProvider  = (*OpenAIProvider)(nil)
	_ TextGenerator = (*OpenAIProvider)(nil)
	_ Embedder      = (*OpenAIProvider)(nil)
)
