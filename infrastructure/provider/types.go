package provider

import (
	"context"
	"errors"
)

// Common provider errors.
var (
	// ErrUnsupportedOperation indicates the provider doesn't support the
	// requested operation.
	ErrUnsupportedOperation = errors.New("operation not supported by this provider")

	// ErrRateLimited indicates the provider rate limited the request.
	ErrRateLimited = errors.New("rate limited")

	// ErrContextTooLong indicates the input exceeded the context window.
	ErrContextTooLong = errors.New("context too long")
)

// Message is one chat turn.
type Message struct {
	role    string
	content string
}

// NewMessage creates a Message.
func NewMessage(role, content string) Message {
	return Message{role: role, content: content}
}

// Role returns the message role ("system", "user", "assistant").
func (m Message) Role() string { return m.role }

// Content returns the message content.
func (m Message) Content() string { return m.content }

// SystemMessage creates a system-role Message.
func SystemMessage(content string) Message { return NewMessage("system", content) }

// UserMessage creates a user-role Message.
func UserMessage(content string) Message { return NewMessage("user", content) }

// AssistantMessage creates an assistant-role Message.
func AssistantMessage(content string) Message { return NewMessage("assistant", content) }

// ChatCompletionRequest is a text generation request.
type ChatCompletionRequest struct {
	messages    []Message
	maxTokens   int
	temperature float64
}

// NewChatCompletionRequest creates a ChatCompletionRequest from messages.
func NewChatCompletionRequest(messages []Message) ChatCompletionRequest {
	msgs := make([]Message, len(messages))
	copy(msgs, messages)
	return ChatCompletionRequest{messages: msgs}
}

// WithMaxTokens returns a copy of r with maxTokens set.
func (r ChatCompletionRequest) WithMaxTokens(n int) ChatCompletionRequest {
	r.maxTokens = n
	return r
}

// WithTemperature returns a copy of r with temperature set.
func (r ChatCompletionRequest) WithTemperature(t float64) ChatCompletionRequest {
	r.temperature = t
	return r
}

// Messages returns the request's chat turns.
func (r ChatCompletionRequest) Messages() []Message {
	msgs := make([]Message, len(r.messages))
	copy(msgs, r.messages)
	return msgs
}

// MaxTokens returns the requested completion token cap, or 0 for the
// provider default.
func (r ChatCompletionRequest) MaxTokens() int { return r.maxTokens }

// Temperature returns the requested sampling temperature, or 0 for the
// provider default.
func (r ChatCompletionRequest) Temperature() float64 { return r.temperature }

// ChatCompletionResponse is a text generation result.
type ChatCompletionResponse struct {
	content      string
	finishReason string
	usage        Usage
}

// NewChatCompletionResponse creates a ChatCompletionResponse.
func NewChatCompletionResponse(content, finishReason string, usage Usage) ChatCompletionResponse {
	return ChatCompletionResponse{content: content, finishReason: finishReason, usage: usage}
}

// Content returns the generated text.
func (r ChatCompletionResponse) Content() string { return r.content }

// FinishReason returns why generation stopped.
func (r ChatCompletionResponse) FinishReason() string { return r.finishReason }

// Usage returns token usage for the request.
func (r ChatCompletionResponse) Usage() Usage { return r.usage }

// Usage carries token accounting for a single provider call.
type Usage struct {
	promptTokens     int
	completionTokens int
	totalTokens      int
}

// NewUsage creates a Usage.
func NewUsage(prompt, completion, total int) Usage {
	return Usage{promptTokens: prompt, completionTokens: completion, totalTokens: total}
}

// PromptTokens returns the number of prompt tokens billed.
func (u Usage) PromptTokens() int { return u.promptTokens }

// CompletionTokens returns the number of completion tokens billed.
func (u Usage) CompletionTokens() int { return u.completionTokens }

// TotalTokens returns the total tokens billed.
func (u Usage) TotalTokens() int { return u.totalTokens }

// EmbeddingRequest is a batch embedding request.
type EmbeddingRequest struct {
	texts []string
}

// NewEmbeddingRequest creates an EmbeddingRequest over texts.
func NewEmbeddingRequest(texts []string) EmbeddingRequest {
	t := make([]string, len(texts))
	copy(t, texts)
	return EmbeddingRequest{texts: t}
}

// Texts returns the texts to embed, in request order.
func (r EmbeddingRequest) Texts() []string {
	t := make([]string, len(r.texts))
	copy(t, r.texts)
	return t
}

// EmbeddingResponse is a batch embedding result, index-aligned with the
// request's texts.
type EmbeddingResponse struct {
	embeddings [][]float64
	usage      Usage
}

// NewEmbeddingResponse creates an EmbeddingResponse.
func NewEmbeddingResponse(embeddings [][]float64, usage Usage) EmbeddingResponse {
	embs := make([][]float64, len(embeddings))
	for i, e := range embeddings {
		embs[i] = make([]float64, len(e))
		copy(embs[i], e)
	}
	return EmbeddingResponse{embeddings: embs, usage: usage}
}

// Embeddings returns the embedding vectors, index-aligned with the
// request's texts.
func (r EmbeddingResponse) Embeddings() [][]float64 {
	embs := make([][]float64, len(r.embeddings))
	for i, e := range r.embeddings {
		embs[i] = make([]float64, len(e))
		copy(embs[i], e)
	}
	return embs
}

// Usage returns token usage for the request.
func (r EmbeddingResponse) Usage() Usage { return r.usage }

// TextGenerator generates chat completions.
type TextGenerator interface {
	ChatCompletion(ctx context.Context, req ChatCompletionRequest) (ChatCompletionResponse, error)
}

// Embedder generates embedding vectors for text.
type Embedder interface {
	Embed(ctx context.Context, req EmbeddingRequest) (EmbeddingResponse, error)
}

// Provider describes what capabilities a backing model provider offers.
type Provider interface {
	SupportsTextGeneration() bool
	SupportsEmbedding() bool
	Close() error
}

// FullProvider implements both text generation and embedding.
type FullProvider interface {
	Provider
	TextGenerator
	Embedder
}

// ProviderError wraps a failed provider call with the operation and HTTP
// status that produced it.
type ProviderError struct {
	operation  string
	statusCode int
	message    string
	cause      error
}

// NewProviderError creates a ProviderError.
func NewProviderError(operation string, statusCode int, message string, cause error) *ProviderError {
	return &ProviderError{operation: operation, statusCode: statusCode, message: message, cause: cause}
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

// Unwrap returns the underlying cause, if any.
func (e *ProviderError) Unwrap() error { return e.cause }

// Operation returns the provider operation that failed ("embedding",
// "chat_completion").
func (e *ProviderError) Operation() string { return e.operation }

// StatusCode returns the HTTP status code the provider returned, or 0.
func (e *ProviderError) StatusCode() int { return e.statusCode }

// Message returns the error message.
func (e *ProviderError) Message() string { return e.message }

// IsRateLimited reports whether the failure was an HTTP 429.
func (e *ProviderError) IsRateLimited() bool { return e.statusCode == 429 }
