package ai

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
)

// ErrProvider marks failures at the external-provider boundary: a
// transport error, a non-2xx response, or a response whose shape does
// not match the request (wrong vector count, malformed payload).
// Callers treat it as fatal for the operation in flight.
var ErrProvider = errors.New("external provider failure")

// Client is everything the ingestion, search, and generation workflows
// need from a hosted model provider.
type Client interface {
	// Embed returns one fixed-length vector for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one vector per input text, order preserving.
	// A count mismatch from the provider is an ErrProvider.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Complete runs a chat completion with a system instruction.
	Complete(ctx context.Context, system, prompt string, opts CompletionOpts) (string, error)
	// Dim is the embedding dimensionality this client produces.
	Dim() int
}

// CompletionOpts tunes a single completion call.
type CompletionOpts struct {
	Temperature float32
	MaxTokens   int
}

// Provider is the enumeration of supported model providers.
type Provider string

const (
	ProviderOpenAI   Provider = "openai"
	ProviderVertexAI Provider = "vertexai"
	ProviderStub     Provider = "stub"
)

// ClientConfig holds provider selection and credentials.
type ClientConfig struct {
	Provider   Provider
	APIKey     string
	EmbedModel string
	ChatModel  string
	Dim        int
	ProjectID  string
	Location   string
}

// NewClient creates a model client for the configured provider.
func NewClient(ctx context.Context, config *ClientConfig) (Client, error) {
	if config == nil {
		return nil, errors.New("client config is required")
	}

	switch config.Provider {
	case ProviderOpenAI:
		return NewOpenAIClient(config), nil
	case ProviderVertexAI:
		return NewVertexAIClient(ctx, config)
	case ProviderStub:
		return NewStubClient(config.Dim), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %q", config.Provider)
	}
}

// StubClient produces deterministic fake vectors and canned
// completions. It exists for tests and for running the stack without
// credentials.
type StubClient struct {
	dim int
}

func NewStubClient(dim int) *StubClient {
	if dim <= 0 {
		dim = 8
	}
	return &StubClient{dim: dim}
}

// Embed hashes the text into a repeatable pseudo-vector so that equal
// inputs stay nearest neighbors of each other.
func (s *StubClient) Embed(ctx context.Context, text string) ([]float32, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum32()

	vec := make([]float32, s.dim)
	for i := range vec {
		seed = seed*1664525 + 1013904223
		vec[i] = float32(seed%1000) / 1000
	}
	return vec, nil
}

func (s *StubClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (s *StubClient) Complete(ctx context.Context, system, prompt string, opts CompletionOpts) (string, error) {
	return "stub completion", nil
}

func (s *StubClient) Dim() int {
	return s.dim
}
