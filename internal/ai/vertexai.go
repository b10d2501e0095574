package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

type VertexAIClient struct {
	config *ClientConfig
	client *genai.Client
}

// NewVertexAIClient creates a client for the Gemini API on Vertex AI.
func NewVertexAIClient(ctx context.Context, config *ClientConfig) (*VertexAIClient, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}

	if config.EmbedModel == "" {
		config.EmbedModel = "text-embedding-005"
	}
	if config.ChatModel == "" {
		config.ChatModel = "gemini-2.0-flash"
	}
	if config.Dim == 0 {
		config.Dim = 768
	}
	if config.Location == "" && strings.TrimSpace(config.APIKey) == "" {
		config.Location = "us-central1"
	}

	cc := genai.ClientConfig{
		Backend: genai.BackendVertexAI,
	}
	if strings.TrimSpace(config.APIKey) != "" {
		cc.APIKey = config.APIKey
	}
	if strings.TrimSpace(config.ProjectID) != "" {
		cc.Project = config.ProjectID
	}
	if strings.TrimSpace(config.Location) != "" {
		cc.Location = config.Location
	}

	client, err := genai.NewClient(ctx, &cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &VertexAIClient{config: config, client: client}, nil
}

func (c *VertexAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *VertexAIClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.Text(t)[0]
	}

	cfg := genai.EmbedContentConfig{TaskType: "RETRIEVAL_DOCUMENT"}
	res, err := c.client.Models.EmbedContent(ctx, c.config.EmbedModel, contents, &cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding: %v", ErrProvider, err)
	}
	if res == nil || len(res.Embeddings) != len(texts) {
		got := 0
		if res != nil {
			got = len(res.Embeddings)
		}
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", ErrProvider, got, len(texts))
	}

	vecs := make([][]float32, len(texts))
	for i, e := range res.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, fmt.Errorf("%w: empty embedding at index %d", ErrProvider, i)
		}
		vecs[i] = e.Values
	}
	return vecs, nil
}

func (c *VertexAIClient) Complete(ctx context.Context, system, prompt string, opts CompletionOpts) (string, error) {
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 1000
	}

	temp := opts.Temperature
	cfg := genai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: int32(opts.MaxTokens),
	}
	if system != "" {
		cfg.SystemInstruction = genai.Text(system)[0]
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.config.ChatModel, genai.Text(prompt), &cfg)
	if err != nil {
		return "", fmt.Errorf("%w: completion: %v", ErrProvider, err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: completion returned no candidates", ErrProvider)
	}

	return strings.TrimSpace(resp.Candidates[0].Content.Parts[0].Text), nil
}

func (c *VertexAIClient) Dim() int {
	return c.config.Dim
}
