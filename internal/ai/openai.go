package ai

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

const openAIBaseURL = "https://api.openai.com/v1"

type OpenAIClient struct {
	config  *ClientConfig
	http    *http.Client
	baseURL string
}

func NewOpenAIClient(config *ClientConfig) *OpenAIClient {
	if config.EmbedModel == "" {
		config.EmbedModel = "text-embedding-3-small"
	}
	if config.ChatModel == "" {
		config.ChatModel = "gpt-4o-mini"
	}
	if config.Dim == 0 {
		switch config.EmbedModel {
		case "text-embedding-3-large":
			config.Dim = 3072
		default:
			// text-embedding-3-small and ada-002 are both 1536.
			config.Dim = 1536
		}
	}

	transport := &http.Transport{}
	// Corporate proxies sometimes re-sign TLS; allow opting out.
	if skipTLS, _ := strconv.ParseBool(os.Getenv("LEXSCHOLAR_SKIP_TLS_VERIFY")); skipTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &OpenAIClient{
		config: config,
		http: &http.Client{
			Timeout:   60 * time.Second,
			Transport: transport,
		},
		baseURL: openAIBaseURL,
	}
}

func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch sends one embeddings request for the whole slice. OpenAI
// returns data entries with an index field; they are re-ordered by it
// so the output always matches the input order.
func (c *OpenAIClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if c.config.APIKey == "" {
		return nil, fmt.Errorf("%w: api key unset", ErrProvider)
	}
	if len(texts) == 0 {
		return nil, nil
	}

	payload := map[string]any{
		"input": texts,
		"model": c.config.EmbedModel,
	}
	b, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: embeddings returned %s", ErrProvider, resp.Status)
	}

	var out struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode embeddings: %v", ErrProvider, err)
	}
	if len(out.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", ErrProvider, len(out.Data), len(texts))
	}

	vecs := make([][]float32, len(texts))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("%w: embedding index %d out of range", ErrProvider, d.Index)
		}
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("%w: empty embedding at index %d", ErrProvider, d.Index)
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}

func (c *OpenAIClient) Complete(ctx context.Context, system, prompt string, opts CompletionOpts) (string, error) {
	if c.config.APIKey == "" {
		return "", fmt.Errorf("%w: api key unset", ErrProvider)
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 1000
	}

	payload := map[string]any{
		"model": c.config.ChatModel,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": prompt},
		},
		"temperature": opts.Temperature,
		"max_tokens":  opts.MaxTokens,
	}

	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", &buf)
	if err != nil {
		return "", err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error.Message != "" {
			return "", fmt.Errorf("%w: %s", ErrProvider, e.Error.Message)
		}
		return "", fmt.Errorf("%w: %s", ErrProvider, resp.Status)
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode completion: %v", ErrProvider, err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%w: completion returned no choices", ErrProvider)
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

func (c *OpenAIClient) Dim() int {
	return c.config.Dim
}

func (c *OpenAIClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	if strings.HasPrefix(c.config.APIKey, "sk-proj-") && c.config.ProjectID != "" {
		req.Header.Set("OpenAI-Project", c.config.ProjectID)
	}
}
