package ai

import (
	"context"
	"testing"
)

func TestNewVertexAIClientConfiguration(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name           string
		config         *ClientConfig
		wantErr        bool
		wantEmbedModel string
		wantChatModel  string
		wantDim        int
	}{
		{
			name:    "nil config",
			config:  nil,
			wantErr: true,
		},
		{
			name:           "defaults",
			config:         &ClientConfig{APIKey: "test-api-key"},
			wantEmbedModel: "text-embedding-005",
			wantChatModel:  "gemini-2.0-flash",
			wantDim:        768,
		},
		{
			name: "all models specified",
			config: &ClientConfig{
				APIKey:     "test-api-key",
				EmbedModel: "custom-embed-model",
				ChatModel:  "custom-chat-model",
				Dim:        1024,
			},
			wantEmbedModel: "custom-embed-model",
			wantChatModel:  "custom-chat-model",
			wantDim:        1024,
		},
		{
			name: "empty chat model gets default",
			config: &ClientConfig{
				APIKey:     "test-api-key",
				EmbedModel: "custom-embed",
				Dim:        256,
			},
			wantEmbedModel: "custom-embed",
			wantChatModel:  "gemini-2.0-flash",
			wantDim:        256,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewVertexAIClient(ctx, tt.config)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewVertexAIClient failed: %v", err)
			}

			if c.config.EmbedModel != tt.wantEmbedModel {
				t.Errorf("expected embed model %q, got %q", tt.wantEmbedModel, c.config.EmbedModel)
			}
			if c.config.ChatModel != tt.wantChatModel {
				t.Errorf("expected chat model %q, got %q", tt.wantChatModel, c.config.ChatModel)
			}
			if c.Dim() != tt.wantDim {
				t.Errorf("expected dim %d, got %d", tt.wantDim, c.Dim())
			}
		})
	}
}
