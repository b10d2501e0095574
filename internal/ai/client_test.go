package ai

import (
	"context"
	"reflect"
	"testing"
)

func TestNewClientProviders(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		config  *ClientConfig
		wantErr bool
	}{
		{name: "nil config", config: nil, wantErr: true},
		{name: "stub", config: &ClientConfig{Provider: ProviderStub}},
		{name: "openai", config: &ClientConfig{Provider: ProviderOpenAI, APIKey: "sk-test"}},
		{name: "unsupported", config: &ClientConfig{Provider: "llamafarm"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(ctx, tt.config)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewClient failed: %v", err)
			}
			if c == nil {
				t.Fatal("expected a client")
			}
		})
	}
}

func TestStubClientDeterministic(t *testing.T) {
	ctx := context.Background()
	s := NewStubClient(16)

	a, err := s.Embed(ctx, "res ipsa loquitur")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	b, err := s.Embed(ctx, "res ipsa loquitur")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Error("same input must produce the same vector")
	}

	c, err := s.Embed(ctx, "mens rea")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if reflect.DeepEqual(a, c) {
		t.Error("different inputs should produce different vectors")
	}

	if len(a) != 16 || s.Dim() != 16 {
		t.Errorf("expected dim 16, got len=%d dim=%d", len(a), s.Dim())
	}
	for _, v := range a {
		if v < 0 || v >= 1 {
			t.Errorf("vector component %v outside [0,1)", v)
		}
	}
}

func TestStubClientDimDefault(t *testing.T) {
	s := NewStubClient(0)
	if s.Dim() != 8 {
		t.Errorf("expected default dim 8, got %d", s.Dim())
	}
}

func TestStubClientEmbedBatch(t *testing.T) {
	ctx := context.Background()
	s := NewStubClient(8)

	texts := []string{"one", "two", "three"}
	vecs, err := s.EmbedBatch(ctx, texts)
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("expected %d vectors, got %d", len(texts), len(vecs))
	}

	// Batch output matches single-call output element for element.
	for i, txt := range texts {
		single, _ := s.Embed(ctx, txt)
		if !reflect.DeepEqual(vecs[i], single) {
			t.Errorf("batch vector %d differs from single embed", i)
		}
	}
}
