package quiz

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/lexscholar/lexscholar/internal/ai"
	"github.com/lexscholar/lexscholar/pkg/models"
)

func init() {
	// Suppress logs during testing
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

// MockAIClient implements ai.Client for testing
type MockAIClient struct {
	CompleteFunc func(ctx context.Context, system, prompt string, opts ai.CompletionOpts) (string, error)
}

func (m *MockAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1}, nil
}

func (m *MockAIClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return make([][]float32, len(texts)), nil
}

func (m *MockAIClient) Complete(ctx context.Context, system, prompt string, opts ai.CompletionOpts) (string, error) {
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, system, prompt, opts)
	}
	return "[]", nil
}

func (m *MockAIClient) Dim() int { return 1 }

func ranked(index int, filename, text string) models.RankedResult {
	return models.RankedResult{
		SearchResult: models.SearchResult{
			Chunk: models.Chunk{
				ID:       "c",
				Index:    index,
				Filename: filename,
				Text:     text,
			},
			Score: 0.8,
		},
	}
}

const validJSON = `[
  {
    "id": 1,
    "type": "multiple_choice",
    "question": "Which element is NOT required for negligence?",
    "options": {"A": "Duty", "B": "Breach", "C": "Intent", "D": "Damages"},
    "correct_answer": "C",
    "explanation": "Negligence requires duty, breach, causation, and damages.",
    "difficulty": "medium",
    "topic": "torts"
  },
  {
    "id": 2,
    "type": "true_false",
    "question": "Strict liability requires proof of fault.",
    "correct_answer": "false",
    "explanation": "Strict liability applies regardless of fault.",
    "difficulty": "easy"
  }
]`

func TestGenerate(t *testing.T) {
	var gotPrompt string
	var gotOpts ai.CompletionOpts
	client := &MockAIClient{
		CompleteFunc: func(ctx context.Context, system, prompt string, opts ai.CompletionOpts) (string, error) {
			gotPrompt = prompt
			gotOpts = opts
			return validJSON, nil
		},
	}

	svc := NewService(client)
	set, err := svc.Generate(context.Background(), []models.RankedResult{
		ranked(0, "torts.pdf", "Negligence requires duty, breach, causation, damages."),
	}, Request{Count: 2, Difficulty: "medium", FocusArea: "negligence"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if len(set.Questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(set.Questions))
	}
	if set.Difficulty != "medium" || set.FocusArea != "negligence" {
		t.Errorf("unexpected set metadata: %+v", set)
	}
	if !strings.Contains(gotPrompt, "torts.pdf") {
		t.Error("prompt is missing the document name")
	}
	if !strings.Contains(gotPrompt, "Focus specifically on: negligence") {
		t.Error("prompt is missing the focus area")
	}
	if gotOpts.Temperature != 0.7 || gotOpts.MaxTokens != 3000 {
		t.Errorf("unexpected completion opts: %+v", gotOpts)
	}
}

func TestGenerateDefaults(t *testing.T) {
	var gotPrompt string
	client := &MockAIClient{
		CompleteFunc: func(ctx context.Context, system, prompt string, opts ai.CompletionOpts) (string, error) {
			gotPrompt = prompt
			return validJSON, nil
		},
	}

	svc := NewService(client)
	set, err := svc.Generate(context.Background(), []models.RankedResult{
		ranked(0, "torts.pdf", "content"),
	}, Request{})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if set.Difficulty != "medium" {
		t.Errorf("expected default difficulty medium, got %q", set.Difficulty)
	}
	if !strings.Contains(gotPrompt, "generate 5 high-quality practice questions") {
		t.Error("expected default count of 5 in prompt")
	}
	for _, want := range []string{"Multiple Choice", "Short Answer", "True/False"} {
		if !strings.Contains(gotPrompt, want) {
			t.Errorf("prompt is missing default type %q", want)
		}
	}
}

func TestGenerateNoContent(t *testing.T) {
	svc := NewService(&MockAIClient{})
	if _, err := svc.Generate(context.Background(), nil, Request{}); err == nil {
		t.Error("expected error with no chunks")
	}
}

func TestParseQuestionsCodeFence(t *testing.T) {
	fenced := "```json\n" + validJSON + "\n```"
	qs, err := ParseQuestions(fenced)
	if err != nil {
		t.Fatalf("ParseQuestions failed: %v", err)
	}
	if len(qs) != 2 {
		t.Errorf("expected 2 questions, got %d", len(qs))
	}
}

func TestParseQuestionsMalformed(t *testing.T) {
	_, err := ParseQuestions("I'm sorry, I can't produce JSON today.")
	if !errors.Is(err, ai.ErrProvider) {
		t.Errorf("expected ErrProvider, got %v", err)
	}
}

func TestParseQuestionsDropsInvalid(t *testing.T) {
	mixed := `[
	  {"id":1,"type":"true_false","question":"Q?","correct_answer":"true","explanation":"E."},
	  {"id":2,"type":"multiple_choice","question":"Q?","options":{"A":"a","B":"b"},"correct_answer":"A","explanation":"E."},
	  {"id":3,"type":"short_answer","question":"","correct_answer":"x","explanation":"E."}
	]`
	qs, err := ParseQuestions(mixed)
	if err != nil {
		t.Fatalf("ParseQuestions failed: %v", err)
	}
	// The two-option multiple choice and the empty question are dropped.
	if len(qs) != 1 || qs[0].ID != 1 {
		t.Errorf("expected only question 1 to survive, got %+v", qs)
	}
}

func TestParseQuestionsAllInvalid(t *testing.T) {
	_, err := ParseQuestions(`[{"id":1,"type":"essay","question":"Q?","correct_answer":"x","explanation":"E."}]`)
	if !errors.Is(err, ai.ErrProvider) {
		t.Errorf("expected ErrProvider when nothing survives, got %v", err)
	}
}

func TestCheckAnswer(t *testing.T) {
	mc := Question{Type: TypeMultipleChoice, CorrectAnswer: "C"}
	tf := Question{Type: TypeTrueFalse, CorrectAnswer: "false"}
	sa := Question{Type: TypeShortAnswer, CorrectAnswer: "a model answer"}

	tests := []struct {
		name        string
		q           Question
		answer      string
		wantCorrect bool
		wantOK      bool
	}{
		{"mc correct", mc, "c", true, true},
		{"mc wrong", mc, "A", false, true},
		{"mc padded", mc, " C ", true, true},
		{"tf correct", tf, "FALSE", true, true},
		{"tf wrong", tf, "true", false, true},
		{"short answer ungradable", sa, "anything", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			correct, ok := CheckAnswer(tt.q, tt.answer)
			if correct != tt.wantCorrect || ok != tt.wantOK {
				t.Errorf("CheckAnswer = (%v, %v), want (%v, %v)",
					correct, ok, tt.wantCorrect, tt.wantOK)
			}
		})
	}
}

func TestPrepareContextOrdersAndCaps(t *testing.T) {
	// Out of retrieval order; context must follow document order.
	chunks := []models.RankedResult{
		ranked(2, "a.txt", "THIRD"),
		ranked(0, "a.txt", "FIRST"),
		ranked(1, "a.txt", "SECOND"),
	}

	got := prepareContext(chunks)
	if got != "FIRST\n\nSECOND\n\nTHIRD" {
		t.Errorf("unexpected context order: %q", got)
	}

	big := []models.RankedResult{
		ranked(0, "a.txt", strings.Repeat("x", maxContextChars)),
		ranked(1, "a.txt", strings.Repeat("y", 500)),
	}
	capped := prepareContext(big)
	if len(capped) > maxContextChars {
		t.Errorf("context exceeds cap: %d chars", len(capped))
	}
	if strings.Contains(capped, "y") {
		t.Error("overflow chunk should have been cut")
	}
}
