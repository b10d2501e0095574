// Package quiz generates practice questions from a user's documents
// and checks answers to the deterministic question types.
package quiz

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lexscholar/lexscholar/internal/ai"
	"github.com/lexscholar/lexscholar/pkg/models"
)

const systemPrompt = "You are an expert legal educator who creates high-quality practice questions to test comprehension and critical thinking."

// Question types the generator can ask for.
const (
	TypeMultipleChoice = "multiple_choice"
	TypeShortAnswer    = "short_answer"
	TypeTrueFalse      = "true_false"
)

// maxContextChars caps how much document text goes into the prompt.
const maxContextChars = 8000

// Question is one generated practice question. CorrectAnswer is the
// option key for multiple choice, "true"/"false" for true/false, and a
// model answer for short answer.
type Question struct {
	ID            int               `json:"id"`
	Type          string            `json:"type"`
	Question      string            `json:"question"`
	Options       map[string]string `json:"options,omitempty"`
	CorrectAnswer string            `json:"correct_answer"`
	Explanation   string            `json:"explanation"`
	Difficulty    string            `json:"difficulty"`
	Topic         string            `json:"topic,omitempty"`
}

// Set is one generated batch of questions.
type Set struct {
	Questions   []Question `json:"questions"`
	Difficulty  string     `json:"difficulty"`
	FocusArea   string     `json:"focus_area,omitempty"`
	GeneratedAt time.Time  `json:"generated_at"`
}

// Request shapes a generation call.
type Request struct {
	Count      int
	Types      []string
	Difficulty string
	FocusArea  string
}

// Service generates and checks practice questions.
type Service struct {
	Client ai.Client
}

func NewService(client ai.Client) *Service {
	return &Service{Client: client}
}

// Generate builds questions from the given retrieval results. The model
// must return a JSON array; anything unparseable is a provider failure.
func (s *Service) Generate(ctx context.Context, chunks []models.RankedResult, req Request) (Set, error) {
	if len(chunks) == 0 {
		return Set{}, fmt.Errorf("no document content to generate questions from")
	}
	if req.Count <= 0 {
		req.Count = 5
	}
	if len(req.Types) == 0 {
		req.Types = []string{TypeMultipleChoice, TypeShortAnswer, TypeTrueFalse}
	}
	if req.Difficulty == "" {
		req.Difficulty = "medium"
	}

	prompt := buildPrompt(prepareContext(chunks), chunks[0].Chunk.Filename, req)

	log.Debug().Int("count", req.Count).Str("difficulty", req.Difficulty).
		Msg("generating practice questions")

	text, err := s.Client.Complete(ctx, systemPrompt, prompt, ai.CompletionOpts{
		Temperature: 0.7,
		MaxTokens:   3000,
	})
	if err != nil {
		return Set{}, err
	}

	questions, err := ParseQuestions(text)
	if err != nil {
		return Set{}, err
	}

	return Set{
		Questions:   questions,
		Difficulty:  req.Difficulty,
		FocusArea:   req.FocusArea,
		GeneratedAt: time.Now().UTC(),
	}, nil
}

// CheckAnswer grades the deterministic question types. Short-answer
// questions have no mechanical grading; callers get ok=false for them.
func CheckAnswer(q Question, answer string) (correct bool, ok bool) {
	switch q.Type {
	case TypeMultipleChoice, TypeTrueFalse:
		return strings.EqualFold(strings.TrimSpace(answer), q.CorrectAnswer), true
	default:
		return false, false
	}
}

// prepareContext concatenates chunk texts in document order up to the
// context cap.
func prepareContext(chunks []models.RankedResult) string {
	ordered := make([]models.RankedResult, len(chunks))
	copy(ordered, chunks)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Chunk.Index < ordered[j].Chunk.Index
	})

	var parts []string
	total := 0
	for _, c := range ordered {
		text := c.Chunk.Text
		if total+len(text) > maxContextChars {
			remaining := maxContextChars - total
			if remaining > 100 {
				parts = append(parts, text[:remaining])
			}
			break
		}
		parts = append(parts, text)
		total += len(text)
	}
	return strings.Join(parts, "\n\n")
}

func buildPrompt(context, documentName string, req Request) string {
	var types []string
	for _, t := range req.Types {
		switch t {
		case TypeMultipleChoice:
			types = append(types, "- Multiple Choice: 4 options (A, B, C, D) with one correct answer")
		case TypeShortAnswer:
			types = append(types, "- Short Answer: Questions requiring 2-3 sentence answers")
		case TypeTrueFalse:
			types = append(types, "- True/False: Statement-based questions")
		}
	}

	focus := ""
	if req.FocusArea != "" {
		focus = "\nFocus specifically on: " + req.FocusArea
	}

	return fmt.Sprintf(`Based on the following legal document content, generate %d high-quality practice questions to test understanding.

DOCUMENT: %s

CONTENT:
%s

REQUIREMENTS:
1. Generate %d questions distributed across these types:
%s

2. Difficulty Level: %s
   - Easy: Test basic comprehension and recall
   - Medium: Test understanding and application
   - Hard: Test analysis, synthesis, and critical thinking

3. Question Quality:
   - Questions must be directly answerable from the provided content
   - Be specific and clear
   - Avoid ambiguous wording
   - For multiple choice, make distractors plausible but clearly incorrect
   - Test important concepts, not trivial details%s

OUTPUT FORMAT: a JSON array of objects with fields id, type, question,
options (multiple choice only, keys A-D), correct_answer, explanation,
difficulty, topic. correct_answer is the option key for multiple
choice, "true" or "false" for true/false, and a model answer for short
answer.

Generate the questions now as valid JSON:`,
		req.Count, documentName, context, req.Count,
		strings.Join(types, "\n"), strings.ToUpper(req.Difficulty), focus)
}

// ParseQuestions decodes the model's JSON output, tolerating markdown
// code fences, and drops questions missing required fields. Output
// that cannot be decoded at all is an ErrProvider.
func ParseQuestions(text string) ([]Question, error) {
	text = stripCodeFence(text)

	var raw []Question
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("%w: questions are not valid JSON: %v", ai.ErrProvider, err)
	}

	var out []Question
	for _, q := range raw {
		if !validQuestion(q) {
			log.Warn().Int("id", q.ID).Str("type", q.Type).Msg("dropping malformed question")
			continue
		}
		out = append(out, q)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no valid questions in response", ai.ErrProvider)
	}
	return out, nil
}

func validQuestion(q Question) bool {
	if q.Question == "" || q.CorrectAnswer == "" || q.Explanation == "" {
		return false
	}
	switch q.Type {
	case TypeMultipleChoice:
		return len(q.Options) == 4
	case TypeShortAnswer, TypeTrueFalse:
		return true
	}
	return false
}

func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	if idx := strings.Index(text, "\n"); idx >= 0 {
		text = text[idx+1:]
	}
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}
