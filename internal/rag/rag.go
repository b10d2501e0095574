// Package rag generates grounded answers: retrieved chunks become the
// prompt context, the model answers with [Source N] citations, and the
// citations are resolved back to chunk metadata.
package rag

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lexscholar/lexscholar/internal/ai"
	"github.com/lexscholar/lexscholar/pkg/models"
)

// Mode selects the prompt template.
type Mode string

const (
	ModeQA             Mode = "qa"
	ModeSummary        Mode = "summary"
	ModeConversational Mode = "conversational"
)

const systemPrompt = "You are a helpful research assistant that provides accurate answers based on provided documents."

// Message is one turn of prior conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Citation is a resolved [Source N] reference.
type Citation struct {
	SourceNumber int     `json:"source_number"`
	DocumentID   string  `json:"document_id"`
	Filename     string  `json:"filename"`
	Title        string  `json:"title,omitempty"`
	ChunkID      string  `json:"chunk_id"`
	TextPreview  string  `json:"text_preview"`
	Score        float64 `json:"relevance_score"`
}

// Answer is the full response of one generation call.
type Answer struct {
	Success    bool       `json:"success"`
	Answer     string     `json:"answer"`
	Citations  []Citation `json:"citations"`
	ChunksUsed int        `json:"context_chunks_used"`
	Mode       Mode       `json:"mode"`
	Timestamp  time.Time  `json:"timestamp"`
}

// Service generates answers from ranked retrieval results.
type Service struct {
	Client ai.Client
}

func NewService(client ai.Client) *Service {
	return &Service{Client: client}
}

// Generate answers a query from the given context chunks. With no
// chunks it returns a canned "nothing relevant" answer rather than
// calling the model.
func (s *Service) Generate(ctx context.Context, query string, chunks []models.RankedResult, mode Mode, history []Message) (Answer, error) {
	if len(chunks) == 0 {
		return Answer{
			Success:   false,
			Answer:    "I don't have any relevant information in your documents to answer this question. Please upload documents related to your query.",
			Citations: []Citation{},
			Mode:      mode,
			Timestamp: time.Now().UTC(),
		}, nil
	}

	var prompt string
	switch mode {
	case ModeSummary:
		prompt = summaryPrompt(chunks)
	case ModeConversational:
		prompt = conversationalPrompt(query, chunks, history)
	default:
		mode = ModeQA
		prompt = qaPrompt(query, chunks)
	}

	log.Debug().Str("mode", string(mode)).Int("chunks", len(chunks)).Msg("generating answer")

	text, err := s.Client.Complete(ctx, systemPrompt, prompt, ai.CompletionOpts{
		Temperature: 0.3,
		MaxTokens:   1000,
	})
	if err != nil {
		return Answer{}, err
	}

	return Answer{
		Success:    true,
		Answer:     text,
		Citations:  ExtractCitations(text, chunks),
		ChunksUsed: len(chunks),
		Mode:       mode,
		Timestamp:  time.Now().UTC(),
	}, nil
}

// FollowUps suggests up to three follow-up questions for a finished
// Q&A exchange. Failures degrade to an empty list.
func (s *Service) FollowUps(ctx context.Context, query, answer string) []string {
	prompt := fmt.Sprintf(`Based on this Q&A exchange, suggest 3 relevant follow-up questions the user might want to ask.
Questions should be specific, insightful, and help deepen understanding.

ORIGINAL QUESTION: %s

ANSWER: %s

Generate 3 follow-up questions (one per line, no numbering):`, query, answer)

	text, err := s.Client.Complete(ctx, "You are a helpful assistant that generates insightful follow-up questions.", prompt, ai.CompletionOpts{
		Temperature: 0.7,
		MaxTokens:   200,
	})
	if err != nil {
		log.Warn().Err(err).Msg("follow-up generation failed")
		return nil
	}

	var questions []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		questions = append(questions, line)
		if len(questions) == 3 {
			break
		}
	}
	return questions
}

func qaPrompt(query string, chunks []models.RankedResult) string {
	var b strings.Builder
	b.WriteString(`You are an intelligent research assistant helping users understand their documents.
Use ONLY the provided context to answer the question. Be precise, informative, and academic in tone.

IMPORTANT CITATION RULES:
1. When you reference information, cite the source number in brackets like [Source 1] or [Source 2]
2. Use multiple citations when combining information: [Source 1, 2]
3. If the context doesn't contain the answer, say "I cannot find this information in your documents"
4. Never make up information not present in the context

CONTEXT FROM USER'S DOCUMENTS:
`)
	writeSources(&b, chunks, 0)
	fmt.Fprintf(&b, "\nQUESTION: %s\n\nANSWER (with citations):", query)
	return b.String()
}

func summaryPrompt(chunks []models.RankedResult) string {
	var b strings.Builder
	b.WriteString(`Summarize the following content from the user's documents in a clear, structured way.

Provide:
1. Main Points (3-5 key takeaways)
2. Supporting Details
3. Conclusions or Implications

CONTENT:
`)
	for _, c := range chunks {
		b.WriteString(c.Chunk.Text)
		b.WriteString("\n\n")
	}
	b.WriteString("SUMMARY:")
	return b.String()
}

func conversationalPrompt(query string, chunks []models.RankedResult, history []Message) string {
	var b strings.Builder
	b.WriteString("You are a knowledgeable research assistant engaged in a conversation with a user about their documents.\n\nCONTEXT FROM DOCUMENTS:\n")
	// Conversational context is truncated per source to leave room
	// for history.
	writeSources(&b, chunks, 800)

	if len(history) > 0 {
		b.WriteString("\nPREVIOUS CONVERSATION:\n")
		start := len(history) - 3
		if start < 0 {
			start = 0
		}
		for _, m := range history[start:] {
			fmt.Fprintf(&b, "%s: %s\n", strings.ToUpper(m.Role), m.Content)
		}
	}

	fmt.Fprintf(&b, `
NEW QUESTION: %s

Provide a conversational, helpful response that:
1. Directly addresses the user's question
2. References specific information with citations [Source 1], [Source 2], etc.
3. Acknowledges the conversation history when relevant
4. Is clear, concise, and friendly

RESPONSE:`, query)
	return b.String()
}

func writeSources(b *strings.Builder, chunks []models.RankedResult, limit int) {
	for i, c := range chunks {
		name := c.Chunk.Filename
		if name == "" {
			name = "Unknown"
		}
		text := c.Chunk.Text
		if limit > 0 && len(text) > limit {
			text = text[:limit] + "..."
		}
		fmt.Fprintf(b, "\n[Source %d: %s]\n%s\n", i+1, name, text)
	}
}

var citationPattern = regexp.MustCompile(`\[Source (\d+(?:,\s*\d+)*)\]`)

// ExtractCitations finds [Source N] (and [Source N, M]) references in
// the answer and resolves them against the context chunks. Unknown
// source numbers are dropped.
func ExtractCitations(answer string, chunks []models.RankedResult) []Citation {
	cited := map[int]bool{}
	for _, m := range citationPattern.FindAllStringSubmatch(answer, -1) {
		for _, part := range strings.Split(m[1], ",") {
			if n, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
				cited[n] = true
			}
		}
	}

	nums := make([]int, 0, len(cited))
	for n := range cited {
		if n >= 1 && n <= len(chunks) {
			nums = append(nums, n)
		}
	}
	sort.Ints(nums)

	citations := make([]Citation, 0, len(nums))
	for _, n := range nums {
		c := chunks[n-1]
		preview := c.Chunk.Text
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		citations = append(citations, Citation{
			SourceNumber: n,
			DocumentID:   c.Chunk.DocumentID,
			Filename:     c.Chunk.Filename,
			Title:        c.Chunk.Title,
			ChunkID:      c.Chunk.ID,
			TextPreview:  preview,
			Score:        c.Score,
		})
	}
	return citations
}
