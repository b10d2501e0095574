package search

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/lexscholar/lexscholar/internal/ai"
	"github.com/lexscholar/lexscholar/internal/ranker"
	"github.com/lexscholar/lexscholar/internal/store"
	"github.com/lexscholar/lexscholar/pkg/models"
)

// DefaultMinScore drops weak matches unless the caller asks otherwise.
const DefaultMinScore = 0.5

// Service runs the query workflow: embed the query, pull raw neighbors
// from the index, then filter/sort/label through the ranker.
type Service struct {
	Client ai.Client
	Store  store.DocumentStore
}

// NewService creates a search service over the given client and store.
func NewService(client ai.Client, st store.DocumentStore) *Service {
	return &Service{Client: client, Store: st}
}

// Opts shapes one query.
type Opts struct {
	TopK       int
	MinScore   float64
	DocumentID string // optional: search within one document
}

// Query returns ranked, labeled results for a user's question. An
// empty query yields an empty result set.
func (s *Service) Query(ctx context.Context, userID, q string, opt Opts) ([]models.RankedResult, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return []models.RankedResult{}, nil
	}
	if opt.TopK <= 0 {
		opt.TopK = 5
	}

	vec, err := s.Client.Embed(ctx, q)
	if err != nil {
		return nil, err
	}

	// Over-fetch so threshold filtering still leaves TopK candidates.
	raw, err := s.Store.SearchChunks(ctx, vec, opt.TopK*2, store.ChunkFilter{
		UserID:     userID,
		DocumentID: opt.DocumentID,
	})
	if err != nil {
		return nil, err
	}

	ranked := ranker.Rank(raw, ranker.Options{MinScore: opt.MinScore, TopK: opt.TopK})
	log.Debug().Str("user_id", userID).Int("raw", len(raw)).Int("ranked", len(ranked)).
		Msg("query served")
	return ranked, nil
}
