// Package ranker turns raw nearest-neighbor hits into the filtered,
// ordered, labeled list the presentation layer shows. It is pure: no
// I/O, no error paths beyond what the inputs themselves carry.
package ranker

import (
	"sort"

	"github.com/lexscholar/lexscholar/pkg/models"
)

// Relevance buckets attached to surviving hits. The cutoffs are display
// tuning, not ranking inputs.
const (
	LabelHighlyRelevant = "highly relevant"
	LabelVeryRelevant   = "very relevant"
	LabelRelevant       = "relevant"
	LabelMaybeRelevant  = "may be relevant"
)

const (
	highCutoff     = 0.70
	veryCutoff     = 0.50
	relevantCutoff = 0.35
)

// Options controls one ranking pass.
type Options struct {
	// MinScore drops hits scoring below it. Cosine similarity on
	// normalized embeddings lives in [0,1].
	MinScore float64
	// TopK truncates the ranked list. Zero or negative means no limit.
	TopK int
}

// Rank filters hits below MinScore, orders the rest by descending
// score keeping the index's original order for ties, truncates to TopK,
// and attaches a relevance label to each survivor. Empty input returns
// an empty slice, never an error.
func Rank(hits []models.SearchResult, opt Options) []models.RankedResult {
	kept := make([]models.SearchResult, 0, len(hits))
	for _, h := range hits {
		if h.Score >= opt.MinScore {
			kept = append(kept, h)
		}
	}

	// Stable keeps the vector index's tie order intact.
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Score > kept[j].Score
	})

	if opt.TopK > 0 && len(kept) > opt.TopK {
		kept = kept[:opt.TopK]
	}

	out := make([]models.RankedResult, 0, len(kept))
	for _, h := range kept {
		out = append(out, models.RankedResult{
			SearchResult: h,
			Relevance:    Label(h.Score),
		})
	}
	return out
}

// Label maps a similarity score to its display bucket.
func Label(score float64) string {
	switch {
	case score >= highCutoff:
		return LabelHighlyRelevant
	case score >= veryCutoff:
		return LabelVeryRelevant
	case score >= relevantCutoff:
		return LabelRelevant
	default:
		return LabelMaybeRelevant
	}
}
