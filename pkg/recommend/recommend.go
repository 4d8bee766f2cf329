// Package recommend picks a starting tier for a task from historical outcome patterns.
package recommend

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/pario-ai/ladder/pkg/apperr"
	"github.com/pario-ai/ladder/pkg/models"
)

const (
	hintConfidence   = 0.6
	noHintConfidence = 0.5
)

// Config holds fallback expectations per tier.
type Config struct {
	FallbackCost map[models.Tier]float64
}

// Request describes a task to recommend a tier for.
type Request struct {
	Description    string   `json:"description"`
	FilesAffected  []string `json:"files_affected,omitempty"`
	ComplexityHint *int     `json:"complexity_hint,omitempty"`
}

// Validate checks description, file entries and the complexity hint range.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Description) == "" {
		return apperr.Validation("description is required")
	}
	for i, f := range r.FilesAffected {
		if strings.TrimSpace(f) == "" {
			return apperr.Validation("files_affected[%d] is empty", i)
		}
	}
	if r.ComplexityHint != nil && (*r.ComplexityHint < 1 || *r.ComplexityHint > 10) {
		return apperr.Validation("complexity hint %d outside [1,10]", *r.ComplexityHint)
	}
	return nil
}

// Recommender is read-only after construction and safe for concurrent use.
type Recommender struct {
	corpus *Corpus
	cfg    Config
}

// New creates a Recommender over corpus. A nil corpus is treated as empty.
func New(corpus *Corpus, cfg Config) *Recommender {
	if corpus == nil {
		corpus = NewCorpus(nil)
	}
	return &Recommender{corpus: corpus, cfg: cfg}
}

// Stats reports the corpus behind the recommender.
func (r *Recommender) Stats() CorpusStats {
	return r.corpus.Stats()
}

type tierAggregate struct {
	count     int
	successes int
	cost      float64
	attempts  int
}

func (a tierAggregate) successRate() float64 { return float64(a.successes) / float64(a.count) }
func (a tierAggregate) avgCost() float64     { return a.cost / float64(a.count) }

// Recommend returns a starting tier for req. Invalid input is a validation
// error; a thin corpus is not an error and yields FallbackUsed.
func (r *Recommender) Recommend(req Request) (models.TierRecommendation, error) {
	if err := req.Validate(); err != nil {
		return models.TierRecommendation{}, err
	}

	bugType := Classify(req.Description)
	similar := r.similar(bugType, req.FilesAffected)
	if len(similar) == 0 {
		return r.fallback(bugType, req.ComplexityHint), nil
	}

	aggs := make(map[models.Tier]*tierAggregate)
	for _, p := range similar {
		a, ok := aggs[p.Tier]
		if !ok {
			a = &tierAggregate{}
			aggs[p.Tier] = a
		}
		a.count++
		a.cost += p.Cost
		a.attempts += p.Attempts
		if p.Success {
			a.successes++
		}
	}

	var (
		best    models.Tier
		bestAgg *tierAggregate
	)
	// Cheapest first, so on a full tie the cheaper tier is kept.
	for _, t := range models.AllTiers() {
		a, ok := aggs[t]
		if !ok {
			continue
		}
		if bestAgg == nil || a.successRate() > bestAgg.successRate() ||
			(a.successRate() == bestAgg.successRate() && a.avgCost() < bestAgg.avgCost()) {
			best, bestAgg = t, a
		}
	}

	return models.TierRecommendation{
		Tier:             best,
		Confidence:       float64(bestAgg.count) / float64(len(similar)),
		ExpectedCost:     bestAgg.avgCost(),
		ExpectedAttempts: float64(bestAgg.attempts) / float64(bestAgg.count),
		Reasoning: fmt.Sprintf("%d similar patterns (bug type %s); %s succeeded %.0f%% of %d at avg $%.4f",
			len(similar), bugType, best, bestAgg.successRate()*100, bestAgg.count, bestAgg.avgCost()),
		SimilarPatternCount: len(similar),
		BugType:             bugType,
	}, nil
}

// similar returns patterns sharing the bug type (unless unknown) or
// overlapping any of the files.
func (r *Recommender) similar(bugType string, files []string) []models.Pattern {
	var out []models.Pattern
	for _, p := range r.corpus.Patterns() {
		if (bugType != BugTypeUnknown && p.BugType == bugType) || filesOverlap(p.FilesAffected, files) {
			out = append(out, p)
		}
	}
	return out
}

// filesOverlap reports whether any pattern glob matches any requested path.
// Requested entries may themselves be globs, so matching is tried both ways.
func filesOverlap(globs, files []string) bool {
	for _, g := range globs {
		for _, f := range files {
			if g == f || match(g, f) || match(f, g) {
				return true
			}
		}
	}
	return false
}

func match(pattern, name string) bool {
	ok, err := doublestar.Match(pattern, name)
	return err == nil && ok
}

func (r *Recommender) fallback(bugType string, hint *int) models.TierRecommendation {
	rec := models.TierRecommendation{
		ExpectedAttempts: 1,
		FallbackUsed:     true,
		BugType:          bugType,
	}
	if hint == nil {
		rec.Tier = models.TierCheap
		rec.Confidence = noHintConfidence
		rec.Reasoning = "no similar patterns and no complexity hint; defaulting to cheap"
	} else {
		rec.Tier = TierForComplexity(*hint)
		rec.Confidence = hintConfidence
		rec.Reasoning = fmt.Sprintf("no similar patterns; complexity %d maps to %s", *hint, rec.Tier)
	}
	rec.ExpectedCost = r.cfg.FallbackCost[rec.Tier]
	return rec
}

// TierForComplexity maps a 1-10 complexity hint to a tier.
func TierForComplexity(hint int) models.Tier {
	switch {
	case hint <= 3:
		return models.TierCheap
	case hint <= 7:
		return models.TierCapable
	default:
		return models.TierPremium
	}
}
