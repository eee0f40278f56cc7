// Package retrieval merges vector and keyword search into one ranked result
// set. Both arms run in parallel under a hard wall-clock budget; retrieval
// degrades to empty rather than delaying the chat request it serves.
package retrieval

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dreamhive/memgate/internal/rerank"
	"github.com/dreamhive/memgate/internal/store"
	"github.com/dreamhive/memgate/pkg/models"
)

const (
	// searchBudget bounds the whole hybrid operation.
	searchBudget = 3 * time.Second
	// maxExpandedTerms caps how many synonym-expanded terms feed the
	// keyword arm.
	maxExpandedTerms = 5

	turnLimit    = 15
	summaryLimit = 5
)

// Searcher is the store surface the engine needs.
type Searcher interface {
	VectorSearchTurns(ctx context.Context, embedding []float32, limit int, filter store.SearchFilter) ([]models.Hit, error)
	VectorSearchSummaries(ctx context.Context, embedding []float32, limit int, filter store.SearchFilter) ([]models.Hit, error)
	SearchTurnsByKeyword(ctx context.Context, term string, limit int, filter store.SearchFilter) ([]models.Hit, error)
	SearchSummariesByKeyword(ctx context.Context, term string, limit int, filter store.SearchFilter) ([]models.Hit, error)
}

// Embedder turns a query into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Reranker reorders candidate documents by relevance to the query.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string, topN int) ([]rerank.Result, error)
}

// Expander widens a query into related search terms.
type Expander interface {
	Expand(query string) []string
}

// Engine runs hybrid search. Reranker and Expander are optional; a nil
// reranker always takes the fallback ordering.
type Engine struct {
	searcher Searcher
	embedder Embedder
	reranker Reranker
	expander Expander
	logger   *slog.Logger

	// observe receives the wall time of each search, rerankFallback fires
	// when reranking is skipped due to an error.
	observe        func(d time.Duration)
	rerankFallback func()
}

// Config wires an Engine.
type Config struct {
	Searcher       Searcher
	Embedder       Embedder
	Reranker       Reranker
	Expander       Expander
	Logger         *slog.Logger
	Observe        func(d time.Duration)
	RerankFallback func()
}

// New creates the engine.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		searcher:       cfg.Searcher,
		embedder:       cfg.Embedder,
		reranker:       cfg.Reranker,
		expander:       cfg.Expander,
		logger:         logger,
		observe:        cfg.Observe,
		rerankFallback: cfg.RerankFallback,
	}
}

// Search returns up to limit hits for query, scoped to scene and channel.
// Meta-scene queries return nothing: tooling chatter is never memory. A
// blown time budget also returns nothing; retrieval is best-effort and the
// caller proceeds without context.
func (e *Engine) Search(ctx context.Context, query string, scene models.Scene, channel string, limit int) []models.Hit {
	if scene == models.SceneMeta || query == "" {
		return nil
	}
	if limit <= 0 {
		limit = 5
	}

	start := time.Now()
	defer func() {
		if e.observe != nil {
			e.observe(time.Since(start))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, searchBudget)
	defer cancel()

	filter := store.SearchFilter{Scene: scene, Channel: channel}
	terms := e.expandTerms(query)

	var vectorHits, keywordHits []models.Hit
	g, gctx := errgroup.WithContext(ctx)

	// Arm failures degrade to an empty arm instead of cancelling the
	// sibling, so both closures always return nil.
	g.Go(func() error {
		vectorHits = e.vectorArm(gctx, query, filter)
		return nil
	})
	g.Go(func() error {
		keywordHits = e.keywordArm(gctx, terms, filter)
		return nil
	})
	g.Wait()

	if err := ctx.Err(); err != nil && errors.Is(err, context.DeadlineExceeded) {
		e.logger.Warn("hybrid search exceeded budget, returning empty",
			"query_len", len(query), "elapsed", time.Since(start))
		return nil
	}

	merged := merge(vectorHits, keywordHits)
	if len(merged) == 0 {
		return nil
	}
	return e.rank(ctx, query, merged, limit)
}

func (e *Engine) expandTerms(query string) []string {
	terms := []string{query}
	if e.expander != nil {
		terms = e.expander.Expand(query)
	}
	if len(terms) > maxExpandedTerms {
		terms = terms[:maxExpandedTerms]
	}
	return terms
}

func (e *Engine) vectorArm(ctx context.Context, query string, filter store.SearchFilter) []models.Hit {
	embedding, err := e.embedder.Embed(ctx, query)
	if err != nil {
		e.logger.Warn("query embedding failed, vector arm skipped", "error", err)
		return nil
	}

	var hits []models.Hit
	turns, err := e.searcher.VectorSearchTurns(ctx, embedding, turnLimit, filter)
	if err != nil {
		e.logger.Warn("vector turn search failed", "error", err)
	} else {
		hits = append(hits, turns...)
	}
	summaries, err := e.searcher.VectorSearchSummaries(ctx, embedding, summaryLimit, filter)
	if err != nil {
		e.logger.Warn("vector summary search failed", "error", err)
	} else {
		hits = append(hits, summaries...)
	}

	for i := range hits {
		hits[i].Match = models.MatchVector
	}
	return hits
}

func (e *Engine) keywordArm(ctx context.Context, terms []string, filter store.SearchFilter) []models.Hit {
	seen := make(map[string]bool)
	var hits []models.Hit

	for _, term := range terms {
		if len([]rune(term)) < 2 {
			continue
		}
		turns, err := e.searcher.SearchTurnsByKeyword(ctx, term, turnLimit, filter)
		if err != nil {
			e.logger.Warn("keyword turn search failed", "term", term, "error", err)
			continue
		}
		summaries, err := e.searcher.SearchSummariesByKeyword(ctx, term, summaryLimit, filter)
		if err != nil {
			e.logger.Warn("keyword summary search failed", "term", term, "error", err)
		}
		for _, h := range append(turns, summaries...) {
			if seen[h.ID] {
				continue
			}
			seen[h.ID] = true
			h.Match = models.MatchKeyword
			hits = append(hits, h)
		}
	}
	return hits
}

// merge dedupes by id, vector hits first. A hit found by both arms is
// upgraded to MatchBoth and keeps its vector similarity.
func merge(vectorHits, keywordHits []models.Hit) []models.Hit {
	merged := make([]models.Hit, 0, len(vectorHits)+len(keywordHits))
	index := make(map[string]int, len(vectorHits))

	for _, h := range vectorHits {
		index[h.ID] = len(merged)
		merged = append(merged, h)
	}
	for _, h := range keywordHits {
		if i, ok := index[h.ID]; ok {
			merged[i].Match = models.MatchBoth
			continue
		}
		merged = append(merged, h)
	}
	return merged
}

// rank orders the merged candidates. Reranking only pays off when there are
// more candidates than slots; otherwise the fallback ordering is final.
func (e *Engine) rank(ctx context.Context, query string, hits []models.Hit, limit int) []models.Hit {
	if len(hits) <= limit || e.reranker == nil {
		sortFallback(hits)
		if len(hits) > limit {
			hits = hits[:limit]
		}
		return hits
	}

	documents := make([]string, len(hits))
	for i, h := range hits {
		documents[i] = h.Text()
	}

	results, err := e.reranker.Rerank(ctx, query, documents, limit)
	if err != nil {
		e.logger.Warn("rerank failed, using fallback ordering", "error", err)
		if e.rerankFallback != nil {
			e.rerankFallback()
		}
		sortFallback(hits)
		return hits[:limit]
	}

	ranked := make([]models.Hit, 0, len(results))
	for _, r := range results {
		h := hits[r.Index]
		h.Similarity = r.Score
		ranked = append(ranked, h)
	}
	return ranked
}

// sortFallback orders hits by match-type priority then recency.
func sortFallback(hits []models.Hit) {
	priority := func(m models.MatchType) int {
		switch m {
		case models.MatchBoth:
			return 0
		case models.MatchVector:
			return 1
		default:
			return 2
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		pi, pj := priority(hits[i].Match), priority(hits[j].Match)
		if pi != pj {
			return pi < pj
		}
		return hits[i].CreatedAt.After(hits[j].CreatedAt)
	})
}
