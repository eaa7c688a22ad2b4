package retriever

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"voxrag/internal/domain"
	"voxrag/internal/metrics"
)

// Retriever embeds a query and pulls the most relevant passages from the
// index, dropping anything below the relevance floor.
type Retriever struct {
	embedder domain.Embedder
	index    domain.Index
	topK     int
	minScore float64
	minWords int
	logger   *slog.Logger
}

type Config struct {
	TopK          int
	MinScore      float64
	MinQueryWords int
	Logger        *slog.Logger
}

func New(embedder domain.Embedder, index domain.Index, cfg Config) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.MinQueryWords <= 0 {
		cfg.MinQueryWords = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Retriever{
		embedder: embedder,
		index:    index,
		topK:     cfg.TopK,
		minScore: cfg.MinScore,
		minWords: cfg.MinQueryWords,
		logger:   cfg.Logger,
	}
}

// smallTalk lists openers that never benefit from document context.
var smallTalk = map[string]bool{
	"hi": true, "hello": true, "hey": true, "yo": true,
	"thanks": true, "thank": true, "ok": true, "okay": true,
	"bye": true, "goodbye": true, "yes": true, "no": true,
}

// ShouldRetrieve reports whether the query is worth a retrieval pass.
// Very short queries and greetings skip retrieval entirely, saving an
// embedding call for turns that cannot use passages anyway.
func (r *Retriever) ShouldRetrieve(query string) bool {
	words := strings.Fields(strings.ToLower(strings.TrimSpace(query)))
	if len(words) < r.minWords {
		return false
	}
	for _, w := range words {
		if !smallTalk[strings.Trim(w, ".,!?")] {
			return true
		}
	}
	return false
}

// Retrieve runs the query against the index and returns passages scoring
// at or above the floor, best first. An empty result is a normal outcome,
// not an error.
func (r *Retriever) Retrieve(ctx context.Context, query string) (domain.RetrievalResult, error) {
	metrics.RetrievalsTotal.Inc()
	start := time.Now()

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	result, err := r.index.Search(ctx, vector, r.topK)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}

	filtered := result[:0]
	for _, sp := range result {
		if sp.Score >= r.minScore {
			filtered = append(filtered, sp)
		}
	}

	metrics.RetrievalLatency.Observe(time.Since(start).Seconds())
	r.logger.Debug("retrieval complete",
		"candidates", len(result),
		"kept", len(filtered),
		"min_score", r.minScore)
	return filtered, nil
}
