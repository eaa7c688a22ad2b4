package index

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"voxrag/internal/domain"
)

// entry tracks a stored passage with its insertion sequence number, which
// breaks exact score ties so that search results are deterministic.
type entry struct {
	passage domain.Passage
	seq     int
}

// Memory is the in-memory brute-force index. A single RWMutex gives
// single-writer discipline: searches proceed concurrently with each other
// but never with an upsert, delete, or snapshot restore.
type Memory struct {
	mu       sync.RWMutex
	metric   Metric
	modelID  string
	dim      int // fixed by the first upsert
	entries  map[string]*entry
	bySource map[string]map[string]bool
	nextSeq  int
	logger   *slog.Logger
}

type MemoryConfig struct {
	Metric  Metric
	ModelID string
	Logger  *slog.Logger
}

func NewMemory(cfg MemoryConfig) *Memory {
	if cfg.Metric == "" {
		cfg.Metric = MetricCosine
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Memory{
		metric:   cfg.Metric,
		modelID:  cfg.ModelID,
		entries:  make(map[string]*entry),
		bySource: make(map[string]map[string]bool),
		logger:   cfg.Logger,
	}
}

// Upsert inserts or replaces by passage ID. A replaced passage keeps its
// original insertion sequence, so repeated upserts stay idempotent for
// tie-breaking. A wrong-dimension vector fails before any mutation.
func (m *Memory) Upsert(_ context.Context, p domain.Passage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(p.Vector) == 0 {
		return fmt.Errorf("%w: passage %s has no vector", domain.ErrDimensionMismatch, p.ID)
	}
	if m.dim == 0 {
		m.dim = len(p.Vector)
	} else if len(p.Vector) != m.dim {
		return fmt.Errorf("%w: index dimension %d, vector dimension %d", domain.ErrDimensionMismatch, m.dim, len(p.Vector))
	}

	if old, ok := m.entries[p.ID]; ok {
		if old.passage.SourceID != p.SourceID {
			delete(m.bySource[old.passage.SourceID], p.ID)
		}
		old.passage = p
	} else {
		m.entries[p.ID] = &entry{passage: p, seq: m.nextSeq}
		m.nextSeq++
	}

	if m.bySource[p.SourceID] == nil {
		m.bySource[p.SourceID] = make(map[string]bool)
	}
	m.bySource[p.SourceID][p.ID] = true
	return nil
}

// DeleteBySource removes every passage of the source. Used on reload so
// that no orphaned passages survive their document.
func (m *Memory) DeleteBySource(_ context.Context, sourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids, ok := m.bySource[sourceID]
	if !ok {
		return nil
	}
	for id := range ids {
		delete(m.entries, id)
	}
	delete(m.bySource, sourceID)
	if len(m.entries) == 0 {
		m.dim = 0
	}
	return nil
}

// Search returns up to k nearest passages, best first. Exactly equal
// scores order by insertion sequence, earlier first. An empty index yields
// an empty result.
func (m *Memory) Search(_ context.Context, vector []float32, k int) (domain.RetrievalResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if k <= 0 || len(m.entries) == 0 {
		return nil, nil
	}
	if len(vector) != m.dim {
		return nil, fmt.Errorf("%w: index dimension %d, query dimension %d", domain.ErrDimensionMismatch, m.dim, len(vector))
	}

	type scored struct {
		e     *entry
		score float64
	}
	all := make([]scored, 0, len(m.entries))
	for _, e := range m.entries {
		all = append(all, scored{e: e, score: m.metric.Score(vector, e.passage.Vector)})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].e.seq < all[j].e.seq
	})

	if k > len(all) {
		k = len(all)
	}
	result := make(domain.RetrievalResult, 0, k)
	for _, s := range all[:k] {
		result = append(result, domain.ScoredPassage{Passage: s.e.passage, Score: s.score})
	}
	return result, nil
}

func (m *Memory) Stats() domain.IndexStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return domain.IndexStats{
		Passages: len(m.entries),
		Sources:  len(m.bySource),
		ModelID:  m.modelID,
		Metric:   string(m.metric),
	}
}

// snapshot returns all passages ordered by insertion sequence, for
// persistence. Holds the read lock, excluding writers for the duration.
func (m *Memory) snapshot() []domain.Passage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ordered := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].seq < ordered[j].seq })

	out := make([]domain.Passage, len(ordered))
	for i, e := range ordered {
		out[i] = e.passage
	}
	return out
}

// restore replaces the whole index with the given passages, preserving
// their order as the insertion sequence.
func (m *Memory) restore(passages []domain.Passage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := make(map[string]*entry, len(passages))
	bySource := make(map[string]map[string]bool)
	dim := 0
	for i, p := range passages {
		if dim == 0 {
			dim = len(p.Vector)
		} else if len(p.Vector) != dim {
			return fmt.Errorf("%w: snapshot mixes dimensions %d and %d", domain.ErrDimensionMismatch, dim, len(p.Vector))
		}
		entries[p.ID] = &entry{passage: p, seq: i}
		if bySource[p.SourceID] == nil {
			bySource[p.SourceID] = make(map[string]bool)
		}
		bySource[p.SourceID][p.ID] = true
	}

	m.entries = entries
	m.bySource = bySource
	m.dim = dim
	m.nextSeq = len(passages)
	return nil
}
