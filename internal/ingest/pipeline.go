package ingest

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"voxrag/internal/chunker"
	"voxrag/internal/domain"
	"voxrag/internal/metrics"
)

// Pipeline turns document files into indexed passages: extract, chunk,
// embed, upsert. Re-ingesting an unchanged file is a no-op; a changed
// file replaces all of its passages atomically from the index's point of
// view (delete then reinsert under the source lock).
type Pipeline struct {
	dir      string
	registry *Registry
	chunker  *chunker.Chunker
	embedder domain.Embedder
	index    domain.Index
	logger   *slog.Logger

	mu      sync.Mutex
	docs    map[string]domain.Document
	srcLock map[string]*sync.Mutex
}

type PipelineConfig struct {
	Dir      string
	Registry *Registry
	Chunker  *chunker.Chunker
	Embedder domain.Embedder
	Index    domain.Index
	Logger   *slog.Logger
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry(PlainExtractor{})
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		dir:      cfg.Dir,
		registry: cfg.Registry,
		chunker:  cfg.Chunker,
		embedder: cfg.Embedder,
		index:    cfg.Index,
		logger:   cfg.Logger,
		docs:     make(map[string]domain.Document),
		srcLock:  make(map[string]*sync.Mutex),
	}
}

// Report summarizes one sync pass.
type Report struct {
	Ingested int
	Skipped  int
	Removed  int
	Failed   int
}

// Sync walks the document directory and reconciles the index with it:
// new and changed files are ingested, unchanged files skipped, and
// passages of deleted files removed. One bad document never aborts the
// pass; its failure is counted and logged.
func (p *Pipeline) Sync(ctx context.Context) (Report, error) {
	var report Report

	seen := make(map[string]bool)
	err := filepath.WalkDir(p.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// An unreadable entry fails alone; only a walk error on
			// the root directory aborts the pass.
			if path == p.dir {
				return err
			}
			report.Failed++
			p.logger.Error("walk entry failed", "path", path, "error", err)
			return nil
		}
		if d.IsDir() || !p.registry.Supported(path) {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		sourceID, err := p.sourceID(path)
		if err != nil {
			return err
		}
		seen[sourceID] = true

		changed, err := p.IngestFile(ctx, path)
		switch {
		case err != nil:
			report.Failed++
			p.logger.Error("ingest failed", "path", path, "error", err)
		case changed:
			report.Ingested++
		default:
			report.Skipped++
		}
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("walk %s: %w", p.dir, err)
	}

	// Drop passages whose source file no longer exists.
	for _, sourceID := range p.knownSources() {
		if seen[sourceID] {
			continue
		}
		if err := p.remove(ctx, sourceID); err != nil {
			report.Failed++
			p.logger.Error("remove stale source failed", "source", sourceID, "error", err)
			continue
		}
		report.Removed++
	}

	p.logger.Info("document sync complete",
		"ingested", report.Ingested,
		"skipped", report.Skipped,
		"removed", report.Removed,
		"failed", report.Failed)
	return report, nil
}

// IngestFile processes a single file. It reports whether the index
// changed; an unchanged content hash short-circuits before any embedding
// work.
func (p *Pipeline) IngestFile(ctx context.Context, path string) (bool, error) {
	sourceID, err := p.sourceID(path)
	if err != nil {
		return false, err
	}

	lock := p.lockFor(sourceID)
	lock.Lock()
	defer lock.Unlock()

	extractor, ok := p.registry.For(path)
	if !ok {
		return false, fmt.Errorf("unsupported format: %s", path)
	}
	extracted, err := extractor.Extract(ctx, path)
	if err != nil {
		return false, err
	}

	hash := fmt.Sprintf("%x", sha256.Sum256([]byte(extracted.Text)))
	p.mu.Lock()
	prev, known := p.docs[sourceID]
	p.mu.Unlock()
	if known && prev.ContentHash == hash {
		return false, nil
	}

	chunks := p.chunker.Chunk(extracted.Text)
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	// Embed the whole document before touching the index so a failure
	// leaves the previous passages intact.
	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return false, fmt.Errorf("embed %s: %w", path, err)
	}

	if err := p.index.DeleteBySource(ctx, sourceID); err != nil {
		return false, fmt.Errorf("clear old passages for %s: %w", sourceID, err)
	}

	doc := domain.Document{
		SourceID:    sourceID,
		Path:        path,
		Format:      extracted.Format,
		ContentHash: hash,
		Passages:    len(chunks),
		IngestedAt:  time.Now(),
	}
	for i, c := range chunks {
		// The source qualifies the ID so identical files under
		// different paths keep independent passages.
		passage := domain.Passage{
			ID:       fmt.Sprintf("%s#%s#%d", sourceID, hash[:16], i),
			SourceID: sourceID,
			Text:     c.Text,
			Position: i,
			Vector:   vectors[i],
		}
		if err := p.index.Upsert(ctx, passage); err != nil {
			return false, fmt.Errorf("index passage %d of %s: %w", i, sourceID, err)
		}
	}

	p.mu.Lock()
	p.docs[sourceID] = doc
	p.mu.Unlock()

	metrics.DocumentsIngested.Inc()
	metrics.IndexPassages.Set(int64(p.index.Stats().Passages))
	p.logger.Info("document ingested",
		"source", sourceID,
		"format", doc.Format,
		"passages", doc.Passages)
	return true, nil
}

// RemovePath drops the passages of a deleted file.
func (p *Pipeline) RemovePath(ctx context.Context, path string) error {
	sourceID, err := p.sourceID(path)
	if err != nil {
		return err
	}
	return p.remove(ctx, sourceID)
}

func (p *Pipeline) remove(ctx context.Context, sourceID string) error {
	lock := p.lockFor(sourceID)
	lock.Lock()
	defer lock.Unlock()

	if err := p.index.DeleteBySource(ctx, sourceID); err != nil {
		return err
	}
	p.mu.Lock()
	delete(p.docs, sourceID)
	p.mu.Unlock()

	metrics.IndexPassages.Set(int64(p.index.Stats().Passages))
	p.logger.Info("document removed", "source", sourceID)
	return nil
}

// Supported reports whether some registered extractor handles the file.
func (p *Pipeline) Supported(path string) bool {
	return p.registry.Supported(path)
}

// Documents lists the currently ingested documents.
func (p *Pipeline) Documents() []domain.Document {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.Document, 0, len(p.docs))
	for _, d := range p.docs {
		out = append(out, d)
	}
	return out
}

func (p *Pipeline) knownSources() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.docs))
	for id := range p.docs {
		out = append(out, id)
	}
	return out
}

func (p *Pipeline) lockFor(sourceID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.srcLock[sourceID] == nil {
		p.srcLock[sourceID] = &sync.Mutex{}
	}
	return p.srcLock[sourceID]
}

// sourceID is the path relative to the document dir, stable across
// absolute-path differences between runs.
func (p *Pipeline) sourceID(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	absDir, err := filepath.Abs(p.dir)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(absDir, abs)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}
