package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxrag/internal/chunker"
	"voxrag/internal/domain"
	"voxrag/internal/embedding"
	"voxrag/internal/index"
)

type testIndex struct{ *index.Memory }

func (testIndex) Persist(context.Context) error { return nil }
func (testIndex) Load(context.Context) error    { return nil }

func newTestPipeline(t *testing.T, dir string, emb domain.Embedder) (*Pipeline, domain.Index) {
	t.Helper()
	ck, err := chunker.New(200, 40)
	require.NoError(t, err)
	idx := testIndex{index.NewMemory(index.MemoryConfig{ModelID: emb.ModelID()})}
	return NewPipeline(PipelineConfig{
		Dir:      dir,
		Chunker:  ck,
		Embedder: emb,
		Index:    idx,
	}), idx
}

func writeDoc(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestSyncIngestsNewDocuments(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "sky.txt", "The sky is blue during the day.")
	writeDoc(t, dir, "grass.md", "Grass is green in the summer.")
	writeDoc(t, dir, "ignored.pdf", "binary-ish")

	p, idx := newTestPipeline(t, dir, embedding.NewHash(64))
	report, err := p.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Ingested)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 2, idx.Stats().Sources)
	assert.Len(t, p.Documents(), 2)
}

func TestSyncSkipsUnchanged(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "doc.txt", "Some stable content here.")

	p, _ := newTestPipeline(t, dir, embedding.NewHash(64))
	_, err := p.Sync(context.Background())
	require.NoError(t, err)

	report, err := p.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Ingested)
	assert.Equal(t, 1, report.Skipped)
}

func TestSyncReingestsChangedContent(t *testing.T) {
	dir := t.TempDir()
	path := writeDoc(t, dir, "doc.txt", "Original content.")

	p, idx := newTestPipeline(t, dir, embedding.NewHash(64))
	_, err := p.Sync(context.Background())
	require.NoError(t, err)
	before := idx.Stats().Passages

	require.NoError(t, os.WriteFile(path, []byte("Completely different and much longer content that still fits."), 0o644))
	report, err := p.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Ingested)
	assert.GreaterOrEqual(t, idx.Stats().Passages, before)
	assert.Equal(t, 1, idx.Stats().Sources)
}

func TestSyncRemovesDeletedDocuments(t *testing.T) {
	dir := t.TempDir()
	path := writeDoc(t, dir, "doomed.txt", "This document will be deleted.")
	writeDoc(t, dir, "kept.txt", "This document stays around.")

	p, idx := newTestPipeline(t, dir, embedding.NewHash(64))
	_, err := p.Sync(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, idx.Stats().Sources)

	require.NoError(t, os.Remove(path))
	report, err := p.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Removed)
	assert.Equal(t, 1, idx.Stats().Sources)
	assert.Len(t, p.Documents(), 1)
}

func TestIdenticalFilesKeepIndependentPassages(t *testing.T) {
	dir := t.TempDir()
	const text = "The sky is blue over the harbor today."
	writeDoc(t, dir, "a.txt", text)
	path := writeDoc(t, dir, "b.txt", text)

	emb := embedding.NewHash(64)
	p, idx := newTestPipeline(t, dir, emb)
	report, err := p.Sync(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, report.Ingested)
	assert.Equal(t, 2, idx.Stats().Sources)
	assert.Equal(t, 2, idx.Stats().Passages)

	require.NoError(t, os.Remove(path))
	report, err = p.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Removed)
	assert.Equal(t, 1, report.Skipped)

	vec, err := emb.Embed(context.Background(), "sky blue harbor")
	require.NoError(t, err)
	res, err := idx.Search(context.Background(), vec, 5)
	require.NoError(t, err)
	require.NotEmpty(t, res)
	for _, sp := range res {
		assert.Equal(t, "a.txt", sp.SourceID)
	}
}

func TestSyncContinuesPastUnreadableEntry(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits not enforced")
	}
	dir := t.TempDir()
	writeDoc(t, dir, "good.txt", "A perfectly readable document.")
	locked := filepath.Join(dir, "locked")
	require.NoError(t, os.Mkdir(locked, 0o755))
	writeDoc(t, locked, "hidden.txt", "Unreachable content.")
	require.NoError(t, os.Chmod(locked, 0o000))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	p, idx := newTestPipeline(t, dir, embedding.NewHash(64))
	report, err := p.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Ingested)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, idx.Stats().Sources)
}

func TestSyncIsolatesPerDocumentFailures(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "good.txt", "A perfectly fine document.")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.txt"), []byte{0xff, 0xfe, 0x00}, 0o644))

	p, idx := newTestPipeline(t, dir, embedding.NewHash(64))
	report, err := p.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Ingested)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, idx.Stats().Sources)
}

func TestEmbedFailureKeepsPreviousPassages(t *testing.T) {
	dir := t.TempDir()
	path := writeDoc(t, dir, "doc.txt", "Original content that embeds fine.")

	emb := &flakyEmbedder{inner: embedding.NewHash(64)}
	p, idx := newTestPipeline(t, dir, emb)
	_, err := p.Sync(context.Background())
	require.NoError(t, err)
	before := idx.Stats().Passages
	require.Greater(t, before, 0)

	emb.fail = true
	require.NoError(t, os.WriteFile(path, []byte("Changed content that will fail to embed."), 0o644))
	report, err := p.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, before, idx.Stats().Passages)
}

func TestIngestFilePassagePositions(t *testing.T) {
	dir := t.TempDir()
	long := ""
	for i := 0; i < 30; i++ {
		long += fmt.Sprintf("Sentence number %d fills out the document body. ", i)
	}
	writeDoc(t, dir, "long.txt", long)

	emb := embedding.NewHash(64)
	p, idx := newTestPipeline(t, dir, emb)
	_, err := p.Sync(context.Background())
	require.NoError(t, err)
	require.Greater(t, idx.Stats().Passages, 1)

	vec, err := emb.Embed(context.Background(), "sentence number")
	require.NoError(t, err)
	res, err := idx.Search(context.Background(), vec, idx.Stats().Passages)
	require.NoError(t, err)

	positions := map[int]bool{}
	for _, sp := range res {
		assert.Equal(t, "long.txt", sp.SourceID)
		positions[sp.Position] = true
	}
	for i := 0; i < len(res); i++ {
		assert.True(t, positions[i], "missing passage position %d", i)
	}
}

type flakyEmbedder struct {
	inner domain.Embedder
	fail  bool
}

func (f *flakyEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.fail {
		return nil, fmt.Errorf("%w: simulated outage", domain.ErrEmbedding)
	}
	return f.inner.Embed(ctx, text)
}

func (f *flakyEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.fail {
		return nil, fmt.Errorf("%w: simulated outage", domain.ErrEmbedding)
	}
	return f.inner.EmbedBatch(ctx, texts)
}

func (f *flakyEmbedder) Dimension() int  { return f.inner.Dimension() }
func (f *flakyEmbedder) ModelID() string { return f.inner.ModelID() }
