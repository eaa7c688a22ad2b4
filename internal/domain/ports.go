package domain

import (
	"context"
	"io"
)

// Embedder maps text to fixed-length vectors. All vectors produced by one
// instance share the same dimensionality and embedding space.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch preserves input order in its output.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	// ModelID identifies the embedding space; indexes reject vectors from a
	// different model.
	ModelID() string
}

// Index stores passages with their vectors and answers top-k similarity
// queries.
type Index interface {
	// Upsert inserts or replaces by passage ID. Idempotent; a vector of the
	// wrong dimensionality fails with ErrDimensionMismatch and leaves the
	// index unchanged.
	Upsert(ctx context.Context, p Passage) error
	// DeleteBySource removes every passage derived from the given source.
	DeleteBySource(ctx context.Context, sourceID string) error
	// Search returns up to k nearest passages, best first. An empty index
	// yields an empty result, not an error.
	Search(ctx context.Context, vector []float32, k int) (RetrievalResult, error)
	// Persist writes a full durable snapshot.
	Persist(ctx context.Context) error
	// Load restores a snapshot, failing with ErrIndexVersionMismatch when
	// the snapshot was built by a different embedding model.
	Load(ctx context.Context) error
	Stats() IndexStats
}

// Message is one chat message sent to a generation backend.
type Message struct {
	Role    string `json:"role"` // system | user | assistant
	Content string `json:"content"`
}

// GenerateRequest carries the prompt and generation parameters for one
// completion call.
type GenerateRequest struct {
	Messages    []Message
	Model       string
	MaxTokens   int
	Temperature float64
}

type GenerateResponse struct {
	Content   string
	LatencyMs int64
}

// Provider is the interface all generation backends implement.
type Provider interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
	Name() string
	Models() []string
	Healthy(ctx context.Context) error
}

// Transcriber converts captured audio to text. Best-effort external
// service; the conversation core continues in text mode when it fails.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error)
}

// Synthesizer converts generated text into audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (io.ReadCloser, error)
}

// ExtractedText is the uniform output of format-specific text extraction.
type ExtractedText struct {
	Text   string
	Format string
}

// Extractor turns a file into raw text plus format metadata. Document
// formats the core cannot parse plug in behind this boundary.
type Extractor interface {
	Extract(ctx context.Context, path string) (*ExtractedText, error)
	SupportedExtensions() []string
}
