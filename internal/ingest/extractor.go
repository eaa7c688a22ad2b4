package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"voxrag/internal/domain"
)

// PlainExtractor reads plain-text formats directly. Markdown passes
// through untouched; headings and lists chunk fine as-is.
type PlainExtractor struct{}

func (PlainExtractor) SupportedExtensions() []string {
	return []string{".txt", ".md", ".markdown"}
}

func (PlainExtractor) Extract(_ context.Context, path string) (*domain.ExtractedText, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%s is not valid UTF-8", path)
	}
	format := strings.TrimPrefix(filepath.Ext(path), ".")
	if format == "markdown" {
		format = "md"
	}
	return &domain.ExtractedText{Text: string(data), Format: format}, nil
}

// Registry routes files to format extractors by extension.
type Registry struct {
	byExt map[string]domain.Extractor
}

func NewRegistry(extractors ...domain.Extractor) *Registry {
	r := &Registry{byExt: make(map[string]domain.Extractor)}
	for _, e := range extractors {
		for _, ext := range e.SupportedExtensions() {
			r.byExt[strings.ToLower(ext)] = e
		}
	}
	return r
}

// For returns the extractor for the file's extension, or false when the
// format is unsupported.
func (r *Registry) For(path string) (domain.Extractor, bool) {
	e, ok := r.byExt[strings.ToLower(filepath.Ext(path))]
	return e, ok
}

func (r *Registry) Supported(path string) bool {
	_, ok := r.For(path)
	return ok
}
