package provider

import (
	"errors"
	"testing"

	"voxrag/internal/config"
	"voxrag/internal/domain"
)

func TestFactory_KnownKinds(t *testing.T) {
	f := NewFactory(testLogger())

	for _, kind := range []string{"ollama", "openai"} {
		p, err := f.Build(config.BackendConfig{Kind: kind})
		if err != nil {
			t.Fatalf("build %s: %v", kind, err)
		}
		if p.Name() != kind {
			t.Fatalf("expected provider %q, got %q", kind, p.Name())
		}
	}
}

func TestFactory_UnknownKindFallsBackToOpenAICompatible(t *testing.T) {
	f := NewFactory(testLogger())

	p, err := f.Build(config.BackendConfig{Kind: "groq", APIBase: "https://api.groq.com/openai/v1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "openai" {
		t.Fatalf("expected openai-compatible provider, got %q", p.Name())
	}
}

func TestFactory_UnknownKindWithoutBaseFails(t *testing.T) {
	f := NewFactory(testLogger())

	if _, err := f.Build(config.BackendConfig{Kind: "mystery"}); err == nil {
		t.Fatal("expected error for unknown kind without api_base")
	}
}

func TestFactory_BuildChain(t *testing.T) {
	f := NewFactory(testLogger())

	single, err := f.BuildChain(config.LLMConfig{
		BackendConfig: config.BackendConfig{Kind: "ollama"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if single.Name() != "ollama" {
		t.Fatalf("single backend should not be wrapped, got %q", single.Name())
	}

	chained, err := f.BuildChain(config.LLMConfig{
		BackendConfig: config.BackendConfig{Kind: "ollama"},
		Fallbacks:     []config.BackendConfig{{Kind: "openai"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chained.Name() != "failover(ollama,openai)" {
		t.Fatalf("expected failover chain, got %q", chained.Name())
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status    int
		sentinel  error
		transient bool
	}{
		{401, domain.ErrAuth, false},
		{403, domain.ErrAuth, false},
		{400, domain.ErrBadRequest, false},
		{404, domain.ErrBadRequest, false},
		{422, domain.ErrBadRequest, false},
		{429, nil, true},
		{500, nil, true},
		{503, nil, true},
	}
	for _, tt := range tests {
		err := classifyStatus("test", tt.status, "body")
		if tt.transient {
			if !isTransient(err) {
				t.Fatalf("status %d should be transient, got %v", tt.status, err)
			}
			continue
		}
		if !errors.Is(err, tt.sentinel) {
			t.Fatalf("status %d: expected %v, got %v", tt.status, tt.sentinel, err)
		}
		if isTransient(err) {
			t.Fatalf("status %d must not be transient", tt.status)
		}
	}
}
