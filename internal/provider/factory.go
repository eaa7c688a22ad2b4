package provider

import (
	"fmt"
	"log/slog"

	"voxrag/internal/config"
	"voxrag/internal/domain"
)

// Constructor builds a provider from one backend config entry.
type Constructor func(bc config.BackendConfig, logger *slog.Logger) domain.Provider

// Factory turns the llm config block into a single provider, chaining
// fallbacks behind the primary when configured.
type Factory struct {
	logger       *slog.Logger
	constructors map[string]Constructor
}

func NewFactory(logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Factory{
		logger:       logger,
		constructors: make(map[string]Constructor),
	}
	f.registerDefaults()
	return f
}

// Register adds or replaces a constructor by backend kind.
func (f *Factory) Register(kind string, ctor Constructor) {
	f.constructors[kind] = ctor
}

func (f *Factory) registerDefaults() {
	f.constructors["ollama"] = func(bc config.BackendConfig, logger *slog.Logger) domain.Provider {
		return NewOllama(OllamaConfig{APIBase: bc.APIBase, Model: bc.Model, Logger: logger})
	}
	f.constructors["openai"] = func(bc config.BackendConfig, logger *slog.Logger) domain.Provider {
		return NewOpenAI(OpenAIConfig{APIKey: bc.APIKey, APIBase: bc.APIBase, Model: bc.Model, Logger: logger})
	}
}

// Build creates the provider for one backend entry. Unknown kinds with an
// API base are treated as OpenAI-compatible, which covers most hosted
// gateways without a dedicated client.
func (f *Factory) Build(bc config.BackendConfig) (domain.Provider, error) {
	if ctor, ok := f.constructors[bc.Kind]; ok {
		return ctor(bc, f.logger), nil
	}
	if bc.APIBase != "" {
		f.logger.Info("unknown backend kind, assuming OpenAI-compatible", "kind", bc.Kind)
		return NewOpenAI(OpenAIConfig{APIKey: bc.APIKey, APIBase: bc.APIBase, Model: bc.Model, Logger: f.logger}), nil
	}
	return nil, fmt.Errorf("backend %q: no constructor registered and no api_base configured", bc.Kind)
}

// BuildChain creates the primary provider plus its fallbacks as a single
// failover provider. With no fallbacks the primary is returned directly.
func (f *Factory) BuildChain(cfg config.LLMConfig) (domain.Provider, error) {
	primary, err := f.Build(cfg.BackendConfig)
	if err != nil {
		return nil, err
	}
	if len(cfg.Fallbacks) == 0 {
		return primary, nil
	}

	chain := []domain.Provider{primary}
	for _, bc := range cfg.Fallbacks {
		p, err := f.Build(bc)
		if err != nil {
			return nil, fmt.Errorf("fallback backend: %w", err)
		}
		chain = append(chain, p)
	}
	return NewFailover(chain, f.logger), nil
}
