package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"voxrag/internal/domain"
)

// Failover tries multiple providers in order, falling back to the next
// one when the current fails.
type Failover struct {
	providers []domain.Provider
	logger    *slog.Logger
}

// NewFailover creates a failover chain. At least one provider is
// required.
func NewFailover(providers []domain.Provider, logger *slog.Logger) *Failover {
	if logger == nil {
		logger = slog.Default()
	}
	return &Failover{providers: providers, logger: logger}
}

func (f *Failover) Name() string {
	names := make([]string, len(f.providers))
	for i, p := range f.providers {
		names[i] = p.Name()
	}
	return "failover(" + strings.Join(names, ",") + ")"
}

func (f *Failover) Models() []string {
	var all []string
	seen := make(map[string]bool)
	for _, p := range f.providers {
		for _, m := range p.Models() {
			if !seen[m] {
				seen[m] = true
				all = append(all, m)
			}
		}
	}
	return all
}

func (f *Failover) Healthy(ctx context.Context) error {
	for _, p := range f.providers {
		if err := p.Healthy(ctx); err == nil {
			return nil
		}
	}
	return fmt.Errorf("no healthy provider in failover chain")
}

// Generate tries each provider in order and returns the first success.
// Auth failures never fall through: the same credentials would fail on a
// retry anyway and the caller must know about them immediately.
func (f *Failover) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.GenerateResponse, error) {
	var lastErr error
	for i, p := range f.providers {
		resp, err := p.Generate(ctx, req)
		if err == nil {
			if i > 0 {
				f.logger.Info("failover used fallback provider",
					"provider", p.Name(),
					"position", i+1)
			}
			return resp, nil
		}
		if errors.Is(err, domain.ErrAuth) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		f.logger.Warn("provider failed, trying next",
			"provider", p.Name(),
			"position", i+1,
			"error", err)
	}
	return nil, fmt.Errorf("all providers in failover chain failed: %w", lastErr)
}
