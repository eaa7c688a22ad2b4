package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"voxrag/internal/domain"
	"voxrag/internal/metrics"
)

const systemPrompt = "You are a helpful assistant. Answer using the provided " +
	"context passages when they are relevant. If the context does not cover " +
	"the question, say so and answer from general knowledge."

// Dispatcher wraps a provider with bounded retry and a per-call deadline.
// Transient failures and timeouts retry with exponential backoff; auth
// and malformed-request failures surface immediately.
type Dispatcher struct {
	provider    domain.Provider
	maxRetries  int
	timeout     time.Duration
	temperature float64
	maxTokens   int
	backoff     func(attempt int) time.Duration
	logger      *slog.Logger
}

type DispatcherConfig struct {
	MaxRetries  int
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
	Logger      *slog.Logger
}

func NewDispatcher(p domain.Provider, cfg DispatcherConfig) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{
		provider:    p,
		maxRetries:  cfg.MaxRetries,
		timeout:     cfg.Timeout,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		backoff:     defaultBackoff,
		logger:      cfg.Logger,
	}
}

// defaultBackoff doubles from 500ms with jitter to spread concurrent
// retries.
func defaultBackoff(attempt int) time.Duration {
	base := 500 * time.Millisecond << attempt
	return base + time.Duration(rand.Int64N(int64(base/2+1)))
}

// Generate runs one generation with up to maxRetries additional attempts.
// The attempt deadline is the dispatcher timeout; the parent context still
// cancels the whole call, including backoff sleeps.
func (d *Dispatcher) Generate(ctx context.Context, pc domain.PromptContext) (*domain.GenerateResponse, error) {
	req := domain.GenerateRequest{
		Messages:    BuildMessages(pc),
		MaxTokens:   d.maxTokens,
		Temperature: d.temperature,
	}

	var lastErr error
	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		if attempt > 0 {
			delay := d.backoff(attempt - 1)
			d.logger.Warn("retrying generation",
				"attempt", attempt+1,
				"backoff", delay,
				"error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
		resp, err := d.provider.Generate(attemptCtx, req)
		cancel()
		if err == nil {
			metrics.GenerationLatency.Observe(float64(resp.LatencyMs) / 1000)
			return resp, nil
		}

		if errors.Is(err, domain.ErrAuth) || errors.Is(err, domain.ErrBadRequest) {
			metrics.GenerationErrors.Inc()
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			lastErr = fmt.Errorf("%w: attempt exceeded %s", domain.ErrGenerationTimeout, d.timeout)
			continue
		}
		if isTransient(err) {
			lastErr = err
			continue
		}
		return nil, err
	}
	metrics.GenerationErrors.Inc()
	return nil, fmt.Errorf("generation failed after %d attempts: %w", d.maxRetries+1, lastErr)
}

// BuildMessages renders the prompt context into a chat message list:
// system prompt, context passages folded into the system message, then
// history turns, then the current query.
func BuildMessages(pc domain.PromptContext) []domain.Message {
	system := systemPrompt
	if len(pc.Passages) > 0 {
		var b strings.Builder
		b.WriteString(system)
		b.WriteString("\n\nContext:\n")
		for i, sp := range pc.Passages {
			fmt.Fprintf(&b, "[%d] (%s) %s\n", i+1, sp.SourceID, sp.Text)
		}
		system = b.String()
	}

	msgs := make([]domain.Message, 0, len(pc.History)+2)
	msgs = append(msgs, domain.Message{Role: "system", Content: system})
	for _, t := range pc.History {
		msgs = append(msgs, domain.Message{Role: string(t.Role), Content: t.Content})
	}
	msgs = append(msgs, domain.Message{Role: "user", Content: pc.Query})
	return msgs
}
