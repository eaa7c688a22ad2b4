package provider

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"voxrag/internal/domain"
)

// mockProvider implements domain.Provider for testing.
type mockProvider struct {
	name    string
	healthy bool
	err     error
	resp    *domain.GenerateResponse
	calls   int
}

func (m *mockProvider) Name() string     { return m.name }
func (m *mockProvider) Models() []string { return []string{"test-model"} }

func (m *mockProvider) Healthy(ctx context.Context) error {
	if !m.healthy {
		return errors.New("unhealthy")
	}
	return nil
}

func (m *mockProvider) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.GenerateResponse, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.resp, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestFailover_UsesFirstProvider(t *testing.T) {
	p1 := &mockProvider{name: "primary", resp: &domain.GenerateResponse{Content: "from-primary"}}
	p2 := &mockProvider{name: "secondary", resp: &domain.GenerateResponse{Content: "from-secondary"}}
	f := NewFailover([]domain.Provider{p1, p2}, testLogger())

	resp, err := f.Generate(context.Background(), domain.GenerateRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "from-primary" {
		t.Fatalf("expected 'from-primary', got %q", resp.Content)
	}
	if p2.calls != 0 {
		t.Fatalf("secondary should not be called, got %d calls", p2.calls)
	}
}

func TestFailover_FallsBackOnError(t *testing.T) {
	p1 := &mockProvider{name: "primary", err: &transientError{provider: "primary", status: 503, body: "overloaded"}}
	p2 := &mockProvider{name: "secondary", resp: &domain.GenerateResponse{Content: "from-secondary"}}
	f := NewFailover([]domain.Provider{p1, p2}, testLogger())

	resp, err := f.Generate(context.Background(), domain.GenerateRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "from-secondary" {
		t.Fatalf("expected 'from-secondary', got %q", resp.Content)
	}
}

func TestFailover_AllProvidersFail(t *testing.T) {
	p1 := &mockProvider{name: "p1", err: errors.New("fail 1")}
	p2 := &mockProvider{name: "p2", err: errors.New("fail 2")}
	f := NewFailover([]domain.Provider{p1, p2}, testLogger())

	_, err := f.Generate(context.Background(), domain.GenerateRequest{})
	if err == nil {
		t.Fatal("expected error when all providers fail")
	}
}

func TestFailover_AuthErrorDoesNotFallThrough(t *testing.T) {
	p1 := &mockProvider{name: "primary", err: domain.ErrAuth}
	p2 := &mockProvider{name: "secondary", resp: &domain.GenerateResponse{Content: "ok"}}
	f := NewFailover([]domain.Provider{p1, p2}, testLogger())

	_, err := f.Generate(context.Background(), domain.GenerateRequest{})
	if !errors.Is(err, domain.ErrAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if p2.calls != 0 {
		t.Fatalf("fallback should not run on auth failure, got %d calls", p2.calls)
	}
}

func TestFailover_Healthy_AtLeastOne(t *testing.T) {
	p1 := &mockProvider{name: "sick", healthy: false}
	p2 := &mockProvider{name: "well", healthy: true}
	f := NewFailover([]domain.Provider{p1, p2}, testLogger())

	if err := f.Healthy(context.Background()); err != nil {
		t.Fatalf("expected healthy, got: %v", err)
	}
}

func TestFailover_Healthy_None(t *testing.T) {
	p1 := &mockProvider{name: "sick1", healthy: false}
	p2 := &mockProvider{name: "sick2", healthy: false}
	f := NewFailover([]domain.Provider{p1, p2}, testLogger())

	if err := f.Healthy(context.Background()); err == nil {
		t.Fatal("expected unhealthy error")
	}
}

func TestFailover_Name(t *testing.T) {
	p1 := &mockProvider{name: "ollama"}
	p2 := &mockProvider{name: "openai"}
	f := NewFailover([]domain.Provider{p1, p2}, testLogger())

	if got := f.Name(); got != "failover(ollama,openai)" {
		t.Fatalf("expected 'failover(ollama,openai)', got %q", got)
	}
}

func TestFailover_Models_Deduplicated(t *testing.T) {
	p1 := &mockProvider{name: "p1"}
	p2 := &mockProvider{name: "p2"}
	f := NewFailover([]domain.Provider{p1, p2}, testLogger())

	if models := f.Models(); len(models) != 1 {
		t.Fatalf("expected 1 unique model, got %d: %v", len(models), models)
	}
}
