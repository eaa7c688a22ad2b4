package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"voxrag/internal/domain"
)

// Speech implements domain.Synthesizer over either the OpenAI speech
// endpoint or ElevenLabs.
type Speech struct {
	kind    string
	apiBase string
	apiKey  string
	model   string
	voice   string
	client  *http.Client
	logger  *slog.Logger
}

type SpeechConfig struct {
	Kind    string // "openai" | "elevenlabs"
	APIBase string
	APIKey  string
	Model   string
	Voice   string
	Logger  *slog.Logger
}

func NewSpeech(cfg SpeechConfig) *Speech {
	if cfg.Kind == "" {
		cfg.Kind = "openai"
	}
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "tts-1"
	}
	if cfg.Voice == "" {
		cfg.Voice = "alloy"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Speech{
		kind:    cfg.Kind,
		apiBase: cfg.APIBase,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		voice:   cfg.Voice,
		client:  &http.Client{Timeout: 60 * time.Second},
		logger:  cfg.Logger,
	}
}

// Synthesize converts text to MP3 audio. The caller owns the returned
// reader.
func (s *Speech) Synthesize(ctx context.Context, text string) (io.ReadCloser, error) {
	switch s.kind {
	case "openai":
		return s.synthesizeOpenAI(ctx, text)
	case "elevenlabs":
		return s.synthesizeElevenLabs(ctx, text)
	default:
		return nil, fmt.Errorf("%w: unsupported synthesizer kind %q", domain.ErrSynthesis, s.kind)
	}
}

func (s *Speech) synthesizeOpenAI(ctx context.Context, text string) (io.ReadCloser, error) {
	body, err := json.Marshal(map[string]string{
		"model": s.model,
		"input": text,
		"voice": s.voice,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSynthesis, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiBase+"/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSynthesis, err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSynthesis, err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d: %s", domain.ErrSynthesis, resp.StatusCode, respBody)
	}
	return resp.Body, nil
}

func (s *Speech) synthesizeElevenLabs(ctx context.Context, text string) (io.ReadCloser, error) {
	body, err := json.Marshal(map[string]string{
		"text":     text,
		"model_id": "eleven_monolingual_v1",
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSynthesis, err)
	}

	url := fmt.Sprintf("https://api.elevenlabs.io/v1/text-to-speech/%s", s.voice)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSynthesis, err)
	}
	req.Header.Set("xi-api-key", s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSynthesis, err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d: %s", domain.ErrSynthesis, resp.StatusCode, respBody)
	}
	return resp.Body, nil
}
