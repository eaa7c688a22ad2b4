package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"voxrag/internal/domain"
	"voxrag/internal/ingest"
	"voxrag/internal/metrics"
)

// State is the turn-cycle position of a session.
type State string

const (
	StateIdle          State = "idle"
	StateAwaitingInput State = "awaiting_input"
	StateRetrieving    State = "retrieving"
	StateGenerating    State = "generating"
	StateResponding    State = "responding"
	StateTerminated    State = "terminated"
)

// Searcher decides whether a turn needs retrieval and runs it.
type Searcher interface {
	ShouldRetrieve(query string) bool
	Retrieve(ctx context.Context, query string) (domain.RetrievalResult, error)
}

// ContextBuilder fits passages and history into the prompt budget.
type ContextBuilder interface {
	Assemble(result domain.RetrievalResult, history []domain.Turn, query string) domain.PromptContext
}

// Generator produces the assistant response for an assembled context.
type Generator interface {
	Generate(ctx context.Context, pc domain.PromptContext) (*domain.GenerateResponse, error)
}

// Reloader re-syncs the document index, for the /reload command.
type Reloader interface {
	Sync(ctx context.Context) (ingest.Report, error)
}

// StatsSource reports index contents, for the /stats command.
type StatsSource interface {
	Stats() domain.IndexStats
}

// TurnResult is everything one turn produced.
type TurnResult struct {
	Response   string
	Audio      io.ReadCloser // non-nil only for successful voice-mode turns
	Sources    []string
	Degraded   bool   // retrieval was skipped or failed; answer has no document grounding
	Notice     string // user-facing note about a degrade or failure
	Command    bool   // the input was a handled command, not a conversation turn
	Terminated bool
}

// Session is a single conversation: history, mode, and the turn state
// machine. Not safe for concurrent turns; one session serves one user.
type Session struct {
	id          string
	state       State
	mode        domain.Mode
	history     []domain.Turn
	historyCap  int
	searcher    Searcher
	builder     ContextBuilder
	generator   Generator
	transcriber domain.Transcriber
	synthesizer domain.Synthesizer
	reloader    Reloader
	stats       StatsSource
	logger      *slog.Logger
}

type Config struct {
	HistoryCap  int
	Searcher    Searcher
	Builder     ContextBuilder
	Generator   Generator
	Transcriber domain.Transcriber
	Synthesizer domain.Synthesizer
	Reloader    Reloader
	Stats       StatsSource
	Logger      *slog.Logger
}

func New(cfg Config) *Session {
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = 40
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Session{
		id:          uuid.NewString(),
		state:       StateAwaitingInput,
		mode:        domain.ModeText,
		historyCap:  cfg.HistoryCap,
		searcher:    cfg.Searcher,
		builder:     cfg.Builder,
		generator:   cfg.Generator,
		transcriber: cfg.Transcriber,
		synthesizer: cfg.Synthesizer,
		reloader:    cfg.Reloader,
		stats:       cfg.Stats,
		logger:      cfg.Logger,
	}
}

func (s *Session) ID() string        { return s.id }
func (s *Session) State() State      { return s.state }
func (s *Session) Mode() domain.Mode { return s.mode }

// History returns a copy of the conversation window.
func (s *Session) History() []domain.Turn {
	out := make([]domain.Turn, len(s.history))
	copy(out, s.history)
	return out
}

// HandleInput runs one full turn: command dispatch, retrieval, context
// assembly, generation, and optional speech synthesis. A failed turn
// leaves the history as if the input never happened, so the next input
// starts clean.
func (s *Session) HandleInput(ctx context.Context, input string) (*TurnResult, error) {
	if s.state == StateTerminated {
		return nil, fmt.Errorf("session %s is terminated", s.id)
	}

	if result := s.handleCommand(ctx, input); result != nil {
		return result, nil
	}

	metrics.TurnsTotal.Inc()
	s.appendTurn(domain.Turn{
		Role:      domain.RoleUser,
		Content:   input,
		Mode:      s.mode,
		Timestamp: time.Now(),
	})

	result := &TurnResult{}

	s.state = StateRetrieving
	var retrieved domain.RetrievalResult
	if !s.searcher.ShouldRetrieve(input) {
		result.Degraded = true
	} else {
		var err error
		retrieved, err = s.searcher.Retrieve(ctx, input)
		if err != nil {
			// Retrieval failure degrades the turn instead of killing it.
			s.logger.Warn("retrieval failed, answering without context", "error", err)
			result.Degraded = true
			result.Notice = "Document retrieval failed; answering from general knowledge."
			retrieved = nil
		} else if len(retrieved) == 0 {
			result.Degraded = true
		}
	}

	// The current input is already the last history entry; the prompt
	// carries it as the query, not as history.
	pc := s.builder.Assemble(retrieved, s.history[:len(s.history)-1], input)

	s.state = StateGenerating
	resp, err := s.generator.Generate(ctx, pc)
	if err != nil {
		s.dropLastTurn()
		s.state = StateAwaitingInput
		result.Notice = failureNotice(err)
		s.logger.Error("generation failed", "error", err)
		return result, err
	}

	if result.Degraded {
		metrics.DegradedTurns.Inc()
	}

	s.state = StateResponding
	s.appendTurn(domain.Turn{
		Role:      domain.RoleAssistant,
		Content:   resp.Content,
		Mode:      s.mode,
		Timestamp: time.Now(),
	})
	result.Response = resp.Content
	result.Sources = retrieved.Sources()

	if s.mode == domain.ModeVoice && s.synthesizer != nil {
		audio, err := s.synthesizer.Synthesize(ctx, resp.Content)
		if err != nil {
			s.logger.Warn("synthesis failed, falling back to text", "error", err)
			result.Notice = "Speech synthesis failed; showing text only."
		} else {
			result.Audio = audio
		}
	}

	s.state = StateAwaitingInput
	return result, nil
}

// HandleAudio transcribes captured audio and runs the text it contains
// as a normal turn. Transcription failure changes nothing: no history
// entry, same state.
func (s *Session) HandleAudio(ctx context.Context, audio io.Reader, filename string) (*TurnResult, error) {
	if s.transcriber == nil {
		return nil, fmt.Errorf("%w: no transcriber configured", domain.ErrTranscription)
	}

	text, err := s.transcriber.Transcribe(ctx, audio, filename)
	if err != nil {
		s.logger.Warn("transcription failed", "error", err)
		return &TurnResult{
			Notice: "Could not transcribe the audio. Please try again or type instead.",
		}, err
	}
	return s.HandleInput(ctx, text)
}

func (s *Session) appendTurn(t domain.Turn) {
	s.history = append(s.history, t)
	if len(s.history) > s.historyCap {
		s.history = s.history[len(s.history)-s.historyCap:]
	}
}

func (s *Session) dropLastTurn() {
	if len(s.history) > 0 {
		s.history = s.history[:len(s.history)-1]
	}
}

func failureNotice(err error) string {
	switch {
	case errors.Is(err, domain.ErrGenerationTimeout):
		return "The model took too long to respond. Please try again."
	case errors.Is(err, domain.ErrAuth):
		return "The backend rejected the configured credentials. Check your API key."
	case errors.Is(err, domain.ErrBadRequest):
		return "The backend rejected the request. Check the configured model name."
	default:
		return "Generation failed. Please try again."
	}
}
