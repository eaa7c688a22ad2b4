package session

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxrag/internal/assembler"
	"voxrag/internal/domain"
	"voxrag/internal/embedding"
	"voxrag/internal/index"
	"voxrag/internal/ingest"
	"voxrag/internal/retriever"
)

// echoGenerator answers with a canned response and records the contexts
// it saw.
type echoGenerator struct {
	response string
	err      error
	contexts []domain.PromptContext
}

func (g *echoGenerator) Generate(_ context.Context, pc domain.PromptContext) (*domain.GenerateResponse, error) {
	g.contexts = append(g.contexts, pc)
	if g.err != nil {
		return nil, g.err
	}
	return &domain.GenerateResponse{Content: g.response}, nil
}

type fixedIndex struct{ *index.Memory }

func (fixedIndex) Persist(context.Context) error { return nil }
func (fixedIndex) Load(context.Context) error    { return nil }

func ragSession(t *testing.T, gen Generator, texts map[string]string) *Session {
	t.Helper()
	ctx := context.Background()
	emb := embedding.NewHash(128)
	mem := index.NewMemory(index.MemoryConfig{Metric: index.MetricCosine, ModelID: emb.ModelID()})
	for id, text := range texts {
		vec, err := emb.Embed(ctx, text)
		require.NoError(t, err)
		require.NoError(t, mem.Upsert(ctx, domain.Passage{
			ID: id, SourceID: id + ".txt", Text: text, Position: 0, Vector: vec,
		}))
	}

	return New(Config{
		HistoryCap: 6,
		Searcher:   retriever.New(emb, fixedIndex{mem}, retriever.Config{TopK: 3, MinScore: 0}),
		Builder:    assembler.New(assembler.Config{BudgetChars: 2000}),
		Generator:  gen,
		Stats:      fixedIndex{mem},
	})
}

func TestTurnRetrievesAndAnswers(t *testing.T) {
	gen := &echoGenerator{response: "The sky is blue."}
	s := ragSession(t, gen, map[string]string{
		"sky":   "The sky is blue during the day.",
		"grass": "Grass is green in the summer.",
	})

	result, err := s.HandleInput(context.Background(), "What color is the sky?")
	require.NoError(t, err)

	assert.Equal(t, "The sky is blue.", result.Response)
	assert.False(t, result.Degraded)
	assert.Contains(t, result.Sources, "sky.txt")

	require.Len(t, gen.contexts, 1)
	pc := gen.contexts[0]
	assert.Equal(t, "What color is the sky?", pc.Query)
	require.NotEmpty(t, pc.Passages)
	assert.Equal(t, "sky", pc.Passages[0].ID)
	assert.Empty(t, pc.History, "first turn has no prior history")

	history := s.History()
	require.Len(t, history, 2)
	assert.Equal(t, domain.RoleUser, history[0].Role)
	assert.Equal(t, domain.RoleAssistant, history[1].Role)
	assert.Equal(t, StateAwaitingInput, s.State())
}

func TestShortInputSkipsRetrieval(t *testing.T) {
	gen := &echoGenerator{response: "Hello!"}
	s := ragSession(t, gen, map[string]string{"doc": "Some content."})

	result, err := s.HandleInput(context.Background(), "hi")
	require.NoError(t, err)

	assert.True(t, result.Degraded)
	assert.Empty(t, result.Sources)
	require.Len(t, gen.contexts, 1)
	assert.Empty(t, gen.contexts[0].Passages)
}

func TestRetrievalFailureDegradesTurn(t *testing.T) {
	gen := &echoGenerator{response: "Best effort answer."}
	s := New(Config{
		Searcher:  failingSearcher{},
		Builder:   assembler.New(assembler.Config{}),
		Generator: gen,
	})

	result, err := s.HandleInput(context.Background(), "tell me about chunking")
	require.NoError(t, err)

	assert.True(t, result.Degraded)
	assert.NotEmpty(t, result.Notice)
	assert.Equal(t, "Best effort answer.", result.Response)
	assert.Len(t, s.History(), 2)
}

func TestGenerationFailureLeavesHistoryClean(t *testing.T) {
	gen := &echoGenerator{err: fmt.Errorf("%w: attempts exhausted", domain.ErrGenerationTimeout)}
	s := ragSession(t, gen, map[string]string{"doc": "Some content here."})

	result, err := s.HandleInput(context.Background(), "what is in the document?")
	require.Error(t, err)

	assert.Contains(t, result.Notice, "too long")
	assert.Empty(t, s.History(), "failed turn must not leave history entries")
	assert.Equal(t, StateAwaitingInput, s.State())

	// The session still works afterwards.
	gen.err = nil
	gen.response = "Recovered."
	result, err = s.HandleInput(context.Background(), "what is in the document?")
	require.NoError(t, err)
	assert.Equal(t, "Recovered.", result.Response)
}

func TestHistoryTruncationFIFO(t *testing.T) {
	gen := &echoGenerator{response: "ok"}
	s := ragSession(t, gen, map[string]string{"doc": "Content."})

	for i := 0; i < 8; i++ {
		_, err := s.HandleInput(context.Background(), fmt.Sprintf("question number %d please", i))
		require.NoError(t, err)
	}

	history := s.History()
	require.Len(t, history, 6)
	assert.Contains(t, history[len(history)-2].Content, "number 7")
	for _, turn := range history {
		assert.NotContains(t, turn.Content, "number 0")
	}
}

func TestClearCommand(t *testing.T) {
	gen := &echoGenerator{response: "ok"}
	s := ragSession(t, gen, map[string]string{"doc": "Content."})

	_, err := s.HandleInput(context.Background(), "first question about things")
	require.NoError(t, err)
	require.NotEmpty(t, s.History())

	result, err := s.HandleInput(context.Background(), "/clear")
	require.NoError(t, err)
	assert.True(t, result.Command)
	assert.Empty(t, s.History())
}

func TestExitTerminatesSession(t *testing.T) {
	gen := &echoGenerator{response: "ok"}
	s := ragSession(t, gen, nil)

	result, err := s.HandleInput(context.Background(), "exit")
	require.NoError(t, err)
	assert.True(t, result.Terminated)
	assert.Equal(t, StateTerminated, s.State())

	_, err = s.HandleInput(context.Background(), "anything")
	assert.Error(t, err)
}

func TestModeCommand(t *testing.T) {
	gen := &echoGenerator{response: "ok"}

	t.Run("voice unavailable without audio", func(t *testing.T) {
		s := ragSession(t, gen, nil)
		result, err := s.HandleInput(context.Background(), "/mode voice")
		require.NoError(t, err)
		assert.Contains(t, result.Response, "not available")
		assert.Equal(t, domain.ModeText, s.Mode())
	})

	t.Run("voice available with synthesizer", func(t *testing.T) {
		s := New(Config{
			Searcher:    neverSearcher{},
			Builder:     assembler.New(assembler.Config{}),
			Generator:   gen,
			Synthesizer: fakeSynth{},
		})
		result, err := s.HandleInput(context.Background(), "/mode voice")
		require.NoError(t, err)
		assert.Contains(t, result.Response, "voice mode")
		assert.Equal(t, domain.ModeVoice, s.Mode())

		result, err = s.HandleInput(context.Background(), "/mode text")
		require.NoError(t, err)
		assert.Equal(t, domain.ModeText, s.Mode())
	})

	t.Run("bare mode shows current", func(t *testing.T) {
		s := ragSession(t, gen, nil)
		result, err := s.HandleInput(context.Background(), "/mode")
		require.NoError(t, err)
		assert.Contains(t, result.Response, "text")
	})
}

func TestVoiceTurnSynthesizesAudio(t *testing.T) {
	gen := &echoGenerator{response: "Spoken answer."}
	s := New(Config{
		Searcher:    neverSearcher{},
		Builder:     assembler.New(assembler.Config{}),
		Generator:   gen,
		Synthesizer: fakeSynth{},
	})
	_, err := s.HandleInput(context.Background(), "/mode voice")
	require.NoError(t, err)

	result, err := s.HandleInput(context.Background(), "say something nice please")
	require.NoError(t, err)
	require.NotNil(t, result.Audio)
	defer result.Audio.Close()

	data, err := io.ReadAll(result.Audio)
	require.NoError(t, err)
	assert.Equal(t, "audio:Spoken answer.", string(data))
}

func TestSynthesisFailureFallsBackToText(t *testing.T) {
	gen := &echoGenerator{response: "Text answer."}
	s := New(Config{
		Searcher:    neverSearcher{},
		Builder:     assembler.New(assembler.Config{}),
		Generator:   gen,
		Synthesizer: fakeSynth{fail: true},
	})
	_, err := s.HandleInput(context.Background(), "/mode voice")
	require.NoError(t, err)

	result, err := s.HandleInput(context.Background(), "say something nice please")
	require.NoError(t, err)
	assert.Nil(t, result.Audio)
	assert.Equal(t, "Text answer.", result.Response)
	assert.Contains(t, result.Notice, "text only")
}

func TestAudioTurnTranscribesThenAnswers(t *testing.T) {
	gen := &echoGenerator{response: "Answered."}
	s := New(Config{
		Searcher:    neverSearcher{},
		Builder:     assembler.New(assembler.Config{}),
		Generator:   gen,
		Transcriber: fakeTranscriber{text: "what is the answer to everything"},
	})

	result, err := s.HandleAudio(context.Background(), strings.NewReader("fake-audio"), "turn.ogg")
	require.NoError(t, err)
	assert.Equal(t, "Answered.", result.Response)

	history := s.History()
	require.Len(t, history, 2)
	assert.Equal(t, "what is the answer to everything", history[0].Content)
}

func TestTranscriptionFailureChangesNothing(t *testing.T) {
	gen := &echoGenerator{response: "never reached"}
	s := New(Config{
		Searcher:    neverSearcher{},
		Builder:     assembler.New(assembler.Config{}),
		Generator:   gen,
		Transcriber: fakeTranscriber{fail: true},
	})

	result, err := s.HandleAudio(context.Background(), strings.NewReader("garbage"), "turn.ogg")
	require.Error(t, err)
	assert.NotEmpty(t, result.Notice)
	assert.Empty(t, s.History())
	assert.Equal(t, StateAwaitingInput, s.State())
	assert.Empty(t, gen.contexts)
}

func TestReloadCommand(t *testing.T) {
	gen := &echoGenerator{response: "ok"}
	s := New(Config{
		Searcher:  neverSearcher{},
		Builder:   assembler.New(assembler.Config{}),
		Generator: gen,
		Reloader:  fakeReloader{report: ingest.Report{Ingested: 2, Skipped: 1}},
	})

	result, err := s.HandleInput(context.Background(), "/reload")
	require.NoError(t, err)
	assert.True(t, result.Command)
	assert.Contains(t, result.Response, "2 ingested")
	assert.Contains(t, result.Response, "1 unchanged")
}

func TestUnknownSlashCommandGoesToModel(t *testing.T) {
	gen := &echoGenerator{response: "shrug indeed"}
	s := New(Config{
		Searcher:  neverSearcher{},
		Builder:   assembler.New(assembler.Config{}),
		Generator: gen,
	})

	result, err := s.HandleInput(context.Background(), "/shrug")
	require.NoError(t, err)
	assert.False(t, result.Command)
	assert.Equal(t, "shrug indeed", result.Response)
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in   string
		name string
		args []string
	}{
		{"/help", "help", nil},
		{"/MODE Voice", "mode", []string{"Voice"}},
		{"  /stats  ", "stats", nil},
		{"plain text", "", nil},
		{"", "", nil},
	}
	for _, tt := range tests {
		cmd := ParseCommand(tt.in)
		if tt.name == "" {
			assert.Nil(t, cmd, "input %q", tt.in)
			continue
		}
		require.NotNil(t, cmd, "input %q", tt.in)
		assert.Equal(t, tt.name, cmd.Name)
		assert.Equal(t, tt.args, cmd.Args)
	}
}

// --- fakes ---

type failingSearcher struct{}

func (failingSearcher) ShouldRetrieve(string) bool { return true }
func (failingSearcher) Retrieve(context.Context, string) (domain.RetrievalResult, error) {
	return nil, fmt.Errorf("%w: index unavailable", domain.ErrEmbedding)
}

type neverSearcher struct{}

func (neverSearcher) ShouldRetrieve(string) bool { return false }
func (neverSearcher) Retrieve(context.Context, string) (domain.RetrievalResult, error) {
	return nil, nil
}

type fakeSynth struct{ fail bool }

func (f fakeSynth) Synthesize(_ context.Context, text string) (io.ReadCloser, error) {
	if f.fail {
		return nil, fmt.Errorf("%w: backend down", domain.ErrSynthesis)
	}
	return io.NopCloser(strings.NewReader("audio:" + text)), nil
}

type fakeTranscriber struct {
	text string
	fail bool
}

func (f fakeTranscriber) Transcribe(context.Context, io.Reader, string) (string, error) {
	if f.fail {
		return "", fmt.Errorf("%w: unintelligible audio", domain.ErrTranscription)
	}
	return f.text, nil
}

type fakeReloader struct{ report ingest.Report }

func (f fakeReloader) Sync(context.Context) (ingest.Report, error) { return f.report, nil }
