package assembler

import (
	"log/slog"

	"voxrag/internal/domain"
)

// Assembler fits retrieved passages and conversation history into a
// character budget. The current query is always included; passages take
// priority over history; both are whole-unit, never truncated mid-text.
type Assembler struct {
	budget     int
	historyCap int
	logger     *slog.Logger
}

type Config struct {
	BudgetChars int
	HistoryCap  int
	Logger      *slog.Logger
}

func New(cfg Config) *Assembler {
	if cfg.BudgetChars <= 0 {
		cfg.BudgetChars = 4000
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Assembler{
		budget:     cfg.BudgetChars,
		historyCap: cfg.HistoryCap,
		logger:     cfg.Logger,
	}
}

// Assemble builds the prompt context for one turn. Passages enter in
// score order and stop at the first that would overflow the remaining
// budget; history enters newest first under the same rule but is returned
// oldest first. Shrinking the budget never adds an item that a larger
// budget excluded.
func (a *Assembler) Assemble(result domain.RetrievalResult, history []domain.Turn, query string) domain.PromptContext {
	remaining := a.budget - len(query)

	var passages []domain.ScoredPassage
	for _, sp := range result {
		if len(sp.Text) > remaining {
			break
		}
		passages = append(passages, sp)
		remaining -= len(sp.Text)
	}

	if a.historyCap > 0 && len(history) > a.historyCap {
		history = history[len(history)-a.historyCap:]
	}

	// Walk history newest first so the most recent exchanges win the
	// leftover budget, then reverse back to chronological order.
	var recent []domain.Turn
	for i := len(history) - 1; i >= 0; i-- {
		if len(history[i].Content) > remaining {
			break
		}
		recent = append(recent, history[i])
		remaining -= len(history[i].Content)
	}
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}

	a.logger.Debug("context assembled",
		"passages", len(passages),
		"history_turns", len(recent),
		"budget_left", remaining)

	return domain.PromptContext{
		Passages: passages,
		History:  recent,
		Query:    query,
	}
}
