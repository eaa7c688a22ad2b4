package domain

import "time"

// Mode is the interaction mode of a conversation turn.
type Mode string

const (
	ModeText  Mode = "text"
	ModeVoice Mode = "voice"
)

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Document describes one ingested source file. SourceID is stable across
// reloads so that delete-by-source can find every derived passage.
type Document struct {
	SourceID    string    `json:"source_id"`
	Path        string    `json:"path"`
	Format      string    `json:"format"`
	ContentHash string    `json:"content_hash"`
	Passages    int       `json:"passages"`
	IngestedAt  time.Time `json:"ingested_at"`
}

// Passage is one indexed chunk of a document. Immutable after insertion;
// updates go through delete-by-source plus reinsert.
type Passage struct {
	ID       string    `json:"id"`
	SourceID string    `json:"source_id"`
	Text     string    `json:"text"`
	Position int       `json:"position"`
	Vector   []float32 `json:"-"`
}

// ScoredPassage pairs a passage with its similarity to a query vector.
// Scores are only comparable within one embedding space.
type ScoredPassage struct {
	Passage
	Score float64
}

// RetrievalResult is an ordered sequence of scored passages, best first,
// with no duplicate passage IDs.
type RetrievalResult []ScoredPassage

// Sources returns the distinct source IDs of the result, best first.
func (r RetrievalResult) Sources() []string {
	seen := make(map[string]bool, len(r))
	var out []string
	for _, sp := range r {
		if !seen[sp.Passage.SourceID] {
			seen[sp.Passage.SourceID] = true
			out = append(out, sp.Passage.SourceID)
		}
	}
	return out
}

// Turn is one entry in the conversation history.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Mode      Mode      `json:"mode"`
	Timestamp time.Time `json:"timestamp"`
}

// PromptContext is the assembled payload for one generation call. It is
// rebuilt every turn and never persisted.
type PromptContext struct {
	Passages []ScoredPassage
	History  []Turn
	Query    string
}

// IndexStats summarizes the current state of a vector index.
type IndexStats struct {
	Passages int
	Sources  int
	ModelID  string
	Metric   string
}
