// Package chunker splits extracted text into overlapping passages sized for
// embedding and context-window budgets.
package chunker

import (
	"strings"
	"unicode/utf8"

	"voxrag/internal/domain"
)

// Chunk is one passage of the source text. Text carries the overlap prefix
// shared with the previous chunk; [Start, End) is the span contributed by
// this chunk alone, so concatenating the spans of all chunks reconstructs
// the original text exactly.
type Chunk struct {
	Text  string
	Start int
	End   int
}

// Chunker produces deterministic, bounded chunks. Splitting prefers
// paragraph boundaries, then sentence boundaries, then hard cuts when a
// single sentence exceeds the budget.
type Chunker struct {
	maxSize int
	overlap int
}

// New validates the chunking parameters. Overlap must stay below max size,
// otherwise chunking could never make progress.
func New(maxSize, overlap int) (*Chunker, error) {
	if maxSize <= 0 {
		return nil, domain.NewConfigError("chunk size must be positive")
	}
	if overlap < 0 || overlap >= maxSize {
		return nil, domain.NewConfigError("chunk overlap must be >= 0 and smaller than chunk size")
	}
	return &Chunker{maxSize: maxSize, overlap: overlap}, nil
}

type span struct {
	start, end int
}

// Chunk splits text into chunks of at most maxSize bytes each, adjacent
// chunks sharing up to overlap bytes of context. Deterministic for
// identical input and parameters.
func (c *Chunker) Chunk(text string) []Chunk {
	if text == "" {
		return nil
	}

	units := c.split(text)

	var chunks []Chunk
	i := 0
	for i < len(units) {
		prefix := ""
		if len(chunks) > 0 && c.overlap > 0 {
			prefix = tail(chunks[len(chunks)-1].Text, c.overlap)
		}
		budget := c.maxSize - len(prefix)

		start := units[i].start
		end := start
		for i < len(units) && units[i].end-start <= budget {
			end = units[i].end
			i++
		}
		if end == start {
			// Single unit exceeds the remaining budget; units are pre-cut
			// below maxSize-overlap so this only guards against regressions.
			end = runeAlign(text, start+budget)
			if end <= start {
				end = units[i].end
				i++
			}
		}
		chunks = append(chunks, Chunk{Text: prefix + text[start:end], Start: start, End: end})
	}
	return chunks
}

// split partitions text into ordered spans: paragraphs first, oversized
// paragraphs into sentences, oversized sentences into hard cuts. The spans
// cover the text exactly, delimiters included.
func (c *Chunker) split(text string) []span {
	maxFresh := c.maxSize - c.overlap

	var units []span
	for _, p := range splitAfter(text, 0, len(text), "\n\n") {
		if p.end-p.start <= maxFresh {
			units = append(units, p)
			continue
		}
		for _, s := range sentences(text, p) {
			if s.end-s.start <= maxFresh {
				units = append(units, s)
				continue
			}
			units = append(units, hardCut(text, s, maxFresh)...)
		}
	}
	return units
}

// splitAfter yields spans that each end just after an occurrence of sep,
// the final span running to end.
func splitAfter(text string, start, end int, sep string) []span {
	var out []span
	pos := start
	for pos < end {
		idx := strings.Index(text[pos:end], sep)
		if idx < 0 {
			out = append(out, span{pos, end})
			break
		}
		cut := pos + idx + len(sep)
		out = append(out, span{pos, cut})
		pos = cut
	}
	return out
}

// sentences splits a paragraph span after terminal punctuation followed by
// whitespace. Trailing whitespace stays attached to the following sentence
// so the spans partition the text exactly.
func sentences(text string, p span) []span {
	var out []span
	pos := p.start
	for i := p.start; i < p.end-1; i++ {
		ch := text[i]
		if (ch == '.' || ch == '!' || ch == '?') && isSpace(text[i+1]) {
			out = append(out, span{pos, i + 1})
			pos = i + 1
		}
	}
	if pos < p.end {
		out = append(out, span{pos, p.end})
	}
	return out
}

func hardCut(text string, s span, size int) []span {
	var out []span
	pos := s.start
	for pos < s.end {
		cut := pos + size
		if cut >= s.end {
			out = append(out, span{pos, s.end})
			break
		}
		cut = runeAlign(text, cut)
		if cut <= pos {
			cut = s.end
		}
		out = append(out, span{pos, cut})
		pos = cut
	}
	return out
}

// tail returns the last n bytes of s, backed off to a rune boundary.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := len(s) - n
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return s[cut:]
}

// runeAlign moves pos backward until it sits on a rune boundary.
func runeAlign(s string, pos int) int {
	if pos >= len(s) {
		return len(s)
	}
	for pos > 0 && !utf8.RuneStart(s[pos]) {
		pos--
	}
	return pos
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
