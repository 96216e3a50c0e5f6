// Package chunk splits record text into token-bounded, overlapping units and
// merges per-unit sentiment back into one record-level answer.
package chunk

import (
	"fmt"

	"github.com/cognicore/sentiprep/pkg/sentiprep/internalerr"
	"github.com/cognicore/sentiprep/pkg/sentiprep/model"
)

const (
	DefaultBudget  = 512
	DefaultOverlap = 50
)

// Chunker splits text into units of at most Budget tokens. Every unit after
// the first repeats the trailing Overlap tokens of its predecessor.
type Chunker struct {
	Budget  int
	Overlap int
	// PreserveSentences ends a unit at the last sentence boundary that fits
	// the budget instead of at the budget itself.
	PreserveSentences bool

	tok Tokenizer
}

// New returns a validated Chunker.
func New(budget, overlap int, preserveSentences bool) (*Chunker, error) {
	c := &Chunker{Budget: budget, Overlap: overlap, PreserveSentences: preserveSentences}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Default uses a 512 token budget with 50 tokens of overlap.
func Default() *Chunker {
	return &Chunker{Budget: DefaultBudget, Overlap: DefaultOverlap, PreserveSentences: true}
}

// Validate checks budget > overlap >= 0.
func (c *Chunker) Validate() error {
	if c.Budget <= 0 {
		return fmt.Errorf("%w: chunk budget must be positive, got %d", internalerr.ErrInvalidConfig, c.Budget)
	}
	if c.Overlap < 0 || c.Overlap >= c.Budget {
		return fmt.Errorf("%w: chunk overlap must be in [0, %d), got %d", internalerr.ErrInvalidConfig, c.Budget, c.Overlap)
	}
	return nil
}

// Split chunks text for recordID. It always returns at least one unit.
//
// Unit i spans tokens [s, e) where new content starts at c = e(i-1) and
// s = c - overlap. DisplayText is the byte range from token c up to token e,
// so the DisplayTexts of all units concatenate back to text exactly.
func (c *Chunker) Split(recordID, text string) []model.TextUnit {
	spans := c.tok.Spans(text)
	n := len(spans)

	if n <= c.Budget {
		return []model.TextUnit{{
			ID:          model.UnitID(recordID, 0),
			RecordID:    recordID,
			ChunkIndex:  0,
			TotalChunks: 1,
			Text:        text,
			DisplayText: text,
			TokenCount:  n,
		}}
	}

	var units []model.TextUnit
	prevStart, prevEnd := 0, 0
	for next := 0; next < n; {
		ov := 0
		if len(units) > 0 {
			ov = min(c.Overlap, prevEnd-prevStart)
		}
		s := next - ov
		e := c.cut(spans, next, s)

		dispStart, dispEnd := 0, len(text)
		if len(units) > 0 {
			dispStart = spans[next].Start
		}
		if e < n {
			dispEnd = spans[e].Start
		}

		units = append(units, model.TextUnit{
			ID:            model.UnitID(recordID, len(units)),
			RecordID:      recordID,
			ChunkIndex:    len(units),
			Text:          text[spans[s].Start:spans[e-1].End],
			DisplayText:   text[dispStart:dispEnd],
			TokenCount:    e - s,
			OverlapTokens: ov,
		})
		prevStart, prevEnd = s, e
		next = e
	}

	for i := range units {
		units[i].TotalChunks = len(units)
	}
	return units
}

// cut picks the end token of a unit whose new content starts at next and
// whose first token is s.
func (c *Chunker) cut(spans []Span, next, s int) int {
	limit := s + c.Budget
	if limit >= len(spans) {
		return len(spans)
	}
	if c.PreserveSentences {
		for j := limit; j > next; j-- {
			if spans[j-1].EndsSentence {
				return j
			}
		}
	}
	return limit
}

// ExpectedChunks is ceil((n - overlap) / (budget - overlap)) for n tokens,
// or 1 when the text fits. Hard splits always produce this many units;
// sentence-preserving splits may produce more.
func ExpectedChunks(n, budget, overlap int) int {
	if n <= budget {
		return 1
	}
	step := budget - overlap
	return (n - overlap + step - 1) / step
}
