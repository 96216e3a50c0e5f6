package chunk

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Span is one token of the source text as byte offsets [Start, End).
type Span struct {
	Start int
	End   int
	// EndsSentence is set when the token closes a sentence.
	EndsSentence bool
}

// Tokenizer splits text into positional tokens. Words are runs of
// non-space runes; every Han, Hiragana, Katakana or Thai rune is a
// token of its own since those scripts don't separate words with spaces.
type Tokenizer struct{}

// Spans returns the tokens of text in order.
func (Tokenizer) Spans(text string) []Span {
	var spans []Span
	start := -1

	flush := func(end int) {
		if start >= 0 {
			spans = append(spans, Span{Start: start, End: end})
			start = -1
		}
	}

	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		switch {
		case unicode.IsSpace(r):
			flush(i)
		case isSegmentedScript(r):
			flush(i)
			spans = append(spans, Span{Start: i, End: i + size})
		case unicode.IsPunct(r) && start < 0 && len(spans) > 0 && spans[len(spans)-1].End == i:
			// Punctuation glued to the previous token, e.g. CJK "好。".
			spans[len(spans)-1].End = i + size
		default:
			if start < 0 {
				start = i
			}
		}
		i += size
	}
	flush(len(text))

	for i := range spans {
		spans[i].EndsSentence = endsSentence(text[spans[i].Start:spans[i].End])
	}
	return spans
}

// Count returns the number of tokens in text.
func (t Tokenizer) Count(text string) int {
	return len(t.Spans(text))
}

func isSegmentedScript(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Thai)
}

const closers = "\"'`)]}»”’」』）"

func endsSentence(tok string) bool {
	tok = strings.TrimRight(tok, closers)
	if tok == "" {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(tok)
	switch r {
	case '.', '!', '?', '…', '。', '！', '？', '؟', '।':
		return true
	}
	return false
}
