// Package fingerprint derives cache keys from normalized text.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Op tags the operation a cached result belongs to.
type Op string

const (
	OpTranslate Op = "translate"
	OpInfer     Op = "infer"
	OpDetect    Op = "detect"
)

// Ops lists every namespace the cache keeps.
var Ops = []Op{OpTranslate, OpInfer, OpDetect}

// Fingerprint is "<op>:<sha256 hex>".
type Fingerprint string

// Normalize folds case, applies NFKC and collapses whitespace runs.
func Normalize(text string) string {
	folded := cases.Fold().String(norm.NFKC.String(text))

	var b strings.Builder
	b.Grow(len(folded))
	space := false
	for _, r := range folded {
		if unicode.IsSpace(r) {
			space = b.Len() > 0
			continue
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Of fingerprints text for op.
func Of(op Op, text string) Fingerprint {
	return digest(op, Normalize(text))
}

// OfTranslation keys a translation by source language as well, so the same
// spelling in two languages never shares an entry.
func OfTranslation(text, sourceLang string) Fingerprint {
	return digest(OpTranslate, strings.ToLower(sourceLang)+"\x1f"+Normalize(text))
}

func digest(op Op, normalized string) Fingerprint {
	h := sha256.New()
	h.Write([]byte(op))
	h.Write([]byte{0})
	h.Write([]byte(normalized))
	return Fingerprint(string(op) + ":" + hex.EncodeToString(h.Sum(nil)))
}

// Op returns the namespace encoded in the fingerprint.
func (f Fingerprint) Op() Op {
	if i := strings.IndexByte(string(f), ':'); i > 0 {
		return Op(f[:i])
	}
	return ""
}

// Short is a log-friendly prefix of the digest.
func (f Fingerprint) Short() string {
	s := string(f)
	i := strings.IndexByte(s, ':')
	if i < 0 || len(s) < i+13 {
		return s
	}
	return s[:i+13]
}

func (f Fingerprint) String() string { return string(f) }
