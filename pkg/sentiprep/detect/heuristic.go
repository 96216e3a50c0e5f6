package detect

import (
	"strings"
	"unicode"
)

type scriptRule struct {
	table *unicode.RangeTable
	lang  string
	conf  float64
}

// Scripts are checked in order. Kana goes before Han so Japanese text with
// kanji is not reported as Chinese; scripts used by a single language get a
// higher confidence than shared ones.
var scriptRules = []scriptRule{
	{unicode.Hiragana, "ja", 0.8},
	{unicode.Katakana, "ja", 0.8},
	{unicode.Hangul, "ko", 0.8},
	{unicode.Thai, "th", 0.8},
	{unicode.Greek, "el", 0.8},
	{unicode.Hebrew, "he", 0.8},
	{unicode.Han, "zh", 0.6},
	{unicode.Arabic, "ar", 0.6},
	{unicode.Cyrillic, "ru", 0.6},
	{unicode.Devanagari, "hi", 0.6},
}

// minScriptShare is the fraction of letters a script needs before it counts.
const minScriptShare = 0.2

// ByScript guesses the language from the writing system of its letters.
func ByScript(text string) (lang string, confidence float64, ok bool) {
	counts := make([]int, len(scriptRules))
	letters := 0
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		for i, rule := range scriptRules {
			if unicode.Is(rule.table, r) {
				counts[i]++
				break
			}
		}
	}
	if letters == 0 {
		return "", 0, false
	}
	for i, rule := range scriptRules {
		if float64(counts[i]) >= minScriptShare*float64(letters) && counts[i] > 0 {
			return rule.lang, rule.conf, true
		}
	}
	return "", 0, false
}

// commonWords holds frequent function words that are reasonably distinctive
// per language. Content words are left out: they say more about the topic
// than the language and travel across languages as loanwords.
var commonWords = map[string][]string{
	"en": {"the", "and", "is", "was", "with", "this", "that", "not", "very", "but", "it", "for", "you", "are", "have", "of", "to", "my"},
	"es": {"el", "la", "los", "las", "del", "al", "muy", "pero", "es", "con", "una", "para", "por", "que", "y", "lo", "su", "fue"},
	"fr": {"le", "les", "des", "est", "très", "mais", "avec", "une", "pour", "pas", "et", "je", "ce", "au", "du", "était"},
	"de": {"der", "die", "das", "und", "ist", "nicht", "sehr", "aber", "mit", "ein", "eine", "ich", "für", "auch", "war", "zu"},
	"it": {"il", "gli", "della", "è", "molto", "ma", "con", "una", "per", "non", "che", "sono", "anche", "questo", "era"},
	"pt": {"o", "os", "as", "da", "do", "muito", "mas", "com", "uma", "para", "não", "é", "também", "foi", "em"},
	"nl": {"het", "een", "is", "niet", "zeer", "maar", "met", "voor", "ik", "van", "ook", "erg", "zijn", "dat"},
	"sv": {"och", "är", "inte", "mycket", "men", "med", "för", "jag", "det", "en", "också", "som"},
	"pl": {"jest", "nie", "bardzo", "ale", "z", "dla", "się", "to", "na", "też", "i", "był", "jak"},
	"tr": {"ve", "bir", "bu", "çok", "ama", "ile", "için", "değil", "da", "de", "gibi", "daha"},
	"id": {"dan", "yang", "ini", "itu", "sangat", "tapi", "dengan", "untuk", "tidak", "saya", "juga", "ada"},
}

// wordOrder breaks ties between languages deterministically.
var wordOrder = []string{"en", "es", "fr", "de", "it", "pt", "nl", "sv", "pl", "tr", "id"}

var wordIndex = buildWordIndex()

func buildWordIndex() map[string][]string {
	idx := make(map[string][]string)
	for _, lang := range wordOrder {
		for _, w := range commonWords[lang] {
			idx[w] = append(idx[w], lang)
		}
	}
	return idx
}

// ByWords guesses the language from common words. It needs at least two hits
// for the winner and a strict lead over the runner-up.
func ByWords(text string) (lang string, confidence float64, ok bool) {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
	if len(fields) == 0 {
		return "", 0, false
	}

	hits := make(map[string]int, len(wordOrder))
	for _, f := range fields {
		for _, l := range wordIndex[f] {
			hits[l]++
		}
	}

	best, second := "", 0
	for _, l := range wordOrder {
		switch {
		case best == "" || hits[l] > hits[best]:
			if best != "" {
				second = hits[best]
			}
			best = l
		case hits[l] > second:
			second = hits[l]
		}
	}
	if hits[best] < 2 || hits[best] == second {
		return "", 0, false
	}

	share := float64(hits[best]) / float64(len(fields))
	return best, min(0.5+0.4*share, 0.9), true
}
