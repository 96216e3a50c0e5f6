// Package model holds the records, units and results that flow through one
// pipeline invocation. Nothing here is shared across invocations.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Field is one metadata entry carried through untouched.
type Field struct {
	Key   string
	Value string
}

// Metadata is an ordered field→value mapping.
type Metadata []Field

// Get returns the value for key.
func (m Metadata) Get(key string) (string, bool) {
	for _, f := range m {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// Keys returns the keys in input order.
func (m Metadata) Keys() []string {
	keys := make([]string, len(m))
	for i, f := range m {
		keys[i] = f.Key
	}
	return keys
}

// MarshalJSON renders m as a JSON object in field order.
func (m Metadata) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object back in key order. Non-string values keep
// their compact JSON text.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*m = nil
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return fmt.Errorf("metadata: expected object")
	}
	var out Metadata
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("metadata: expected key, got %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			var compact bytes.Buffer
			if err := json.Compact(&compact, raw); err != nil {
				return err
			}
			s = compact.String()
		}
		out = append(out, Field{Key: key, Value: s})
	}
	*m = out
	return nil
}

// SourceRecord is one input row or object.
type SourceRecord struct {
	ID       string   `json:"id"`
	Index    int      `json:"index"`
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata,omitempty"`
}

// RecordID builds the stable ID for the record at index.
func RecordID(index int) string {
	return fmt.Sprintf("rec-%04d", index+1)
}

// Label is a sentiment class.
type Label string

const (
	Positive Label = "positive"
	Neutral  Label = "neutral"
	Negative Label = "negative"
)

// Labels lists the classes in summary order.
var Labels = []Label{Positive, Neutral, Negative}

// ParseLabel maps free-form model output onto a Label.
func ParseLabel(s string) (Label, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "positive", "pos":
		return Positive, true
	case "negative", "neg":
		return Negative, true
	case "neutral", "mixed":
		return Neutral, true
	}
	return "", false
}

// LangUnknown is the code returned when detection gives up.
const LangUnknown = "und"

// Detection is the outcome of language detection for one text.
type Detection struct {
	Lang       string  `json:"lang"`
	Confidence float64 `json:"confidence"`
	Method     string  `json:"method"`
	Uncertain  bool    `json:"uncertain,omitempty"`
}

// Known reports whether a language was assigned.
func (d Detection) Known() bool { return LangKnown(d.Lang) }

// LangKnown reports whether code names a language.
func LangKnown(code string) bool { return code != "" && code != LangUnknown }

// TextUnit is one chunk of a record's text.
type TextUnit struct {
	ID            string `json:"id"`
	RecordID      string `json:"record_id"`
	ChunkIndex    int    `json:"chunk_index"`
	TotalChunks   int    `json:"total_chunks"`
	Text          string `json:"-"`            // sent to inference, includes overlap
	DisplayText   string `json:"display_text"` // non-overlap span of the original text
	TokenCount    int    `json:"token_count"`
	OverlapTokens int    `json:"overlap_tokens,omitempty"`

	Language        string  `json:"language"`
	Confidence      float64 `json:"language_confidence"`
	DetectMethod    string  `json:"detect_method,omitempty"`
	DetectUncertain bool    `json:"detect_uncertain,omitempty"`

	Translated        bool   `json:"translated"`
	TranslatedText    string `json:"translated_text,omitempty"`
	TranslationFailed bool   `json:"translation_failed,omitempty"`
	TranslationErr    string `json:"translation_error,omitempty"`
}

// UnitID builds the stable ID of chunk index within recordID.
func UnitID(recordID string, index int) string {
	return fmt.Sprintf("%s#%d", recordID, index)
}

// InferenceText is the text the inference capability sees.
func (u TextUnit) InferenceText() string {
	if u.Translated && u.TranslatedText != "" {
		return u.TranslatedText
	}
	return u.Text
}

// Sentiment is the inference capability's answer for one text.
type Sentiment struct {
	Label      Label   `json:"label"`
	Confidence float64 `json:"confidence"`
}

// InferenceResult is the per-unit outcome of dispatch.
type InferenceResult struct {
	UnitID      string
	Fingerprint string
	Sentiment   Sentiment
	Cached      bool
	Attempts    int
	Err         error
	ErrKind     string
}

// OK reports whether the unit has a usable sentiment.
func (r InferenceResult) OK() bool { return r.Err == nil }

// BatchJob groups the units of one invocation with their results.
type BatchJob struct {
	ID      string
	Units   []TextUnit
	Results map[string]InferenceResult
}

// NewBatchJob creates a job with an empty results map.
func NewBatchJob(id string, units []TextUnit) *BatchJob {
	return &BatchJob{
		ID:      id,
		Units:   units,
		Results: make(map[string]InferenceResult, len(units)),
	}
}

// Complete reports whether every unit has a result.
func (j *BatchJob) Complete() bool {
	for _, u := range j.Units {
		if _, ok := j.Results[u.ID]; !ok {
			return false
		}
	}
	return true
}

// Summary counts records per sentiment class. Errored records have no label.
type Summary struct {
	Positive int `json:"positive"`
	Neutral  int `json:"neutral"`
	Negative int `json:"negative"`
	Errored  int `json:"errored"`
	Total    int `json:"total"`
}

// Add counts one record with label, or an errored record for "".
func (s *Summary) Add(label Label) {
	s.Total++
	switch label {
	case Positive:
		s.Positive++
	case Neutral:
		s.Neutral++
	case Negative:
		s.Negative++
	default:
		s.Errored++
	}
}

// Share returns the percentage of labelled records with label.
func (s Summary) Share(label Label) float64 {
	if s.Total == 0 {
		return 0
	}
	var n int
	switch label {
	case Positive:
		n = s.Positive
	case Neutral:
		n = s.Neutral
	case Negative:
		n = s.Negative
	}
	return float64(n) / float64(s.Total) * 100
}
