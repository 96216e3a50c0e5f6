package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/cognicore/sentiprep/pkg/sentiprep/insight"
	"github.com/cognicore/sentiprep/pkg/sentiprep/model"
)

func sentimentPrompt(text string) string {
	return fmt.Sprintf(`Analyze the sentiment of the following text and respond with ONLY a JSON object in this exact format:
{"sentiment": "positive|negative|neutral", "confidence": 0.85, "reasoning": "brief explanation"}

Text to analyze: %q

Response:`, text)
}

func translatePrompt(text, sourceLang, targetLang string) string {
	return fmt.Sprintf(`Translate the following text from %s to %s.
Provide ONLY the translation, no explanations or additional text.

Text to translate: %q

Translation:`, sourceLang, targetLang, text)
}

func insightsPrompt(in insight.Input) string {
	s := in.Summary
	var buf bytes.Buffer
	buf.WriteString("Analyze these sentiment analysis results and provide strategic business insights:\n\n")
	buf.WriteString("Dataset overview:\n")
	fmt.Fprintf(&buf, "- Total reviews: %d\n", s.Total)
	fmt.Fprintf(&buf, "- Languages: %d (%s)\n", len(in.Languages), strings.Join(in.Languages, ", "))
	fmt.Fprintf(&buf, "- Processing time: %.2fs\n\n", in.Duration.Seconds())
	buf.WriteString("Sentiment distribution:\n")
	fmt.Fprintf(&buf, "- Positive: %d reviews (%.1f%%)\n", s.Positive, s.Share(model.Positive))
	fmt.Fprintf(&buf, "- Negative: %d reviews (%.1f%%)\n", s.Negative, s.Share(model.Negative))
	fmt.Fprintf(&buf, "- Neutral: %d reviews (%.1f%%)\n", s.Neutral, s.Share(model.Neutral))
	if s.Errored > 0 {
		fmt.Fprintf(&buf, "- Not analyzed: %d reviews\n", s.Errored)
	}
	fmt.Fprintf(&buf, "- Dominant sentiment: %s\n", dominant(s))

	if len(in.Samples) > 0 {
		buf.WriteString("\nSample reviews:\n")
		for i, smp := range in.Samples {
			fmt.Fprintf(&buf, "%d. [%s %.2f", i+1, smp.Label, smp.Confidence)
			if smp.Lang != "" {
				fmt.Fprintf(&buf, " %s", smp.Lang)
			}
			fmt.Fprintf(&buf, "] %q\n", smp.Text)
		}
	}

	buf.WriteString(`
Provide 4-6 bullet-point insights covering:
- Overall sentiment health assessment
- Customer satisfaction trends and patterns
- Risk areas and growth opportunities
- Multilingual market insights (if applicable)
- Specific actionable recommendations

Focus on actionable business intelligence. Be specific, data-driven, and strategic.
`)
	return buf.String()
}

// dominant names the largest class; ties go to positive, then negative.
func dominant(s model.Summary) string {
	switch {
	case s.Positive >= s.Negative && s.Positive >= s.Neutral:
		return "Positive"
	case s.Negative >= s.Neutral:
		return "Negative"
	}
	return "Neutral"
}

var fence = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// extractJSONObject returns the first decodable JSON object in model output
// that may be fenced or surrounded by prose.
func extractJSONObject(content string) (string, bool) {
	if m := fence.FindStringSubmatch(content); m != nil {
		content = m[1]
	}
	for start := strings.IndexByte(content, '{'); start >= 0; {
		dec := json.NewDecoder(strings.NewReader(content[start:]))
		var raw json.RawMessage
		if err := dec.Decode(&raw); err == nil && len(raw) > 0 && raw[0] == '{' {
			return string(raw), true
		}
		next := strings.IndexByte(content[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

type sentimentReply struct {
	Sentiment  string   `json:"sentiment"`
	Label      string   `json:"label"`
	Confidence *float64 `json:"confidence"`
}

// parseSentiment reads the model's answer. A JSON object is preferred;
// otherwise the first sentiment keyword in the text decides.
func parseSentiment(content string) (model.Sentiment, error) {
	if strings.TrimSpace(content) == "" {
		return model.Sentiment{}, fmt.Errorf("llm: empty sentiment response")
	}
	if raw, ok := extractJSONObject(content); ok {
		var reply sentimentReply
		if err := json.Unmarshal([]byte(raw), &reply); err == nil {
			name := reply.Sentiment
			if name == "" {
				name = reply.Label
			}
			label, ok := model.ParseLabel(name)
			if !ok {
				label = model.Neutral
			}
			conf := 0.7
			if reply.Confidence != nil {
				conf = *reply.Confidence
			}
			return model.Sentiment{Label: label, Confidence: min(max(conf, 0.5), 0.95)}, nil
		}
	}

	lower := strings.ToLower(content)
	switch {
	case strings.Contains(lower, "positive"):
		return model.Sentiment{Label: model.Positive, Confidence: 0.75}, nil
	case strings.Contains(lower, "negative"):
		return model.Sentiment{Label: model.Negative, Confidence: 0.75}, nil
	}
	return model.Sentiment{Label: model.Neutral, Confidence: 0.65}, nil
}

// translationArtifacts are instruction echoes some models append.
var translationArtifacts = []string{
	`" Provide only`,
	" Provide only",
	" Provide ONLY",
	`" ONLY`,
	" no explanations",
	" no additional text",
	" without any",
	" Translation:",
}

// cleanTranslation strips quoting, a leading "Translation:" label and
// instruction fragments echoed near the end of the reply.
func cleanTranslation(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexByte(text, '\n'); i >= 0 && strings.EqualFold(strings.TrimSpace(text[:i]), "translation:") {
		text = strings.TrimSpace(text[i+1:])
	}
	if len(text) >= 12 && strings.EqualFold(text[:12], "translation:") {
		text = strings.TrimSpace(text[12:])
	}
	for _, q := range []string{`"`, `'`, "“"} {
		closing := q
		if q == "“" {
			closing = "”"
		}
		if len(text) >= len(q)+len(closing) && strings.HasPrefix(text, q) && strings.HasSuffix(text, closing) {
			text = strings.TrimSpace(text[len(q) : len(text)-len(closing)])
		}
	}
	for _, a := range translationArtifacts {
		if pos := strings.Index(text, a); pos >= 0 && float64(pos) > float64(len(text))*0.8 {
			text = strings.TrimSpace(text[:pos])
			break
		}
	}
	return text
}
