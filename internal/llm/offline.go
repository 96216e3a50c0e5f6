package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/cognicore/sentiprep/pkg/sentiprep/insight"
	"github.com/cognicore/sentiprep/pkg/sentiprep/internalerr"
	"github.com/cognicore/sentiprep/pkg/sentiprep/model"
)

var (
	positiveWords = []string{"good", "great", "excellent", "amazing", "love", "perfect", "wonderful", "fantastic"}
	negativeWords = []string{"bad", "terrible", "awful", "hate", "horrible", "worst", "disappointing"}
)

// Offline implements the capabilities without a model service: keyword
// sentiment, statistical insights and no translation.
type Offline struct{}

// InferSentiment counts positive and negative keywords.
func (Offline) InferSentiment(_ context.Context, text string) (model.Sentiment, error) {
	return KeywordSentiment(text), nil
}

// Translate only passes through text already in targetLang.
func (Offline) Translate(_ context.Context, text, sourceLang, targetLang string) (string, error) {
	if strings.EqualFold(sourceLang, targetLang) {
		return text, nil
	}
	return "", fmt.Errorf("%w: offline mode cannot translate %s", internalerr.ErrUnsupportedLanguage, sourceLang)
}

// GenerateInsights returns the statistical fallback lines.
func (Offline) GenerateInsights(_ context.Context, in insight.Input) ([]string, error) {
	return insight.Fallback(in), nil
}

// KeywordSentiment labels text by which keyword list it hits more often.
func KeywordSentiment(text string) model.Sentiment {
	lower := strings.ToLower(text)
	pos, neg := 0, 0
	for _, w := range positiveWords {
		if strings.Contains(lower, w) {
			pos++
		}
	}
	for _, w := range negativeWords {
		if strings.Contains(lower, w) {
			neg++
		}
	}
	switch {
	case pos > neg:
		return model.Sentiment{Label: model.Positive, Confidence: 0.7}
	case neg > pos:
		return model.Sentiment{Label: model.Negative, Confidence: 0.7}
	}
	return model.Sentiment{Label: model.Neutral, Confidence: 0.6}
}
