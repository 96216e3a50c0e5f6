package sentiprep

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cognicore/sentiprep/internal/retry"
	"github.com/cognicore/sentiprep/pkg/sentiprep/cache"
	"github.com/cognicore/sentiprep/pkg/sentiprep/chunk"
	"github.com/cognicore/sentiprep/pkg/sentiprep/detect"
	"github.com/cognicore/sentiprep/pkg/sentiprep/dispatch"
	"github.com/cognicore/sentiprep/pkg/sentiprep/extract"
	"github.com/cognicore/sentiprep/pkg/sentiprep/insight"
	"github.com/cognicore/sentiprep/pkg/sentiprep/internalerr"
	"github.com/cognicore/sentiprep/pkg/sentiprep/model"
	"github.com/cognicore/sentiprep/pkg/sentiprep/translate"
)

// spanishPrimary reports Spanish for texts containing "servicio", English
// otherwise.
type spanishPrimary struct{}

func (spanishPrimary) Detect(text string) (string, float64, error) {
	if strings.Contains(strings.ToLower(text), "servicio") {
		return "es", 0.95, nil
	}
	return "en", 0.95, nil
}

type fakeTranslator struct {
	calls atomic.Int32
}

func (f *fakeTranslator) Translate(_ context.Context, text, sourceLang, _ string) (string, error) {
	f.calls.Add(1)
	if text == "Excelente servicio al cliente." {
		return "Excellent customer service.", nil
	}
	return "[" + sourceLang + "] " + text, nil
}

type fakeInferer struct {
	calls atomic.Int32
	mu    sync.Mutex
	texts []string
}

func (f *fakeInferer) InferSentiment(_ context.Context, text string) (model.Sentiment, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()

	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "boom"):
		return model.Sentiment{}, assert.AnError
	case strings.Contains(lower, "terrible"):
		return model.Sentiment{Label: model.Negative, Confidence: 0.9}, nil
	case strings.Contains(lower, "great"), strings.Contains(lower, "excellent"):
		return model.Sentiment{Label: model.Positive, Confidence: 0.8}, nil
	}
	return model.Sentiment{Label: model.Neutral, Confidence: 0.6}, nil
}

type fixture struct {
	engine     *Engine
	translator *fakeTranslator
	inferer    *fakeInferer
}

func newFixture(t *testing.T, chunker *chunk.Chunker, withInsights bool) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	c, err := cache.New(cache.Options{Capacity: 1000, Logger: logger})
	require.NoError(t, err)

	f := &fixture{translator: &fakeTranslator{}, inferer: &fakeInferer{}}
	tr, err := translate.New(translate.Options{
		Translator: f.translator,
		Cache:      c,
		Retry:      retry.Config{MaxAttempts: 1},
		Logger:     logger,
	})
	require.NoError(t, err)
	d, err := dispatch.New(dispatch.Options{
		Inferer: f.inferer,
		Cache:   c,
		Workers: 4,
		Retry:   retry.Config{MaxAttempts: 1},
		Logger:  logger,
	})
	require.NoError(t, err)

	opts := Options{
		Chunker:    chunker,
		Detector:   detect.New(detect.Options{Primary: spanishPrimary{}, Cache: c, Logger: logger}),
		Translator: tr,
		Dispatcher: d,
		Logger:     logger,
	}
	if withInsights {
		opts.Enricher = insight.New(insight.Options{Logger: logger})
	}
	f.engine, err = New(opts)
	require.NoError(t, err)
	return f
}

func TestEnglishTextSplitsAtSentence(t *testing.T) {
	ch, err := chunk.New(4, 0, true)
	require.NoError(t, err)
	f := newFixture(t, ch, false)

	res, err := f.engine.AnalyzeText(context.Background(), "Great product! Terrible support though.")
	require.NoError(t, err)
	require.Len(t, res.Records, 1)

	rec := res.Records[0]
	require.Len(t, rec.Units, 2)
	assert.Equal(t, "Great product! ", rec.Units[0].DisplayText)
	assert.Equal(t, "Terrible support though.", rec.Units[1].DisplayText)
	assert.Zero(t, f.translator.calls.Load(), "english is never translated")
	assert.Equal(t, int32(2), f.inferer.calls.Load())

	// One vote each; the more confident negative unit wins.
	assert.Equal(t, model.Negative, rec.Label)
	assert.InDelta(t, 0.9, rec.Confidence, 1e-9)
	assert.Equal(t, "en", rec.SourceLang)
	assert.False(t, rec.Translated)
	assert.Equal(t, model.Summary{Negative: 1, Total: 1}, res.Summary)
	assert.Nil(t, res.Insights)
	assert.NotEmpty(t, res.JobID)
}

func TestSpanishRowIsTranslatedOnce(t *testing.T) {
	f := newFixture(t, nil, false)
	csv := "review,rating,date,language\n\"Excelente servicio al cliente.\",5,2024-01-18,es\n"

	res, err := f.engine.AnalyzeFile(context.Background(), []byte(csv), extract.FormatCSV)
	require.NoError(t, err)
	rec := res.Records[0]

	assert.True(t, rec.Translated)
	assert.Equal(t, "es", rec.SourceLang)
	assert.Equal(t, model.Positive, rec.Label)
	assert.Equal(t, "Excellent customer service.", rec.Units[0].TranslatedText)
	assert.Equal(t, []string{"row", "rating", "date", "language"}, rec.Record.Metadata.Keys())
	assert.Equal(t, int32(1), f.translator.calls.Load())
	assert.Equal(t, []string{"Excellent customer service."}, f.inferer.texts)
	assert.Equal(t, []string{"es"}, res.Languages)

	again, err := f.engine.AnalyzeFile(context.Background(), []byte(csv), extract.FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.translator.calls.Load(), "translation is cached")
	assert.Equal(t, int32(1), f.inferer.calls.Load(), "inference is cached")
	assert.Equal(t, 1, again.Stats.Dispatch.CacheHits)
	assert.True(t, again.Records[0].Units[0].Cached)
	assert.NotEqual(t, res.JobID, again.JobID)
}

func TestIdenticalRowsShareOneCall(t *testing.T) {
	f := newFixture(t, nil, false)
	var b strings.Builder
	b.WriteString("text\n")
	for i := 0; i < 500; i++ {
		b.WriteString("Great value for the money\n")
	}

	res, err := f.engine.AnalyzeFile(context.Background(), []byte(b.String()), extract.FormatCSV)
	require.NoError(t, err)
	require.Len(t, res.Records, 500)
	assert.Equal(t, int32(1), f.inferer.calls.Load())
	assert.Equal(t, 1, res.Stats.Dispatch.CacheMisses)
	assert.Equal(t, 499, res.Stats.Dispatch.CacheHits)
	assert.Equal(t, 500, res.Summary.Positive)
}

func TestFailedUnitIsTaggedAndSiblingsComplete(t *testing.T) {
	f := newFixture(t, nil, true)
	records := []model.SourceRecord{
		{ID: "rec-0001", Text: "Great phone, great battery"},
		{ID: "rec-0002", Index: 1, Text: "boom goes the model"},
		{ID: "rec-0003", Index: 2, Text: "Terrible delivery experience"},
	}

	res, err := f.engine.AnalyzeRecords(context.Background(), records)
	require.NoError(t, err)

	ids := make([]string, len(res.Records))
	for i, r := range res.Records {
		ids[i] = r.Record.ID
	}
	assert.Equal(t, []string{"rec-0001", "rec-0002", "rec-0003"}, ids, "input order is kept")

	failed := res.Records[1]
	assert.Empty(t, failed.Label)
	assert.Equal(t, internalerr.KindInference, failed.Units[0].ErrorKind)
	require.NotEmpty(t, failed.Errors)
	assert.Contains(t, failed.Errors[0], "rec-0002#0")

	assert.Equal(t, model.Positive, res.Records[0].Label)
	assert.Equal(t, model.Negative, res.Records[2].Label)
	assert.Equal(t, model.Summary{Positive: 1, Negative: 1, Errored: 1, Total: 3}, res.Summary)

	require.NotNil(t, res.Insights)
	assert.True(t, res.Insights.Fallback)
	assert.Contains(t, res.Insights.Lines[len(res.Insights.Lines)-1], "1 of 3")
}

func TestFileErrorsAbortBeforeUnits(t *testing.T) {
	f := newFixture(t, nil, false)

	_, err := f.engine.AnalyzeFile(context.Background(), []byte("rating,date\n5,2024-01-01\n"), extract.FormatCSV)
	assert.ErrorIs(t, err, internalerr.ErrNoTextField)

	_, err = f.engine.AnalyzeFile(context.Background(), []byte("{not json"), extract.FormatJSON)
	assert.ErrorIs(t, err, internalerr.ErrFormat)

	_, err = f.engine.AnalyzeText(context.Background(), "  <p> </p> ")
	assert.ErrorIs(t, err, internalerr.ErrNoTextField)

	assert.Zero(t, f.inferer.calls.Load())
}

func TestCancelledJobReturnsNothing(t *testing.T) {
	f := newFixture(t, nil, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.engine.AnalyzeText(ctx, "Great product, would buy again")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)
}

func TestMixedLanguagesAndJSON(t *testing.T) {
	f := newFixture(t, nil, true)
	doc := `{"reviews":[{"comment":"Great app overall","stars":5},{"comment":"Buen servicio","stars":4}]}`

	res, err := f.engine.AnalyzeFile(context.Background(), []byte(doc), extract.FormatJSON)
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.ElementsMatch(t, []string{"en", "es"}, res.Languages)
	assert.Equal(t, 1, res.Stats.Translated)
	assert.True(t, res.Records[1].Translated)
	assert.Equal(t, "[es] Buen servicio", res.Records[1].Units[0].TranslatedText)

	out, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"metadata":{"row":"2","stars":"4"}`)
}

func TestNewRequiresDispatcher(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, internalerr.ErrInvalidConfig)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "héllo…", truncate("héllo wörld", 5))
}
