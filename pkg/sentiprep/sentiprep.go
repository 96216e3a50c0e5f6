// Package sentiprep prepares multilingual free-form text for sentiment
// inference: extraction, chunking, language detection, translation,
// deduplicated dispatch to the inference capability and reassembly into one
// result per input record.
package sentiprep

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cognicore/sentiprep/pkg/sentiprep/chunk"
	"github.com/cognicore/sentiprep/pkg/sentiprep/detect"
	"github.com/cognicore/sentiprep/pkg/sentiprep/dispatch"
	"github.com/cognicore/sentiprep/pkg/sentiprep/extract"
	"github.com/cognicore/sentiprep/pkg/sentiprep/insight"
	"github.com/cognicore/sentiprep/pkg/sentiprep/internalerr"
	"github.com/cognicore/sentiprep/pkg/sentiprep/model"
	"github.com/cognicore/sentiprep/pkg/sentiprep/telemetry"
	"github.com/cognicore/sentiprep/pkg/sentiprep/translate"
)

// sampleRunes bounds the record text shown to the insight generator.
const sampleRunes = 300

// Engine is the pipeline facade. It is safe for concurrent use; concurrent
// jobs share only the cache behind their components.
type Engine struct {
	extractor  *extract.Extractor
	chunker    *chunk.Chunker
	strategy   chunk.Strategy
	detector   *detect.Detector
	translator *translate.Orchestrator
	dispatcher *dispatch.Dispatcher
	enricher   *insight.Enricher
	workers    int
	logger     *zap.Logger
	metrics    *telemetry.Metrics
	now        func() time.Time

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// Options configures an Engine. Dispatcher is required; a nil Translator
// leaves every unit in its source language and a nil Enricher disables
// insights.
type Options struct {
	Extractor  *extract.Extractor
	Chunker    *chunk.Chunker
	Strategy   chunk.Strategy
	Detector   *detect.Detector
	Translator *translate.Orchestrator
	Dispatcher *dispatch.Dispatcher
	Enricher   *insight.Enricher
	// Workers bounds concurrent detection; default runtime.GOMAXPROCS(0).
	Workers int
	Logger  *zap.Logger
	Metrics *telemetry.Metrics
	Now     func() time.Time
}

// New creates an Engine with the given dependencies
func New(opts Options) (*Engine, error) {
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("%w: dispatcher is required", internalerr.ErrInvalidConfig)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Extractor == nil {
		opts.Extractor = extract.New(extract.Options{Logger: opts.Logger})
	}
	if opts.Chunker == nil {
		opts.Chunker = chunk.Default()
	}
	if err := opts.Chunker.Validate(); err != nil {
		return nil, err
	}
	if opts.Strategy == "" {
		opts.Strategy = chunk.StrategyWeighted
	}
	if opts.Detector == nil {
		opts.Detector = detect.New(detect.Options{Logger: opts.Logger})
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		extractor:  opts.Extractor,
		chunker:    opts.Chunker,
		strategy:   opts.Strategy,
		detector:   opts.Detector,
		translator: opts.Translator,
		dispatcher: opts.Dispatcher,
		enricher:   opts.Enricher,
		workers:    opts.Workers,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		now:        opts.Now,
		entropy:    ulid.Monotonic(rand.Reader, 0),
	}, nil
}

// UnitResult is one unit with its inference outcome.
type UnitResult struct {
	model.TextUnit
	Sentiment model.Sentiment `json:"sentiment"`
	Cached    bool            `json:"cached"`
	Attempts  int             `json:"attempts,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorKind string          `json:"error_kind,omitempty"`
}

// RecordResult is the merged view of one SourceRecord.
type RecordResult struct {
	Record model.SourceRecord `json:"record"`
	Units  []UnitResult       `json:"units"`
	// Label is empty when no unit of the record could be analyzed.
	Label             model.Label `json:"label,omitempty"`
	Confidence        float64     `json:"confidence"`
	SourceLang        string      `json:"source_lang"`
	Translated        bool        `json:"translated"`
	TranslationFailed bool        `json:"translation_failed,omitempty"`
	Errors            []string    `json:"errors,omitempty"`
}

// JobStats describes the work done for one invocation.
type JobStats struct {
	Records           int            `json:"records"`
	Units             int            `json:"units"`
	Translated        int            `json:"translated_units"`
	TranslationFailed int            `json:"translation_failed_units"`
	Dispatch          dispatch.Stats `json:"dispatch"`
}

// AggregateResult is the terminal artifact of one invocation.
type AggregateResult struct {
	JobID     string            `json:"job_id"`
	Records   []RecordResult    `json:"records"`
	Summary   model.Summary     `json:"summary"`
	Languages []string          `json:"languages"`
	Insights  *insight.Insights `json:"insights,omitempty"`
	Stats     JobStats          `json:"stats"`
	StartedAt time.Time         `json:"started_at"`
	Duration  time.Duration     `json:"duration_ns"`
}

// AnalyzeFile extracts records from buf and analyzes them. Extraction errors
// are returned before any unit is created.
func (e *Engine) AnalyzeFile(ctx context.Context, buf []byte, format extract.Format) (*AggregateResult, error) {
	records, err := e.extractor.Extract(buf, format)
	if err != nil {
		e.logger.Error("extraction failed",
			zap.String("format", string(format)),
			zap.Int("bytes", len(buf)),
			zap.Error(err))
		e.metrics.JobDone(internalerr.Kind(err), 0)
		return nil, err
	}
	return e.AnalyzeRecords(ctx, records)
}

// AnalyzeText analyzes a single free-form submission.
func (e *Engine) AnalyzeText(ctx context.Context, text string) (*AggregateResult, error) {
	text = extract.Clean(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty text", internalerr.ErrNoTextField)
	}
	return e.AnalyzeRecords(ctx, []model.SourceRecord{{ID: model.RecordID(0), Text: text}})
}

// AnalyzeRecords runs the pipeline over records. Unit-level failures are
// recorded on the records; a non-nil error means ctx ended and no result is
// returned.
func (e *Engine) AnalyzeRecords(ctx context.Context, records []model.SourceRecord) (*AggregateResult, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no records", internalerr.ErrNoTextField)
	}
	started := e.now()
	jobID := e.newJobID(started)
	logger := e.logger.With(zap.String("job_id", jobID))

	res, err := e.run(ctx, jobID, started, logger, records)
	dur := e.now().Sub(started)
	if err != nil {
		outcome := "error"
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			outcome = internalerr.KindCanceled
		}
		e.metrics.JobDone(outcome, dur)
		logger.Warn("job abandoned", zap.Duration("duration", dur), zap.Error(err))
		return nil, err
	}
	res.JobID = jobID
	res.StartedAt = started
	res.Duration = dur
	e.metrics.JobDone("success", dur)
	logger.Info("job complete",
		zap.Int("records", res.Stats.Records),
		zap.Int("units", res.Stats.Units),
		zap.Int("positive", res.Summary.Positive),
		zap.Int("neutral", res.Summary.Neutral),
		zap.Int("negative", res.Summary.Negative),
		zap.Int("errored", res.Summary.Errored),
		zap.Duration("duration", dur))
	return res, nil
}

func (e *Engine) run(ctx context.Context, jobID string, started time.Time, logger *zap.Logger, records []model.SourceRecord) (*AggregateResult, error) {
	// Chunk: bounds[i] is the unit range of records[i].
	var units []model.TextUnit
	bounds := make([][2]int, len(records))
	for i, rec := range records {
		start := len(units)
		units = append(units, e.chunker.Split(rec.ID, rec.Text)...)
		bounds[i] = [2]int{start, len(units)}
	}
	logger.Debug("chunked", zap.Int("records", len(records)), zap.Int("units", len(units)))

	if err := e.detectAll(ctx, units); err != nil {
		return nil, err
	}
	if e.translator != nil {
		if err := e.translator.TranslateAll(ctx, units); err != nil {
			return nil, err
		}
	}

	job := model.NewBatchJob(jobID, units)
	dstats, err := e.dispatcher.Dispatch(ctx, job)
	if err != nil {
		return nil, err
	}
	if !job.Complete() {
		return nil, fmt.Errorf("%w: dispatch left units without results", internalerr.ErrInference)
	}

	res := &AggregateResult{
		Records: make([]RecordResult, len(records)),
		Stats:   JobStats{Records: len(records), Units: len(units), Dispatch: dstats},
	}
	seenLang := make(map[string]bool)
	var samples []insight.Sample
	for i, rec := range records {
		rr := e.assemble(rec, units[bounds[i][0]:bounds[i][1]], job)
		res.Records[i] = rr
		res.Summary.Add(rr.Label)
		if model.LangKnown(rr.SourceLang) && !seenLang[rr.SourceLang] {
			seenLang[rr.SourceLang] = true
			res.Languages = append(res.Languages, rr.SourceLang)
		}
		for _, u := range rr.Units {
			if u.Translated {
				res.Stats.Translated++
			}
			if u.TranslationFailed {
				res.Stats.TranslationFailed++
			}
		}
		if rr.Label != "" {
			samples = append(samples, insight.Sample{
				Text:       truncate(rec.Text, sampleRunes),
				Label:      rr.Label,
				Confidence: rr.Confidence,
				Lang:       rr.SourceLang,
			})
		}
	}

	if e.enricher != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ins := e.enricher.Enrich(ctx, insight.Input{
			Summary:   res.Summary,
			Languages: res.Languages,
			Duration:  e.now().Sub(started),
			Samples:   samples,
		})
		res.Insights = &ins
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// detectAll assigns a language to every unit on a bounded pool.
func (e *Engine) detectAll(ctx context.Context, units []model.TextUnit) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := range units {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			det := e.detector.Detect(gctx, units[i].Text)
			units[i].Language = det.Lang
			units[i].Confidence = det.Confidence
			units[i].DetectMethod = det.Method
			units[i].DetectUncertain = det.Uncertain
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// assemble merges the unit results of one record, in unit order.
func (e *Engine) assemble(rec model.SourceRecord, units []model.TextUnit, job *model.BatchJob) RecordResult {
	rr := RecordResult{Record: rec, Units: make([]UnitResult, len(units))}
	votes := make([]chunk.Vote, 0, len(units))
	langCount := make(map[string]int)
	var langOrder []string

	for i, u := range units {
		r := job.Results[u.ID]
		ur := UnitResult{TextUnit: u, Cached: r.Cached, Attempts: r.Attempts}
		if r.OK() {
			ur.Sentiment = r.Sentiment
			votes = append(votes, chunk.Vote{Label: r.Sentiment.Label, Confidence: r.Sentiment.Confidence})
		} else {
			ur.Error = r.Err.Error()
			ur.ErrorKind = r.ErrKind
			rr.Errors = append(rr.Errors, fmt.Sprintf("%s: %s", u.ID, ur.Error))
		}
		rr.Units[i] = ur

		if u.Translated {
			rr.Translated = true
		}
		if u.TranslationFailed {
			rr.TranslationFailed = true
			rr.Errors = append(rr.Errors, fmt.Sprintf("%s: %s", u.ID, u.TranslationErr))
		}
		if u.DetectMethod == detect.MethodNone {
			rr.Errors = append(rr.Errors, fmt.Sprintf("%s: %v", u.ID, internalerr.ErrDetectionUncertain))
		}
		if model.LangKnown(u.Language) {
			if langCount[u.Language] == 0 {
				langOrder = append(langOrder, u.Language)
			}
			langCount[u.Language]++
		}
	}

	rr.Label, rr.Confidence = chunk.Merge(votes, e.strategy)
	rr.SourceLang = model.LangUnknown
	for _, l := range langOrder {
		if rr.SourceLang == model.LangUnknown || langCount[l] > langCount[rr.SourceLang] {
			rr.SourceLang = l
		}
	}
	return rr
}

func (e *Engine) newJobID(t time.Time) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), e.entropy).String()
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return strings.TrimSpace(s[:i]) + "…"
		}
		count++
	}
	return s
}
