// Package insight turns a job's summary and a sample of its units into
// short textual insights. Generation failures degrade to statistical
// bullets computed locally.
package insight

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cognicore/sentiprep/pkg/sentiprep/internalerr"
	"github.com/cognicore/sentiprep/pkg/sentiprep/model"
	"github.com/cognicore/sentiprep/pkg/sentiprep/telemetry"
)

const (
	DefaultSampleSize = 10
	DefaultTimeout    = 60 * time.Second
)

// Sample is one analyzed unit shown to the generator.
type Sample struct {
	Text       string      `json:"text"`
	Label      model.Label `json:"label"`
	Confidence float64     `json:"confidence"`
	Lang       string      `json:"lang,omitempty"`
}

// Input is everything the generator sees.
type Input struct {
	Summary   model.Summary
	Languages []string
	Duration  time.Duration
	Samples   []Sample
}

// Generator is the external insight capability.
type Generator interface {
	GenerateInsights(ctx context.Context, in Input) ([]string, error)
}

// Insights is the enrichment attached to an aggregate result.
type Insights struct {
	Lines []string `json:"lines"`
	// Fallback is set when Lines were computed locally.
	Fallback bool   `json:"fallback"`
	Err      string `json:"error,omitempty"`
}

// Options configures an Enricher.
type Options struct {
	Generator  Generator
	SampleSize int
	Timeout    time.Duration
	Logger     *zap.Logger
	Metrics    *telemetry.Metrics
}

// Enricher is safe for concurrent use.
type Enricher struct {
	gen        Generator
	sampleSize int
	timeout    time.Duration
	logger     *zap.Logger
	metrics    *telemetry.Metrics
}

// New creates an Enricher. Without a Generator every call falls back.
func New(opts Options) *Enricher {
	if opts.SampleSize <= 0 {
		opts.SampleSize = DefaultSampleSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Enricher{
		gen:        opts.Generator,
		sampleSize: opts.SampleSize,
		timeout:    opts.Timeout,
		logger:     opts.Logger.Named("insight"),
		metrics:    opts.Metrics,
	}
}

// Enrich asks the generator for insights on in, trimming its samples to the
// configured size. Any failure, including an empty answer, yields Fallback
// lines with the error recorded; Enrich itself never fails.
func (e *Enricher) Enrich(ctx context.Context, in Input) Insights {
	in.Samples = PickSamples(in.Samples, e.sampleSize)

	if e.gen == nil {
		return Insights{Lines: Fallback(in), Fallback: true}
	}

	done := e.metrics.StartCall("insights")
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	lines, err := e.gen.GenerateInsights(callCtx, in)
	cancel()

	if err == nil {
		lines = compact(lines)
		if len(lines) == 0 {
			err = errors.New("generator returned no insights")
		}
	}
	if err != nil {
		done("error")
		ue := internalerr.NewUnitError("insights", err)
		e.metrics.UnitError(ue.Kind)
		e.logger.Warn("insight generation failed, using fallback",
			zap.String("kind", ue.Kind),
			zap.Error(err))
		return Insights{Lines: Fallback(in), Fallback: true, Err: ue.Error()}
	}
	done("success")
	return Insights{Lines: lines}
}

// PickSamples takes up to n samples round-robin across labels so a skewed
// job still shows the minority classes, keeping input order within a label.
func PickSamples(all []Sample, n int) []Sample {
	if len(all) <= n {
		return all
	}
	byLabel := make(map[model.Label][]Sample, 3)
	for _, s := range all {
		byLabel[s.Label] = append(byLabel[s.Label], s)
	}
	out := make([]Sample, 0, n)
	for len(out) < n {
		progressed := false
		for _, l := range []model.Label{model.Negative, model.Positive, model.Neutral} {
			if len(out) == n {
				break
			}
			if q := byLabel[l]; len(q) > 0 {
				out = append(out, q[0])
				byLabel[l] = q[1:]
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}
	return out
}

// Fallback computes bullet insights from the counts alone.
func Fallback(in Input) []string {
	s := in.Summary
	pos := s.Share(model.Positive)
	neg := s.Share(model.Negative)

	satisfaction := "Low"
	switch {
	case pos > 60:
		satisfaction = "High"
	case pos > 40:
		satisfaction = "Moderate"
	}
	recommendation := "Implement customer satisfaction improvement initiatives"
	if pos > 50 {
		recommendation = "Focus on scaling positive experiences"
	}
	langs := "none detected"
	if len(in.Languages) > 0 {
		langs = strings.Join(in.Languages, ", ")
	}

	lines := []string{
		fmt.Sprintf("Overall Assessment: Analysis of %d reviews shows %.1f%% positive sentiment", s.Total, pos),
		fmt.Sprintf("Customer Satisfaction: %s satisfaction levels based on sentiment distribution", satisfaction),
		fmt.Sprintf("Areas for Improvement: %.1f%% negative feedback requires attention", neg),
		fmt.Sprintf("Language Diversity: Analysis covers %d languages: %s", len(in.Languages), langs),
		"Recommendation: " + recommendation,
	}
	if s.Errored > 0 {
		lines = append(lines, fmt.Sprintf("Coverage: %d of %d reviews could not be analyzed", s.Errored, s.Total))
	}
	return lines
}

var bulletPrefix = regexp.MustCompile(`^(?:[-*•·]+|\d+[.)])\s*`)

// SplitLines breaks generator output into insight lines, dropping bullets,
// numbering and bold markers.
func SplitLines(text string) []string {
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		l = strings.TrimSpace(l)
		l = bulletPrefix.ReplaceAllString(l, "")
		l = strings.ReplaceAll(l, "**", "")
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

func compact(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}
