// Package translate brings non-English units to English through the
// translation capability, cache first. A failed translation never stops the
// pipeline: the unit keeps its original text and is tagged.
package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/cognicore/sentiprep/internal/retry"
	"github.com/cognicore/sentiprep/pkg/sentiprep/cache"
	"github.com/cognicore/sentiprep/pkg/sentiprep/fingerprint"
	"github.com/cognicore/sentiprep/pkg/sentiprep/internalerr"
	"github.com/cognicore/sentiprep/pkg/sentiprep/model"
	"github.com/cognicore/sentiprep/pkg/sentiprep/telemetry"
)

// TargetLang is the language every unit is brought to.
const TargetLang = "en"

// DefaultTimeout bounds a single translation call.
const DefaultTimeout = 30 * time.Second

// Translator is the external translation capability.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

// SupportedLanguages lists the source languages the capability accepts.
func SupportedLanguages() []string {
	return []string{
		"en", "es", "fr", "de", "it", "pt", "nl", "pl", "ru",
		"ja", "ko", "zh", "ar", "hi", "tr", "sv", "da", "no",
		"fi", "el", "he", "cs", "hu", "ro", "th", "vi", "id",
		"ms", "uk", "bg", "hr", "sr", "sk", "sl", "lt", "lv",
		"et", "sq", "mk", "is", "ga", "cy", "eu", "gl", "ca",
	}
}

// Options configures an Orchestrator.
type Options struct {
	Translator Translator
	Cache      *cache.Cache
	// Limiter gates calls to the capability; nil means unlimited.
	Limiter *rate.Limiter
	Timeout time.Duration
	Retry   retry.Config
	// Supported overrides SupportedLanguages.
	Supported []string
	Workers   int
	Logger    *zap.Logger
	Metrics   *telemetry.Metrics
}

// Stats counts orchestrator activity since creation.
type Stats struct {
	Skipped   int64
	CacheHits int64
	Calls     int64
	Failures  int64
}

// Orchestrator is safe for concurrent use by several jobs.
type Orchestrator struct {
	translator Translator
	cache      *cache.Cache
	limiter    *rate.Limiter
	timeout    time.Duration
	retry      retry.Config
	supported  map[string]struct{}
	workers    int
	logger     *zap.Logger
	metrics    *telemetry.Metrics

	group singleflight.Group

	skipped, hits, calls, failures atomic.Int64
}

// New creates an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Translator == nil {
		return nil, fmt.Errorf("%w: translator is required", internalerr.ErrInvalidConfig)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Supported == nil {
		opts.Supported = SupportedLanguages()
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	supported := make(map[string]struct{}, len(opts.Supported))
	for _, l := range opts.Supported {
		supported[strings.ToLower(l)] = struct{}{}
	}
	return &Orchestrator{
		translator: opts.Translator,
		cache:      opts.Cache,
		limiter:    opts.Limiter,
		timeout:    opts.Timeout,
		retry:      opts.Retry,
		supported:  supported,
		workers:    opts.Workers,
		logger:     opts.Logger.Named("translate"),
		metrics:    opts.Metrics,
	}, nil
}

// Supports reports whether lang can be translated.
func (o *Orchestrator) Supports(lang string) bool {
	_, ok := o.supported[strings.ToLower(lang)]
	return ok
}

// Stats returns a snapshot of the counters.
func (o *Orchestrator) Stats() Stats {
	return Stats{
		Skipped:   o.skipped.Load(),
		CacheHits: o.hits.Load(),
		Calls:     o.calls.Load(),
		Failures:  o.failures.Load(),
	}
}

// Translate returns unit with its translation fields filled. English units
// and units without a known language are returned untouched. The returned
// unit always has either Translated or TranslationFailed set when a
// translation was attempted.
func (o *Orchestrator) Translate(ctx context.Context, unit model.TextUnit) model.TextUnit {
	lang := strings.ToLower(unit.Language)
	if lang == "" || lang == model.LangUnknown || lang == TargetLang {
		o.skipped.Add(1)
		return unit
	}

	if !o.Supports(lang) {
		return o.fail(unit, fmt.Errorf("%w: %s", internalerr.ErrUnsupportedLanguage, lang))
	}

	fp := fingerprint.OfTranslation(unit.Text, lang)
	if o.cache != nil {
		if raw, ok := o.cache.Get(ctx, fp); ok {
			o.hits.Add(1)
			unit.Translated = true
			unit.TranslatedText = string(raw)
			return unit
		}
	}

	// The shared call outlives any single caller so a canceled job cannot
	// fail another job waiting on the same text.
	callCtx := context.WithoutCancel(ctx)
	ch := o.group.DoChan(string(fp), func() (any, error) {
		// A concurrent leader may have filled the cache since our lookup.
		if o.cache != nil {
			if raw, ok := o.cache.Peek(callCtx, fp); ok {
				return string(raw), nil
			}
		}
		return o.call(callCtx, unit, lang, fp)
	})
	var v any
	select {
	case res := <-ch:
		if res.Err != nil {
			return o.fail(unit, res.Err)
		}
		if res.Shared {
			o.logger.Debug("shared in-flight translation",
				zap.String("unit_id", unit.ID),
				zap.String("fingerprint", fp.Short()))
		}
		v = res.Val
	case <-ctx.Done():
		return o.fail(unit, ctx.Err())
	}
	unit.Translated = true
	unit.TranslatedText = v.(string)
	return unit
}

func (o *Orchestrator) call(ctx context.Context, unit model.TextUnit, lang string, fp fingerprint.Fingerprint) (string, error) {
	var out string
	attempts, err := retry.Do(ctx, o.retry, func(attempt int) error {
		if o.limiter != nil {
			if err := o.limiter.Wait(ctx); err != nil {
				return retry.Permanent(err)
			}
		}
		o.calls.Add(1)
		done := o.metrics.StartCall(string(fingerprint.OpTranslate))

		callCtx, cancel := context.WithTimeout(ctx, o.timeout)
		text, err := o.translator.Translate(callCtx, unit.Text, lang, TargetLang)
		cancel()

		if err == nil {
			text = strings.TrimSpace(text)
			if text == "" {
				err = errors.New("empty translation")
			}
		}
		if err != nil {
			done("error")
			if errors.Is(err, internalerr.ErrUnsupportedLanguage) {
				return retry.Permanent(err)
			}
			o.logger.Debug("translation attempt failed",
				zap.String("unit_id", unit.ID),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return err
		}
		done("success")
		out = text
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w after %d attempts: %w", internalerr.ErrTranslationFailed, attempts, err)
	}

	if o.cache != nil {
		o.cache.Put(ctx, fp, []byte(out))
	}
	return out, nil
}

func (o *Orchestrator) fail(unit model.TextUnit, err error) model.TextUnit {
	o.failures.Add(1)
	ue := internalerr.NewUnitError(string(fingerprint.OpTranslate), err)
	o.metrics.UnitError(internalerr.KindTranslationFailed)
	o.logger.Warn("translation failed, keeping original text",
		zap.String("unit_id", unit.ID),
		zap.String("lang", unit.Language),
		zap.String("kind", ue.Kind),
		zap.Error(err))

	unit.Translated = false
	unit.TranslatedText = ""
	unit.TranslationFailed = true
	unit.TranslationErr = err.Error()
	return unit
}

// TranslateAll translates units in place on a bounded pool. Unit failures are
// recorded on the units; the only error returned is ctx's.
func (o *Orchestrator) TranslateAll(ctx context.Context, units []model.TextUnit) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for i := range units {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			units[i] = o.Translate(gctx, units[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
