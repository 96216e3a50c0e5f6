// Package detect assigns a language to a text through a cascade: a
// statistical primary detector, then script ranges, then common words.
// Results are pure functions of the normalized text and are cached.
package detect

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/cognicore/sentiprep/pkg/sentiprep/cache"
	"github.com/cognicore/sentiprep/pkg/sentiprep/fingerprint"
	"github.com/cognicore/sentiprep/pkg/sentiprep/model"
)

// Detection methods recorded on results.
const (
	MethodStatistical = "statistical"
	MethodScript      = "script"
	MethodWords       = "words"
	MethodNone        = "none"
)

const (
	DefaultMinConfidence  = 0.7
	DefaultShortTextRunes = 10
)

// Primary is the statistical detector consulted first.
type Primary interface {
	Detect(text string) (lang string, confidence float64, err error)
}

// Options configures a Detector.
type Options struct {
	Primary Primary
	// MinConfidence below which the primary answer is not trusted.
	MinConfidence float64
	// ShortTextRunes is the length under which the primary is skipped.
	ShortTextRunes int
	Cache          *cache.Cache
	Logger         *zap.Logger
}

// Detector is safe for concurrent use.
type Detector struct {
	primary        Primary
	minConfidence  float64
	shortTextRunes int
	cache          *cache.Cache
	logger         *zap.Logger
}

// New creates a Detector. A nil Primary defaults to whatlanggo.
func New(opts Options) *Detector {
	if opts.Primary == nil {
		opts.Primary = WhatlangPrimary{}
	}
	if opts.MinConfidence <= 0 {
		opts.MinConfidence = DefaultMinConfidence
	}
	if opts.ShortTextRunes <= 0 {
		opts.ShortTextRunes = DefaultShortTextRunes
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Detector{
		primary:        opts.Primary,
		minConfidence:  opts.MinConfidence,
		shortTextRunes: opts.ShortTextRunes,
		cache:          opts.Cache,
		logger:         opts.Logger.Named("detect"),
	}
}

// Detect returns the language of text, or model.LangUnknown with confidence
// 0 when every stage gives up.
func (d *Detector) Detect(ctx context.Context, text string) model.Detection {
	fp := fingerprint.Of(fingerprint.OpDetect, text)
	if d.cache != nil {
		if det, ok := cache.GetJSON[model.Detection](ctx, d.cache, fp); ok {
			return det
		}
	}

	det := d.detect(text)

	if d.cache != nil {
		if err := cache.PutJSON(ctx, d.cache, fp, det); err != nil {
			d.logger.Warn("caching detection failed", zap.Error(err))
		}
	}
	return det
}

func (d *Detector) detect(text string) model.Detection {
	cleaned := cleanForDetection(text)

	if utf8.RuneCountInString(cleaned) >= d.shortTextRunes {
		lang, conf, err := d.primary.Detect(cleaned)
		switch {
		case err != nil:
			d.logger.Debug("primary detector failed", zap.Error(err))
		case lang != "" && conf >= d.minConfidence:
			return model.Detection{Lang: normalizeCode(lang), Confidence: conf, Method: MethodStatistical}
		default:
			d.logger.Debug("primary detector below threshold",
				zap.String("lang", lang),
				zap.Float64("confidence", conf))
		}
	}

	if lang, conf, ok := ByScript(cleaned); ok {
		return model.Detection{Lang: lang, Confidence: conf, Method: MethodScript, Uncertain: true}
	}
	if lang, conf, ok := ByWords(cleaned); ok {
		return model.Detection{Lang: lang, Confidence: conf, Method: MethodWords, Uncertain: true}
	}
	return model.Detection{Lang: model.LangUnknown, Confidence: 0, Method: MethodNone, Uncertain: true}
}

var (
	urlPattern   = regexp.MustCompile(`https?://\S+`)
	emailPattern = regexp.MustCompile(`\S+@\S+`)
)

// cleanForDetection drops URLs and e-mail addresses, which carry no
// language signal, and collapses whitespace.
func cleanForDetection(text string) string {
	text = urlPattern.ReplaceAllString(text, " ")
	text = emailPattern.ReplaceAllString(text, " ")
	return strings.Join(strings.Fields(text), " ")
}

// normalizeCode lowercases and folds regional variants ("zh-CN", "pt_BR")
// onto the base language. Bokmål and Nynorsk fold onto "no", the code the
// translation capability accepts.
func normalizeCode(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if i := strings.IndexAny(code, "-_"); i > 0 {
		code = code[:i]
	}
	switch code {
	case "nb", "nn":
		return "no"
	}
	return code
}
