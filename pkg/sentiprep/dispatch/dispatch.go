// Package dispatch sends a job's units to the inference capability on a
// bounded worker pool. Units are grouped by inference fingerprint so each
// distinct text costs at most one call per job; concurrent jobs share
// in-flight calls through a single-flight group.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime"
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

// DefaultTimeout bounds one inference call.
const DefaultTimeout = 60 * time.Second

// Inferer is the external sentiment capability.
type Inferer interface {
	InferSentiment(ctx context.Context, text string) (model.Sentiment, error)
}

// Options configures a Dispatcher.
type Options struct {
	Inferer Inferer
	Cache   *cache.Cache
	// Workers bounds concurrent calls; default runtime.GOMAXPROCS(0).
	Workers int
	Timeout time.Duration
	Retry   retry.Config
	// Limiter gates calls to the capability; nil means unlimited.
	Limiter *rate.Limiter
	Metrics *telemetry.Metrics
	Logger  *zap.Logger
}

// Stats describes one Dispatch call. Every unit counts as exactly one hit or
// one miss: the first unit of a fingerprint group that had to be computed is
// the miss, its duplicates are hits.
type Stats struct {
	Units        int `json:"units"`
	Groups       int `json:"groups"`
	CacheHits    int `json:"cache_hits"`
	CacheMisses  int `json:"cache_misses"`
	Calls        int `json:"calls"`
	Deduplicated int `json:"deduplicated"`
	Errors       int `json:"errors"`
}

// Dispatcher is safe for concurrent use by several jobs.
type Dispatcher struct {
	inferer Inferer
	cache   *cache.Cache
	workers int
	timeout time.Duration
	retry   retry.Config
	limiter *rate.Limiter
	metrics *telemetry.Metrics
	logger  *zap.Logger

	group singleflight.Group
}

// New creates a Dispatcher.
func New(opts Options) (*Dispatcher, error) {
	if opts.Inferer == nil {
		return nil, fmt.Errorf("%w: inferer is required", internalerr.ErrInvalidConfig)
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Dispatcher{
		inferer: opts.Inferer,
		cache:   opts.Cache,
		workers: opts.Workers,
		timeout: opts.Timeout,
		retry:   opts.Retry,
		limiter: opts.Limiter,
		metrics: opts.Metrics,
		logger:  opts.Logger.Named("dispatch"),
	}, nil
}

// Workers returns the pool size.
func (d *Dispatcher) Workers() int { return d.workers }

type unitGroup struct {
	fp    fingerprint.Fingerprint
	text  string
	units []int // indexes into job.Units, in job order
}

type source int

const (
	fromCache source = iota
	fromCall
	fromShared
)

type outcome struct {
	sentiment model.Sentiment
	src       source
	attempts  int
	err       error
}

// Dispatch fills job.Results with one result per unit. Unit failures are
// recorded as results; the returned error is non-nil only when ctx ends
// before every unit is resolved, in which case job.Results must be
// discarded.
func (d *Dispatcher) Dispatch(ctx context.Context, job *model.BatchJob) (Stats, error) {
	start := time.Now()
	groups := groupUnits(job.Units)
	stats := Stats{Units: len(job.Units), Groups: len(groups)}

	outcomes := make([]outcome, len(groups))
	var g errgroup.Group
	g.SetLimit(d.workers)
	for i := range groups {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			outcomes[i] = d.resolve(ctx, groups[i])
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		d.logger.Warn("dispatch abandoned",
			zap.String("job_id", job.ID),
			zap.Error(err))
		return stats, err
	}

	for gi, grp := range groups {
		out := outcomes[gi]
		n := len(grp.units)
		switch out.src {
		case fromCache:
			stats.CacheHits += n
		default:
			stats.CacheMisses++
			stats.CacheHits += n - 1
			if out.src == fromCall {
				stats.Calls++
			}
		}
		stats.Deduplicated += n - 1
		if d.cache != nil && out.err == nil {
			d.cache.RecordHits(fingerprint.OpInfer, n-1)
		}

		var kind string
		if out.err != nil {
			kind = internalerr.Kind(out.err)
			stats.Errors += n
		}
		for k, ui := range grp.units {
			u := job.Units[ui]
			job.Results[u.ID] = model.InferenceResult{
				UnitID:      u.ID,
				Fingerprint: string(grp.fp),
				Sentiment:   out.sentiment,
				Cached:      out.err == nil && (out.src == fromCache || k > 0),
				Attempts:    out.attempts,
				Err:         out.err,
				ErrKind:     kind,
			}
			if out.err != nil {
				d.metrics.UnitError(kind)
			}
		}
	}

	d.logger.Info("dispatch complete",
		zap.String("job_id", job.ID),
		zap.Int("units", stats.Units),
		zap.Int("groups", stats.Groups),
		zap.Int("calls", stats.Calls),
		zap.Int("cache_hits", stats.CacheHits),
		zap.Int("errors", stats.Errors),
		zap.Duration("duration", time.Since(start)))
	return stats, nil
}

// groupUnits buckets units by inference fingerprint in order of first
// appearance.
func groupUnits(units []model.TextUnit) []unitGroup {
	var groups []unitGroup
	index := make(map[fingerprint.Fingerprint]int, len(units))
	for i, u := range units {
		text := u.InferenceText()
		fp := fingerprint.Of(fingerprint.OpInfer, text)
		gi, ok := index[fp]
		if !ok {
			gi = len(groups)
			index[fp] = gi
			groups = append(groups, unitGroup{fp: fp, text: text})
		}
		groups[gi].units = append(groups[gi].units, i)
	}
	return groups
}

// resolve answers one fingerprint group. The shared call is detached from
// the cancellation of whichever job started it, so a job that joins an
// in-flight call is never failed by another job's cancellation; each caller
// stops waiting when its own ctx ends.
func (d *Dispatcher) resolve(ctx context.Context, grp unitGroup) outcome {
	if d.cache != nil {
		if s, ok := cache.GetJSON[model.Sentiment](ctx, d.cache, grp.fp); ok {
			return outcome{sentiment: s, src: fromCache}
		}
	}

	callCtx := context.WithoutCancel(ctx)
	ch := d.group.DoChan(string(grp.fp), func() (any, error) {
		if d.cache != nil {
			if s, ok := cache.PeekJSON[model.Sentiment](callCtx, d.cache, grp.fp); ok {
				return outcome{sentiment: s, src: fromCache}, nil
			}
		}
		return d.call(callCtx, grp), nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return outcome{err: res.Err}
		}
		out := res.Val.(outcome)
		if res.Shared && out.src == fromCall {
			out.src = fromShared
		}
		return out
	case <-ctx.Done():
		return outcome{err: ctx.Err()}
	}
}

func (d *Dispatcher) call(ctx context.Context, grp unitGroup) outcome {
	var s model.Sentiment
	attempts, err := retry.Do(ctx, d.retry, func(attempt int) error {
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				return retry.Permanent(err)
			}
		}
		done := d.metrics.StartCall(string(fingerprint.OpInfer))
		callCtx, cancel := context.WithTimeout(ctx, d.timeout)
		got, err := d.inferer.InferSentiment(callCtx, grp.text)
		cancel()
		if err == nil {
			got, err = validate(got)
		}
		if err != nil {
			done("error")
			d.logger.Debug("inference attempt failed",
				zap.String("fingerprint", grp.fp.Short()),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return err
		}
		done("success")
		s = got
		return nil
	})
	if err != nil {
		ue := internalerr.NewUnitError(string(fingerprint.OpInfer), wrapInference(err))
		d.logger.Warn("inference failed",
			zap.String("fingerprint", grp.fp.Short()),
			zap.Int("units", len(grp.units)),
			zap.Int("attempts", attempts),
			zap.String("kind", ue.Kind),
			zap.Error(err))
		return outcome{src: fromCall, attempts: attempts, err: ue}
	}

	if d.cache != nil {
		if err := cache.PutJSON(ctx, d.cache, grp.fp, s); err != nil {
			d.logger.Warn("caching sentiment failed", zap.Error(err))
		}
	}
	return outcome{sentiment: s, src: fromCall, attempts: attempts}
}

func wrapInference(err error) error {
	if errors.Is(err, internalerr.ErrInference) {
		return err
	}
	return fmt.Errorf("%w: %w", internalerr.ErrInference, err)
}

// validate rejects labels outside the three classes and clamps confidence
// into [0, 1].
func validate(s model.Sentiment) (model.Sentiment, error) {
	label, ok := model.ParseLabel(string(s.Label))
	if !ok {
		return s, fmt.Errorf("%w: unexpected label %q", internalerr.ErrInference, s.Label)
	}
	s.Label = label
	s.Confidence = min(max(s.Confidence, 0), 1)
	return s, nil
}
