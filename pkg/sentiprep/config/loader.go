package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cognicore/sentiprep/internal/llm"
	"github.com/cognicore/sentiprep/internal/logging"
	"github.com/cognicore/sentiprep/internal/retry"
	"github.com/cognicore/sentiprep/pkg/sentiprep"
	"github.com/cognicore/sentiprep/pkg/sentiprep/cache"
	"github.com/cognicore/sentiprep/pkg/sentiprep/chunk"
	"github.com/cognicore/sentiprep/pkg/sentiprep/detect"
	"github.com/cognicore/sentiprep/pkg/sentiprep/dispatch"
	"github.com/cognicore/sentiprep/pkg/sentiprep/extract"
	"github.com/cognicore/sentiprep/pkg/sentiprep/insight"
	"github.com/cognicore/sentiprep/pkg/sentiprep/store"
	"github.com/cognicore/sentiprep/pkg/sentiprep/store/redisstore"
	"github.com/cognicore/sentiprep/pkg/sentiprep/store/sqlite"
	"github.com/cognicore/sentiprep/pkg/sentiprep/telemetry"
	"github.com/cognicore/sentiprep/pkg/sentiprep/translate"
)

// Capabilities is the external model service.
type Capabilities interface {
	translate.Translator
	dispatch.Inferer
	insight.Generator
}

// Loader builds the runtime components from a Config
type Loader struct {
	Config *Config
	// Capabilities overrides the service built from Config.LLM.
	Capabilities Capabilities
	// Offline uses keyword capabilities instead of the model service.
	Offline bool
	// Registerer receives the metrics; nil disables metrics.
	Registerer prometheus.Registerer
	// Logger overrides the logger built from Config.Log.
	Logger *zap.Logger
}

// Components holds everything a caller needs to run jobs.
type Components struct {
	Logger  *zap.Logger
	Metrics *telemetry.Metrics
	Backend store.Backend
	Cache   *cache.Cache
	Engine  *sentiprep.Engine
}

// Close releases the cache backend and flushes the logger.
func (c *Components) Close() error {
	var errs []error
	if c.Backend != nil {
		errs = append(errs, c.Backend.Close())
	}
	if c.Logger != nil {
		_ = c.Logger.Sync()
	}
	return errors.Join(errs...)
}

// Load validates the configuration and wires the engine.
func (l *Loader) Load(ctx context.Context) (*Components, error) {
	cfg := l.Config
	if cfg == nil {
		def := Default()
		cfg = &def
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	comp := &Components{Logger: l.Logger}
	if comp.Logger == nil {
		logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
		if err != nil {
			return nil, fmt.Errorf("build logger: %w", err)
		}
		comp.Logger = logger
	}
	if l.Registerer != nil {
		comp.Metrics = telemetry.NewMetrics(l.Registerer)
	}

	backend, err := openBackend(ctx, cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("open cache backend: %w", err)
	}
	comp.Backend = backend

	comp.Cache, err = cache.New(cache.Options{
		Capacity: cfg.Cache.Capacity,
		Backend:  backend,
		Logger:   comp.Logger,
		Metrics:  comp.Metrics,
	})
	if err != nil {
		_ = comp.Close()
		return nil, err
	}

	comp.Engine, err = l.buildEngine(cfg, comp)
	if err != nil {
		_ = comp.Close()
		return nil, err
	}
	comp.Logger.Info("components loaded",
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.Int("cache_capacity", cfg.Cache.Capacity),
		zap.Bool("offline", l.Offline),
		zap.Bool("insights", cfg.Insights.Enabled))
	return comp, nil
}

func (l *Loader) buildEngine(cfg *Config, comp *Components) (*sentiprep.Engine, error) {
	caps := l.Capabilities
	switch {
	case caps != nil:
	case l.Offline:
		caps = llm.Offline{}
	default:
		caps = &llm.Client{
			BaseURL:     cfg.LLM.BaseURL,
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			Temperature: 0.1,
		}
	}

	chunker, err := chunk.New(cfg.Chunk.Budget, cfg.Chunk.Overlap, cfg.Chunk.PreserveSentences)
	if err != nil {
		return nil, err
	}
	strategy, err := chunk.ParseStrategy(cfg.Chunk.MergeStrategy)
	if err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if cfg.Dispatch.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Dispatch.RatePerSecond), max(cfg.Dispatch.Burst, 1))
	}
	rc := retry.DefaultConfig()
	rc.MaxAttempts = cfg.Dispatch.MaxRetries + 1
	rc.InitialDelay = cfg.Dispatch.RetryBackoff

	tr, err := translate.New(translate.Options{
		Translator: caps,
		Cache:      comp.Cache,
		Limiter:    limiter,
		Timeout:    cfg.LLM.Timeout,
		Retry:      rc,
		Workers:    cfg.Dispatch.Workers,
		Logger:     comp.Logger,
		Metrics:    comp.Metrics,
	})
	if err != nil {
		return nil, err
	}
	disp, err := dispatch.New(dispatch.Options{
		Inferer: caps,
		Cache:   comp.Cache,
		Workers: cfg.Dispatch.Workers,
		Timeout: cfg.Dispatch.CallTimeout,
		Retry:   rc,
		Limiter: limiter,
		Metrics: comp.Metrics,
		Logger:  comp.Logger,
	})
	if err != nil {
		return nil, err
	}
	var enricher *insight.Enricher
	if cfg.Insights.Enabled {
		enricher = insight.New(insight.Options{
			Generator:  caps,
			SampleSize: cfg.Insights.SampleSize,
			Timeout:    cfg.LLM.Timeout,
			Logger:     comp.Logger,
			Metrics:    comp.Metrics,
		})
	}

	return sentiprep.New(sentiprep.Options{
		Extractor: extract.New(extract.Options{
			Limits: extract.Limits{
				MaxBytes: cfg.Limits.MaxBytes,
				MaxRows:  cfg.Limits.MaxRows,
				MaxDepth: cfg.Limits.MaxDepth,
			},
			Logger: comp.Logger,
		}),
		Chunker:  chunker,
		Strategy: strategy,
		Detector: detect.New(detect.Options{
			MinConfidence:  cfg.Detect.MinConfidence,
			ShortTextRunes: cfg.Detect.ShortTextRunes,
			Cache:          comp.Cache,
			Logger:         comp.Logger,
		}),
		Translator: tr,
		Dispatcher: disp,
		Enricher:   enricher,
		Workers:    cfg.Dispatch.Workers,
		Logger:     comp.Logger,
		Metrics:    comp.Metrics,
	})
}

func openBackend(ctx context.Context, cfg CacheConfig) (store.Backend, error) {
	switch cfg.Backend {
	case BackendSQLite:
		s, err := sqlite.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendRedis:
		s, err := redisstore.Open(redisstore.Config{Address: cfg.RedisAddr, TTL: cfg.RedisTTL})
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, nil
}
