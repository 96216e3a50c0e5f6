// Package config loads sentiprep settings from a YAML file with
// environment overrides and builds the runtime components from them.
//
// Environment variables are read after .env files are loaded, in this order
// (earlier files win, the process environment wins over all of them):
//
//  1. ENV_FILE, when set, and nothing else
//  2. .env.local
//  3. .env
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/cognicore/sentiprep/pkg/sentiprep/chunk"
	"github.com/cognicore/sentiprep/pkg/sentiprep/detect"
	"github.com/cognicore/sentiprep/pkg/sentiprep/dispatch"
	"github.com/cognicore/sentiprep/pkg/sentiprep/extract"
	"github.com/cognicore/sentiprep/pkg/sentiprep/insight"
	"github.com/cognicore/sentiprep/pkg/sentiprep/internalerr"
)

// Cache backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config is the full sentiprep configuration.
type Config struct {
	Chunk    ChunkConfig    `yaml:"chunk"`
	Detect   DetectConfig   `yaml:"detect"`
	Cache    CacheConfig    `yaml:"cache"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Limits   LimitsConfig   `yaml:"limits"`
	LLM      LLMConfig      `yaml:"llm"`
	Insights InsightsConfig `yaml:"insights"`
	Log      LogConfig      `yaml:"log"`
}

type ChunkConfig struct {
	Budget            int    `yaml:"budget" env:"SENTIPREP_CHUNK_BUDGET"`
	Overlap           int    `yaml:"overlap" env:"SENTIPREP_CHUNK_OVERLAP"`
	PreserveSentences bool   `yaml:"preserve_sentences" env:"SENTIPREP_CHUNK_PRESERVE_SENTENCES"`
	MergeStrategy     string `yaml:"merge_strategy" env:"SENTIPREP_MERGE_STRATEGY"`
}

type DetectConfig struct {
	MinConfidence  float64 `yaml:"min_confidence" env:"SENTIPREP_DETECT_MIN_CONFIDENCE"`
	ShortTextRunes int     `yaml:"short_text_runes" env:"SENTIPREP_DETECT_SHORT_TEXT_RUNES"`
}

type CacheConfig struct {
	Capacity   int           `yaml:"capacity" env:"SENTIPREP_CACHE_CAPACITY"`
	Backend    string        `yaml:"backend" env:"SENTIPREP_CACHE_BACKEND"`
	SQLitePath string        `yaml:"sqlite_path" env:"SENTIPREP_SQLITE_PATH"`
	RedisAddr  string        `yaml:"redis_addr" env:"SENTIPREP_REDIS_ADDR"`
	RedisTTL   time.Duration `yaml:"redis_ttl" env:"SENTIPREP_REDIS_TTL"`
}

type DispatchConfig struct {
	// Workers of 0 means runtime.GOMAXPROCS(0).
	Workers      int           `yaml:"workers" env:"SENTIPREP_WORKERS"`
	CallTimeout  time.Duration `yaml:"call_timeout" env:"SENTIPREP_CALL_TIMEOUT"`
	MaxRetries   int           `yaml:"max_retries" env:"SENTIPREP_MAX_RETRIES"`
	RetryBackoff time.Duration `yaml:"retry_backoff" env:"SENTIPREP_RETRY_BACKOFF"`
	// RatePerSecond of 0 disables rate limiting.
	RatePerSecond float64 `yaml:"rate_per_second" env:"SENTIPREP_RATE_PER_SECOND"`
	Burst         int     `yaml:"burst" env:"SENTIPREP_BURST"`
}

type LimitsConfig struct {
	MaxBytes int64 `yaml:"max_bytes" env:"SENTIPREP_MAX_BYTES"`
	MaxRows  int   `yaml:"max_rows" env:"SENTIPREP_MAX_ROWS"`
	MaxDepth int   `yaml:"max_depth" env:"SENTIPREP_MAX_DEPTH"`
}

type LLMConfig struct {
	BaseURL string        `yaml:"base_url" env:"SENTIPREP_LLM_BASE_URL"`
	APIKey  string        `yaml:"api_key" env:"SENTIPREP_LLM_API_KEY"`
	Model   string        `yaml:"model" env:"SENTIPREP_LLM_MODEL"`
	Timeout time.Duration `yaml:"timeout" env:"SENTIPREP_LLM_TIMEOUT"`
}

type InsightsConfig struct {
	Enabled    bool `yaml:"enabled" env:"SENTIPREP_INSIGHTS_ENABLED"`
	SampleSize int  `yaml:"sample_size" env:"SENTIPREP_INSIGHTS_SAMPLE_SIZE"`
}

type LogConfig struct {
	Level       string `yaml:"level" env:"SENTIPREP_LOG_LEVEL"`
	Development bool   `yaml:"development" env:"SENTIPREP_LOG_DEVELOPMENT"`
}

// Default returns the documented defaults.
func Default() Config {
	limits := extract.DefaultLimits()
	return Config{
		Chunk: ChunkConfig{
			Budget:            chunk.DefaultBudget,
			Overlap:           chunk.DefaultOverlap,
			PreserveSentences: true,
			MergeStrategy:     string(chunk.StrategyWeighted),
		},
		Detect: DetectConfig{
			MinConfidence:  detect.DefaultMinConfidence,
			ShortTextRunes: detect.DefaultShortTextRunes,
		},
		Cache: CacheConfig{
			Capacity:   1000,
			Backend:    BackendMemory,
			SQLitePath: "sentiprep-cache.db",
			RedisTTL:   24 * time.Hour,
		},
		Dispatch: DispatchConfig{
			CallTimeout:  dispatch.DefaultTimeout,
			MaxRetries:   3,
			RetryBackoff: 200 * time.Millisecond,
			Burst:        1,
		},
		Limits: LimitsConfig{
			MaxBytes: limits.MaxBytes,
			MaxRows:  limits.MaxRows,
			MaxDepth: limits.MaxDepth,
		},
		LLM: LLMConfig{
			BaseURL: "http://localhost:11434/v1/chat/completions",
			Model:   "llama3",
			Timeout: 60 * time.Second,
		},
		Insights: InsightsConfig{
			Enabled:    true,
			SampleSize: insight.DefaultSampleSize,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults and applies environment overrides. An
// empty path yields the defaults with overrides.
func Load(path string) (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, fmt.Errorf("load environment files: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", internalerr.ErrInvalidConfig, path, err)
		}
	}
	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: "+format, append([]any{internalerr.ErrInvalidConfig}, args...)...)
	}
	if err := (&chunk.Chunker{Budget: c.Chunk.Budget, Overlap: c.Chunk.Overlap}).Validate(); err != nil {
		return err
	}
	if _, err := chunk.ParseStrategy(c.Chunk.MergeStrategy); err != nil {
		return err
	}
	if c.Detect.MinConfidence < 0 || c.Detect.MinConfidence > 1 {
		return invalid("detect.min_confidence must be in [0, 1], got %v", c.Detect.MinConfidence)
	}
	if c.Cache.Capacity <= 0 {
		return invalid("cache.capacity must be positive, got %d", c.Cache.Capacity)
	}
	switch c.Cache.Backend {
	case BackendMemory, "":
	case BackendSQLite:
		if c.Cache.SQLitePath == "" {
			return invalid("cache.sqlite_path is required for the sqlite backend")
		}
	case BackendRedis:
		if c.Cache.RedisAddr == "" {
			return invalid("cache.redis_addr is required for the redis backend")
		}
	default:
		return invalid("unknown cache backend %q", c.Cache.Backend)
	}
	if c.Dispatch.Workers < 0 {
		return invalid("dispatch.workers must not be negative")
	}
	if c.Dispatch.MaxRetries < 0 {
		return invalid("dispatch.max_retries must not be negative")
	}
	if c.Dispatch.RatePerSecond < 0 {
		return invalid("dispatch.rate_per_second must not be negative")
	}
	if c.Limits.MaxBytes <= 0 || c.Limits.MaxRows <= 0 {
		return invalid("limits must be positive")
	}
	return nil
}

// loadEnvFiles loads .env files; missing files are ignored.
func loadEnvFiles() error {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
		return nil
	}
	for _, name := range []string{".env.local", ".env"} {
		if err := godotenv.Load(name); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load %s: %w", name, err)
		}
	}
	return nil
}

// applyEnvOverrides sets every field tagged `env:"NAME"` from a non-empty
// environment variable. Unparseable values are ignored.
func applyEnvOverrides(cfg any) {
	v := reflect.ValueOf(cfg)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	applyEnvToStruct(v)
}

func applyEnvToStruct(v reflect.Value) {
	if v.Kind() != reflect.Struct {
		return
	}
	t := v.Type()
	for i := range v.NumField() {
		field := v.Field(i)
		if !field.CanSet() {
			continue
		}
		if field.Kind() == reflect.Struct {
			applyEnvToStruct(field)
			continue
		}
		name := t.Field(i).Tag.Get("env")
		if name == "" {
			continue
		}
		if val := os.Getenv(name); val != "" {
			setFieldFromString(field, val)
		}
	}
}

var durationType = reflect.TypeOf(time.Duration(0))

func setFieldFromString(field reflect.Value, val string) {
	switch field.Kind() {
	case reflect.String:
		field.SetString(val)
	case reflect.Int, reflect.Int32, reflect.Int64:
		if field.Type() == durationType {
			if d, err := time.ParseDuration(val); err == nil {
				field.SetInt(int64(d))
			}
			return
		}
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			field.SetInt(i)
		}
	case reflect.Float64:
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			field.SetFloat(f)
		}
	case reflect.Bool:
		s := strings.ToLower(strings.TrimSpace(val))
		field.SetBool(s == "true" || s == "1" || s == "yes")
	}
}
