package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cognicore/sentiprep/internal/retry"
	"github.com/cognicore/sentiprep/pkg/sentiprep/cache"
	"github.com/cognicore/sentiprep/pkg/sentiprep/fingerprint"
	"github.com/cognicore/sentiprep/pkg/sentiprep/internalerr"
	"github.com/cognicore/sentiprep/pkg/sentiprep/model"
)

// fakeInferer labels text containing "bad" negative, everything else
// positive, and fails on text containing "boom".
type fakeInferer struct {
	delay time.Duration
	calls atomic.Int32

	mu          sync.Mutex
	inFlight    int
	maxInFlight int
	texts       []string
}

func (f *fakeInferer) InferSentiment(ctx context.Context, text string) (model.Sentiment, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.inFlight++
	f.maxInFlight = max(f.maxInFlight, f.inFlight)
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return model.Sentiment{}, ctx.Err()
		}
	}
	switch {
	case strings.Contains(text, "boom"):
		return model.Sentiment{}, errors.New("model exploded")
	case strings.Contains(text, "bad"):
		return model.Sentiment{Label: model.Negative, Confidence: 0.9}, nil
	}
	return model.Sentiment{Label: "Positive", Confidence: 1.4}, nil
}

func newDispatcher(t *testing.T, inf Inferer, opts Options) *Dispatcher {
	t.Helper()
	if opts.Cache == nil {
		c, err := cache.New(cache.Options{Capacity: 1000})
		require.NoError(t, err)
		opts.Cache = c
	}
	opts.Inferer = inf
	opts.Logger = zaptest.NewLogger(t)
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond}
	}
	d, err := New(opts)
	require.NoError(t, err)
	return d
}

func job(texts ...string) *model.BatchJob {
	units := make([]model.TextUnit, len(texts))
	for i, text := range texts {
		rec := model.RecordID(i)
		units[i] = model.TextUnit{ID: model.UnitID(rec, 0), RecordID: rec, Text: text, TotalChunks: 1}
	}
	return model.NewBatchJob("job", units)
}

func TestIdenticalTextsCallOnce(t *testing.T) {
	inf := &fakeInferer{}
	c, err := cache.New(cache.Options{Capacity: 1000})
	require.NoError(t, err)
	d := newDispatcher(t, inf, Options{Workers: 8, Cache: c})

	texts := make([]string, 500)
	for i := range texts {
		texts[i] = "Same text everywhere"
	}
	j := job(texts...)

	stats, err := d.Dispatch(context.Background(), j)
	require.NoError(t, err)
	require.True(t, j.Complete())

	assert.Equal(t, int32(1), inf.calls.Load())
	assert.Equal(t, 1, stats.CacheMisses)
	assert.Equal(t, 499, stats.CacheHits)
	assert.Equal(t, 1, stats.Calls)
	assert.Equal(t, 499, stats.Deduplicated)
	assert.Equal(t, 1, stats.Groups)

	first := j.Results[j.Units[0].ID]
	assert.False(t, first.Cached)
	assert.True(t, j.Results[j.Units[1].ID].Cached)

	cs := c.Stats(fingerprint.OpInfer)
	assert.Equal(t, int64(1), cs.Misses, "the leader's re-check must not count")
	assert.Equal(t, int64(499), cs.Hits)
}

func TestCacheStatsMatchDispatchStats(t *testing.T) {
	inf := &fakeInferer{}
	c, err := cache.New(cache.Options{Capacity: 100})
	require.NoError(t, err)
	d := newDispatcher(t, inf, Options{Cache: c})

	stats, err := d.Dispatch(context.Background(), job("dup", "dup", "dup", "dup", "dup", "other"))
	require.NoError(t, err)
	cs := c.Stats(fingerprint.OpInfer)
	assert.Equal(t, int64(stats.CacheHits), cs.Hits)
	assert.Equal(t, int64(stats.CacheMisses), cs.Misses)

	stats, err = d.Dispatch(context.Background(), job("dup", "dup"))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.CacheHits)
	assert.Equal(t, int64(4+2), c.Stats(fingerprint.OpInfer).Hits)
}

func TestNormalizedDuplicatesShareCall(t *testing.T) {
	inf := &fakeInferer{}
	d := newDispatcher(t, inf, Options{})

	j := job("Great product", "great   PRODUCT", "Bad support")
	stats, err := d.Dispatch(context.Background(), j)
	require.NoError(t, err)
	assert.Equal(t, int32(2), inf.calls.Load())
	assert.Equal(t, 2, stats.Groups)
}

func TestPartialFailure(t *testing.T) {
	inf := &fakeInferer{}
	d := newDispatcher(t, inf, Options{})

	j := job("good one", "boom goes the model", "bad one")
	stats, err := d.Dispatch(context.Background(), j)
	require.NoError(t, err)
	require.True(t, j.Complete())

	failed := j.Results[j.Units[1].ID]
	assert.False(t, failed.OK())
	assert.True(t, errors.Is(failed.Err, internalerr.ErrInference))
	assert.Equal(t, internalerr.KindInference, failed.ErrKind)
	assert.Equal(t, 2, failed.Attempts, "failing call uses the retry budget")

	ok := j.Results[j.Units[0].ID]
	require.True(t, ok.OK())
	assert.Equal(t, model.Positive, ok.Sentiment.Label)
	assert.Equal(t, 1.0, ok.Sentiment.Confidence, "confidence is clamped")
	assert.Equal(t, model.Negative, j.Results[j.Units[2].ID].Sentiment.Label)
	assert.Equal(t, 1, stats.Errors)
}

func TestFailuresAreNotCached(t *testing.T) {
	inf := &fakeInferer{}
	d := newDispatcher(t, inf, Options{Retry: retry.Config{MaxAttempts: 1}})

	_, err := d.Dispatch(context.Background(), job("boom"))
	require.NoError(t, err)
	_, err = d.Dispatch(context.Background(), job("boom"))
	require.NoError(t, err)
	assert.Equal(t, int32(2), inf.calls.Load())
}

func TestCacheHitsAcrossJobs(t *testing.T) {
	inf := &fakeInferer{}
	d := newDispatcher(t, inf, Options{})

	_, err := d.Dispatch(context.Background(), job("first", "second"))
	require.NoError(t, err)

	j := job("second", "first")
	stats, err := d.Dispatch(context.Background(), j)
	require.NoError(t, err)
	assert.Equal(t, int32(2), inf.calls.Load())
	assert.Equal(t, 2, stats.CacheHits)
	assert.Zero(t, stats.CacheMisses)
	for _, r := range j.Results {
		assert.True(t, r.Cached)
	}
}

func TestTimeoutIsPerUnit(t *testing.T) {
	inf := &fakeInferer{delay: time.Second}
	d := newDispatcher(t, inf, Options{Timeout: 10 * time.Millisecond, Retry: retry.Config{MaxAttempts: 1}})

	j := job("slow text")
	_, err := d.Dispatch(context.Background(), j)
	require.NoError(t, err, "a timed out call must not fail the job")

	r := j.Results[j.Units[0].ID]
	assert.Equal(t, internalerr.KindTimeout, r.ErrKind)
	assert.True(t, errors.Is(r.Err, internalerr.ErrTimeout))
	assert.True(t, errors.Is(r.Err, internalerr.ErrInference))
}

func TestWorkerBound(t *testing.T) {
	inf := &fakeInferer{delay: 5 * time.Millisecond}
	d := newDispatcher(t, inf, Options{Workers: 3})

	texts := make([]string, 30)
	for i := range texts {
		texts[i] = fmt.Sprintf("text %d", i)
	}
	_, err := d.Dispatch(context.Background(), job(texts...))
	require.NoError(t, err)
	assert.LessOrEqual(t, inf.maxInFlight, 3)
	assert.Equal(t, int32(30), inf.calls.Load())
}

func TestCancellationIsAllOrNothing(t *testing.T) {
	inf := &fakeInferer{delay: 50 * time.Millisecond}
	d := newDispatcher(t, inf, Options{Workers: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	texts := make([]string, 10)
	for i := range texts {
		texts[i] = fmt.Sprintf("text %d", i)
	}
	_, err := d.Dispatch(ctx, job(texts...))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConcurrentJobsShareInFlightCall(t *testing.T) {
	inf := &fakeInferer{delay: 30 * time.Millisecond}
	d := newDispatcher(t, inf, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.Dispatch(context.Background(), job("shared text"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), inf.calls.Load())
}

func TestTranslatedTextIsInferred(t *testing.T) {
	inf := &fakeInferer{}
	d := newDispatcher(t, inf, Options{})

	j := model.NewBatchJob("job", []model.TextUnit{{
		ID: "rec-0001#0", RecordID: "rec-0001", Text: "Servicio malo",
		Translated: true, TranslatedText: "bad service",
	}})
	_, err := d.Dispatch(context.Background(), j)
	require.NoError(t, err)
	assert.Equal(t, []string{"bad service"}, inf.texts)
	assert.Equal(t, model.Negative, j.Results["rec-0001#0"].Sentiment.Label)
}

// gatedInferer blocks every call until release is closed.
type gatedInferer struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (g *gatedInferer) InferSentiment(ctx context.Context, text string) (model.Sentiment, error) {
	if g.calls.Add(1) == 1 {
		close(g.started)
	}
	select {
	case <-g.release:
	case <-ctx.Done():
		return model.Sentiment{}, ctx.Err()
	}
	return model.Sentiment{Label: model.Positive, Confidence: 0.8}, nil
}

func TestCanceledJobDoesNotFailJoinedJob(t *testing.T) {
	inf := &gatedInferer{started: make(chan struct{}), release: make(chan struct{})}
	c, err := cache.New(cache.Options{Capacity: 10})
	require.NoError(t, err)
	d := newDispatcher(t, inf, Options{Cache: c, Timeout: 5 * time.Second})

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := d.Dispatch(ctxA, job("same text"))
		errA <- err
	}()
	<-inf.started

	jobB := job("same text")
	errB := make(chan error, 1)
	go func() {
		_, err := d.Dispatch(context.Background(), jobB)
		errB <- err
	}()
	time.Sleep(20 * time.Millisecond) // let job B join the in-flight call

	cancelA()
	select {
	case err := <-errA:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("canceled job kept waiting on the shared call")
	}

	close(inf.release)
	require.NoError(t, <-errB)
	r := jobB.Results[jobB.Units[0].ID]
	require.NoError(t, r.Err)
	assert.Equal(t, model.Positive, r.Sentiment.Label)
	assert.Equal(t, int32(1), inf.calls.Load())

	_, ok := c.Peek(context.Background(), fingerprint.Of(fingerprint.OpInfer, "same text"))
	assert.True(t, ok, "the detached call still fills the cache")
}
