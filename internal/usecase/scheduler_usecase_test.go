package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/user/wiki-archiver/internal/adapter/filesystem"
	"github.com/user/wiki-archiver/internal/entity"
	"github.com/user/wiki-archiver/internal/repository"
	"github.com/user/wiki-archiver/pkg/metrics"
)

func wikiPage(title string, hrefs ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<html><head><title>%s</title></head><body>", title)
	for _, h := range hrefs {
		fmt.Fprintf(&b, `<a href="%s">link</a>`, h)
	}
	b.WriteString("</body></html>")
	return b.String()
}

// site renders pages from a map keyed by canonical URL; unknown URLs are 404s.
func site(pages map[string]string) func(context.Context, string) (*entity.RenderedPage, error) {
	return func(_ context.Context, url string) (*entity.RenderedPage, error) {
		html, ok := pages[url]
		if !ok {
			return nil, &repository.FetchError{Kind: repository.FetchNotFound, URL: url, StatusCode: 404, Err: errors.New("not found")}
		}
		return &entity.RenderedPage{URL: url, HTML: html, StatusCode: 200}, nil
	}
}

type schedulerHarness struct {
	renderer *fakeRenderer
	archiver *fakeArchiver
	store    *memCheckpoints
	metrics  *metrics.Metrics
	sleeps   []time.Duration
}

func newSchedulerHarness(render func(context.Context, string) (*entity.RenderedPage, error)) *schedulerHarness {
	return &schedulerHarness{
		renderer: &fakeRenderer{RenderFn: render},
		archiver: &fakeArchiver{},
		store:    &memCheckpoints{},
		metrics:  metrics.New(prometheus.NewRegistry()),
	}
}

func (h *schedulerHarness) scheduler(t *testing.T, checkpoints repository.CheckpointRepository, opts ...SchedulerOption) *Scheduler {
	t.Helper()
	if checkpoints == nil {
		checkpoints = h.store
	}
	opts = append([]SchedulerOption{
		WithSleeper(func(ctx context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			return ctx.Err()
		}),
	}, opts...)
	return NewScheduler(
		testBase+"/A",
		h.renderer,
		h.archiver,
		NewLinkExtractor(newTestCanonicalizer(t), zap.NewNop()),
		checkpoints,
		h.metrics,
		zap.NewNop(),
		opts...,
	)
}

func TestSchedulerOneCycle(t *testing.T) {
	dir := t.TempDir()
	archiver, err := filesystem.NewArchiveRepo(filepath.Join(dir, "pages"), false, zap.NewNop())
	require.NoError(t, err)
	checkpoints := filesystem.NewCheckpointRepo(filepath.Join(dir, "progress.ckpt"), zap.NewNop())

	h := newSchedulerHarness(site(map[string]string{
		testBase + "/A": wikiPage("Title of A", "/wiki/B", "/wiki/A", "/wiki/Special:Foo"),
	}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewScheduler(
		testBase+"/A",
		h.renderer,
		archiver,
		NewLinkExtractor(newTestCanonicalizer(t), zap.NewNop()),
		checkpoints,
		h.metrics,
		zap.NewNop(),
		WithCheckpointHook(func(entity.Progress) { cancel() }),
	)

	err = s.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	st, err := checkpoints.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{testBase + "/A": {}}, st.Visited)
	assert.Equal(t, []string{testBase + "/B"}, st.Frontier)
	assert.Equal(t, 1, st.PageCount)

	html, err := os.ReadFile(filepath.Join(dir, "pages", "Title of A.html"))
	require.NoError(t, err)
	assert.Contains(t, string(html), "<title>Title of A</title>")

	assert.Equal(t, []string{testBase + "/A"}, h.renderer.rendered)
	assert.Equal(t, 1, h.renderer.closed)
	assert.Equal(t, entity.StateStopped, s.State())
}

func TestSchedulerRetriesThenSucceeds(t *testing.T) {
	failures := 0
	h := newSchedulerHarness(func(ctx context.Context, url string) (*entity.RenderedPage, error) {
		if failures < 2 {
			failures++
			return nil, &repository.FetchError{Kind: repository.FetchTransport, URL: url, Err: errors.New("connection reset")}
		}
		return &entity.RenderedPage{URL: url, HTML: wikiPage("A")}, nil
	})
	s := h.scheduler(t, nil)

	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, h.sleeps)
	assert.Len(t, h.renderer.rendered, 3)
	assert.Equal(t, []string{testBase + "/A"}, h.archiver.archived)
	assert.Equal(t, 1, h.store.state.PageCount)
	assert.Empty(t, h.store.state.Attempts)
	assert.Empty(t, h.store.state.Frontier)
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.Retries))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.FetchFailures.WithLabelValues("transport")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.PagesDownloaded))
}

func TestSchedulerBreadthFirstOrder(t *testing.T) {
	h := newSchedulerHarness(site(map[string]string{
		testBase + "/A": wikiPage("A", "/wiki/B", "/wiki/C"),
		testBase + "/B": wikiPage("B", "/wiki/D", "/wiki/A"),
		testBase + "/C": wikiPage("C", "/wiki/B", "/wiki/D"),
		testBase + "/D": wikiPage("D"),
	}))
	s := h.scheduler(t, nil)

	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, []string{
		testBase + "/A",
		testBase + "/B",
		testBase + "/C",
		testBase + "/D",
	}, h.renderer.rendered)
	assert.Equal(t, 4, h.store.state.PageCount)
	assert.Len(t, h.store.state.Visited, 4)
	assert.Equal(t, entity.Progress{
		State:      "stopped",
		PageCount:  4,
		Downloaded: 4,
		Discovered: 4,
	}, s.Progress())
}

func TestSchedulerFailedURLGoesToBack(t *testing.T) {
	bFailed := false
	pages := site(map[string]string{
		testBase + "/A": wikiPage("A", "/wiki/B", "/wiki/C"),
		testBase + "/B": wikiPage("B"),
		testBase + "/C": wikiPage("C"),
	})
	h := newSchedulerHarness(func(ctx context.Context, url string) (*entity.RenderedPage, error) {
		if url == testBase+"/B" && !bFailed {
			bFailed = true
			return nil, &repository.FetchError{Kind: repository.FetchTimeout, URL: url, Err: context.DeadlineExceeded}
		}
		return pages(ctx, url)
	})
	s := h.scheduler(t, nil)

	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, []string{
		testBase + "/A",
		testBase + "/B",
		testBase + "/C",
		testBase + "/B",
	}, h.renderer.rendered)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.FetchFailures.WithLabelValues("timeout")))
}

func TestSchedulerDeadLetters(t *testing.T) {
	h := newSchedulerHarness(site(map[string]string{
		testBase + "/A": wikiPage("A", "/wiki/Missing"),
	}))
	external := &memDeadLetters{}
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := h.scheduler(t, nil,
		WithRetryPolicy(RetryPolicy{BaseDelay: time.Second, Multiplier: 2, MaxAttempts: 2}),
		WithDeadLetterRepository(external),
		WithClock(func() time.Time { return now }),
	)

	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, []time.Duration{time.Second}, h.sleeps)
	st := h.store.state
	require.Len(t, st.DeadLetters, 1)
	dl := st.DeadLetters[0]
	assert.Equal(t, testBase+"/Missing", dl.URL)
	assert.Equal(t, 2, dl.Attempts)
	assert.Equal(t, now, dl.FailedAt)
	assert.Contains(t, dl.LastError, "not_found")
	assert.Empty(t, st.Frontier)
	assert.Empty(t, st.Attempts)
	assert.NotContains(t, st.Visited, testBase+"/Missing")
	assert.Equal(t, []entity.DeadLetter{dl}, external.letters)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.DeadLetters))
	assert.Equal(t, 1, s.Progress().DeadLettered)
}

func TestSchedulerRequeueDeadLetters(t *testing.T) {
	previous := func() *entity.CrawlState {
		st := entity.NewCrawlState()
		st.Visited[testBase+"/A"] = struct{}{}
		st.PageCount = 1
		st.DeadLetters = []entity.DeadLetter{{URL: testBase + "/B", Attempts: 10}}
		return st
	}
	pages := site(map[string]string{
		testBase + "/A": wikiPage("A", "/wiki/B"),
		testBase + "/B": wikiPage("B"),
	})

	t.Run("kept by default", func(t *testing.T) {
		h := newSchedulerHarness(pages)
		h.store.state = previous()
		require.NoError(t, h.scheduler(t, nil).Run(context.Background()))

		assert.Empty(t, h.renderer.rendered)
		assert.Len(t, h.store.state.DeadLetters, 1)
		assert.Equal(t, 1, h.store.state.PageCount)
	})

	t.Run("requeued", func(t *testing.T) {
		h := newSchedulerHarness(pages)
		h.store.state = previous()
		require.NoError(t, h.scheduler(t, nil, WithRequeueDeadLetters(true)).Run(context.Background()))

		assert.Equal(t, []string{testBase + "/B"}, h.renderer.rendered)
		assert.Empty(t, h.store.state.DeadLetters)
		assert.Equal(t, 2, h.store.state.PageCount)
	})
}

func TestSchedulerResumes(t *testing.T) {
	h := newSchedulerHarness(site(map[string]string{
		testBase + "/B": wikiPage("B", "/wiki/A"),
		testBase + "/C": wikiPage("C"),
	}))
	st := entity.NewCrawlState()
	st.Visited[testBase+"/A"] = struct{}{}
	st.Frontier = []string{testBase + "/B", testBase + "/C"}
	st.PageCount = 1
	h.store.state = st

	require.NoError(t, h.scheduler(t, nil).Run(context.Background()))

	assert.Equal(t, []string{testBase + "/B", testBase + "/C"}, h.renderer.rendered)
	assert.Equal(t, 3, h.store.state.PageCount)
}

func TestSchedulerCancelDuringRetryWait(t *testing.T) {
	h := newSchedulerHarness(func(ctx context.Context, url string) (*entity.RenderedPage, error) {
		return nil, &repository.FetchError{Kind: repository.FetchTransport, URL: url, Err: errors.New("refused")}
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := h.scheduler(t, nil, WithSleeper(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	err := s.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.NotNil(t, h.store.state, "checkpoint must be saved on shutdown")
	assert.Equal(t, []string{testBase + "/A"}, h.store.state.Frontier)
	assert.Equal(t, 1, h.store.state.Attempts[testBase+"/A"])
	assert.Equal(t, 1, h.renderer.closed)
}

func TestSchedulerRenderSurvivesCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var renderCtxErr error
	h := newSchedulerHarness(func(rctx context.Context, url string) (*entity.RenderedPage, error) {
		cancel()
		renderCtxErr = rctx.Err()
		return &entity.RenderedPage{URL: url, HTML: wikiPage("A", "/wiki/B")}, nil
	})
	s := h.scheduler(t, nil)

	err := s.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	assert.NoError(t, renderCtxErr)
	assert.Equal(t, 1, h.store.state.PageCount)
	assert.Equal(t, []string{testBase + "/B"}, h.store.state.Frontier)
}

func TestSchedulerCorruptCheckpoint(t *testing.T) {
	h := newSchedulerHarness(site(nil))
	h.store.LoadErr = fmt.Errorf("%w: checksum mismatch", repository.ErrCheckpointCorrupt)
	s := h.scheduler(t, nil)

	err := s.Run(context.Background())
	require.ErrorIs(t, err, repository.ErrCheckpointCorrupt)
	assert.Empty(t, h.renderer.rendered)
	assert.Equal(t, 1, h.renderer.closed)
	assert.Equal(t, 0, h.store.saves)
}

func TestSchedulerArchiveFailureIsFatal(t *testing.T) {
	h := newSchedulerHarness(site(map[string]string{
		testBase + "/A": wikiPage("A", "/wiki/B"),
	}))
	h.archiver.ArchiveFn = func(*entity.RenderedPage) (string, error) {
		return "", fmt.Errorf("%w: disk full", repository.ErrArchiveWrite)
	}
	s := h.scheduler(t, nil)

	err := s.Run(context.Background())
	require.ErrorIs(t, err, repository.ErrArchiveWrite)
	assert.Nil(t, h.store.state, "a failed page must not be checkpointed as visited")
	assert.Equal(t, 1, h.renderer.closed)
	assert.Equal(t, entity.StateStopped, s.State())
}

func TestSchedulerCheckpointWriteFailure(t *testing.T) {
	h := newSchedulerHarness(site(map[string]string{
		testBase + "/A": wikiPage("A"),
	}))
	h.store.SaveErr = errors.New("read-only file system")
	s := h.scheduler(t, nil)

	err := s.Run(context.Background())
	require.ErrorIs(t, err, repository.ErrCheckpointWrite)
	assert.Equal(t, 1, h.renderer.closed)
}

func TestSchedulerRunOnce(t *testing.T) {
	h := newSchedulerHarness(site(map[string]string{testBase + "/A": wikiPage("A")}))
	s := h.scheduler(t, nil)

	assert.Equal(t, entity.StateIdle, s.State())
	require.NoError(t, s.Run(context.Background()))
	assert.ErrorIs(t, s.Run(context.Background()), ErrAlreadyStarted)
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	assert.ErrorIs(t, sleepContext(ctx, 0), context.Canceled)
}

func TestSchedulerAbandonedURLIsNotRequeued(t *testing.T) {
	h := newSchedulerHarness(site(map[string]string{
		testBase + "/A": wikiPage("A", "/wiki/Missing", "/wiki/B"),
		testBase + "/B": wikiPage("B", "/wiki/C"),
		testBase + "/C": wikiPage("C", "/wiki/Missing"),
	}))
	external := &memDeadLetters{}
	s := h.scheduler(t, nil,
		WithRetryPolicy(RetryPolicy{BaseDelay: time.Second, Multiplier: 2, MaxAttempts: 2}),
		WithDeadLetterRepository(external),
	)

	require.NoError(t, s.Run(context.Background()))

	renders := 0
	for _, u := range h.renderer.rendered {
		if u == testBase+"/Missing" {
			renders++
		}
	}
	assert.Equal(t, 2, renders)
	assert.Len(t, h.store.state.DeadLetters, 1)
	assert.Len(t, external.letters, 1)
	assert.Equal(t, 3, h.store.state.PageCount)
}

func TestSchedulerSkipsDeadLettersFromCheckpoint(t *testing.T) {
	h := newSchedulerHarness(site(map[string]string{
		testBase + "/B": wikiPage("B", "/wiki/Missing"),
	}))
	st := entity.NewCrawlState()
	st.Visited[testBase+"/A"] = struct{}{}
	st.Frontier = []string{testBase + "/B", testBase + "/Missing"}
	st.DeadLetters = []entity.DeadLetter{{URL: testBase + "/Missing", Attempts: 10}}
	h.store.state = st

	require.NoError(t, h.scheduler(t, nil).Run(context.Background()))

	assert.Equal(t, []string{testBase + "/B"}, h.renderer.rendered)
	assert.Len(t, h.store.state.DeadLetters, 1)
	assert.Empty(t, h.store.state.Frontier)
}

func TestSchedulerRendererGoneIsFatal(t *testing.T) {
	h := newSchedulerHarness(func(ctx context.Context, url string) (*entity.RenderedPage, error) {
		return nil, fmt.Errorf("%w: browser exited", repository.ErrRendererGone)
	})
	s := h.scheduler(t, nil)

	err := s.Run(context.Background())
	require.ErrorIs(t, err, repository.ErrRendererGone)
	assert.Len(t, h.renderer.rendered, 1, "a dead session must not be retried")
	assert.Empty(t, h.sleeps)
	assert.Nil(t, h.store.state)
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.Retries))
	assert.Equal(t, 1, h.renderer.closed)
}
