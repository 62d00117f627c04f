package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/user/wiki-archiver/internal/entity"
	"github.com/user/wiki-archiver/internal/repository"
	"github.com/user/wiki-archiver/pkg/metrics"
)

var ErrAlreadyStarted = errors.New("scheduler has already been started")

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Scheduler owns the frontier and visited set and drives the
// fetch -> archive -> extract -> enqueue -> checkpoint loop, one URL at a time.
type Scheduler struct {
	renderer    repository.PageRenderer
	archiver    repository.PageArchiver
	extractor   *LinkExtractor
	checkpoints repository.CheckpointRepository
	deadLetters repository.DeadLetterRepository
	metrics     *metrics.Metrics
	logger      *zap.Logger

	seed        string
	retry       RetryPolicy
	requeueDead bool
	sleep       Sleeper
	now         func() time.Time
	onSave      func(entity.Progress)

	// abandoned holds dead-lettered URLs; they are never queued again in this run.
	abandoned map[string]struct{}

	state        atomic.Int32
	pageCount    atomic.Int64
	visited      atomic.Int64
	frontierLen  atomic.Int64
	deadLettered atomic.Int64
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) SchedulerOption {
	return func(s *Scheduler) {
		s.retry = p
	}
}

// WithDeadLetterRepository mirrors abandoned URLs to an external store.
func WithDeadLetterRepository(r repository.DeadLetterRepository) SchedulerOption {
	return func(s *Scheduler) {
		s.deadLetters = r
	}
}

// WithRequeueDeadLetters moves previously abandoned URLs back into the frontier on start.
func WithRequeueDeadLetters(v bool) SchedulerOption {
	return func(s *Scheduler) {
		s.requeueDead = v
	}
}

// WithSleeper replaces the retry wait, mostly for tests.
func WithSleeper(fn Sleeper) SchedulerOption {
	return func(s *Scheduler) {
		s.sleep = fn
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		s.now = now
	}
}

// WithCheckpointHook is called with the current progress after every checkpoint save.
func WithCheckpointHook(fn func(entity.Progress)) SchedulerOption {
	return func(s *Scheduler) {
		s.onSave = fn
	}
}

// NewScheduler wires the crawl loop. The scheduler takes ownership of renderer
// and closes it when Run returns. seed must already be canonical.
func NewScheduler(
	seed string,
	renderer repository.PageRenderer,
	archiver repository.PageArchiver,
	extractor *LinkExtractor,
	checkpoints repository.CheckpointRepository,
	m *metrics.Metrics,
	logger *zap.Logger,
	opts ...SchedulerOption,
) *Scheduler {
	s := &Scheduler{
		renderer:    renderer,
		archiver:    archiver,
		extractor:   extractor,
		checkpoints: checkpoints,
		metrics:     m,
		logger:      logger,
		seed:        seed,
		retry:       DefaultRetryPolicy(),
		sleep:       sleepContext,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current lifecycle phase. Safe for concurrent use.
func (s *Scheduler) State() entity.SchedulerState {
	return entity.SchedulerState(s.state.Load())
}

// Progress returns the latest published counters. Safe for concurrent use.
func (s *Scheduler) Progress() entity.Progress {
	visited := int(s.visited.Load())
	frontier := int(s.frontierLen.Load())
	return entity.Progress{
		State:        s.State().String(),
		PageCount:    int(s.pageCount.Load()),
		Downloaded:   visited,
		Discovered:   visited + frontier,
		Remaining:    frontier,
		DeadLettered: int(s.deadLettered.Load()),
	}
}

// Run loads the checkpoint and crawls until the frontier is empty, ctx is
// cancelled, or a fatal error occurs. Cancellation takes effect only between
// pages or during a retry wait; the checkpoint is saved before returning
// ctx.Err(). The renderer is released on every path.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(entity.StateIdle), int32(entity.StateRunning)) {
		return ErrAlreadyStarted
	}
	defer func() {
		if err := s.renderer.Close(); err != nil {
			s.logger.Warn("failed to release renderer", zap.Error(err))
		}
		s.setState(entity.StateStopped)
	}()

	st, err := s.checkpoints.Load(ctx)
	if err != nil {
		s.setState(entity.StateFailed)
		return fmt.Errorf("load checkpoint: %w", err)
	}
	st.Normalize()

	frontier := NewFrontier(st.Frontier)
	s.abandoned = make(map[string]struct{}, len(st.DeadLetters))
	if s.requeueDead && len(st.DeadLetters) > 0 {
		for _, dl := range st.DeadLetters {
			if _, ok := st.Visited[dl.URL]; !ok {
				frontier.Push(dl.URL)
			}
			delete(st.Attempts, dl.URL)
		}
		s.logger.Info("requeued dead letters", zap.Int("count", len(st.DeadLetters)))
		st.DeadLetters = nil
	}
	for _, dl := range st.DeadLetters {
		s.abandoned[dl.URL] = struct{}{}
	}
	if frontier.Len() == 0 {
		frontier.Push(s.seed)
	}
	s.publish(st, frontier)
	s.logger.Info("crawl started",
		zap.String("seed", s.seed),
		zap.Int("visited", len(st.Visited)),
		zap.Int("pending", frontier.Len()),
		zap.Int("pages", st.PageCount),
	)

	for frontier.Len() > 0 {
		if ctx.Err() != nil {
			return s.drain(ctx, st, frontier, ctx.Err())
		}

		u, _ := frontier.Pop()
		if _, ok := st.Visited[u]; ok {
			s.logger.Debug("skipping already visited page", zap.String("url", u))
			continue
		}
		if _, ok := s.abandoned[u]; ok {
			s.logger.Debug("skipping abandoned page", zap.String("url", u))
			continue
		}

		if err := s.visit(ctx, st, frontier, u); err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return s.drain(ctx, st, frontier, err)
			}
			s.setState(entity.StateFailed)
			s.logger.Error("crawl aborted", zap.String("url", u), zap.Error(err))
			return err
		}
	}

	if err := s.save(ctx, st, frontier); err != nil {
		s.setState(entity.StateFailed)
		return err
	}
	s.logger.Info("wiki download completed",
		zap.Int("pages", st.PageCount),
		zap.Int("visited", len(st.Visited)),
		zap.Int("dead_letters", len(st.DeadLetters)),
	)
	return nil
}

func (s *Scheduler) visit(ctx context.Context, st *entity.CrawlState, frontier *Frontier, u string) error {
	s.logger.Info("downloading", zap.String("url", u))

	// A render in flight is never interrupted by shutdown.
	start := s.now()
	page, err := s.renderer.Render(context.WithoutCancel(ctx), u)
	s.metrics.ObserveRender(s.now().Sub(start))
	if errors.Is(err, repository.ErrRendererGone) {
		return fmt.Errorf("render %s: %w", u, err)
	}
	if err != nil {
		return s.handleFetchFailure(ctx, st, frontier, u, err)
	}

	filename, err := s.archiver.Archive(page)
	if err != nil {
		return fmt.Errorf("archive %s: %w", u, err)
	}
	s.logger.Info("downloaded and saved", zap.String("url", u), zap.String("file", filename))

	st.Visited[u] = struct{}{}
	delete(st.Attempts, u)

	links, err := s.extractor.Extract(page)
	if err != nil {
		s.metrics.ExtractFailures.Inc()
		s.logger.Error("failed to retrieve links from page", zap.String("url", u), zap.Error(err))
	}
	added := 0
	for _, link := range links {
		if _, ok := st.Visited[link]; ok {
			s.logger.Debug("skipping already visited link", zap.String("url", link))
			continue
		}
		if _, ok := s.abandoned[link]; ok {
			s.logger.Debug("skipping abandoned link", zap.String("url", link))
			continue
		}
		if frontier.Push(link) {
			added++
			s.logger.Debug("added new page to visit", zap.String("url", link))
		}
	}

	st.PageCount++
	s.metrics.PagesDownloaded.Inc()
	s.logger.Info("progress",
		zap.Int("pages", st.PageCount),
		zap.Int("links", len(links)),
		zap.Int("new", added),
		zap.Int("pending", frontier.Len()),
	)
	return s.save(ctx, st, frontier)
}

func (s *Scheduler) handleFetchFailure(ctx context.Context, st *entity.CrawlState, frontier *Frontier, u string, fetchErr error) error {
	kind := repository.FetchKindOf(fetchErr)
	attempts := st.Attempts[u] + 1
	st.Attempts[u] = attempts
	s.metrics.FetchFailures.WithLabelValues(kind.String()).Inc()
	s.logger.Error("failed to download",
		zap.String("url", u),
		zap.Stringer("kind", kind),
		zap.Int("attempt", attempts),
		zap.Error(fetchErr),
	)

	if s.retry.Exhausted(attempts) {
		letter := entity.DeadLetter{
			URL:       u,
			Attempts:  attempts,
			LastError: fetchErr.Error(),
			FailedAt:  s.now(),
		}
		st.DeadLetters = append(st.DeadLetters, letter)
		s.abandoned[u] = struct{}{}
		delete(st.Attempts, u)
		s.metrics.DeadLetters.Inc()
		s.logger.Error("giving up on page after max attempts", zap.String("url", u), zap.Int("attempts", attempts))
		if s.deadLetters != nil {
			if err := s.deadLetters.Record(context.WithoutCancel(ctx), letter); err != nil {
				s.logger.Warn("failed to record dead letter", zap.String("url", u), zap.Error(err))
			}
		}
		return s.save(ctx, st, frontier)
	}

	delay := s.retry.Delay(attempts)
	frontier.Push(u)
	s.metrics.Retries.Inc()
	s.publish(st, frontier)
	s.logger.Warn("retrying download after a delay",
		zap.String("url", u),
		zap.Int("attempt", attempts),
		zap.Duration("delay", delay),
	)
	return s.sleep(ctx, delay)
}

func (s *Scheduler) drain(ctx context.Context, st *entity.CrawlState, frontier *Frontier, cause error) error {
	s.setState(entity.StateDraining)
	s.logger.Info("shutdown requested, saving progress", zap.Int("pending", frontier.Len()))
	if err := s.save(ctx, st, frontier); err != nil {
		s.setState(entity.StateFailed)
		return err
	}
	return cause
}

func (s *Scheduler) save(ctx context.Context, st *entity.CrawlState, frontier *Frontier) error {
	st.Frontier = frontier.Snapshot()
	st.SavedAt = s.now()

	start := s.now()
	if err := s.checkpoints.Save(context.WithoutCancel(ctx), st); err != nil {
		return fmt.Errorf("%w: %w", repository.ErrCheckpointWrite, err)
	}
	s.metrics.ObserveCheckpoint(s.now().Sub(start))
	s.publish(st, frontier)
	s.logger.Debug("saved progress", zap.Int("pages", st.PageCount), zap.Int("pending", len(st.Frontier)))

	if s.onSave != nil {
		s.onSave(s.Progress())
	}
	return nil
}

func (s *Scheduler) publish(st *entity.CrawlState, frontier *Frontier) {
	s.pageCount.Store(int64(st.PageCount))
	s.visited.Store(int64(len(st.Visited)))
	s.frontierLen.Store(int64(frontier.Len()))
	s.deadLettered.Store(int64(len(st.DeadLetters)))
	s.metrics.SetQueueSizes(frontier.Len(), len(st.Visited))
}

func (s *Scheduler) setState(state entity.SchedulerState) {
	s.state.Store(int32(state))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
