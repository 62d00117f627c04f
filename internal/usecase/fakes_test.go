package usecase

import (
	"context"
	"sync"

	"github.com/user/wiki-archiver/internal/entity"
	"github.com/user/wiki-archiver/internal/repository"
)

type fakeRenderer struct {
	RenderFn func(ctx context.Context, url string) (*entity.RenderedPage, error)

	mu       sync.Mutex
	rendered []string
	closed   int
}

func (f *fakeRenderer) Render(ctx context.Context, url string) (*entity.RenderedPage, error) {
	f.mu.Lock()
	f.rendered = append(f.rendered, url)
	f.mu.Unlock()
	return f.RenderFn(ctx, url)
}

func (f *fakeRenderer) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

type fakeArchiver struct {
	ArchiveFn func(page *entity.RenderedPage) (string, error)
	archived  []string
}

func (f *fakeArchiver) Archive(page *entity.RenderedPage) (string, error) {
	f.archived = append(f.archived, page.URL)
	if f.ArchiveFn != nil {
		return f.ArchiveFn(page)
	}
	return page.URL + ".html", nil
}

// memCheckpoints keeps deep copies so later mutation by the scheduler does
// not leak into what was "persisted".
type memCheckpoints struct {
	LoadErr error
	SaveErr error

	state *entity.CrawlState
	saves int
}

func (m *memCheckpoints) Load(context.Context) (*entity.CrawlState, error) {
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	if m.state == nil {
		return entity.NewCrawlState(), nil
	}
	return cloneState(m.state), nil
}

func (m *memCheckpoints) Save(_ context.Context, st *entity.CrawlState) error {
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.saves++
	m.state = cloneState(st)
	return nil
}

type memDeadLetters struct {
	letters []entity.DeadLetter
}

func (m *memDeadLetters) Record(_ context.Context, dl entity.DeadLetter) error {
	m.letters = append(m.letters, dl)
	return nil
}

func cloneState(st *entity.CrawlState) *entity.CrawlState {
	out := entity.NewCrawlState()
	out.Version = st.Version
	for u := range st.Visited {
		out.Visited[u] = struct{}{}
	}
	out.Frontier = append([]string{}, st.Frontier...)
	out.PageCount = st.PageCount
	for u, n := range st.Attempts {
		out.Attempts[u] = n
	}
	out.DeadLetters = append([]entity.DeadLetter(nil), st.DeadLetters...)
	out.SavedAt = st.SavedAt
	return out
}

var (
	_ repository.PageRenderer         = (*fakeRenderer)(nil)
	_ repository.PageArchiver         = (*fakeArchiver)(nil)
	_ repository.CheckpointRepository = (*memCheckpoints)(nil)
	_ repository.DeadLetterRepository = (*memDeadLetters)(nil)
)
