package repository

import (
	"context"

	"github.com/user/wiki-archiver/internal/entity"
)

// PageRenderer loads a URL and returns its fully rendered HTML.
// Implementations hold a single stateful session and are not safe for concurrent use.
type PageRenderer interface {
	// Render blocks until the page's primary content is present or a timeout elapses.
	// Failures are reported as *FetchError.
	Render(ctx context.Context, url string) (*entity.RenderedPage, error)
	// Close releases the underlying session.
	Close() error
}
