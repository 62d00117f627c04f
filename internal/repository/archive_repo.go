package repository

import "github.com/user/wiki-archiver/internal/entity"

// PageArchiver persists rendered pages to local storage.
type PageArchiver interface {
	// Archive writes the page and returns the filename it was stored under.
	Archive(page *entity.RenderedPage) (string, error)
}
