package repository

import (
	"context"

	"github.com/user/wiki-archiver/internal/entity"
)

// CheckpointRepository defines durable storage for the crawl state.
type CheckpointRepository interface {
	// Load returns the saved state, or an empty state when none exists.
	// A present but unreadable checkpoint yields ErrCheckpointCorrupt.
	Load(ctx context.Context) (*entity.CrawlState, error)
	// Save overwrites the stored state with the given snapshot.
	Save(ctx context.Context, state *entity.CrawlState) error
}
