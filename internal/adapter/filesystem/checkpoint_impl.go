package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/user/wiki-archiver/internal/adapter/codec"
	"github.com/user/wiki-archiver/internal/entity"
	"github.com/user/wiki-archiver/internal/repository"
)

// CheckpointRepoImpl stores the crawl state in a single binary file.
type CheckpointRepoImpl struct {
	path   string
	logger *zap.Logger
}

// NewCheckpointRepo creates a file-backed CheckpointRepository at path.
func NewCheckpointRepo(path string, logger *zap.Logger) *CheckpointRepoImpl {
	return &CheckpointRepoImpl{path: path, logger: logger}
}

// Load reads the checkpoint. A missing file yields an empty state.
func (r *CheckpointRepoImpl) Load(_ context.Context) (*entity.CrawlState, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		r.logger.Info("no checkpoint found, starting fresh", zap.String("path", r.path))
		return entity.NewCrawlState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", repository.ErrCheckpointCorrupt, r.path, err)
	}

	state, err := codec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.path, err)
	}
	r.logger.Info("loaded progress", zap.String("path", r.path), zap.Int("pages", state.PageCount))
	return state, nil
}

// Save atomically replaces the checkpoint file.
func (r *CheckpointRepoImpl) Save(_ context.Context, state *entity.CrawlState) error {
	data, err := codec.Encode(state)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	if err := writeFileAtomic(r.path, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint %s: %w", r.path, err)
	}
	return nil
}
