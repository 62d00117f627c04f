package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/user/wiki-archiver/internal/adapter/codec"
	"github.com/user/wiki-archiver/internal/entity"
	"github.com/user/wiki-archiver/pkg/utils"
)

const checkpointKeyPrefix = "wikicrawl:checkpoint:"

// CheckpointRepoImpl stores the encoded checkpoint record under a single Redis key.
type CheckpointRepoImpl struct {
	client *redis.Client
	key    string
}

// NewCheckpointRepo creates a Redis-backed CheckpointRepository. An empty key
// is derived from the crawl scope so two sites never share a checkpoint.
func NewCheckpointRepo(client *redis.Client, key, scope string) *CheckpointRepoImpl {
	if key == "" {
		key = CheckpointKey(scope)
	}
	return &CheckpointRepoImpl{client: client, key: key}
}

// CheckpointKey returns the default key for a crawl scope.
func CheckpointKey(scope string) string {
	return fmt.Sprintf("%s%s", checkpointKeyPrefix, utils.HashURL(scope))
}

// Key returns the Redis key used by this repository.
func (r *CheckpointRepoImpl) Key() string {
	return r.key
}

// Load fetches and decodes the checkpoint. A missing key yields an empty state.
func (r *CheckpointRepoImpl) Load(ctx context.Context) (*entity.CrawlState, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return entity.NewCrawlState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", r.key, err)
	}
	return codec.Decode(data)
}

// Save overwrites the key with the encoded state. SET is atomic, so readers
// see either the previous or the new record.
func (r *CheckpointRepoImpl) Save(ctx context.Context, state *entity.CrawlState) error {
	data, err := codec.Encode(state)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", r.key, err)
	}
	return nil
}
