package repository

import (
	"context"

	"github.com/user/wiki-archiver/internal/entity"
)

// DeadLetterRepository records URLs that exceeded the retry budget.
type DeadLetterRepository interface {
	Record(ctx context.Context, letter entity.DeadLetter) error
}
