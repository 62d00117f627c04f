package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/user/wiki-archiver/internal/entity"
	"github.com/user/wiki-archiver/internal/repository"
)

// Report is the read-only summary of a checkpoint.
type Report struct {
	Progress    entity.Progress
	DeadLetters []entity.DeadLetter
	SavedAt     time.Time
	Exists      bool
}

// Inspect loads the checkpoint without modifying it and summarises its counts.
func Inspect(ctx context.Context, checkpoints repository.CheckpointRepository) (*Report, error) {
	st, err := checkpoints.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	st.Normalize()
	return &Report{
		Progress:    st.Progress(),
		DeadLetters: st.DeadLetters,
		SavedAt:     st.SavedAt,
		Exists:      !st.SavedAt.IsZero(),
	}, nil
}
