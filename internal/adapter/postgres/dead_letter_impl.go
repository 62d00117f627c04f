package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/user/wiki-archiver/internal/entity"
)

const createFailedURLsTable = `
	CREATE TABLE IF NOT EXISTS failed_urls (
		id                     BIGSERIAL PRIMARY KEY,
		url                    TEXT NOT NULL UNIQUE,
		failure_reason         TEXT NOT NULL DEFAULT '',
		retry_count            INTEGER NOT NULL DEFAULT 0,
		last_attempt_timestamp TIMESTAMPTZ NOT NULL
	);
`

// DeadLetterRepoImpl records abandoned URLs in the failed_urls table.
type DeadLetterRepoImpl struct {
	db *pgxpool.Pool
}

// NewDeadLetterRepo creates a new instance of DeadLetterRepoImpl.
func NewDeadLetterRepo(db *pgxpool.Pool) *DeadLetterRepoImpl {
	return &DeadLetterRepoImpl{db: db}
}

// EnsureSchema creates the failed_urls table if it does not exist.
func (r *DeadLetterRepoImpl) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, createFailedURLsTable)
	return err
}

// Record creates or updates the row for a dead-lettered URL.
func (r *DeadLetterRepoImpl) Record(ctx context.Context, letter entity.DeadLetter) error {
	query := `
		INSERT INTO failed_urls (url, failure_reason, retry_count, last_attempt_timestamp)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (url) DO UPDATE SET
			failure_reason = EXCLUDED.failure_reason,
			retry_count = failed_urls.retry_count + EXCLUDED.retry_count,
			last_attempt_timestamp = EXCLUDED.last_attempt_timestamp;
	`
	_, err := r.db.Exec(ctx, query,
		letter.URL,
		letter.LastError,
		letter.Attempts,
		letter.FailedAt,
	)
	return err
}

// FindAll lists recorded dead letters, most recent first.
func (r *DeadLetterRepoImpl) FindAll(ctx context.Context, limit int) ([]entity.DeadLetter, error) {
	query := `
		SELECT url, failure_reason, retry_count, last_attempt_timestamp
		FROM failed_urls
		ORDER BY last_attempt_timestamp DESC
		LIMIT $1;
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var letters []entity.DeadLetter
	for rows.Next() {
		var dl entity.DeadLetter
		if err := rows.Scan(&dl.URL, &dl.LastError, &dl.Attempts, &dl.FailedAt); err != nil {
			return nil, err
		}
		letters = append(letters, dl)
	}
	return letters, rows.Err()
}
