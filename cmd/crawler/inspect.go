package main

import (
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/user/wiki-archiver/internal/adapter/postgres"
	"github.com/user/wiki-archiver/internal/entity"
	"github.com/user/wiki-archiver/internal/usecase"
	"github.com/user/wiki-archiver/pkg/config"
	"github.com/user/wiki-archiver/pkg/logger"
)

const deadLetterListLimit = 100

func newInspectCmd(configPath *string) *cobra.Command {
	var showDeadLetters bool
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print download progress from the checkpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath, cmd.Flags())
			if err != nil {
				return err
			}

			log, cleanup, err := logger.New(logger.Options{Level: "warn", Console: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			defer cleanup()

			scope := ""
			if cfg.BaseURL != "" {
				canon, err := usecase.NewCanonicalizer(cfg.BaseURL, nil)
				if err != nil {
					return err
				}
				scope = canon.Scope()
			}

			ctx := cmd.Context()
			checkpoints, closeStore, err := openCheckpoints(ctx, cfg, scope, log)
			if err != nil {
				return err
			}
			defer closeStore()

			report, err := usecase.Inspect(ctx, checkpoints)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printReport(out, report)
			if !showDeadLetters {
				return nil
			}
			printDeadLetters(out, "Dead letters in checkpoint", report.DeadLetters)

			if cfg.Postgres.URL != "" {
				dbpool, err := pgxpool.New(ctx, cfg.Postgres.URL)
				if err != nil {
					return fmt.Errorf("connect to postgres: %w", err)
				}
				defer dbpool.Close()
				letters, err := postgres.NewDeadLetterRepo(dbpool).FindAll(ctx, deadLetterListLimit)
				if err != nil {
					return fmt.Errorf("list dead letters: %w", err)
				}
				printDeadLetters(out, "Dead letters in PostgreSQL", letters)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showDeadLetters, "dead-letters", false, "list pages that were given up on")
	return cmd
}

func printReport(w io.Writer, r *usecase.Report) {
	if !r.Exists {
		fmt.Fprintln(w, "No checkpoint found; nothing has been downloaded yet.")
	} else {
		fmt.Fprintf(w, "Checkpoint saved at: %s\n", r.SavedAt.Local().Format("2006-01-02 15:04:05 MST"))
	}
	fmt.Fprintf(w, "Total pages downloaded: %d\n", r.Progress.Downloaded)
	fmt.Fprintf(w, "Total links discovered: %d\n", r.Progress.Discovered)
	fmt.Fprintf(w, "Pages remaining to download: %d\n", r.Progress.Remaining)
	fmt.Fprintf(w, "Page count: %d\n", r.Progress.PageCount)
	fmt.Fprintf(w, "Dead letters: %d\n", r.Progress.DeadLettered)
}

func printDeadLetters(w io.Writer, heading string, letters []entity.DeadLetter) {
	fmt.Fprintf(w, "\n%s (%d):\n", heading, len(letters))
	for _, dl := range letters {
		fmt.Fprintf(w, "  %s\tattempts=%d\tfailed_at=%s\t%s\n",
			dl.URL, dl.Attempts, dl.FailedAt.Format("2006-01-02 15:04:05"), dl.LastError)
	}
}
