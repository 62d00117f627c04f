package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func newRootCmd() *cobra.Command {
	var configPath string
	flags := &crawlFlags{}

	root := &cobra.Command{
		Use:   "wikicrawl",
		Short: "Archive every page of a single wiki site, resumably",
		Long: `wikicrawl renders each page of a wiki in headless Chrome, stores the HTML
under <base_dir>/<Title>.html and follows in-scope links breadth-first.
Progress is checkpointed after every page, so an interrupted run picks up
where it left off.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, configPath, flags)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "config file (yaml, json or toml)")
	pf.String("base-url", "", "wiki base URL; only links under it are followed")
	pf.String("progress-file", "", "checkpoint file for the file backend")
	pf.String("backend", "", "checkpoint backend: file or redis")
	pf.String("log-level", "", "debug, info, warn or error")

	addCrawlFlags(root.Flags(), flags)

	root.AddCommand(newCrawlCmd(&configPath), newInspectCmd(&configPath))
	return root
}

func newCrawlCmd(configPath *string) *cobra.Command {
	flags := &crawlFlags{}
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Download pages until the frontier is empty (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, *configPath, flags)
		},
	}
	addCrawlFlags(cmd.Flags(), flags)
	return cmd
}

type crawlFlags struct {
	requeueDeadLetters bool
}

func addCrawlFlags(fs *pflag.FlagSet, flags *crawlFlags) {
	fs.String("base-dir", "", "directory the archived pages are written to")
	fs.Int("max-attempts", 0, "render attempts per page before giving up (0 retries forever)")
	fs.String("server-addr", "", "serve /api/progress and /metrics on this address")
	fs.String("log-file", "", "JSON log file")
	fs.BoolVar(&flags.requeueDeadLetters, "requeue-dead-letters", false, "move abandoned pages back into the frontier")
}
