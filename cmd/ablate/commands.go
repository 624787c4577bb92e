package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

type runOptions struct {
	question    string
	urls        []string
	urlsFile    string
	overrides   string
	output      string
	format      string
	concurrency int
	solo        bool
}

func buildRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a leave-one-out attribution study",
		Long: `Resolve every URL, answer the question with all sources and with each source
left out, score every answer, and report the per-source impact.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAttribution(cmd, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.question, "question", "q", "", "Question to answer")
	cmd.Flags().StringArrayVarP(&opts.urls, "url", "u", nil, "Source URL (repeatable)")
	cmd.Flags().StringVar(&opts.urlsFile, "urls-file", "", "File with one source URL per line")
	cmd.Flags().StringVar(&opts.overrides, "overrides", "", "JSON/JSON5 file of per-URL documents that bypass the cache")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Write JSON report to file")
	cmd.Flags().StringVar(&opts.format, "format", "text", "Stdout format: text or json")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 0, "Maximum parallel ablations (overrides loo.concurrency)")
	cmd.Flags().BoolVar(&opts.solo, "solo", false, "Also score each source on its own")
	cobra.CheckErr(cmd.MarkFlagRequired("question"))
	return cmd
}

func buildCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the source cache",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List cached sources",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runCacheList(cmd)
			},
		},
		&cobra.Command{
			Use:   "show <url>",
			Short: "Print one cached source as JSON",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runCacheShow(cmd, args[0])
			},
		},
		&cobra.Command{
			Use:   "purge",
			Short: "Remove every cached source",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runCachePurge(cmd)
			},
		},
	)
	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ablate %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
