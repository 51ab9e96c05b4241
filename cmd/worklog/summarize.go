package main

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/worklog-sh/worklog/aggregate"
	"github.com/worklog-sh/worklog/internal/timespan"
	"github.com/worklog-sh/worklog/llm"
	"github.com/worklog-sh/worklog/logging"
	"github.com/worklog-sh/worklog/slack"
	"github.com/worklog-sh/worklog/store"
	"github.com/worklog-sh/worklog/store/db/sqlite"
)

var (
	flagJSON      bool
	flagOutput    string
	flagSkipCache bool
)

var summarizeCmd = &cobra.Command{
	Use:   "summarize [timespan]",
	Short: "Generate a work log for a timespan (today, yesterday, last-week, YYYY-MM-DD, or YYYY-MM-DD..YYYY-MM-DD).",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return configError{err}
		}

		token := "today"
		if len(args) == 1 {
			token = args[0]
		}

		// Reject bad input before any network or disk work.
		loc, err := time.LoadLocation(cfg.Settings.Timezone)
		if err != nil {
			return configError{fmt.Errorf("invalid timezone %q: %w", cfg.Settings.Timezone, err)}
		}
		if _, err := timespan.Parse(token, loc, time.Now()); err != nil {
			return configError{err}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), terminationSignals...)
		defer stop()

		st, err := store.Shared(cfg.Database.Path, sqlite.NewDB)
		if err != nil {
			return err
		}
		defer func() {
			if err := st.Close(); err != nil {
				logging.Warn("cache close failed", "error", err.Error())
			}
		}()

		limiter := slack.NewLimiter(slack.LimiterOptions{
			RequestsPerSecond: cfg.Slack.RateLimit,
		})
		api := slack.NewClient(cfg.Slack.UserToken, limiter)

		backend, err := llm.Provider(cfg)
		if err != nil {
			return configError{err}
		}

		progress := func(p aggregate.Progress) {
			if p.Total > 0 {
				fmt.Fprintf(os.Stderr, "\r%s %d/%d   ", p.Stage, p.Current, p.Total)
			} else {
				fmt.Fprintf(os.Stderr, "\r%s...        ", p.Stage)
			}
			if p.Stage == "complete" {
				fmt.Fprintln(os.Stderr)
			}
		}

		agg := aggregate.New(cfg, api, st, backend, progress)
		agg.SkipCache = flagSkipCache
		report, err := agg.Run(ctx, token)
		if err != nil {
			return err
		}

		var out []byte
		if flagJSON {
			out, err = report.JSON()
			if err != nil {
				return err
			}
			out = append(out, '\n')
		} else {
			out = []byte(report.Markdown())
		}

		if flagOutput != "" {
			return os.WriteFile(flagOutput, out, 0o644)
		}
		_, err = os.Stdout.Write(out)
		return err
	},
}

func init() {
	summarizeCmd.Flags().BoolVar(&flagJSON, "json", false, "emit the report as JSON instead of Markdown")
	summarizeCmd.Flags().StringVarP(&flagOutput, "output", "o", "", "write the report to a file instead of stdout")
	summarizeCmd.Flags().BoolVar(&flagSkipCache, "skip-cache", false, "refetch everything from Slack, ignoring cached day buckets")
}
