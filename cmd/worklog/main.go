package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/worklog-sh/worklog/internal/config"
	"github.com/worklog-sh/worklog/internal/version"
	"github.com/worklog-sh/worklog/logging"
	"github.com/worklog-sh/worklog/store"
)

// Exit codes: 0 success, 1 user error (bad config, bad timespan),
// 2 operational failure (IO, auth, RPC).
const (
	exitOK      = 0
	exitUser    = 1
	exitRuntime = 2
)

// configError marks failures the user fixes by configuring, not
// retrying.
type configError struct{ err error }

func (e configError) Error() string { return e.err.Error() }
func (e configError) Unwrap() error { return e.err }

var (
	flagConfig string
	flagDebug  bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "worklog",
	Short:         "Summarize your Slack activity into a work log with Claude.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		_ = godotenv.Load()

		var err error
		if flagConfig != "" {
			cfg, err = config.LoadFrom(flagConfig)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return configError{err}
		}

		level := cfg.Logging.Level
		if flagDebug {
			level = "debug"
		}
		logging.SetLevel(logging.ParseLevel(level))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the worklog version.",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("worklog %s (%s, built %s)\n", version.Version, version.GitCommit, version.BuildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to config file (default: user config dir)")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(summarizeCmd, cacheCmd, configureCmd, versionCmd)
}

// exitCode classifies a command error: mistakes the user corrects
// (configuration, credentials, timespan syntax) exit 1, operational
// failures exit 2.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ce configError
	if errors.As(err, &ce) {
		return exitUser
	}
	return exitRuntime
}

func main() {
	err := rootCmd.Execute()
	store.Reset()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	os.Exit(exitCode(err))
}
