package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/worklog-sh/worklog/store"
	"github.com/worklog-sh/worklog/store/db/sqlite"
)

var (
	flagCacheStats bool
	flagCacheClear bool
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the local cache database.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !flagCacheStats && !flagCacheClear {
			return cmd.Help()
		}

		if flagCacheClear {
			if err := os.Remove(cfg.Database.Path); err != nil && !os.IsNotExist(err) {
				return err
			}
			store.Reset()
			fmt.Println("Cache cleared.")
		}

		if flagCacheStats {
			st, err := store.Shared(cfg.Database.Path, sqlite.NewDB)
			if err != nil {
				return err
			}
			defer st.Close()

			stats, err := st.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Cache database: %s\n", cfg.Database.Path)
			for _, t := range stats.Tables {
				fmt.Printf("  %-18s %d rows\n", t.Table, t.Rows)
			}
			if stats.OldestTS != "" {
				fmt.Printf("  message range: %s .. %s\n", stats.OldestTS, stats.NewestTS)
			}
		}
		return nil
	},
}

func init() {
	cacheCmd.Flags().BoolVar(&flagCacheStats, "stats", false, "print cache table sizes and message range")
	cacheCmd.Flags().BoolVar(&flagCacheClear, "clear", false, "delete the cache database")
}
