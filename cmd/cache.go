package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/ocs-answerer/internal/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the answer cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every cached answer",
	Long:  "Drops every cached answer. An in-memory cache lives in the server process; clear it with GET /api/cache/clear instead.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		c, closeCache, err := initCache(ctx)
		if err != nil {
			return err
		}
		defer closeCache()

		if c == nil {
			zap.L().Info("cache disabled, nothing to clear")
			return nil
		}
		if cfg.Cache.Driver == "memory" {
			zap.L().Warn("memory cache is per process, use GET /api/cache/clear on the server")
			return nil
		}
		if err := c.InvalidateAll(ctx); err != nil {
			return eris.Wrap(err, "cache clear")
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "cleared %s cache\n", c.Name())
		return nil
	},
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache and answer store statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		c, closeCache, err := initCache(ctx)
		if err != nil {
			return err
		}
		defer closeCache()

		var stats []cache.Stats
		if r, ok := c.(cache.StatsReporter); ok {
			stats = append(stats, r.Stats(ctx))
		}

		stored := -1
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close() //nolint:errcheck
			if stored, err = st.Count(ctx); err != nil {
				return eris.Wrap(err, "count stored answers")
			}
		}

		formatCacheStats(cmd.OutOrStdout(), stats, stored)
		return nil
	},
}

// formatCacheStats writes a table of cache stats and the stored answer
// count; stored < 0 means the store is disabled.
func formatCacheStats(out io.Writer, stats []cache.Stats, stored int) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "BACKEND\tENTRIES\tHITS\tMISSES\tHIT RATE")
	_, _ = fmt.Fprintln(w, "-------\t-------\t----\t------\t--------")
	for _, s := range stats {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.1f%%\n", s.Backend, s.Entries, s.Hits, s.Misses, s.HitRate*100)
	}
	_ = w.Flush()

	if stored >= 0 {
		_, _ = fmt.Fprintf(out, "\nstored answers: %d\n", stored)
	}
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd, cacheStatsCmd)
	rootCmd.AddCommand(cacheCmd)
}
