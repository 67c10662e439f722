package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/bcdatalab/equitymap/internal/model"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show coordinate cache statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		stats, err := st.Stats(ctx)
		if err != nil {
			return eris.Wrap(err, "cache stats")
		}

		formatStats(os.Stdout, stats)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// formatStats writes cache statistics to out.
func formatStats(out io.Writer, stats *model.CacheStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Cached coordinates:\t%d\n", stats.Total)

	sources := make([]string, 0, len(stats.BySource))
	for src := range stats.BySource {
		sources = append(sources, string(src))
	}
	sort.Strings(sources)
	for _, src := range sources {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", src, stats.BySource[model.CoordinateSource(src)])
	}

	if stats.OldestResolvedAt != nil {
		_, _ = fmt.Fprintf(w, "Oldest record:\t%s\n", stats.OldestResolvedAt.Format("2006-01-02 15:04"))
	}
	if stats.NewestResolvedAt != nil {
		_, _ = fmt.Fprintf(w, "Newest record:\t%s\n", stats.NewestResolvedAt.Format("2006-01-02 15:04"))
	}
	_, _ = fmt.Fprintf(w, "Resolve runs:\t%d\n", stats.ResolveRuns)
	_ = w.Flush()
}
