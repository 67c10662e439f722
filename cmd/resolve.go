package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bcdatalab/equitymap/internal/dataset"
	"github.com/bcdatalab/equitymap/internal/model"
	"github.com/bcdatalab/equitymap/pkg/geocode"
)

var resolveRefresh bool

var resolveCmd = &cobra.Command{
	Use:   "resolve [name ...]",
	Short: "Resolve municipality coordinates into the cache",
	Long:  "Resolves the given municipality names, or every municipality in the roster when none are given. Cached names are skipped unless --refresh is set.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("resolve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		names := args
		if len(names) == 0 {
			roster, err := dataset.Load(cfg.Dataset.Path)
			if err != nil {
				return err
			}
			names = dataset.Municipalities(roster.All())
		}
		if len(names) == 0 {
			fmt.Fprintln(os.Stderr, "Nothing to resolve.")
			return nil
		}

		var bar *progressbar.ProgressBar
		if isatty.IsTerminal(os.Stderr.Fd()) {
			bar = progressbar.NewOptions(len(names),
				progressbar.OptionSetDescription("Resolving municipalities"),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
		}

		resolver := newResolver(st, func(geocode.Resolution) {
			if bar != nil {
				_ = bar.Add(1)
			}
		}, resolveRefresh)

		started := time.Now()
		resolutions, runErr := resolver.ResolveBatch(ctx, names)
		duration := time.Since(started)
		if bar != nil {
			_ = bar.Finish()
		}

		tally := tallyResolutions(resolutions)

		if runErr == nil {
			run := model.ResolveRun{
				ID:        uuid.NewString(),
				StartedAt: started.UTC(),
				Duration:  duration,
				Total:     len(resolutions),
				Cached:    tally.Cached,
				Resolved:  tally.Resolved,
				Failed:    tally.Failed,
			}
			if err := st.LogResolveRun(ctx, run); err != nil {
				zap.L().Warn("resolve: audit write failed", zap.Error(err))
			}
		}

		formatResolutions(os.Stdout, resolutions)
		fmt.Fprintf(os.Stdout, "\n%d names: %d cached, %d resolved, %d failed (%s)\n",
			len(resolutions), tally.Cached, tally.Resolved, tally.Failed,
			duration.Round(time.Millisecond),
		)

		if runErr != nil {
			return eris.Wrap(runErr, "resolve")
		}
		return nil
	},
}

var resolveHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent resolve runs",
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

		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListResolveRuns(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "resolve history")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No resolve runs recorded.")
			return nil
		}

		formatResolveRuns(os.Stdout, runs)
		return nil
	},
}

func init() {
	resolveCmd.Flags().BoolVar(&resolveRefresh, "refresh", false, "re-resolve names that are already cached")
	resolveHistoryCmd.Flags().Int("limit", 20, "max number of runs to display")

	resolveCmd.AddCommand(resolveHistoryCmd)
	rootCmd.AddCommand(resolveCmd)
}

// resolveTally counts resolution outcomes by class.
type resolveTally struct {
	Cached   int
	Resolved int
	Failed   int
}

func tallyResolutions(resolutions []geocode.Resolution) resolveTally {
	var t resolveTally
	for _, res := range resolutions {
		switch {
		case res.Failure != nil:
			t.Failed++
		case res.FromCache:
			t.Cached++
		default:
			t.Resolved++
		}
	}
	return t
}

// formatResolutions writes a tabular outcome per input name to out.
func formatResolutions(out io.Writer, resolutions []geocode.Resolution) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tSTATUS\tDETAIL")
	_, _ = fmt.Fprintln(w, "----\t------\t------")

	for _, res := range resolutions {
		status := "resolved"
		detail := ""
		switch {
		case res.Failure != nil:
			status = string(res.Failure.Kind)
			if res.Failure.Err != nil {
				detail = truncate(res.Failure.Err.Error(), 60)
			}
		case res.FromCache:
			status = "cached"
			detail = fmt.Sprintf("%.4f, %.4f", res.Record.Latitude, res.Record.Longitude)
		default:
			detail = fmt.Sprintf("%.4f, %.4f", res.Record.Latitude, res.Record.Longitude)
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", res.Name, status, detail)
	}
	_ = w.Flush()
}

// formatResolveRuns writes a tabular representation of resolve runs to out.
func formatResolveRuns(out io.Writer, runs []model.ResolveRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTARTED\tDURATION\tTOTAL\tCACHED\tRESOLVED\tFAILED")
	_, _ = fmt.Fprintln(w, "--\t-------\t--------\t-----\t------\t--------\t------")

	for _, run := range runs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			truncateID(run.ID),
			run.StartedAt.Format("2006-01-02 15:04"),
			run.Duration.Round(time.Millisecond),
			run.Total,
			run.Cached,
			run.Resolved,
			run.Failed,
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
