package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bcdatalab/equitymap/internal/model"
	"github.com/bcdatalab/equitymap/pkg/geocode"
)

var overridesCmd = &cobra.Command{
	Use:   "overrides",
	Short: "Manage manual coordinate overrides",
	Long:  "Overrides pin coordinates for municipalities the geocoding service misses or misplaces. They are cached like any other record and survive refreshes until re-applied.",
}

var overridesFile string

var overridesApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a YAML overrides file to the coordinate cache",
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

		recs, err := loadOverrides(overridesFile, time.Now())
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Fprintln(os.Stderr, "No overrides in file.")
			return nil
		}

		if err := st.PutBatch(ctx, recs); err != nil {
			return eris.Wrap(err, "apply overrides")
		}

		fmt.Printf("Applied %d overrides.\n", len(recs))
		return nil
	},
}

func init() {
	overridesApplyCmd.Flags().StringVar(&overridesFile, "file", "overrides.yaml", "path to the overrides file")

	overridesCmd.AddCommand(overridesApplyCmd)
	rootCmd.AddCommand(overridesCmd)
}

type overridesDoc struct {
	Overrides []overrideEntry `yaml:"overrides"`
}

type overrideEntry struct {
	Name      string  `yaml:"name"`
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

// loadOverrides parses an overrides file into coordinate records keyed by the
// normalized name.
func loadOverrides(path string, now time.Time) ([]model.CoordinateRecord, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "read overrides file")
	}

	var doc overridesDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, eris.Wrap(err, "parse overrides file")
	}

	recs := make([]model.CoordinateRecord, 0, len(doc.Overrides))
	for i, o := range doc.Overrides {
		key := geocode.NormalizeKey(o.Name)
		if key == "" {
			return nil, eris.Errorf("override %d has no name", i)
		}
		if o.Latitude < -90 || o.Latitude > 90 || o.Longitude < -180 || o.Longitude > 180 {
			return nil, eris.Errorf("override %q has out-of-range coordinates", o.Name)
		}
		recs = append(recs, model.CoordinateRecord{
			Key:        key,
			Latitude:   o.Latitude,
			Longitude:  o.Longitude,
			ResolvedAt: now.UTC(),
			Source:     model.SourceManualOverride,
		})
	}
	return recs, nil
}
