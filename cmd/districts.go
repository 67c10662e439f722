package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bcdatalab/equitymap/internal/boundary"
)

var (
	districtsShp       string
	districtsNameField string
)

var districtsCmd = &cobra.Command{
	Use:   "districts",
	Short: "Manage electoral district boundaries",
}

var districtsLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load district boundaries from a shapefile",
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

		n, err := boundary.Import(ctx, st, districtsShp, districtsNameField)
		if err != nil {
			return err
		}

		fmt.Printf("Imported %d districts.\n", n)
		return nil
	},
}

func init() {
	districtsLoadCmd.Flags().StringVar(&districtsShp, "shp", "", "path to the boundary shapefile")
	districtsLoadCmd.Flags().StringVar(&districtsNameField, "name-field", boundary.DefaultNameField, "attribute holding the district name")
	_ = districtsLoadCmd.MarkFlagRequired("shp")

	districtsCmd.AddCommand(districtsLoadCmd)
	rootCmd.AddCommand(districtsCmd)
}
