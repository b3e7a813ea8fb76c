package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/use-agent/ingester/registry"
)

var scrapersCmd = &cobra.Command{
	Use:   "scrapers",
	Short: "Manage registered scrapers",
	Long: `Manage the scraper registry.

Examples:
  ingester scrapers import ./scrapers    # Import every *.yaml file
  ingester scrapers list                 # Show scrapers in candidate order`,
}

var scrapersImportCmd = &cobra.Command{
	Use:   "import <dir>",
	Short: "Import scraper YAML files from a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStorage(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		n, err := importScrapers(cmd.Context(), st.registry, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d scrapers\n", n)
		return nil
	},
}

var scrapersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scrapers in candidate order",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStorage(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		records, err := st.registry.List(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tLABEL\tPATTERN\tDETECT")
		for _, r := range registry.Order(records) {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", r.ID, r.Label, r.URLPattern, r.HasDetect())
		}
		return w.Flush()
	},
}

func init() {
	scrapersCmd.AddCommand(scrapersImportCmd)
	scrapersCmd.AddCommand(scrapersListCmd)
}
