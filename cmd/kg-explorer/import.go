package main

import (
	"fmt"
	"os"

	"github.com/ritzau/kg-explorer/pkg/output"
	"github.com/ritzau/kg-explorer/pkg/store"
	"github.com/spf13/cobra"
)

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "import <dataset.yaml>",
		Short:   "Replace the contents of --db with a YAML dataset",
		Example: `  kg-explorer import --db kg.db dataset.yaml`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(cmd)
			if err != nil {
				return err
			}
			if !cfg.Offline() {
				return &configError{fmt.Errorf("import requires --db")}
			}

			st, err := store.Open(cfg.DB)
			if err != nil {
				return err
			}
			defer st.Close()

			res, err := st.Import(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			output.PrintImportReport(os.Stdout, args[0], res.Nodes, res.Edges, res.SkippedEdges)
			return nil
		},
	}
}
