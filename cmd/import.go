package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var importCSVPath string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import curated wines from CSV into the catalog",
	Long: `Reads a CSV with columns winery, wine_name, vintage and optionally
grapes (";"-separated), region, country, alcohol, type and image_url.
Rows are validated; wines already in the catalog are skipped, never
overwritten.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		f, err := os.Open(importCSVPath)
		if err != nil {
			return eris.Wrap(err, "import: open csv")
		}
		recs, err := readImportRecords(f)
		_ = f.Close()
		if err != nil {
			return eris.Wrap(err, "import: parse csv")
		}

		env, err := initEnv(ctx, "import")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Service.Import(ctx, recs)
		if err != nil {
			return eris.Wrap(err, "import")
		}

		zap.L().Info("import complete",
			zap.String("csv", importCSVPath),
			zap.Int64("inserted", res.Inserted),
			zap.Int64("skipped", res.Skipped),
			zap.Int("rejected", res.Rejected),
		)
		fmt.Printf("inserted %d, skipped %d duplicates, rejected %d\n", res.Inserted, res.Skipped, res.Rejected)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importCSVPath, "csv", "", "path to CSV file (required)")
	_ = importCmd.MarkFlagRequired("csv")
	rootCmd.AddCommand(importCmd)
}
