package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/vindex/vindex/internal/model"
)

var winesCmd = &cobra.Command{
	Use:   "wines",
	Short: "Query the global wine catalog",
}

var winesGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one wine by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withReadEnv(cmd, func(env *appEnv) ([]model.WineRecord, error) {
			rec, err := env.Service.Get(cmd.Context(), args[0])
			if err != nil {
				return nil, err
			}
			return []model.WineRecord{*rec}, nil
		})
	},
}

var winesWineryCmd = &cobra.Command{
	Use:   "winery <query>",
	Short: "List wines whose winery contains query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withReadEnv(cmd, func(env *appEnv) ([]model.WineRecord, error) {
			return env.Service.SearchByWinery(cmd.Context(), args[0])
		})
	},
}

var winesNameCmd = &cobra.Command{
	Use:   "name <query>",
	Short: "List wines whose name contains query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withReadEnv(cmd, func(env *appEnv) ([]model.WineRecord, error) {
			return env.Service.SearchByName(cmd.Context(), args[0])
		})
	},
}

var winesValidatedCmd = &cobra.Command{
	Use:   "validated",
	Short: "List all validated wines",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withReadEnv(cmd, func(env *appEnv) ([]model.WineRecord, error) {
			return env.Service.ListValidated(cmd.Context())
		})
	},
}

var winesImageMissing bool

var winesImageCmd = &cobra.Command{
	Use:   "image [id]",
	Short: "Look up and store a bottle image for a wine",
	Long: `Searches for a bottle image of the given wine and stores its URL.
With --missing, does this for every validated wine that has no image yet.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if winesImageMissing {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(1)(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "read")
		if err != nil {
			return err
		}
		defer env.Close()

		if winesImageMissing {
			n, err := env.Service.BackfillImages(ctx)
			if err != nil {
				return eris.Wrap(err, "wines image")
			}
			fmt.Printf("updated %d images\n", n)
			return nil
		}

		rec, found, err := env.Service.RefreshImage(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "wines image")
		}
		if !found {
			fmt.Println("no image found")
			return nil
		}
		fmt.Println(*rec.ImageURL)
		return nil
	},
}

// withReadEnv opens the catalog in read mode, runs fn and prints the rows.
func withReadEnv(cmd *cobra.Command, fn func(env *appEnv) ([]model.WineRecord, error)) error {
	env, err := initEnv(cmd.Context(), "read")
	if err != nil {
		return err
	}
	defer env.Close()

	recs, err := fn(env)
	if err != nil {
		return eris.Wrap(err, "wines")
	}
	if len(recs) == 0 {
		fmt.Println("no wines found")
		return nil
	}
	fmt.Println(renderWines(recs))
	return nil
}

func init() {
	winesImageCmd.Flags().BoolVar(&winesImageMissing, "missing", false, "update every validated wine without an image")
	winesCmd.AddCommand(winesGetCmd, winesWineryCmd, winesNameCmd, winesValidatedCmd, winesImageCmd)
	rootCmd.AddCommand(winesCmd)
}
