package main

import (
	"github.com/spf13/cobra"

	"visitrack/internal"
	"visitrack/internal/seeder"
)

func newSeedCommand() *cobra.Command {
	var (
		count   int
		days    int
		project string
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seeds the database with sample visitors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(func(app *internal.Application) error {
				if err := app.DBManager.MigrateDatabase(); err != nil {
					return err
				}
				se := seeder.NewSeeder(app.Services.Store, app.Services.Logger, count)
				se.Days = days
				if project != "" {
					return se.SeedProject(cmd.Context(), project)
				}
				return se.Run(cmd.Context())
			})
		},
	}

	cmd.Flags().IntVarP(&count, "visitors", "n", 200, "distinct visitors per project")
	cmd.Flags().IntVar(&days, "days", 30, "spread last visits over this many days")
	cmd.Flags().StringVarP(&project, "project", "p", "", "seed only this project")
	return cmd
}
