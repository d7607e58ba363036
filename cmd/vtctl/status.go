package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"visitrack/internal"
	"visitrack/internal/visitors"
)

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Shows the current system status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(func(app *internal.Application) error {
				s := app.Services

				total, err := s.Store.Count(cmd.Context(), visitors.Filter{})
				if err != nil {
					return fmt.Errorf("database error: %w", err)
				}
				projects, err := s.Engine.Projects(cmd.Context())
				if err != nil {
					return fmt.Errorf("database error: %w", err)
				}

				sqlDB, err := s.DB.DB()
				if err != nil {
					return fmt.Errorf("failed to get SQL DB: %w", err)
				}
				stats := sqlDB.Stats()
				geo := s.GeoLite.Status()

				log.Println("System Status:")
				log.Printf("- Database: %s", s.Config.GetDatabasePath())
				log.Printf("- Visitors: %d across %d projects", total, len(projects))
				log.Printf("- Open Connections: %d (in use %d, idle %d)", stats.OpenConnections, stats.InUse, stats.Idle)
				log.Printf("- GeoLite: configured=%t loaded=%t", geo.Configured, geo.Loaded)
				if geo.Warning != "" {
					log.Printf("- Warning: %s", geo.Warning)
				}
				log.Printf("- SMTP: configured=%t", s.Config.SMTPConfigured())
				return nil
			})
		},
	}
}
