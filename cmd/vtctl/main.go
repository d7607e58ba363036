// main.go - admin control tool for visitrack
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"visitrack/internal"
)

const (
	defaultShutdownTimeout = 30 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	root := &cobra.Command{
		Use:           "vtctl",
		Short:         "vtctl administers a visitrack installation.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newMigrateCommand())
	root.AddCommand(newSeedCommand())
	root.AddCommand(newExportCommand())
	root.AddCommand(newInsightsCommand())
	root.AddCommand(newAlertsCommand())
	root.AddCommand(newStatusCommand())

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// withApp builds the application, runs fn and shuts the application down.
// Nothing is started, so no HTTP listener or background job runs.
func withApp(fn func(app *internal.Application) error) error {
	app, err := internal.NewApp()
	if err != nil {
		return fmt.Errorf("failed to initialize app: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		if err := app.Shutdown(shutdownCtx); err != nil {
			log.Printf("Warning: Cleanup error: %v", err)
		}
		app.Services.Close()
	}()
	return fn(app)
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Runs database migrations",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return withApp(func(app *internal.Application) error {
				log.Println("Running database migrations...")
				if err := app.DBManager.MigrateDatabase(); err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				log.Println("Migrations completed successfully")
				return nil
			})
		},
	}
}
