package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"visitrack/internal"
	"visitrack/internal/export"
	"visitrack/internal/visitors"
)

func newExportCommand() *cobra.Command {
	var (
		format string
		output string
		filter visitors.Filter
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Exports visitors as JSON or CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}

			return withApp(func(app *internal.Application) error {
				list, err := app.Services.Store.Find(cmd.Context(), filter, 0, 0)
				if err != nil {
					return err
				}

				var w io.Writer = os.Stdout
				// Indent JSON only for people reading a terminal.
				pretty := term.IsTerminal(int(os.Stdout.Fd()))
				if output != "" {
					file, err := os.Create(output)
					if err != nil {
						return fmt.Errorf("failed to create %s: %w", output, err)
					}
					defer file.Close()
					w = file
					pretty = false
				}

				if err := export.Write(w, f, list, pretty); err != nil {
					return err
				}
				if output != "" {
					log.Printf("Exported %d visitors to %s", len(list), output)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "json", "json or csv")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to this file instead of stdout")
	cmd.Flags().StringVarP(&filter.ProjectName, "project", "p", "", "only this project")
	cmd.Flags().StringVar(&filter.Device, "device", "", "only this device")
	cmd.Flags().StringVar(&filter.Browser, "browser", "", "only this browser")
	cmd.Flags().StringVar(&filter.Location, "location", "", "only this location")
	return cmd
}
