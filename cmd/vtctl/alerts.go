package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"visitrack/internal"
	"visitrack/internal/settings"
)

func newAlertsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Traffic anomaly alerts",
	}
	cmd.AddCommand(newAlertsCheckCommand())
	return cmd
}

func newAlertsCheckCommand() *cobra.Command {
	var to []string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluates the hourly traffic rules now and mails any alert",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(func(app *internal.Application) error {
				s := app.Services
				recipients := to
				if len(recipients) == 0 {
					recipients = settings.Recipients(s.DB, settings.KeyAlertRecipients, s.Config.AlertRecipientList())
				}

				report, err := s.Alerts.CheckTraffic(cmd.Context(), recipients)
				if err != nil {
					return err
				}

				fmt.Printf("Checked %d projects at %s\n", report.Projects, report.CheckedAt.Format("2006-01-02 15:04 MST"))
				if len(report.Alerts) == 0 {
					fmt.Println("No alerts")
					return nil
				}
				for _, a := range report.Alerts {
					fmt.Printf("- [%s] %s\n", a.Kind, a.Message)
				}
				if len(report.Deliveries) > 0 {
					return printDeliveries(report.Deliveries)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&to, "to", nil, "recipient addresses")
	return cmd
}
