package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"visitrack/internal"
	"visitrack/internal/insights"
	"visitrack/internal/settings"
)

func newInsightsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "insights",
		Short: "Builds or mails the daily insights report",
	}
	cmd.AddCommand(newInsightsShowCommand())
	cmd.AddCommand(newInsightsSendCommand())
	return cmd
}

func newInsightsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Prints the report as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(func(app *internal.Application) error {
				report, err := app.Services.Collector.CollectDaily(cmd.Context())
				if err != nil {
					return err
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			})
		},
	}
}

func newInsightsSendCommand() *cobra.Command {
	var to []string

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Mails the report now",
		Long:  "Mails the report to --to, or to the stored insights recipients, or to the configured ones.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(func(app *internal.Application) error {
				s := app.Services
				recipients := to
				if len(recipients) == 0 {
					recipients = settings.Recipients(s.DB, settings.KeyInsightsRecipients, s.Config.InsightsRecipientList())
				}

				results, err := s.Insights.SendDailyInsights(cmd.Context(), recipients)
				if err != nil {
					return err
				}
				return printDeliveries(results)
			})
		},
	}

	cmd.Flags().StringSliceVar(&to, "to", nil, "recipient addresses")
	return cmd
}

func printDeliveries(results []insights.DeliveryResult) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RECIPIENT\tSTATUS\tERROR")
	failed := 0
	for _, r := range results {
		status := "sent"
		if !r.Success {
			status = "failed"
			failed++
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Recipient, status, r.Error)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d deliveries failed", failed, len(results))
	}
	return nil
}
