package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/prospect-cli/internal/monitoring"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline status",
	Long:  "Shows recent run activity, credit spend, archive and dead-letter depth, and the live campaign checkpoint with its hourly request window.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		collector := monitoring.NewCollector(st,
			monitoring.FileCheckpoint(cfg.Campaign.CheckpointPath),
			cfg.Campaign.HourlyRequestCap,
		)
		snap, err := collector.Collect(ctx, cfg.Monitoring.LookbackWindowHours)
		if err != nil {
			return eris.Wrap(err, "collect status")
		}

		if statusJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		}

		fmt.Println(formatStatus(snap))
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the raw metrics snapshot as JSON")
	rootCmd.AddCommand(statusCmd)
}

// formatStatus renders the metrics snapshot as a two-column table.
func formatStatus(snap *monitoring.MetricsSnapshot) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Metric", fmt.Sprintf("Last %dh", snap.LookbackHours)})

	t.AppendRow(table.Row{"Runs", fmt.Sprintf("%d (%d completed, %d failed, %d running, %d interrupted)",
		snap.RunsTotal, snap.RunsCompleted, snap.RunsFailed, snap.RunsRunning, snap.RunsInterrupted)})
	t.AppendRow(table.Row{"Failure rate", fmt.Sprintf("%.0f%%", snap.RunFailRate*100)})
	t.AppendRow(table.Row{"Contacts sourced", snap.ContactsSourced})
	t.AppendRow(table.Row{"Emails found", snap.EmailsFound})
	t.AppendRow(table.Row{"Requests used", snap.RequestsUsed})
	t.AppendRow(table.Row{"Credits used", fmt.Sprintf("%.1f", snap.CreditsUsed)})
	t.AppendRow(table.Row{"Contacts archived", snap.ContactsArchived})
	t.AppendRow(table.Row{"DLQ depth", snap.DLQDepth})
	t.AppendRow(table.Row{"Campaign companies done", snap.CompaniesCompleted})
	if snap.HourlyRequestCap > 0 {
		t.AppendRow(table.Row{"Hourly window", fmt.Sprintf("%d/%d (%.0f%%)",
			snap.HourlyRequestsUsed, snap.HourlyRequestCap, snap.HourlyUtilization*100)})
	}

	t.AppendFooter(table.Row{"Collected", snap.CollectedAt.Format("2006-01-02 15:04:05 MST")})
	return t.Render()
}
