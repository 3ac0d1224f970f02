package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/taskchain/internal/observability"
)

var alertsChainFlag string

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Show active alerts and warnings",
	Long: `Evaluate alert conditions against the event log and display any triggered alerts.

Alerts check for blocked tasks, stale in-progress tasks, long-running reviews,
and backlog size.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if AlertEngine == nil {
			return fmt.Errorf("alert engine not initialized (observability may be disabled)")
		}

		alerts, err := AlertEngine.Evaluate()
		if err != nil {
			return fmt.Errorf("evaluating alerts: %w", err)
		}
		alerts = filterAlerts(alerts, alertsChainFlag)

		if len(alerts) == 0 {
			fmt.Println("No active alerts.")
			return nil
		}

		fmt.Printf("%d active alert(s):\n\n", len(alerts))
		for _, alert := range alerts {
			severity := strings.ToUpper(string(alert.Severity))
			fmt.Printf("  [%s] %s\n", severity, alert.Message)
			fmt.Printf("         triggered at %s\n\n", alert.TriggeredAt.Format("2006-01-02 15:04 UTC"))
		}

		return nil
	},
}

// filterAlerts keeps the alerts of chainID, or all of them when chainID is
// empty, ordered by severity.
func filterAlerts(alerts []observability.Alert, chainID string) []observability.Alert {
	var out []observability.Alert
	for _, a := range alerts {
		if chainID == "" || a.ChainID == chainID {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return severityRank(out[i].Severity) < severityRank(out[j].Severity)
	})
	return out
}

func severityRank(s observability.AlertSeverity) int {
	switch s {
	case observability.SeverityHigh:
		return 0
	case observability.SeverityMedium:
		return 1
	case observability.SeverityLow:
		return 2
	default:
		return 3
	}
}

func init() {
	alertsCmd.Flags().StringVar(&alertsChainFlag, "chain", "", "Only show alerts for this chain")
	_ = alertsCmd.RegisterFlagCompletionFunc("chain", completeChainIDs)
	rootCmd.AddCommand(alertsCmd)
}
