package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/dashboard"
	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/domain"
)

var flagFallbackEmpty bool

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show dashboard counts",
	Long: `Show cluster, anomaly and remediation counts as the dashboard overview does.

Anomalies whose cluster is unknown are left out and reported. With
--fallback-empty a collection that cannot be loaded is shown from the last
cached value, or as empty, and the summary is marked degraded.`,
	Args: cobra.NoArgs,
	RunE: runSummary,
}

func init() {
	summaryCmd.Flags().BoolVar(&flagFallbackEmpty, "fallback-empty", false, "Show unavailable collections as empty instead of failing")
	rootCmd.AddCommand(summaryCmd)
}

func runSummary(cmd *cobra.Command, args []string) error {
	cfg, s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	b := dashboard.NewBuilder(s.Store, flagFallbackEmpty || cfg.FallbackEmpty)
	snap, err := b.Snapshot(cmd.Context())
	if err != nil {
		return err
	}
	sum := dashboard.Summarize(snap)
	if wantJSON() {
		return printJSON(sum)
	}

	table := uitable.New()
	table.AddRow("Clusters:", fmt.Sprintf("%d (%s)", sum.Clusters, countList(sum.ClustersByStatus,
		domain.ClusterHealthy, domain.ClusterUnhealthy, domain.ClusterUnknown)))
	table.AddRow("Anomalies:", countList(sum.AnomaliesByStatus,
		domain.AnomalyOpen, domain.AnomalyAcknowledged, domain.AnomalyResolved))
	table.AddRow("Remediations:", countList(sum.RemediationsByStatus,
		domain.RemediationPending, domain.RemediationInProgress, domain.RemediationCompleted, domain.RemediationFailed))
	table.AddRow("Open by cluster:", openByCluster(sum.OpenAnomaliesByCluster))
	if sum.Orphans > 0 {
		table.AddRow("Orphaned:", fmt.Sprintf("%d anomalies reference unknown clusters", sum.Orphans))
	}
	if sum.Degraded {
		table.AddRow("Degraded:", strings.Join(snap.Fallbacks, ", ")+" could not be loaded")
	}
	fmt.Println(table)
	return nil
}

func countList[K ~string](counts map[K]int, order ...K) string {
	parts := make([]string, 0, len(order))
	for _, k := range order {
		parts = append(parts, fmt.Sprintf("%s %d", k, counts[k]))
	}
	return strings.Join(parts, ", ")
}

func openByCluster(m map[string]int) string {
	if len(m) == 0 {
		return "none"
	}
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%s=%d", id, m[id]))
	}
	return strings.Join(parts, " ")
}
