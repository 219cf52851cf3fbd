package cmd

import (
	"fmt"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/domain"
)

var (
	flagAnomalyStatus string
	flagAnomalyFilter string
)

var clustersCmd = &cobra.Command{
	Use:   "clusters",
	Short: "List clusters and their health",
	Args:  cobra.NoArgs,
	RunE:  runClusters,
}

var anomaliesCmd = &cobra.Command{
	Use:   "anomalies",
	Short: "List detected anomalies",
	Args:  cobra.NoArgs,
	RunE:  runAnomalies,
}

var remediationsCmd = &cobra.Command{
	Use:   "remediations",
	Short: "List remediation actions",
	Args:  cobra.NoArgs,
	RunE:  runRemediations,
}

func init() {
	anomaliesCmd.Flags().StringVar(&flagAnomalyStatus, "status", "", "Only anomalies in this status: Open, Acknowledged, Resolved")
	remediationsCmd.Flags().StringVar(&flagAnomalyFilter, "anomaly", "", "Only remediations for this anomaly id")
	rootCmd.AddCommand(clustersCmd, anomaliesCmd, remediationsCmd)
}

func runClusters(cmd *cobra.Command, args []string) error {
	_, s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	clusters, err := s.Clusters(cmd.Context())
	if err != nil {
		return err
	}
	if wantJSON() {
		return printJSON(clusters)
	}
	fmt.Println(clusterTable(clusters))
	return nil
}

func runAnomalies(cmd *cobra.Command, args []string) error {
	var status domain.AnomalyStatus
	if flagAnomalyStatus != "" {
		st, err := domain.ParseAnomalyStatus(flagAnomalyStatus)
		if err != nil {
			return err
		}
		status = st
	}

	_, s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	anomalies, err := s.Anomalies(cmd.Context(), status)
	if err != nil {
		return err
	}
	if wantJSON() {
		return printJSON(anomalies)
	}
	fmt.Println(anomalyTable(anomalies))
	return nil
}

func runRemediations(cmd *cobra.Command, args []string) error {
	_, s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	rems, err := s.Remediations(cmd.Context(), flagAnomalyFilter)
	if err != nil {
		return err
	}
	if wantJSON() {
		return printJSON(rems)
	}
	fmt.Println(remediationTable(rems))
	return nil
}

func clusterTable(clusters []domain.Cluster) *uitable.Table {
	table := uitable.New()
	table.AddRow("ID", "NAME", "STATUS", "REGION", "NODES", "VERSION", "CPU%", "MEM%")
	for _, c := range clusters {
		table.AddRow(c.ID, c.Name, c.Status, valueOrNA(c.Region), c.NodeCount, valueOrNA(c.KubernetesVersion),
			fmt.Sprintf("%.1f", c.CPUUtilization), fmt.Sprintf("%.1f", c.MemoryUtilization))
	}
	return table
}

func anomalyTable(anomalies []domain.Anomaly) *uitable.Table {
	table := uitable.New()
	table.AddRow("ID", "CLUSTER", "TYPE", "SEVERITY", "STATUS", "DETECTED")
	for _, a := range anomalies {
		detected := "n/a"
		if !a.DetectedAt.IsZero() {
			detected = a.DetectedAt.Local().Format("2006-01-02 15:04")
		}
		table.AddRow(a.ID, a.ClusterID, valueOrNA(a.Type), valueOrNA(a.Severity), a.Status, detected)
	}
	return table
}

func remediationTable(rems []domain.Remediation) *uitable.Table {
	table := uitable.New()
	table.MaxColWidth = 60
	table.AddRow("ID", "ANOMALY", "ACTION", "STATUS", "DETAILS")
	for _, r := range rems {
		table.AddRow(r.ID, r.AnomalyID, r.Action, r.Status, r.Details)
	}
	return table
}

func valueOrNA(s string) string {
	if s == "" {
		return "n/a"
	}
	return s
}
