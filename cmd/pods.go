package cmd

import (
	"errors"
	"fmt"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/clusterdata"
	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/pods"
)

var (
	flagPodsCluster    string
	flagPodsLive       bool
	flagPodsNamespace  string
	flagKubeconfig     string
	flagShowQuarantine bool
)

var podsCmd = &cobra.Command{
	Use:   "pods",
	Short: "List pods with container readiness and restarts",
	Long: `List pods either from the newest 'pods' row an agent published to
cluster_data (--cluster) or live from a cluster via its kubeconfig (--live).

Records missing a container name, ready flag or restart count are
quarantined and reported, never shown with guessed values.`,
	Args: cobra.NoArgs,
	RunE: runPods,
}

func init() {
	podsCmd.Flags().StringVar(&flagPodsCluster, "cluster", "", "Cluster id whose published pod list to read")
	podsCmd.Flags().BoolVar(&flagPodsLive, "live", false, "Read pods from the cluster API instead of cluster_data")
	podsCmd.Flags().StringVarP(&flagPodsNamespace, "namespace", "n", "", "Namespace for --live (default: all)")
	podsCmd.Flags().StringVar(&flagKubeconfig, "kubeconfig", "", "Kubeconfig for --live (env: TB_DASH_KUBECONFIG)")
	podsCmd.Flags().BoolVar(&flagShowQuarantine, "show-quarantined", false, "Print quarantined records")
	rootCmd.AddCommand(podsCmd)
}

func runPods(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var res pods.Result
	switch {
	case flagPodsLive:
		kubeconfig := flagKubeconfig
		if kubeconfig == "" {
			kubeconfig = cfg.Kubeconfig
		}
		cs, err := pods.NewClientset(kubeconfig)
		if err != nil {
			return err
		}
		list, err := pods.NewLister(cs).List(cmd.Context(), flagPodsNamespace)
		if err != nil {
			return err
		}
		res.Pods = list
	case flagPodsCluster != "":
		if cfg.SupabaseURL == "" || cfg.AnonKey == "" {
			return errors.New("--cluster needs supabase_url and anon_key (TB_DASH_SUPABASE_URL, TB_DASH_ANON_KEY)")
		}
		rows := clusterdata.NewClient(cfg.SupabaseURL, cfg.AnonKey, cfg.Token)
		res, err = pods.FromClusterData(cmd.Context(), rows, flagPodsCluster)
		if err != nil {
			return err
		}
	default:
		return errors.New("one of --cluster or --live is required")
	}

	if wantJSON() {
		return printJSON(res)
	}

	table := uitable.New()
	table.AddRow("NAMESPACE", "NAME", "PHASE", "READY", "RESTARTS", "NODE")
	for _, p := range res.Pods {
		table.AddRow(valueOrNA(p.Namespace), p.Name, valueOrNA(p.Phase), readyCount(p), p.Restarts(), valueOrNA(p.NodeName))
	}
	fmt.Println(table)

	if n := len(res.Quarantined); n > 0 {
		fmt.Printf("\n%d record(s) quarantined\n", n)
		if flagShowQuarantine {
			for _, q := range res.Quarantined {
				fmt.Printf("  #%d: %s\n", q.Index, q.Reason)
			}
		}
	}
	return nil
}

func readyCount(p pods.Pod) string {
	ready := 0
	for _, c := range p.Containers {
		if c.Ready {
			ready++
		}
	}
	return fmt.Sprintf("%d/%d", ready, len(p.Containers))
}
