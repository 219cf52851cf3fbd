package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/audit"
	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/config"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the local audit trail of client writes",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [path]",
	Short: "Check the audit trail's hash chain",
	Long: `Recompute the hash chain of the audit trail and report the first entry
that does not match. The default path is audit_path from config, or
~/.tb-dash/audit.log.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAuditVerify,
}

func init() {
	auditCmd.AddCommand(auditVerifyCmd)
	rootCmd.AddCommand(auditCmd)
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	path := ""
	if len(args) == 1 {
		path = args[0]
	} else {
		cfg, err := config.Load(flagConfig)
		if err != nil {
			return err
		}
		path = resolveAuditPath(cfg)
	}

	n, err := audit.Verify(path)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d entries, chain intact\n", path, n)
	return nil
}
