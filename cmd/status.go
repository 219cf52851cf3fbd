package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and backend reachability",
	Long: `Display the effective configuration (secrets masked) and check that the
backend answers. Exits 1 when it does not, which is useful for scripts.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	printConfig(cfg)

	start := time.Now()
	clusters, err := s.Clusters(cmd.Context())
	fmt.Println()
	if err != nil {
		fmt.Printf("Backend:    unreachable (%v)\n", err)
		fmt.Printf("\nVersion:    %s\n", rootCmd.Version)
		os.Exit(1)
	}
	fmt.Printf("Backend:    ok (%d clusters in %s)\n", len(clusters), time.Since(start).Round(time.Millisecond))
	fmt.Printf("\nVersion:    %s\n", rootCmd.Version)
	return nil
}

func printConfig(cfg *config.Config) {
	fmt.Println("Configuration:")
	fmt.Printf("  URL:       %s\n", maskEnd(cfg.APIURL, 40))
	fmt.Printf("  Token:     %s\n", maskToken(cfg.Token))
	fmt.Printf("  Supabase:  %s\n", valueOrNA(maskEnd(cfg.SupabaseURL, 40)))
	fmt.Printf("  Timeout:   %s\n", cfg.Timeout)
	fmt.Printf("  Poll:      %s\n", cfg.PollInterval)
	fmt.Printf("  Feed:      %s\n", valueOrNA(cfg.RealtimeURL))
	fmt.Printf("  Signed:    %s\n", boolStatus(cfg.SigningKey != ""))
	fmt.Printf("  Redis:     %s\n", boolStatus(cfg.RedisURL != ""))
	fmt.Printf("  Audit:     %s\n", resolveAuditPath(cfg))
	fmt.Printf("  Guard:     %d/hour, cooldown %s\n", cfg.Guard.MaxPerHour, cfg.Guard.Cooldown)
}

func boolStatus(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func maskToken(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

func maskEnd(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
