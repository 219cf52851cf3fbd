package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/audit"
	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/cache"
	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/config"
	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/gateway"
	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/lifecycle"
	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/logging"
	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/session"
	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/tracing"
)

var (
	// Flags
	flagToken     string
	flagURL       string
	flagAnonKey   string
	flagConfig    string
	flagLogLevel  string
	flagLogFormat string
	flagOutput    string

	// set by loadConfig, flushed when the command returns
	shutdownTracing tracing.Shutdown
)

// fetchSlack is added to the cache fill budget on top of the gateway timeout.
const fetchSlack = time.Second

var rootCmd = &cobra.Command{
	Use:   "tb-dash",
	Short: "Kubernetes health dashboard client",
	Long: `tb-dash reads clusters, anomalies and remediations from the dashboard
backend, drives the anomaly to remediation lifecycle, and can serve the
dashboard API to browsers with a shared cache.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", "", "Session token (env: TB_DASH_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&flagURL, "url", "", "Dashboard backend URL (env: TB_DASH_API_URL)")
	rootCmd.PersistentFlags().StringVar(&flagAnonKey, "anon-key", "", "Supabase anon key for API auth (env: TB_DASH_ANON_KEY)")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file path (default: ~/.tb-dash/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "Log format: text, json")
	rootCmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", "table", "Output format: table, json")
}

// Execute runs the root command.
func Execute(version string) {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(fmt.Sprintf("tb-dash %s\n", version))
	err := rootCmd.Execute()
	flushTracing()
	if err != nil {
		os.Exit(1)
	}
}

func flushTracing() {
	if shutdownTracing == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(ctx); err != nil {
		slog.Warn("flush traces", "error", err)
	}
	shutdownTracing = nil
}

// loadConfig layers flags over the config file and environment, then sets up
// logging.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	cfg.Token = resolveToken(cfg)
	cfg.APIURL = resolveURL(cfg)
	cfg.AnonKey = resolveAnonKey(cfg)
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if flagLogFormat != "" {
		cfg.LogFormat = flagLogFormat
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	if shutdownTracing == nil {
		shutdown, err := tracing.Setup(context.Background(), tracing.Config{
			Exporter:   cfg.TracingExporter,
			Endpoint:   cfg.TracingEndpoint,
			SampleRate: cfg.TracingSampleRate,
			Version:    rootCmd.Version,
		})
		if err != nil {
			return nil, fmt.Errorf("tracing: %w", err)
		}
		shutdownTracing = shutdown
	}
	return cfg, nil
}

// resolveToken returns the token from flag or config.
func resolveToken(cfg *config.Config) string {
	if flagToken != "" {
		return flagToken
	}
	return cfg.Token
}

// resolveURL returns the backend URL from flag or config.
func resolveURL(cfg *config.Config) string {
	if flagURL != "" {
		return flagURL
	}
	return cfg.APIURL
}

// resolveAnonKey returns the anon key from flag or config.
func resolveAnonKey(cfg *config.Config) string {
	if flagAnonKey != "" {
		return flagAnonKey
	}
	return cfg.AnonKey
}

// resolveAuditPath returns where client writes are recorded.
func resolveAuditPath(cfg *config.Config) string {
	if cfg.AuditPath != "" {
		return cfg.AuditPath
	}
	return audit.DefaultPath()
}

func newGateway(cfg *config.Config) *gateway.Client {
	opts := []gateway.Option{gateway.WithTimeout(cfg.Timeout)}
	if cfg.RateLimit > 0 {
		opts = append(opts, gateway.WithRateLimit(cfg.RateLimit, cfg.RateBurst))
	}
	return gateway.NewClient(cfg.APIURL, cfg.Token, cfg.AnonKey, opts...)
}

// openSession validates cfg and returns a session-scoped store.
func openSession() (*config.Config, *session.Session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	// the cache budget trails the per-call timeout so the gateway's own deadline fires first
	return cfg, session.New(newGateway(cfg), cache.WithFetchTimeout(cfg.Timeout+fetchSlack)), nil
}

// newController wires a lifecycle controller with the configured guard and
// audit trail. The returned close func releases the trail.
func newController(cfg *config.Config, s *session.Session) (*lifecycle.Controller, func(), error) {
	trail, err := audit.Open(resolveAuditPath(cfg), uuid.NewString())
	if err != nil {
		return nil, nil, err
	}
	ctrl := lifecycle.New(s.Gateway, s.Store,
		lifecycle.WithGuard(lifecycle.NewGuard(cfg.Guard.MaxPerHour, cfg.Guard.Cooldown)),
		lifecycle.WithAudit(trail),
	)
	return ctrl, func() { trail.Close() }, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func wantJSON() bool {
	return flagOutput == "json"
}
