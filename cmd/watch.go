package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/cache"
	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/config"
	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/domain"
	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/lifecycle"
	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/poller"
	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/realtime"
	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/session"
	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/signing"
)

var (
	flagPollInterval time.Duration
	flagNoFeed       bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow clusters, anomalies and remediations as they change",
	Long: `Keep the three collections fresh and print every change.

The change feed (realtime_url, or /api/feed on the backend) invalidates
entries as the backend reports them; polling runs alongside it at
--interval so nothing is missed while the feed reconnects.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&flagPollInterval, "interval", 0, "Polling interval (default: poll_interval from config)")
	watchCmd.Flags().BoolVar(&flagNoFeed, "no-feed", false, "Poll only; do not connect to the change feed")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	keys := watchedKeys()
	var wg sync.WaitGroup
	for _, k := range keys {
		ch, cancel := s.Store.Subscribe(k)
		defer cancel()
		wg.Add(1)
		go func(k cache.Key) {
			defer wg.Done()
			printUpdates(k, ch)
		}(k)
	}

	interval := resolvePollInterval(cfg)
	p := poller.New(s.Store, interval, keys...)

	if !flagNoFeed {
		feed, err := newFeed(cfg, s)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := feed.Run(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "change feed stopped: %v\n", err)
			}
		}()
	}

	fmt.Printf("Watching (poll every %s, Ctrl-C to stop)\n", interval)
	p.Run(ctx)

	s.Close()
	wg.Wait()
	return nil
}

func watchedKeys() []cache.Key {
	return []cache.Key{cache.ClustersKey(), cache.AnomaliesKey(""), cache.RemediationsKey("")}
}

// resolvePollInterval returns the polling interval from flag or config.
func resolvePollInterval(cfg *config.Config) time.Duration {
	if flagPollInterval > 0 {
		return flagPollInterval
	}
	return cfg.PollInterval
}

// newFeed builds the change-feed client. Progress reports go to a controller
// over the session store.
func newFeed(cfg *config.Config, s *session.Session) (*realtime.Feed, error) {
	url := cfg.RealtimeURL
	if url == "" {
		url = realtime.FeedURL(cfg.APIURL)
	}
	fc := realtime.Config{
		URL:       url,
		Token:     cfg.Token,
		AnonKey:   cfg.AnonKey,
		SessionID: uuid.NewString(),
	}
	if cfg.SigningKey != "" {
		pub, err := signing.ParsePublicKey(cfg.SigningKey)
		if err != nil {
			return nil, fmt.Errorf("signing_public_key: %w", err)
		}
		fc.Verifier = signing.NewVerifier(pub)
	}
	return realtime.New(fc, lifecycle.New(s.Gateway, s.Store), s.Store), nil
}

func printUpdates(k cache.Key, ch <-chan cache.Result) {
	var last time.Time
	for r := range ch {
		ts := time.Now().Format("15:04:05")
		switch {
		case r.Err != nil:
			fmt.Printf("%s %-14s refresh failed: %v\n", ts, k, r.Err)
		case r.OK && r.FetchedAt.After(last):
			last = r.FetchedAt
			fmt.Printf("%s %-14s %s\n", ts, k, describe(r.Value))
		}
	}
}

func describe(v any) string {
	switch list := v.(type) {
	case []domain.Cluster:
		counts := make(map[domain.ClusterStatus]int)
		for _, c := range list {
			counts[c.Status]++
		}
		return countList(counts, domain.ClusterHealthy, domain.ClusterUnhealthy, domain.ClusterUnknown)
	case []domain.Anomaly:
		counts := make(map[domain.AnomalyStatus]int)
		for _, a := range list {
			counts[a.Status]++
		}
		return countList(counts, domain.AnomalyOpen, domain.AnomalyAcknowledged, domain.AnomalyResolved)
	case []domain.Remediation:
		counts := make(map[domain.RemediationStatus]int)
		for _, r := range list {
			counts[r.Status]++
		}
		return countList(counts, domain.RemediationPending, domain.RemediationInProgress, domain.RemediationCompleted, domain.RemediationFailed)
	}
	return fmt.Sprintf("%v", v)
}
