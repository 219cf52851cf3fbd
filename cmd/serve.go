package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/bus"
	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/clusterdata"
	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/poller"
	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/proxy"
)

var (
	flagListen     string
	flagServeFeed  bool
	flagInsecureUI bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the dashboard API with a shared cache",
	Long: `Serve the dashboard API to browsers.

Reads of /api/clusters, /api/anomalies and /api/remediations come from a
cache kept warm by polling (and the change feed with --feed). Writes go
through the same lifecycle checks as the CLI: an illegal status transition
is refused with 409 before it reaches the backend, and initiations respect
the remediation guard. Once the backend confirms a write, the affected
entries are invalidated here and, with redis_url set, on every other
replica.

Browsers authenticate with a bearer token listed in session_tokens.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagListen, "listen", "", "Listen address (default: listen from config, :8080)")
	serveCmd.Flags().BoolVar(&flagServeFeed, "feed", false, "Also follow the backend change feed")
	serveCmd.Flags().BoolVar(&flagInsecureUI, "no-auth", false, "Accept every request without a session token (local use only)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()
	log := slog.Default().With("component", "serve")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var gate proxy.Gate = proxy.TokenSet(cfg.SessionTokens)
	if flagInsecureUI {
		log.Warn("token gate disabled")
		gate = proxy.OpenGate{}
	} else if len(cfg.SessionTokens) == 0 {
		return errors.New("session_tokens is empty; set it or pass --no-auth")
	}

	var data proxy.ClusterDataLister
	if cfg.SupabaseURL != "" && cfg.AnonKey != "" {
		data = clusterdata.NewClient(cfg.SupabaseURL, cfg.AnonKey, cfg.Token)
	}

	ctrl, closeAudit, err := newController(cfg, s)
	if err != nil {
		return err
	}
	defer closeAudit()

	srv, err := proxy.New(proxy.Config{
		Lifecycle:      ctrl,
		AllowedOrigins: cfg.AllowedOrigins,
		Gate:           gate,
		FallbackEmpty:  cfg.FallbackEmpty,
	}, s.Store, data)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	if cfg.RedisURL != "" {
		b, err := bus.New(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer b.Close()
		s.Store.OnMutation(b.Notify)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.Run(ctx, s.Store); err != nil {
				log.Error("invalidation bus stopped", "error", err)
			}
		}()
	}

	if flagServeFeed {
		feed, err := newFeed(cfg, s)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := feed.Run(ctx); err != nil {
				log.Error("change feed stopped", "error", err)
			}
		}()
	}

	p := poller.New(s.Store, cfg.PollInterval, watchedKeys()...)
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.Run(ctx)
	}()

	addr := flagListen
	if addr == "" {
		addr = cfg.Listen
	}
	httpSrv := proxy.NewHTTPServer(addr, srv)
	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", addr, "backend", cfg.APIURL)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			stop()
			wg.Wait()
			return fmt.Errorf("listen %s: %w", addr, err)
		}
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("forced shutdown", "error", err)
	}
	wg.Wait()
	flushTracing()
	return nil
}
