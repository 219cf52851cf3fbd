// Package realtime consumes the backend's change feed over a websocket and
// turns each event into cache invalidation or a lifecycle progress report.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/cache"
	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/domain"
	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/protocol"
	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/signing"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 256 * 1024
)

// ProgressObserver receives backend-reported remediation transitions.
type ProgressObserver interface {
	ObserveProgress(ctx context.Context, ev domain.ProgressEvent) error
}

// Invalidator is the part of the cache the feed touches.
type Invalidator interface {
	Invalidate(keys ...cache.Key)
	InvalidateCollection(collection string) []cache.Key
}

// Config for a Feed.
type Config struct {
	URL       string
	Token     string
	AnonKey   string
	SessionID string
	Topics    []string

	// Verifier, when set, is required to accept remediation.progress events.
	Verifier *signing.Verifier

	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Feed is a reconnecting change-feed client.
type Feed struct {
	cfg      Config
	progress ProgressObserver
	store    Invalidator
	dialer   *websocket.Dialer
	log      *slog.Logger
}

// New creates a feed client. Call Run to connect.
func New(cfg Config, progress ProgressObserver, store Invalidator) *Feed {
	if len(cfg.Topics) == 0 {
		cfg.Topics = []string{protocol.TopicRemediations, protocol.TopicAnomalies, protocol.TopicClusters}
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = 60 * time.Second
	}
	return &Feed{
		cfg:      cfg,
		progress: progress,
		store:    store,
		dialer:   &websocket.Dialer{HandshakeTimeout: 15 * time.Second, Proxy: http.ProxyFromEnvironment},
		log:      slog.Default().With("component", "realtime"),
	}
}

// Run connects and processes events until ctx is cancelled, reconnecting with
// exponential backoff after every disconnect.
func (f *Feed) Run(ctx context.Context) error {
	if err := protocol.ValidateTopics(f.cfg.Topics); err != nil {
		return err
	}

	backoff := f.cfg.MinBackoff
	for {
		connected, err := f.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			backoff = f.cfg.MinBackoff
			// whatever changed while disconnected was missed
			f.invalidateAll()
		}
		reconnects.Inc()
		f.log.Warn("feed disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > f.cfg.MaxBackoff {
			backoff = f.cfg.MaxBackoff
		}
	}
}

// runOnce holds one connection. connected reports whether the handshake
// succeeded.
func (f *Feed) runOnce(ctx context.Context) (connected bool, err error) {
	header := http.Header{}
	if f.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+f.cfg.Token)
	}
	if f.cfg.AnonKey != "" {
		header.Set("apikey", f.cfg.AnonKey)
	}

	conn, resp, err := f.dialer.DialContext(ctx, f.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return false, fmt.Errorf("dial feed (HTTP %d): %w", resp.StatusCode, err)
		}
		return false, fmt.Errorf("dial feed: %w", err)
	}
	defer conn.Close()
	f.log.Info("feed connected", "url", f.cfg.URL)

	sub := protocol.SubscribeMessage{Type: protocol.TypeSubscribe, SessionID: f.cfg.SessionID, Topics: f.cfg.Topics}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(sub); err != nil {
		return true, fmt.Errorf("subscribe: %w", err)
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go f.keepalive(ctx, conn, done)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return true, errors.New("feed closed by server")
			}
			return true, fmt.Errorf("read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		if err := f.Handle(ctx, raw); err != nil {
			f.log.Warn("event dropped", "error", err)
		}
	}
}

// keepalive pings the server and closes the connection when ctx ends so the
// blocked read returns.
func (f *Feed) keepalive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// Handle processes one raw feed message.
func (f *Feed) Handle(ctx context.Context, raw []byte) error {
	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		eventsTotal.WithLabelValues("unknown", "malformed").Inc()
		return fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Type {
	case protocol.TypeHeartbeat:
		eventsTotal.WithLabelValues(env.Type, "ok").Inc()
		return nil

	case protocol.TypeRemediationProgress:
		body := raw
		if f.cfg.Verifier != nil {
			verified, err := f.cfg.Verifier.Verify(raw)
			if err != nil {
				eventsTotal.WithLabelValues(env.Type, "rejected").Inc()
				return err
			}
			body = verified
		}
		var m protocol.RemediationProgressMessage
		if err := json.Unmarshal(body, &m); err != nil {
			eventsTotal.WithLabelValues(env.Type, "malformed").Inc()
			return fmt.Errorf("decode %s: %w", env.Type, err)
		}
		if err := protocol.ValidateProgress(&m); err != nil {
			eventsTotal.WithLabelValues(env.Type, "invalid").Inc()
			return fmt.Errorf("%s: %w", env.Type, err)
		}
		if err := f.progress.ObserveProgress(ctx, m.Event()); err != nil {
			eventsTotal.WithLabelValues(env.Type, "invalid").Inc()
			return err
		}

	case protocol.TypeAnomalyUpdated:
		var m protocol.AnomalyUpdatedMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			eventsTotal.WithLabelValues(env.Type, "malformed").Inc()
			return fmt.Errorf("decode %s: %w", env.Type, err)
		}
		if err := protocol.ValidateAnomalyUpdate(&m); err != nil {
			eventsTotal.WithLabelValues(env.Type, "invalid").Inc()
			return fmt.Errorf("%s: %w", env.Type, err)
		}
		f.store.InvalidateCollection(cache.Anomalies)

	case protocol.TypeClusterUpdated:
		var m protocol.ClusterUpdatedMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			eventsTotal.WithLabelValues(env.Type, "malformed").Inc()
			return fmt.Errorf("decode %s: %w", env.Type, err)
		}
		if err := protocol.ValidateClusterUpdate(&m); err != nil {
			eventsTotal.WithLabelValues(env.Type, "invalid").Inc()
			return fmt.Errorf("%s: %w", env.Type, err)
		}
		f.store.InvalidateCollection(cache.Clusters)

	default:
		eventsTotal.WithLabelValues("unknown", "ignored").Inc()
		f.log.Debug("ignoring unknown event", "type", env.Type)
		return nil
	}

	eventsTotal.WithLabelValues(env.Type, "ok").Inc()
	return nil
}

func (f *Feed) invalidateAll() {
	for _, coll := range []string{cache.Clusters, cache.Anomalies, cache.Remediations} {
		f.store.InvalidateCollection(coll)
	}
}

// FeedURL derives the websocket URL from an http(s) API base URL.
func FeedURL(apiURL string) string {
	u := strings.TrimRight(apiURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/api/feed"
}
