// Package session wires a gateway client to a cache store for the lifetime
// of one authenticated client session.
package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/cache"
	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/domain"
	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/gateway"
)

// Reader is the read side of the gateway the store needs.
type Reader interface {
	ListClusters(ctx context.Context) ([]domain.Cluster, error)
	ListAnomalies(ctx context.Context, filter gateway.AnomalyFilter) ([]domain.Anomaly, error)
	ListRemediations(ctx context.Context, filter gateway.RemediationFilter) ([]domain.Remediation, error)
}

// Register binds one fetcher per collection so that cache keys map directly
// onto gateway list calls.
func Register(store *cache.Store, r Reader) {
	store.Register(cache.Clusters, func(ctx context.Context, key cache.Key) (any, error) {
		return r.ListClusters(ctx)
	})
	store.Register(cache.Anomalies, func(ctx context.Context, key cache.Key) (any, error) {
		status := key.Query().Get("status")
		return r.ListAnomalies(ctx, gateway.AnomalyFilter{Status: domain.AnomalyStatus(status)})
	})
	store.Register(cache.Remediations, func(ctx context.Context, key cache.Key) (any, error) {
		return r.ListRemediations(ctx, gateway.RemediationFilter{AnomalyID: key.Query().Get("anomalyId")})
	})
}

// Session owns the store for one client session.
type Session struct {
	Gateway *gateway.Client
	Store   *cache.Store
	log     *slog.Logger
}

// New creates a session store backed by gw. Close it at session end.
func New(gw *gateway.Client, opts ...cache.Option) *Session {
	store := cache.New(opts...)
	Register(store, gw)
	return &Session{
		Gateway: gw,
		Store:   store,
		log:     slog.Default().With("component", "session"),
	}
}

// Close discards every cached entry.
func (s *Session) Close() {
	s.Store.Close()
	s.log.Debug("session closed")
}

// Clusters loads the cluster list through the store.
func (s *Session) Clusters(ctx context.Context) ([]domain.Cluster, error) {
	return Load[[]domain.Cluster](ctx, s.Store, cache.ClustersKey())
}

// Anomalies loads anomalies, optionally narrowed to one status.
func (s *Session) Anomalies(ctx context.Context, status domain.AnomalyStatus) ([]domain.Anomaly, error) {
	return Load[[]domain.Anomaly](ctx, s.Store, cache.AnomaliesKey(string(status)))
}

// Remediations loads remediations, optionally narrowed to one anomaly.
func (s *Session) Remediations(ctx context.Context, anomalyID string) ([]domain.Remediation, error) {
	return Load[[]domain.Remediation](ctx, s.Store, cache.RemediationsKey(anomalyID))
}

// Load is the typed counterpart of Store.Load. On error the last good value
// (possibly nil) is returned alongside it.
func Load[T any](ctx context.Context, store *cache.Store, key cache.Key) (T, error) {
	res, err := store.Load(ctx, key)
	v, ok := cache.Value[T](res)
	if err != nil {
		return v, err
	}
	if !ok {
		var zero T
		return zero, fmt.Errorf("cache entry %s holds %T", key, res.Value)
	}
	return v, nil
}
