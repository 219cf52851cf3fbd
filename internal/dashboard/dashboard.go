// Package dashboard assembles what the overview screens show from the cache:
// the three collections, orphan filtering and per-status counts.
package dashboard

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/cache"
	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/domain"
	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/session"
)

// Snapshot is one consistent read of every collection.
type Snapshot struct {
	Clusters     []domain.Cluster
	Anomalies    []domain.Anomaly
	Remediations []domain.Remediation
	Orphans      []domain.Anomaly

	// Fallbacks names the collections that could not be loaded and were
	// substituted (see Builder.FallbackEmpty).
	Fallbacks []string
}

// Summary is the counts shown on the overview.
type Summary struct {
	Clusters               int                              `json:"clusters"`
	ClustersByStatus       map[domain.ClusterStatus]int     `json:"clustersByStatus"`
	AnomaliesByStatus      map[domain.AnomalyStatus]int     `json:"anomaliesByStatus"`
	OpenAnomaliesByCluster map[string]int                   `json:"openAnomaliesByCluster"`
	RemediationsByStatus   map[domain.RemediationStatus]int `json:"remediationsByStatus"`
	Orphans                int                              `json:"orphans"`
	Degraded               bool                             `json:"degraded"`
}

// Builder reads snapshots from a store.
type Builder struct {
	store *cache.Store

	// FallbackEmpty substitutes the last cached value, or an empty list, for
	// a collection that fails to load instead of failing the snapshot. Every
	// substitution is logged and listed in Snapshot.Fallbacks.
	FallbackEmpty bool

	log *slog.Logger
}

// NewBuilder creates a builder over store.
func NewBuilder(store *cache.Store, fallbackEmpty bool) *Builder {
	return &Builder{
		store:         store,
		FallbackEmpty: fallbackEmpty,
		log:           slog.Default().With("component", "dashboard"),
	}
}

// Snapshot loads all three collections and drops orphaned anomalies.
func (b *Builder) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	var err error

	if snap.Clusters, err = load[[]domain.Cluster](ctx, b, cache.ClustersKey(), &snap); err != nil {
		return Snapshot{}, err
	}
	if snap.Anomalies, err = load[[]domain.Anomaly](ctx, b, cache.AnomaliesKey(""), &snap); err != nil {
		return Snapshot{}, err
	}
	if snap.Remediations, err = load[[]domain.Remediation](ctx, b, cache.RemediationsKey(""), &snap); err != nil {
		return Snapshot{}, err
	}

	// without a cluster list there is nothing to check orphans against
	if !contains(snap.Fallbacks, cache.Clusters) || len(snap.Clusters) > 0 {
		snap.Anomalies, snap.Orphans = DropOrphans(snap.Anomalies, snap.Clusters)
		for _, a := range snap.Orphans {
			b.log.Warn("dropping orphaned anomaly", "anomaly", a.ID, "cluster", a.ClusterID)
		}
	}
	return snap, nil
}

func load[T any](ctx context.Context, b *Builder, key cache.Key, snap *Snapshot) (T, error) {
	v, err := session.Load[T](ctx, b.store, key)
	if err == nil {
		return v, nil
	}
	if !b.FallbackEmpty {
		return v, fmt.Errorf("load %s: %w", key, err)
	}

	snap.Fallbacks = append(snap.Fallbacks, key.Collection)
	if last, ok := cache.Value[T](b.store.Peek(key)); ok {
		b.log.Warn("using last cached value after load failure", "key", key.String(), "error", err)
		return last, nil
	}
	b.log.Warn("substituting empty collection after load failure", "key", key.String(), "error", err)
	var empty T
	return empty, nil
}

// DropOrphans splits anomalies into those whose cluster is known and those
// whose cluster is not.
func DropOrphans(anomalies []domain.Anomaly, clusters []domain.Cluster) (kept, orphans []domain.Anomaly) {
	known := make(map[string]bool, len(clusters))
	for _, c := range clusters {
		known[c.ID] = true
	}
	kept = make([]domain.Anomaly, 0, len(anomalies))
	for _, a := range anomalies {
		if known[a.ClusterID] {
			kept = append(kept, a)
		} else {
			orphans = append(orphans, a)
		}
	}
	return kept, orphans
}

// Summarize counts a snapshot.
func Summarize(s Snapshot) Summary {
	sum := Summary{
		Clusters:               len(s.Clusters),
		ClustersByStatus:       make(map[domain.ClusterStatus]int),
		AnomaliesByStatus:      make(map[domain.AnomalyStatus]int),
		OpenAnomaliesByCluster: make(map[string]int),
		RemediationsByStatus:   make(map[domain.RemediationStatus]int),
		Orphans:                len(s.Orphans),
		Degraded:               len(s.Fallbacks) > 0,
	}
	for _, c := range s.Clusters {
		sum.ClustersByStatus[c.Status]++
	}
	for _, a := range s.Anomalies {
		sum.AnomaliesByStatus[a.Status]++
		if !a.Status.Terminal() {
			sum.OpenAnomaliesByCluster[a.ClusterID]++
		}
	}
	for _, r := range s.Remediations {
		sum.RemediationsByStatus[r.Status]++
	}
	return sum
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
