package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/cache"
	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/domain"
	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/gateway"
)

func newBackend(t *testing.T, hits map[string]*atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, ok := hits[r.URL.Path]; ok {
			c.Add(1)
		}
		switch r.URL.Path {
		case "/api/clusters":
			w.Write([]byte(`[{"id":"c1","name":"prod","status":"Healthy","nodeCount":3}]`))
		case "/api/anomalies":
			if r.URL.Query().Get("status") != "Open" {
				t.Errorf("expected status filter, got %q", r.URL.RawQuery)
			}
			w.Write([]byte(`[{"id":"a1","clusterId":"c1","status":"Open"}]`))
		case "/api/remediations":
			if r.URL.Query().Get("anomalyId") != "a1" {
				t.Errorf("expected anomalyId filter, got %q", r.URL.RawQuery)
			}
			w.Write([]byte(`[]`))
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestSessionLoadsThroughStore(t *testing.T) {
	hits := map[string]*atomic.Int32{
		"/api/clusters":     {},
		"/api/anomalies":    {},
		"/api/remediations": {},
	}
	server := newBackend(t, hits)
	defer server.Close()

	s := New(gateway.NewClient(server.URL, "tok", ""))
	defer s.Close()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		clusters, err := s.Clusters(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(clusters) != 1 || clusters[0].Status != domain.ClusterHealthy {
			t.Errorf("unexpected clusters %#v", clusters)
		}
	}
	if got := hits["/api/clusters"].Load(); got != 1 {
		t.Errorf("fresh entry should be served from cache, got %d requests", got)
	}

	anomalies, err := s.Anomalies(ctx, domain.AnomalyOpen)
	if err != nil {
		t.Fatal(err)
	}
	if len(anomalies) != 1 || anomalies[0].ID != "a1" {
		t.Errorf("unexpected anomalies %#v", anomalies)
	}

	rems, err := s.Remediations(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if rems == nil || len(rems) != 0 {
		t.Errorf("expected empty remediation list, got %#v", rems)
	}
}

func TestLoadTypeMismatch(t *testing.T) {
	store := cache.New()
	defer store.Close()
	store.Register(cache.Clusters, func(ctx context.Context, key cache.Key) (any, error) {
		return "not a cluster list", nil
	})
	if _, err := Load[[]domain.Cluster](context.Background(), store, cache.ClustersKey()); err == nil {
		t.Error("expected type mismatch error")
	}
}

func TestCacheBudgetSurfacesTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	cases := []struct {
		name         string
		client, fill time.Duration
	}{
		{"equal budgets", 80 * time.Millisecond, 80 * time.Millisecond},
		{"cache budget shorter", time.Second, 60 * time.Millisecond},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := New(gateway.NewClient(server.URL, "tok", "", gateway.WithTimeout(tc.client)), cache.WithFetchTimeout(tc.fill))
			defer s.Close()

			_, err := s.Clusters(context.Background())
			var timeoutErr *gateway.TimeoutError
			if !errors.As(err, &timeoutErr) {
				t.Fatalf("expected TimeoutError through the cache, got %T: %v", err, err)
			}
			if timeoutErr.After > tc.client {
				t.Errorf("reported budget %v exceeds client timeout %v", timeoutErr.After, tc.client)
			}
		})
	}
}
