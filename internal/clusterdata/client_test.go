package clusterdata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/gateway"
)

func TestListBuildsPostgRESTQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/cluster_data" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("type") != "eq.pods" || q.Get("cluster_id") != "eq.c1" || q.Get("order") != "created_at.desc" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if r.Header.Get("apikey") != "anon" || r.Header.Get("Authorization") != "Bearer jwt" {
			t.Errorf("missing auth headers: %v", r.Header)
		}
		w.Write([]byte(`[{"id":"1","cluster_id":"c1","type":"pods","data":[{"name":"web-0"}],"created_at":"2026-03-01T10:00:00Z"}]`))
	}))
	defer server.Close()

	c := NewClient(server.URL+"/", "anon", "jwt")
	rows, err := c.List(context.Background(), Query{Type: "pods", ClusterID: "c1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Type != "pods" || string(rows[0].Data) != `[{"name":"web-0"}]` {
		t.Errorf("unexpected rows %#v", rows)
	}
}

func TestListAnonFallbackAndEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer anon" {
			t.Errorf("anon key should be used as bearer, got %q", r.Header.Get("Authorization"))
		}
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	rows, err := NewClient(server.URL, "anon", "").List(context.Background(), Query{})
	if err != nil {
		t.Fatal(err)
	}
	if rows == nil || len(rows) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", rows)
	}
}

func TestListError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"code":"PGRST301","message":"JWT expired"}`))
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "anon", "old").List(context.Background(), Query{Type: "pods"})
	var gwErr *gateway.GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected GatewayError, got %T: %v", err, err)
	}
	if gwErr.Status != http.StatusUnauthorized || gwErr.Message != "JWT expired" {
		t.Errorf("unexpected error %+v", gwErr)
	}
}
