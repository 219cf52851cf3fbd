// Package clusterdata reads the Supabase cluster_data table: typed JSON blobs
// (pods, nodes, events) that cluster agents push alongside the REST backend.
package clusterdata

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/gateway"
)

// Row is one cluster_data record.
type Row struct {
	ID        string          `json:"id"`
	ClusterID string          `json:"cluster_id"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}

// Query narrows a List call.
type Query struct {
	Type      string
	ClusterID string
	Limit     int
}

func (q Query) values() url.Values {
	v := url.Values{}
	v.Set("select", "*")
	v.Set("order", "created_at.desc")
	if q.Type != "" {
		v.Set("type", "eq."+q.Type)
	}
	if q.ClusterID != "" {
		v.Set("cluster_id", "eq."+q.ClusterID)
	}
	if q.Limit > 0 {
		v.Set("limit", fmt.Sprint(q.Limit))
	}
	return v
}

// Client queries PostgREST under {supabaseURL}/rest/v1.
type Client struct {
	url        string
	anonKey    string
	token      string
	httpClient *http.Client
	log        *slog.Logger
}

// NewClient creates a client. token is the user's session JWT; when empty the
// anon key is sent as bearer.
func NewClient(supabaseURL, anonKey, token string) *Client {
	return &Client{
		url:     strings.TrimRight(supabaseURL, "/"),
		anonKey: anonKey,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				// HTTP/1.1 only: HTTP/2 requests to Cloudflare-fronted
				// Supabase endpoints can stall.
				TLSNextProto: make(map[string]func(authority string, c *tls.Conn) http.RoundTripper),
			},
		},
		log: slog.Default().With("component", "clusterdata"),
	}
}

// List returns the rows matching q, newest first.
func (c *Client) List(ctx context.Context, q Query) ([]Row, error) {
	endpoint := c.url + "/rest/v1/cluster_data?" + q.values().Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.anonKey != "" {
		req.Header.Set("apikey", c.anonKey)
	}
	bearer := c.token
	if bearer == "" {
		bearer = c.anonKey
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &gateway.GatewayError{Op: "list_cluster_data", Message: err.Error()}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &gateway.GatewayError{Op: "list_cluster_data", Status: resp.StatusCode, Message: postgrestMessage(body)}
	}

	var rows []Row
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, &gateway.GatewayError{Op: "list_cluster_data", Status: resp.StatusCode, Message: "decode response: " + err.Error()}
	}
	if rows == nil {
		rows = []Row{}
	}
	c.log.Debug("cluster data fetched", "type", q.Type, "rows", len(rows))
	return rows, nil
}

// postgrestMessage extracts the message of a PostgREST error body.
func postgrestMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil {
		if e.Message != "" {
			return e.Message
		}
		if e.Error != "" {
			return e.Error
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 512 {
		s = s[:512]
	}
	return s
}
