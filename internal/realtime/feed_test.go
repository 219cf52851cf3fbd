package realtime

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/cache"
	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/domain"
	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/protocol"
	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/signing"
)

type recorder struct {
	mu          sync.Mutex
	events      []domain.ProgressEvent
	collections []string
	got         chan struct{}
}

func newRecorder() *recorder {
	return &recorder{got: make(chan struct{}, 16)}
}

func (r *recorder) ObserveProgress(ctx context.Context, ev domain.ProgressEvent) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.got <- struct{}{}
	return nil
}

func (r *recorder) Invalidate(keys ...cache.Key) {}

func (r *recorder) InvalidateCollection(collection string) []cache.Key {
	r.mu.Lock()
	r.collections = append(r.collections, collection)
	r.mu.Unlock()
	return nil
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func TestFeedDeliversVerifiedProgress(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)
	signed, err := signing.Sign(priv, []byte(`{"type":"remediation.progress","remediationId":"r1","anomalyId":"a1","from":"Pending","to":"In Progress"}`), time.Now(), "n1", "backend")
	if err != nil {
		t.Fatal(err)
	}
	unsigned := []byte(`{"type":"remediation.progress","remediationId":"r2","anomalyId":"a1","to":"Completed"}`)

	subs := make(chan protocol.SubscribeMessage, 1)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("expected bearer token on dial, got %q", got)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var sub protocol.SubscribeMessage
		if err := conn.ReadJSON(&sub); err != nil {
			t.Errorf("read subscribe: %v", err)
			return
		}
		subs <- sub
		conn.WriteMessage(websocket.TextMessage, unsigned)
		conn.WriteMessage(websocket.TextMessage, signed)
		// hold the connection until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	rec := newRecorder()
	feed := New(Config{URL: wsURL(server), Token: "tok", SessionID: "s1", Verifier: signing.NewVerifier(pub)}, rec, rec)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx) }()

	select {
	case <-rec.got:
	case <-time.After(5 * time.Second):
		t.Fatal("no progress event delivered")
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run should return nil on cancel, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("feed did not stop after cancel")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.events) != 1 {
		t.Fatalf("only the signed event should be delivered, got %#v", rec.events)
	}
	ev := rec.events[0]
	if ev.RemediationID != "r1" || ev.From != domain.RemediationPending || ev.To != domain.RemediationInProgress {
		t.Errorf("unexpected event %#v", ev)
	}
	sub := <-subs
	if sub.Type != protocol.TypeSubscribe || sub.SessionID != "s1" || len(sub.Topics) != 3 {
		t.Errorf("unexpected subscribe message %#v", sub)
	}
}

func TestFeedReconnects(t *testing.T) {
	var conns atomic.Int32
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns.Add(1)
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "restart"))
		conn.Close()
	}))
	defer server.Close()

	rec := newRecorder()
	feed := New(Config{URL: wsURL(server), MinBackoff: 10 * time.Millisecond, MaxBackoff: 20 * time.Millisecond}, rec, rec)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go feed.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for conns.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if conns.Load() < 3 {
		t.Fatalf("expected at least 3 connections, got %d", conns.Load())
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.collections) == 0 {
		t.Error("every collection should be invalidated after a disconnect")
	}
}

func TestHandleRoutesEvents(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantColl   string
		wantEvents int
		wantErr    bool
	}{
		{"anomaly update", `{"type":"anomaly.updated","anomalyId":"a1","clusterId":"c1","status":"Acknowledged"}`, cache.Anomalies, 0, false},
		{"cluster update", `{"type":"cluster.updated","clusterId":"c1","status":"Unhealthy"}`, cache.Clusters, 0, false},
		{"progress without verifier", `{"type":"remediation.progress","remediationId":"r1","anomalyId":"a1","to":"Completed"}`, "", 1, false},
		{"progress bad status", `{"type":"remediation.progress","remediationId":"r1","anomalyId":"a1","to":"done"}`, "", 0, true},
		{"anomaly bad status", `{"type":"anomaly.updated","anomalyId":"a1","status":"closed"}`, "", 0, true},
		{"heartbeat", `{"type":"feed.heartbeat","timestamp":1}`, "", 0, false},
		{"unknown", `{"type":"pods.updated"}`, "", 0, false},
		{"malformed", `{`, "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newRecorder()
			feed := New(Config{URL: "ws://unused"}, rec, rec)
			err := feed.Handle(context.Background(), []byte(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(rec.events) != tt.wantEvents {
				t.Errorf("expected %d progress events, got %d", tt.wantEvents, len(rec.events))
			}
			if tt.wantColl != "" && (len(rec.collections) != 1 || rec.collections[0] != tt.wantColl) {
				t.Errorf("expected %s invalidated, got %v", tt.wantColl, rec.collections)
			}
		})
	}
}

func TestHandleRejectsUnsignedProgress(t *testing.T) {
	pub, _, _ := ed25519.GenerateKey(rand.Reader)
	rec := newRecorder()
	feed := New(Config{URL: "ws://unused", Verifier: signing.NewVerifier(pub)}, rec, rec)

	err := feed.Handle(context.Background(), []byte(`{"type":"remediation.progress","remediationId":"r1","anomalyId":"a1","to":"Completed"}`))
	if !errors.Is(err, signing.ErrRejected) {
		t.Errorf("expected signing rejection, got %v", err)
	}
	if len(rec.events) != 0 {
		t.Error("unsigned progress must not reach the controller")
	}
}

func TestFeedURL(t *testing.T) {
	tests := map[string]string{
		"https://api.example.com/": "wss://api.example.com/api/feed",
		"http://localhost:8080":    "ws://localhost:8080/api/feed",
	}
	for in, want := range tests {
		if got := FeedURL(in); got != want {
			t.Errorf("FeedURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRunRejectsUnknownTopics(t *testing.T) {
	rec := newRecorder()
	feed := New(Config{URL: "ws://unused", Topics: []string{"pods"}}, rec, rec)
	if err := feed.Run(context.Background()); err == nil {
		t.Error("expected topic validation error")
	}
}
