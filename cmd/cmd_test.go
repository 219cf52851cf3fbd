package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/audit"
	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/config"
	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/domain"
	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/lifecycle"
	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/pods"
)

func TestMaskToken(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "****"},
		{"short", "****"},
		{"abcd1234wxyz", "abcd...wxyz"},
	}
	for _, tt := range tests {
		if got := maskToken(tt.in); got != tt.want {
			t.Errorf("maskToken(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMaskEnd(t *testing.T) {
	if got := maskEnd("https://api.example.com", 11); got != "https://api..." {
		t.Errorf("got %q", got)
	}
	if got := maskEnd("short", 11); got != "short" {
		t.Errorf("got %q", got)
	}
}

func TestCountList(t *testing.T) {
	counts := map[domain.AnomalyStatus]int{domain.AnomalyOpen: 2}
	got := countList(counts, domain.AnomalyOpen, domain.AnomalyResolved)
	if got != "Open 2, Resolved 0" {
		t.Errorf("countList = %q", got)
	}
}

func TestOpenByCluster(t *testing.T) {
	if got := openByCluster(nil); got != "none" {
		t.Errorf("got %q", got)
	}
	if got := openByCluster(map[string]int{"c2": 1, "c1": 3}); got != "c1=3 c2=1" {
		t.Errorf("got %q", got)
	}
}

func TestExplain(t *testing.T) {
	ill := &domain.IllegalTransitionError{Kind: "remediation", ID: "r1", From: "Completed", To: "Pending"}
	tests := []struct {
		name     string
		err      error
		contains string
	}{
		{"illegal transition", ill, "nothing was sent"},
		{"not found", fmt.Errorf("%w: anomaly a9", lifecycle.ErrNotFound), "current list"},
		{"other", errors.New("boom"), "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := explain(tt.err)
			if !strings.Contains(got.Error(), tt.contains) {
				t.Errorf("explain() = %q, want it to mention %q", got, tt.contains)
			}
			if !errors.Is(got, tt.err) {
				t.Error("explain must wrap the original error")
			}
		})
	}
}

func TestReadyCount(t *testing.T) {
	p := pods.Pod{Containers: []pods.Container{{Name: "a", Ready: true}, {Name: "b"}}}
	if got := readyCount(p); got != "1/2" {
		t.Errorf("readyCount = %q", got)
	}
}

func TestResolvePrecedence(t *testing.T) {
	cfg := &config.Config{Token: "from-config", APIURL: "https://config.example.com", PollInterval: time.Minute}

	flagToken, flagURL, flagPollInterval = "", "", 0
	if resolveToken(cfg) != "from-config" || resolveURL(cfg) != cfg.APIURL || resolvePollInterval(cfg) != time.Minute {
		t.Error("config values should be used when flags are unset")
	}

	flagToken, flagURL, flagPollInterval = "from-flag", "https://flag.example.com", time.Second
	defer func() { flagToken, flagURL, flagPollInterval = "", "", 0 }()
	if resolveToken(cfg) != "from-flag" || resolveURL(cfg) != "https://flag.example.com" || resolvePollInterval(cfg) != time.Second {
		t.Error("flags should override config")
	}
}

func TestDescribe(t *testing.T) {
	got := describe([]domain.Remediation{{Status: domain.RemediationPending}, {Status: domain.RemediationPending}})
	if !strings.HasPrefix(got, "Pending 2") {
		t.Errorf("describe = %q", got)
	}
}

// fakeBackend serves one open anomaly and accepts remediation creation.
func fakeBackend(t *testing.T, creates *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/clusters":
			w.Write([]byte(`[{"id":"c1","name":"prod","status":"Healthy"}]`))
		case r.Method == http.MethodGet && r.URL.Path == "/api/anomalies":
			w.Write([]byte(`[{"id":"a1","clusterId":"c1","status":"Open"}]`))
		case r.Method == http.MethodGet && r.URL.Path == "/api/remediations":
			w.Write([]byte(`[]`))
		case r.Method == http.MethodPost && r.URL.Path == "/api/remediations":
			creates.Add(1)
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"id":"r1","anomalyId":"a1","action":"restart-pod","status":"Pending"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func runCLI(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)
	defer flushTracing()
	return rootCmd.Execute()
}

func TestRemediateCommand(t *testing.T) {
	var creates atomic.Int32
	srv := fakeBackend(t, &creates)

	dir := t.TempDir()
	auditPath := filepath.Join(dir, "audit.log")
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("audit_path: "+auditPath+"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	err := runCLI(t, "remediate", "a1", "--action", "restart-pod",
		"--url", srv.URL, "--token", "tok", "--config", cfgPath, "--log-level", "error", "-o", "json")
	if err != nil {
		t.Fatalf("remediate: %v", err)
	}
	if creates.Load() != 1 {
		t.Errorf("backend saw %d creates, want 1", creates.Load())
	}
	n, err := audit.Verify(auditPath)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("audit entries = %d, want 1", n)
	}
}

func TestStatusUpdateRejectsUnknownStatus(t *testing.T) {
	err := runCLI(t, "status-update", "r1", "Paused", "--url", "http://127.0.0.1:1", "--token", "tok")
	if !errors.Is(err, domain.ErrInvalidStatus) {
		t.Errorf("expected invalid status error, got %v", err)
	}
}
