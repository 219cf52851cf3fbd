package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestTrailFilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "audit.log")

	tr, err := Open(path, "s1")
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	info, err := os.Stat(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0700 {
		t.Errorf("dir perm = %o, want 0700", perm)
	}

	if err := tr.Record(Entry{EventType: EventRemediationCreate, AnomalyID: "a1", Outcome: OutcomeOK}); err != nil {
		t.Fatal(err)
	}
	info, err = os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file perm = %o, want 0600", perm)
	}
}

func TestTrailChainVerifies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	tr, err := Open(path, "s1")
	if err != nil {
		t.Fatal(err)
	}
	entries := []Entry{
		{EventType: EventRemediationCreate, AnomalyID: "a1", Action: "restart-pod", Outcome: OutcomeOK},
		{EventType: EventRemediationStatus, TargetID: "r1", From: "Pending", To: "In Progress", Outcome: OutcomeOK},
		{EventType: EventRejected, TargetID: "r1", From: "Completed", To: "Completed", Outcome: OutcomeBlocked},
	}
	for _, e := range entries {
		if err := tr.Record(e); err != nil {
			t.Fatal(err)
		}
	}
	tr.Close()

	n, err := Verify(path)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(entries) {
		t.Errorf("verified %d entries, want %d", n, len(entries))
	}
}

func TestTrailContinuesChainAcrossSessions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")

	first, err := Open(path, "s1")
	if err != nil {
		t.Fatal(err)
	}
	first.Record(Entry{EventType: EventAnomalyStatus, TargetID: "a1", To: "Acknowledged", Outcome: OutcomeOK})
	first.Record(Entry{EventType: EventAnomalyStatus, TargetID: "a1", To: "Resolved", Outcome: OutcomeOK})
	first.Close()

	second, err := Open(path, "s2")
	if err != nil {
		t.Fatal(err)
	}
	second.Record(Entry{EventType: EventRemediationCreate, AnomalyID: "a2", Outcome: OutcomeFailed, Reason: "HTTP 500"})
	second.Close()

	n, err := Verify(path)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("expected 3 entries, got %d", n)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), `"session_id":"s2"`) {
		t.Error("second session id should be stamped on its entries")
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	tr, err := Open(path, "s1")
	if err != nil {
		t.Fatal(err)
	}
	tr.Record(Entry{EventType: EventRemediationStatus, TargetID: "r1", To: "Completed", Outcome: OutcomeOK})
	tr.Record(Entry{EventType: EventRemediationStatus, TargetID: "r2", To: "Failed", Outcome: OutcomeOK})
	tr.Close()

	data, _ := os.ReadFile(path)
	tampered := strings.Replace(string(data), `"to":"Completed"`, `"to":"Failed"`, 1)
	if err := os.WriteFile(path, []byte(tampered), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := Verify(path); err == nil || !strings.Contains(err.Error(), "line 1") {
		t.Errorf("expected broken chain at line 1, got %v", err)
	}
}

func TestTrailConcurrentRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	tr, err := Open(path, "s1")
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	n := 50
	wg.Add(n)
	for i := range n {
		go func(i int) {
			defer wg.Done()
			tr.Record(Entry{EventType: EventRemediationCreate, AnomalyID: fmt.Sprintf("a%d", i), Outcome: OutcomeOK})
		}(i)
	}
	wg.Wait()
	tr.Close()

	got, err := Verify(path)
	if err != nil {
		t.Fatalf("chain broken under concurrency: %v", err)
	}
	if got != n {
		t.Errorf("got %d entries, want %d", got, n)
	}
}
