package domain

import (
	"errors"
	"testing"
)

func TestCanTransition(t *testing.T) {
	all := []RemediationStatus{RemediationPending, RemediationInProgress, RemediationCompleted, RemediationFailed}
	legal := map[[2]RemediationStatus]bool{
		{RemediationPending, RemediationInProgress}:   true,
		{RemediationInProgress, RemediationCompleted}: true,
		{RemediationInProgress, RemediationFailed}:    true,
	}

	for _, from := range all {
		for _, to := range all {
			want := legal[[2]RemediationStatus{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%q, %q) = %v, want %v", from, to, got, want)
			}
		}
	}

	if CanTransition("", RemediationPending) {
		t.Error("creation is not a status transition")
	}
	if CanTransition(RemediationPending, "Done") {
		t.Error("unknown target status must be rejected")
	}
}

func TestParseStatuses(t *testing.T) {
	tests := []struct {
		name    string
		parse   func(string) error
		input   string
		wantErr bool
	}{
		{"cluster healthy", func(s string) error { _, err := ParseClusterStatus(s); return err }, "Healthy", false},
		{"cluster lowercase", func(s string) error { _, err := ParseClusterStatus(s); return err }, "healthy", true},
		{"anomaly resolved", func(s string) error { _, err := ParseAnomalyStatus(s); return err }, "Resolved", false},
		{"anomaly empty", func(s string) error { _, err := ParseAnomalyStatus(s); return err }, "", true},
		{"remediation in progress", func(s string) error { _, err := ParseRemediationStatus(s); return err }, "In Progress", false},
		{"remediation snake case", func(s string) error { _, err := ParseRemediationStatus(s); return err }, "in_progress", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.parse(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidStatus) {
					t.Fatalf("expected ErrInvalidStatus, got %v", err)
				}
				var ise *InvalidStatusError
				if !errors.As(err, &ise) || ise.Value != tt.input {
					t.Errorf("expected InvalidStatusError carrying %q, got %v", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestTerminalStates(t *testing.T) {
	if !RemediationCompleted.Terminal() || !RemediationFailed.Terminal() {
		t.Error("Completed and Failed must be terminal")
	}
	if RemediationPending.Terminal() || RemediationInProgress.Terminal() {
		t.Error("Pending and In Progress must not be terminal")
	}
	if !AnomalyResolved.Terminal() {
		t.Error("Resolved must be terminal")
	}
	if !AnomalyOpen.Remediable() || !AnomalyAcknowledged.Remediable() || AnomalyResolved.Remediable() {
		t.Error("only Open and Acknowledged anomalies are remediable")
	}
}

func TestRecordValidation(t *testing.T) {
	tests := []struct {
		name    string
		rec     interface{ Validate() error }
		wantErr bool
	}{
		{"valid cluster", Cluster{ID: "c1", Status: ClusterHealthy, NodeCount: 3, CPUUtilization: 42, MemoryUtilization: 100}, false},
		{"cluster negative nodes", Cluster{ID: "c1", Status: ClusterHealthy, NodeCount: -1}, true},
		{"cluster cpu over 100", Cluster{ID: "c1", Status: ClusterHealthy, CPUUtilization: 100.5}, true},
		{"cluster bad status", Cluster{ID: "c1", Status: "Degraded"}, true},
		{"valid anomaly", Anomaly{ID: "a1", ClusterID: "c1", Status: AnomalyOpen}, false},
		{"orphan anomaly", Anomaly{ID: "a1", Status: AnomalyOpen}, true},
		{"valid remediation", Remediation{ID: "r1", AnomalyID: "a1", Status: RemediationPending}, false},
		{"remediation without anomaly", Remediation{ID: "r1", Status: RemediationPending}, true},
		{"remediation bad status", Remediation{ID: "r1", AnomalyID: "a1", Status: "Queued"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rec.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestIllegalTransitionError(t *testing.T) {
	err := error(&IllegalTransitionError{Kind: "remediation", ID: "r1", From: "Completed", To: "Pending"})
	if !errors.Is(err, ErrIllegalTransition) {
		t.Error("IllegalTransitionError should match ErrIllegalTransition")
	}
	if errors.Is(err, ErrInvalidStatus) {
		t.Error("IllegalTransitionError should not match ErrInvalidStatus")
	}
}
