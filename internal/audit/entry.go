package audit

import "time"

// Event types recorded for client-initiated writes.
const (
	EventRemediationCreate = "REMEDIATION_CREATE"
	EventRemediationStatus = "REMEDIATION_STATUS"
	EventAnomalyStatus     = "ANOMALY_STATUS"
	EventRejected          = "REJECTED"
)

// Outcomes of a recorded write.
const (
	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
	OutcomeBlocked = "blocked"
)

// Entry is one line of the trail.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id,omitempty"`
	EventType string    `json:"event_type"`
	TargetID  string    `json:"target_id,omitempty"`
	AnomalyID string    `json:"anomaly_id,omitempty"`
	Action    string    `json:"action,omitempty"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Outcome   string    `json:"outcome"`
	Reason    string    `json:"reason,omitempty"`
	EntryHash string    `json:"entry_hash"`
}
