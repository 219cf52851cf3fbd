// Package protocol defines the messages exchanged on the realtime change feed.
package protocol

import (
	"time"

	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/domain"
)

// Message types
const (
	TypeSubscribe           = "feed.subscribe"
	TypeHeartbeat           = "feed.heartbeat"
	TypeRemediationProgress = "remediation.progress"
	TypeAnomalyUpdated      = "anomaly.updated"
	TypeClusterUpdated      = "cluster.updated"
)

// Topics a client can subscribe to.
const (
	TopicRemediations = "remediations"
	TopicAnomalies    = "anomalies"
	TopicClusters     = "clusters"
)

// Envelope is decoded first to find the message type.
type Envelope struct {
	Type string `json:"type"`
}

// SubscribeMessage is sent by the client after connecting.
type SubscribeMessage struct {
	Type      string   `json:"type"`
	SessionID string   `json:"sessionId"`
	Topics    []string `json:"topics"`
}

type HeartbeatMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// RemediationProgressMessage reports a backend-side remediation transition.
type RemediationProgressMessage struct {
	Type          string    `json:"type"`
	RemediationID string    `json:"remediationId"`
	AnomalyID     string    `json:"anomalyId"`
	From          string    `json:"from,omitempty"`
	To            string    `json:"to"`
	Details       string    `json:"details,omitempty"`
	ReportedAt    time.Time `json:"reportedAt"`
}

// Event converts the message into a domain progress event.
func (m RemediationProgressMessage) Event() domain.ProgressEvent {
	return domain.ProgressEvent{
		RemediationID: m.RemediationID,
		AnomalyID:     m.AnomalyID,
		From:          domain.RemediationStatus(m.From),
		To:            domain.RemediationStatus(m.To),
		Details:       m.Details,
		ReportedAt:    m.ReportedAt,
	}
}

type AnomalyUpdatedMessage struct {
	Type      string `json:"type"`
	AnomalyID string `json:"anomalyId"`
	ClusterID string `json:"clusterId"`
	Status    string `json:"status"`
}

type ClusterUpdatedMessage struct {
	Type      string `json:"type"`
	ClusterID string `json:"clusterId"`
	Status    string `json:"status,omitempty"`
}
