// Package domain holds the record shapes shared by the gateway, cache and
// lifecycle controller, plus the status enumerations that govern them.
package domain

import "time"

// ClusterStatus is the health reported for a cluster.
type ClusterStatus string

const (
	ClusterHealthy   ClusterStatus = "Healthy"
	ClusterUnhealthy ClusterStatus = "Unhealthy"
	ClusterUnknown   ClusterStatus = "Unknown"
)

// AnomalyStatus is the triage state of an anomaly.
type AnomalyStatus string

const (
	AnomalyOpen         AnomalyStatus = "Open"
	AnomalyAcknowledged AnomalyStatus = "Acknowledged"
	AnomalyResolved     AnomalyStatus = "Resolved"
)

// RemediationStatus is the progress of a remediation action.
type RemediationStatus string

const (
	RemediationPending    RemediationStatus = "Pending"
	RemediationInProgress RemediationStatus = "In Progress"
	RemediationCompleted  RemediationStatus = "Completed"
	RemediationFailed     RemediationStatus = "Failed"
)

// Cluster is a Kubernetes cluster as discovered by the backend. Read-only to the client.
type Cluster struct {
	ID                string        `json:"id"`
	Name              string        `json:"name"`
	Status            ClusterStatus `json:"status"`
	Region            string        `json:"region"`
	NodeCount         int           `json:"nodeCount"`
	KubernetesVersion string        `json:"kubernetesVersion"`
	CPUUtilization    float64       `json:"cpuUtilization"`
	MemoryUtilization float64       `json:"memoryUtilization"`
}

// Anomaly is a detected deviation in cluster health.
type Anomaly struct {
	ID         string        `json:"id"`
	ClusterID  string        `json:"clusterId"`
	Type       string        `json:"type"`
	Severity   string        `json:"severity"`
	DetectedAt time.Time     `json:"detectedAt"`
	Status     AnomalyStatus `json:"status"`
}

// Remediation is a corrective action linked to exactly one anomaly.
// AnomalyID never changes after creation; retries produce new records.
type Remediation struct {
	ID        string            `json:"id"`
	AnomalyID string            `json:"anomalyId"`
	Action    string            `json:"action"`
	Status    RemediationStatus `json:"status"`
	Details   string            `json:"details"`
	Timestamp time.Time         `json:"timestamp"`
}

// ProgressEvent is a backend report that a remediation moved between states.
// From may be empty when the backend does not include the previous state.
type ProgressEvent struct {
	RemediationID string            `json:"remediationId"`
	AnomalyID     string            `json:"anomalyId"`
	From          RemediationStatus `json:"from,omitempty"`
	To            RemediationStatus `json:"to"`
	Details       string            `json:"details,omitempty"`
	ReportedAt    time.Time         `json:"reportedAt"`
}
