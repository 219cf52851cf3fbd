package domain

import (
	"errors"
	"fmt"
)

// ErrInvalidStatus matches every *InvalidStatusError.
var ErrInvalidStatus = errors.New("invalid status")

// ErrIllegalTransition matches every *IllegalTransitionError.
var ErrIllegalTransition = errors.New("illegal transition")

// InvalidStatusError reports a status value outside its enumerated set.
type InvalidStatusError struct {
	Kind  string // "cluster", "anomaly", "remediation"
	Value string
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("invalid %s status %q", e.Kind, e.Value)
}

func (e *InvalidStatusError) Is(target error) bool { return target == ErrInvalidStatus }

// IllegalTransitionError reports a status write the state machine does not allow.
// It is raised client-side, before any network call.
type IllegalTransitionError struct {
	Kind string
	ID   string
	From string
	To   string
}

func (e *IllegalTransitionError) Error() string {
	if e.From == "" {
		return fmt.Sprintf("illegal %s transition for %s: -> %q", e.Kind, e.ID, e.To)
	}
	return fmt.Sprintf("illegal %s transition for %s: %q -> %q", e.Kind, e.ID, e.From, e.To)
}

func (e *IllegalTransitionError) Is(target error) bool { return target == ErrIllegalTransition }

var clusterStatuses = map[ClusterStatus]bool{
	ClusterHealthy: true, ClusterUnhealthy: true, ClusterUnknown: true,
}

var anomalyStatuses = map[AnomalyStatus]bool{
	AnomalyOpen: true, AnomalyAcknowledged: true, AnomalyResolved: true,
}

var remediationStatuses = map[RemediationStatus]bool{
	RemediationPending: true, RemediationInProgress: true, RemediationCompleted: true, RemediationFailed: true,
}

// ParseClusterStatus validates an untrusted cluster status value.
func ParseClusterStatus(s string) (ClusterStatus, error) {
	v := ClusterStatus(s)
	if !clusterStatuses[v] {
		return "", &InvalidStatusError{Kind: "cluster", Value: s}
	}
	return v, nil
}

// ParseAnomalyStatus validates an untrusted anomaly status value.
func ParseAnomalyStatus(s string) (AnomalyStatus, error) {
	v := AnomalyStatus(s)
	if !anomalyStatuses[v] {
		return "", &InvalidStatusError{Kind: "anomaly", Value: s}
	}
	return v, nil
}

// ParseRemediationStatus validates an untrusted remediation status value.
func ParseRemediationStatus(s string) (RemediationStatus, error) {
	v := RemediationStatus(s)
	if !remediationStatuses[v] {
		return "", &InvalidStatusError{Kind: "remediation", Value: s}
	}
	return v, nil
}

// Valid reports whether s is one of the enumerated remediation states.
func (s RemediationStatus) Valid() bool { return remediationStatuses[s] }

// Terminal reports whether no further writes are accepted from s.
func (s RemediationStatus) Terminal() bool {
	return s == RemediationCompleted || s == RemediationFailed
}

// Valid reports whether s is one of the enumerated anomaly states.
func (s AnomalyStatus) Valid() bool { return anomalyStatuses[s] }

// Terminal reports whether s is Resolved.
func (s AnomalyStatus) Terminal() bool { return s == AnomalyResolved }

// Remediable reports whether a remediation may be initiated for an anomaly in state s.
func (s AnomalyStatus) Remediable() bool {
	return s == AnomalyOpen || s == AnomalyAcknowledged
}

// remediationTransitions is the complete set of legal remediation status moves.
var remediationTransitions = map[RemediationStatus]map[RemediationStatus]bool{
	RemediationPending:    {RemediationInProgress: true},
	RemediationInProgress: {RemediationCompleted: true, RemediationFailed: true},
}

// CanTransition reports whether a remediation may move from one status to another.
func CanTransition(from, to RemediationStatus) bool {
	return remediationTransitions[from][to]
}
