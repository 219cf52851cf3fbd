package protocol

import (
	"fmt"
	"regexp"

	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/domain"
)

// idRe matches record ids as issued by the backend (uuids, slugs).
var idRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._:-]*$`)

const maxIDLen = 128

var allowedTopics = map[string]bool{
	TopicRemediations: true, TopicAnomalies: true, TopicClusters: true,
}

func validateID(field, v string, required bool) error {
	if v == "" {
		if required {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
	if len(v) > maxIDLen {
		return fmt.Errorf("%s too long (%d chars, max %d)", field, len(v), maxIDLen)
	}
	if !idRe.MatchString(v) {
		return fmt.Errorf("invalid %s: %q", field, v)
	}
	return nil
}

// ValidateProgress checks ids and status values of a progress report.
func ValidateProgress(m *RemediationProgressMessage) error {
	if err := validateID("remediationId", m.RemediationID, true); err != nil {
		return err
	}
	if err := validateID("anomalyId", m.AnomalyID, true); err != nil {
		return err
	}
	if m.From != "" {
		if _, err := domain.ParseRemediationStatus(m.From); err != nil {
			return err
		}
	}
	_, err := domain.ParseRemediationStatus(m.To)
	return err
}

// ValidateAnomalyUpdate checks an anomaly change notification.
func ValidateAnomalyUpdate(m *AnomalyUpdatedMessage) error {
	if err := validateID("anomalyId", m.AnomalyID, true); err != nil {
		return err
	}
	if err := validateID("clusterId", m.ClusterID, false); err != nil {
		return err
	}
	if m.Status == "" {
		return nil
	}
	_, err := domain.ParseAnomalyStatus(m.Status)
	return err
}

// ValidateClusterUpdate checks a cluster change notification.
func ValidateClusterUpdate(m *ClusterUpdatedMessage) error {
	if err := validateID("clusterId", m.ClusterID, true); err != nil {
		return err
	}
	if m.Status == "" {
		return nil
	}
	_, err := domain.ParseClusterStatus(m.Status)
	return err
}

// ValidateTopics rejects unknown subscription topics.
func ValidateTopics(topics []string) error {
	if len(topics) == 0 {
		return fmt.Errorf("at least one topic is required")
	}
	for _, t := range topics {
		if !allowedTopics[t] {
			return fmt.Errorf("invalid topic: %q", t)
		}
	}
	return nil
}
