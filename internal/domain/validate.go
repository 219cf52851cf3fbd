package domain

import (
	"errors"
	"fmt"
)

// Validate checks a cluster received from the network.
func (c Cluster) Validate() error {
	if c.ID == "" {
		return errors.New("cluster: missing id")
	}
	if _, err := ParseClusterStatus(string(c.Status)); err != nil {
		return fmt.Errorf("cluster %s: %w", c.ID, err)
	}
	if c.NodeCount < 0 {
		return fmt.Errorf("cluster %s: negative nodeCount %d", c.ID, c.NodeCount)
	}
	if !percent(c.CPUUtilization) {
		return fmt.Errorf("cluster %s: cpuUtilization %.2f out of range", c.ID, c.CPUUtilization)
	}
	if !percent(c.MemoryUtilization) {
		return fmt.Errorf("cluster %s: memoryUtilization %.2f out of range", c.ID, c.MemoryUtilization)
	}
	return nil
}

// Validate checks an anomaly received from the network.
func (a Anomaly) Validate() error {
	if a.ID == "" {
		return errors.New("anomaly: missing id")
	}
	if a.ClusterID == "" {
		return fmt.Errorf("anomaly %s: missing clusterId", a.ID)
	}
	if _, err := ParseAnomalyStatus(string(a.Status)); err != nil {
		return fmt.Errorf("anomaly %s: %w", a.ID, err)
	}
	return nil
}

// Validate checks a remediation received from the network.
func (r Remediation) Validate() error {
	if r.ID == "" {
		return errors.New("remediation: missing id")
	}
	if r.AnomalyID == "" {
		return fmt.Errorf("remediation %s: missing anomalyId", r.ID)
	}
	if _, err := ParseRemediationStatus(string(r.Status)); err != nil {
		return fmt.Errorf("remediation %s: %w", r.ID, err)
	}
	return nil
}

func percent(v float64) bool {
	return v >= 0 && v <= 100
}
