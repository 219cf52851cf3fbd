// Package pods models pod records strictly: every container must carry a
// name, a ready flag and a non-negative restart count, and records that do
// not are quarantined instead of rendered with missing fields.
package pods

// Pod is a pod and its containers.
type Pod struct {
	Name       string      `json:"name"`
	Namespace  string      `json:"namespace"`
	Phase      string      `json:"phase,omitempty"`
	NodeName   string      `json:"node_name,omitempty"`
	Containers []Container `json:"containers"`
}

// Container is the per-container status of a pod.
type Container struct {
	Name         string `json:"name"`
	Ready        bool   `json:"ready"`
	RestartCount int    `json:"restart_count"`
}

// Ready reports whether every container is ready.
func (p Pod) Ready() bool {
	for _, c := range p.Containers {
		if !c.Ready {
			return false
		}
	}
	return len(p.Containers) > 0
}

// Restarts sums the restart counts of all containers.
func (p Pod) Restarts() int {
	n := 0
	for _, c := range p.Containers {
		n += c.RestartCount
	}
	return n
}

// Quarantined is a record that failed strict parsing.
type Quarantined struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
	Raw    string `json:"raw"`
}
