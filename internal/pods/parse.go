package pods

import (
	"encoding/json"
	"errors"
	"fmt"
)

// wire shapes with pointer fields so that absent values can be told apart
// from zero values
type wirePod struct {
	Name       *string          `json:"name"`
	Namespace  *string          `json:"namespace"`
	Phase      string           `json:"phase"`
	NodeName   string           `json:"node_name"`
	Containers *[]wireContainer `json:"containers"`
}

type wireContainer struct {
	Name         *string `json:"name"`
	Ready        *bool   `json:"ready"`
	RestartCount *int    `json:"restart_count"`
}

const maxQuarantineRaw = 256

// Parse decodes a JSON array of pods. Records that are malformed or miss a
// required field are returned in quarantined rather than in pods. A blob that
// is not an array at all is an error.
func Parse(blob []byte) (pods []Pod, quarantined []Quarantined, err error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(blob, &raw); err != nil {
		return nil, nil, fmt.Errorf("pods blob is not a JSON array: %w", err)
	}

	pods = make([]Pod, 0, len(raw))
	for i, item := range raw {
		p, err := parseOne(item)
		if err != nil {
			s := string(item)
			if len(s) > maxQuarantineRaw {
				s = s[:maxQuarantineRaw]
			}
			quarantined = append(quarantined, Quarantined{Index: i, Reason: err.Error(), Raw: s})
			continue
		}
		pods = append(pods, p)
	}
	return pods, quarantined, nil
}

func parseOne(item json.RawMessage) (Pod, error) {
	var w wirePod
	if err := json.Unmarshal(item, &w); err != nil {
		return Pod{}, fmt.Errorf("malformed pod: %w", err)
	}
	if w.Name == nil || *w.Name == "" {
		return Pod{}, errors.New("pod name is required")
	}
	if w.Containers == nil {
		return Pod{}, fmt.Errorf("pod %s: containers are required", *w.Name)
	}

	p := Pod{Name: *w.Name, Phase: w.Phase, NodeName: w.NodeName}
	if w.Namespace != nil {
		p.Namespace = *w.Namespace
	}
	p.Containers = make([]Container, 0, len(*w.Containers))
	for i, c := range *w.Containers {
		switch {
		case c.Name == nil || *c.Name == "":
			return Pod{}, fmt.Errorf("pod %s: container %d: name is required", p.Name, i)
		case c.Ready == nil:
			return Pod{}, fmt.Errorf("pod %s: container %s: ready is required", p.Name, *c.Name)
		case c.RestartCount == nil:
			return Pod{}, fmt.Errorf("pod %s: container %s: restart_count is required", p.Name, *c.Name)
		case *c.RestartCount < 0:
			return Pod{}, fmt.Errorf("pod %s: container %s: negative restart_count %d", p.Name, *c.Name, *c.RestartCount)
		}
		p.Containers = append(p.Containers, Container{Name: *c.Name, Ready: *c.Ready, RestartCount: *c.RestartCount})
	}
	return p, nil
}
