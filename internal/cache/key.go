package cache

import "net/url"

// Collections served by the dashboard backend.
const (
	Clusters     = "clusters"
	Anomalies    = "anomalies"
	Remediations = "remediations"
)

// Key identifies a cache entry: a resource collection plus an optional
// filter, encoded as a URL query string so it matches what the backend is sent.
type Key struct {
	Collection string
	Filter     string
}

func (k Key) String() string {
	if k.Filter == "" {
		return k.Collection
	}
	return k.Collection + "?" + k.Filter
}

// Query decodes the filter. Malformed filters decode to an empty set.
func (k Key) Query() url.Values {
	v, err := url.ParseQuery(k.Filter)
	if err != nil {
		return url.Values{}
	}
	return v
}

// ClustersKey is the key for the full cluster list.
func ClustersKey() Key {
	return Key{Collection: Clusters}
}

// AnomaliesKey is the key for anomalies, optionally narrowed to one status.
func AnomaliesKey(status string) Key {
	if status == "" {
		return Key{Collection: Anomalies}
	}
	return Key{Collection: Anomalies, Filter: url.Values{"status": {status}}.Encode()}
}

// RemediationsKey is the key for remediations, optionally narrowed to one anomaly.
func RemediationsKey(anomalyID string) Key {
	if anomalyID == "" {
		return Key{Collection: Remediations}
	}
	return Key{Collection: Remediations, Filter: url.Values{"anomalyId": {anomalyID}}.Encode()}
}

// ParseKey is the inverse of Key.String.
func ParseKey(s string) Key {
	for i := 0; i < len(s); i++ {
		if s[i] == '?' {
			return Key{Collection: s[:i], Filter: s[i+1:]}
		}
	}
	return Key{Collection: s}
}
