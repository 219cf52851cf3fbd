package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/domain"
)

// AnomalyFilter narrows ListAnomalies. Zero value lists everything.
type AnomalyFilter struct {
	Status domain.AnomalyStatus
}

// Query encodes the filter as a URL query string ("" when empty).
func (f AnomalyFilter) Query() string {
	if f.Status == "" {
		return ""
	}
	return url.Values{"status": {string(f.Status)}}.Encode()
}

// RemediationFilter narrows ListRemediations. Zero value lists everything.
type RemediationFilter struct {
	AnomalyID string
}

// Query encodes the filter as a URL query string ("" when empty).
func (f RemediationFilter) Query() string {
	if f.AnomalyID == "" {
		return ""
	}
	return url.Values{"anomalyId": {f.AnomalyID}}.Encode()
}

type createRemediationRequest struct {
	AnomalyID string `json:"anomalyId"`
	Action    string `json:"action"`
}

type statusRequest struct {
	Status string `json:"status"`
}

// ListClusters returns every cluster the backend reports.
func (c *Client) ListClusters(ctx context.Context) ([]domain.Cluster, error) {
	var raw []json.RawMessage
	if err := c.do(ctx, "list_clusters", http.MethodGet, "/api/clusters", nil, &raw); err != nil {
		return nil, err
	}
	return decodeList[domain.Cluster](raw, "clusters", c.log), nil
}

// ListAnomalies returns the anomalies matching filter.
func (c *Client) ListAnomalies(ctx context.Context, filter AnomalyFilter) ([]domain.Anomaly, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, &domain.InvalidStatusError{Kind: "anomaly", Value: string(filter.Status)}
	}
	var raw []json.RawMessage
	if err := c.do(ctx, "list_anomalies", http.MethodGet, withQuery("/api/anomalies", filter.Query()), nil, &raw); err != nil {
		return nil, err
	}
	return decodeList[domain.Anomaly](raw, "anomalies", c.log), nil
}

// ListRemediations returns the remediations matching filter.
func (c *Client) ListRemediations(ctx context.Context, filter RemediationFilter) ([]domain.Remediation, error) {
	var raw []json.RawMessage
	if err := c.do(ctx, "list_remediations", http.MethodGet, withQuery("/api/remediations", filter.Query()), nil, &raw); err != nil {
		return nil, err
	}
	return decodeList[domain.Remediation](raw, "remediations", c.log), nil
}

// CreateRemediation asks the backend to record a new remediation for anomalyID.
// The returned record is always Pending.
func (c *Client) CreateRemediation(ctx context.Context, anomalyID, action string) (domain.Remediation, error) {
	if anomalyID == "" {
		return domain.Remediation{}, errors.New("create_remediation: anomalyId is required")
	}
	if action == "" {
		return domain.Remediation{}, errors.New("create_remediation: action is required")
	}

	var rem domain.Remediation
	req := createRemediationRequest{AnomalyID: anomalyID, Action: action}
	if err := c.do(ctx, "create_remediation", http.MethodPost, "/api/remediations", req, &rem); err != nil {
		return domain.Remediation{}, err
	}
	if err := rem.Validate(); err != nil {
		return domain.Remediation{}, &GatewayError{Op: "create_remediation", Status: http.StatusOK, Message: err.Error()}
	}
	if rem.AnomalyID != anomalyID || rem.Status != domain.RemediationPending {
		return domain.Remediation{}, &GatewayError{
			Op:      "create_remediation",
			Status:  http.StatusOK,
			Message: "backend returned a remediation that is not a Pending record for " + anomalyID,
		}
	}
	return rem, nil
}

// UpdateRemediationStatus writes a new remediation status. When from is not
// empty the transition is checked locally and an illegal move never reaches
// the network.
func (c *Client) UpdateRemediationStatus(ctx context.Context, id string, from, to domain.RemediationStatus) (domain.Remediation, error) {
	if id == "" {
		return domain.Remediation{}, errors.New("update_remediation_status: id is required")
	}
	if _, err := domain.ParseRemediationStatus(string(to)); err != nil {
		return domain.Remediation{}, err
	}
	if from != "" && !domain.CanTransition(from, to) {
		return domain.Remediation{}, &domain.IllegalTransitionError{Kind: "remediation", ID: id, From: string(from), To: string(to)}
	}

	var rem domain.Remediation
	path := "/api/remediations/" + url.PathEscape(id) + "/status"
	if err := c.do(ctx, "update_remediation_status", http.MethodPatch, path, statusRequest{Status: string(to)}, &rem); err != nil {
		return domain.Remediation{}, err
	}
	return rem, nil
}

// UpdateAnomalyStatus writes a new anomaly status. Resolved anomalies accept
// no further writes.
func (c *Client) UpdateAnomalyStatus(ctx context.Context, id string, from, to domain.AnomalyStatus) (domain.Anomaly, error) {
	if id == "" {
		return domain.Anomaly{}, errors.New("update_anomaly_status: id is required")
	}
	if _, err := domain.ParseAnomalyStatus(string(to)); err != nil {
		return domain.Anomaly{}, err
	}
	if from.Terminal() {
		return domain.Anomaly{}, &domain.IllegalTransitionError{Kind: "anomaly", ID: id, From: string(from), To: string(to)}
	}

	var an domain.Anomaly
	path := "/api/anomalies/" + url.PathEscape(id) + "/status"
	if err := c.do(ctx, "update_anomaly_status", http.MethodPatch, path, statusRequest{Status: string(to)}, &an); err != nil {
		return domain.Anomaly{}, err
	}
	return an, nil
}

func withQuery(path, query string) string {
	if query == "" {
		return path
	}
	return path + "?" + query
}

// decodeList parses each element on its own so one malformed record does not
// hide the rest of the collection. Dropped records are logged.
func decodeList[T interface{ Validate() error }](raw []json.RawMessage, collection string, log *slog.Logger) []T {
	out := make([]T, 0, len(raw))
	for i, item := range raw {
		var rec T
		if err := json.Unmarshal(item, &rec); err != nil {
			droppedRecords.WithLabelValues(collection).Inc()
			log.Warn("dropping malformed record", "collection", collection, "index", i, "error", err)
			continue
		}
		if err := rec.Validate(); err != nil {
			droppedRecords.WithLabelValues(collection).Inc()
			log.Warn("dropping invalid record", "collection", collection, "index", i, "error", err)
			continue
		}
		out = append(out, rec)
	}
	return out
}
