package models

import "time"

// AlertType names the rule that produced an alert.
type AlertType string

const (
	AlertTypeDoS        AlertType = "DoS Attack"
	AlertTypePortScan   AlertType = "Port Scan"
	AlertTypeBruteForce AlertType = "Brute Force"
	AlertTypeSigma      AlertType = "Sigma Match"
)

// Alert is a write-once detection result derived from an event and its window.
type Alert struct {
	ID          string                 `json:"id"`
	Type        AlertType              `json:"alert_type"`
	Severity    Severity               `json:"severity"`
	Description string                 `json:"description"`
	SourceIP    string                 `json:"source_ip"`
	Owner       string                 `json:"owner"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

// AlertRecord is the flattened row handed to a durable alert sink.
type AlertRecord struct {
	ID          string                 `json:"id"`
	Owner       string                 `json:"owner"`
	AlertType   AlertType              `json:"alert_type"`
	Severity    Severity               `json:"severity"`
	Description string                 `json:"description"`
	SourceIP    string                 `json:"source_ip,omitempty"`
	Metadata    map[string]interface{} `json:"metadata"`
	CreatedAt   time.Time              `json:"created_at"`
}

// Record flattens the alert for the given tenant. Type-specific fields stay in
// the metadata bag; the bag is copied so the alert remains immutable.
func (a *Alert) Record(owner string) *AlertRecord {
	meta := make(map[string]interface{}, len(a.Metadata))
	for k, v := range a.Metadata {
		meta[k] = v
	}
	return &AlertRecord{
		ID:          a.ID,
		Owner:       owner,
		AlertType:   a.Type,
		Severity:    a.Severity,
		Description: a.Description,
		SourceIP:    a.SourceIP,
		Metadata:    meta,
		CreatedAt:   a.CreatedAt,
	}
}
