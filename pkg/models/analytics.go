package models

// SeverityCount is the number of a tenant's events at one severity.
type SeverityCount struct {
	Severity Severity `json:"severity"`
	Count    int      `json:"count"`
}

// EventCount is the number of a tenant's events sharing the same text.
type EventCount struct {
	Event string `json:"event"`
	Count int    `json:"count"`
}
