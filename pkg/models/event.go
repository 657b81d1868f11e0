package models

import (
	"errors"
	"time"
)

// ErrMissingOwner is returned when an event reaches ingestion without a tenant.
var ErrMissingOwner = errors.New("event owner is required")

// Event is one security-relevant log record owned by a single tenant.
type Event struct {
	Owner           string    `json:"owner"`
	SourceIP        string    `json:"source_ip,omitempty"`
	DestinationPort *int      `json:"destination_port,omitempty"`
	Text            string    `json:"event"`
	Severity        Severity  `json:"severity"`
	Score           int       `json:"score"`
	Reasons         []string  `json:"reasons"`
	Timestamp       time.Time `json:"timestamp"`
}

// HasSourceIP reports whether IP-keyed rules can run for the event.
func (e *Event) HasSourceIP() bool {
	return e != nil && e.SourceIP != ""
}

// HasDestinationPort reports whether the event carries a destination port.
func (e *Event) HasDestinationPort() bool {
	return e != nil && e.DestinationPort != nil
}

// Port returns the destination port, or 0 when absent.
func (e *Event) Port() int {
	if !e.HasDestinationPort() {
		return 0
	}
	return *e.DestinationPort
}

// Assessment is the Scoring Engine result for one event text.
type Assessment struct {
	Severity Severity `json:"severity"`
	Score    int      `json:"score"`
	Reasons  []string `json:"reasons"`
}

// Apply copies the assessment onto the event.
func (a Assessment) Apply(e *Event) {
	e.Severity = a.Severity
	e.Score = a.Score
	e.Reasons = append([]string(nil), a.Reasons...)
	if e.Reasons == nil {
		e.Reasons = []string{}
	}
}

// Submission is a raw event paired with the tenant resolved upstream.
type Submission struct {
	Owner string `json:"owner"`
	Event *Event `json:"event"`
}

// IntPtr is a small helper for optional ports.
func IntPtr(v int) *int {
	return &v
}
