// Package store defines the event history contract the detection rules query.
//
// Every query is scoped to one tenant and one source IP. A window is the
// trailing interval [Since, now]; stores compute it fresh on each call.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"threatlog/pkg/models"
)

// ErrUnsupportedField is returned by DistinctMatching for unknown fields.
var ErrUnsupportedField = errors.New("unsupported distinct field")

// Field names an event attribute that DistinctMatching can aggregate.
type Field string

const (
	FieldDestinationPort Field = "destination_port"
	FieldText            Field = "event"
)

// Filter is an extra predicate applied by the store on top of tenant, source
// and time. The zero value matches everything.
type Filter struct {
	// TextContains matches event text case-insensitively.
	TextContains string
	// RequireDestinationPort restricts to events carrying a port.
	RequireDestinationPort bool
}

// Query selects the window for one (tenant, source IP) pair.
type Query struct {
	Owner    string
	SourceIP string
	Since    time.Time
	Filter   Filter
}

// Validate rejects queries that would read across tenants.
func (q Query) Validate() error {
	if strings.TrimSpace(q.Owner) == "" {
		return models.ErrMissingOwner
	}
	if q.SourceIP == "" {
		return fmt.Errorf("query source ip is required")
	}
	return nil
}

// Reader is the read side used by rule evaluators.
type Reader interface {
	CountMatching(ctx context.Context, q Query) (int, error)
	// DistinctMatching returns distinct values of field in first-seen order.
	DistinctMatching(ctx context.Context, q Query, field Field) ([]string, error)
}

// EventStore is an append-only, per-tenant event history with read-after-write
// visibility for the writer.
type EventStore interface {
	Reader
	Append(ctx context.Context, event *models.Event) error
	Close() error
}

// Matches evaluates q against one event in process. Stores that cannot push
// the predicate down use it after fetching the (owner, source) window.
func Matches(q Query, ev *models.Event) bool {
	if ev == nil || ev.Owner != q.Owner || ev.SourceIP != q.SourceIP {
		return false
	}
	if ev.Timestamp.Before(q.Since) {
		return false
	}
	return q.Filter.Matches(ev)
}

// Matches applies only the extra predicate.
func (f Filter) Matches(ev *models.Event) bool {
	if f.RequireDestinationPort && !ev.HasDestinationPort() {
		return false
	}
	if f.TextContains != "" && !strings.Contains(strings.ToLower(ev.Text), strings.ToLower(f.TextContains)) {
		return false
	}
	return true
}

// FieldValue extracts the string form of field from ev. ok is false when the
// event has no value for it.
func FieldValue(ev *models.Event, field Field) (string, bool, error) {
	switch field {
	case FieldDestinationPort:
		if !ev.HasDestinationPort() {
			return "", false, nil
		}
		return strconv.Itoa(ev.Port()), true, nil
	case FieldText:
		return ev.Text, true, nil
	default:
		return "", false, fmt.Errorf("%w: %s", ErrUnsupportedField, field)
	}
}

// Distinct collects distinct field values from events in order.
func Distinct(events []*models.Event, field Field) ([]string, error) {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, ev := range events {
		v, ok, err := FieldValue(ev, field)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out, nil
}

// Monotonic hands out strictly increasing timestamps at a fixed resolution.
// The zero value uses nanosecond resolution.
type Monotonic struct {
	Resolution time.Duration

	mu   sync.Mutex
	last time.Time
}

// Next returns ts in UTC, bumped past the previous value when needed.
func (m *Monotonic) Next(ts time.Time) time.Time {
	res := m.Resolution
	if res <= 0 {
		res = time.Nanosecond
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ts = ts.UTC().Truncate(res)
	if !ts.After(m.last) {
		ts = m.last.Add(res)
	}
	m.last = ts
	return ts
}
