// Package memory is an in-process event store keeping a time-ordered bucket
// per (tenant, source IP). A bucket is pruned when it receives an event, and
// once per retention interval an append sweeps every bucket and drops the
// empty ones.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"threatlog/internal/store"
	"threatlog/pkg/models"
)

// DefaultRetention covers the longest built-in rule window.
const DefaultRetention = 10 * time.Minute

// Config configures the memory store.
type Config struct {
	// Retention bounds how long events are kept. Negative keeps everything.
	Retention time.Duration
}

// Store is a thread-safe in-memory store.EventStore.
type Store struct {
	mu        sync.RWMutex
	retention time.Duration
	tenants   map[string]map[string]*bucket
	clock     store.Monotonic
	latest    time.Time
	lastSweep time.Time
}

type bucket struct {
	events []*models.Event
}

// New creates an empty memory store.
func New(cfg Config) *Store {
	if cfg.Retention == 0 {
		cfg.Retention = DefaultRetention
	}
	return &Store{
		retention: cfg.Retention,
		tenants:   make(map[string]map[string]*bucket),
	}
}

// Append stores a copy of the event. Timestamps are forced to be strictly
// increasing across the store; the adjusted value is written back to event.
func (s *Store) Append(_ context.Context, event *models.Event) error {
	if event == nil {
		return nil
	}
	if event.Owner == "" {
		return models.ErrMissingOwner
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.clock.Next(event.Timestamp)
	event.Timestamp = ts

	sources := s.tenants[event.Owner]
	if sources == nil {
		sources = make(map[string]*bucket)
		s.tenants[event.Owner] = sources
	}
	b := sources[event.SourceIP]
	if b == nil {
		b = &bucket{}
		sources[event.SourceIP] = b
	}

	cp := *event
	if event.DestinationPort != nil {
		cp.DestinationPort = models.IntPtr(*event.DestinationPort)
	}
	cp.Reasons = append([]string(nil), event.Reasons...)
	b.events = append(b.events, &cp)
	s.prune(b, ts)

	s.latest = ts
	if s.retention >= 0 && ts.Sub(s.lastSweep) >= s.retention {
		s.sweep(ts)
		s.lastSweep = ts
	}
	return nil
}

// sweep prunes every bucket against now and deletes empty buckets and
// tenants. Callers hold s.mu.
func (s *Store) sweep(now time.Time) {
	for owner, sources := range s.tenants {
		for ip, b := range sources {
			s.prune(b, now)
			if len(b.events) == 0 {
				delete(sources, ip)
			}
		}
		if len(sources) == 0 {
			delete(s.tenants, owner)
		}
	}
}

func (s *Store) prune(b *bucket, now time.Time) {
	if s.retention < 0 {
		return
	}
	cutoff := now.Add(-s.retention)
	idx := sort.Search(len(b.events), func(i int) bool {
		return !b.events[i].Timestamp.Before(cutoff)
	})
	if idx > 0 {
		b.events = append([]*models.Event(nil), b.events[idx:]...)
	}
}

// window returns the events of q's bucket at or after q.Since that pass the filter.
func (s *Store) window(q store.Query) []*models.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b := s.tenants[q.Owner][q.SourceIP]
	if b == nil {
		return nil
	}
	start := sort.Search(len(b.events), func(i int) bool {
		return !b.events[i].Timestamp.Before(q.Since)
	})
	out := make([]*models.Event, 0, len(b.events)-start)
	for _, ev := range b.events[start:] {
		if q.Filter.Matches(ev) {
			out = append(out, ev)
		}
	}
	return out
}

// CountMatching counts q's window.
func (s *Store) CountMatching(_ context.Context, q store.Query) (int, error) {
	if err := q.Validate(); err != nil {
		return 0, err
	}
	return len(s.window(q)), nil
}

// DistinctMatching returns distinct field values of q's window in first-seen order.
func (s *Store) DistinctMatching(_ context.Context, q store.Query, field store.Field) ([]string, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return store.Distinct(s.window(q), field)
}

// size reports the number of buckets and retained events.
func (s *Store) size() (buckets, events int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sources := range s.tenants {
		for _, b := range sources {
			buckets++
			events += len(b.events)
		}
	}
	return buckets, events
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

// tenantEvents returns every retained event of owner, oldest first. Events
// behind the retention horizon of the newest append are skipped even if no
// sweep has removed them yet.
func (s *Store) tenantEvents(owner string) []*models.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var cutoff time.Time
	if s.retention >= 0 {
		cutoff = s.latest.Add(-s.retention)
	}
	var out []*models.Event
	for _, b := range s.tenants[owner] {
		for _, ev := range b.events {
			if !ev.Timestamp.Before(cutoff) {
				out = append(out, ev)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// SeverityCounts groups a tenant's retained events by severity.
func (s *Store) SeverityCounts(_ context.Context, owner string) ([]models.SeverityCount, error) {
	counts := make(map[models.Severity]int)
	for _, ev := range s.tenantEvents(owner) {
		counts[ev.Severity]++
	}
	out := make([]models.SeverityCount, 0, len(counts))
	for sev, n := range counts {
		out = append(out, models.SeverityCount{Severity: sev, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Severity.Rank() > out[j].Severity.Rank() })
	return out, nil
}

// TopEvents returns the most frequent event texts of a tenant.
func (s *Store) TopEvents(_ context.Context, owner string, limit int) ([]models.EventCount, error) {
	counts := make(map[string]int)
	order := make([]string, 0)
	for _, ev := range s.tenantEvents(owner) {
		if _, ok := counts[ev.Text]; !ok {
			order = append(order, ev.Text)
		}
		counts[ev.Text]++
	}
	out := make([]models.EventCount, 0, len(order))
	for _, text := range order {
		out = append(out, models.EventCount{Event: text, Count: counts[text]})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RecentBySeverity returns the newest events of a tenant at the given severity.
func (s *Store) RecentBySeverity(_ context.Context, owner string, severity models.Severity, limit int) ([]*models.Event, error) {
	events := s.tenantEvents(owner)
	out := make([]*models.Event, 0)
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Severity != severity {
			continue
		}
		cp := *events[i]
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
