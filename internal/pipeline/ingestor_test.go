package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatlog/internal/alerts"
	"threatlog/internal/detection"
	"threatlog/internal/rules"
	"threatlog/internal/store"
	"threatlog/internal/store/memory"
	"threatlog/pkg/models"
)

var base = time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

type memorySink struct {
	mu      sync.Mutex
	records []*models.AlertRecord
	err     error
}

func (s *memorySink) WriteAlerts(_ context.Context, records []*models.AlertRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, records...)
	return nil
}

func (s *memorySink) Close() error { return nil }

func (s *memorySink) snapshot() []*models.AlertRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.AlertRecord(nil), s.records...)
}

type failingStore struct {
	store.EventStore
}

func (failingStore) Append(context.Context, *models.Event) error {
	return errors.New("disk full")
}

func newIngestor(t *testing.T, events store.EventStore, sink alerts.AlertWriter) *Ingestor {
	t.Helper()
	emitter, err := alerts.NewEmitter(sink, alerts.EmitterConfig{}, nil)
	require.NoError(t, err)
	ing := NewIngestor(events, detection.New(events, rules.Builtin(rules.Config{})), emitter, nil, IngestorConfig{})
	tick := base
	ing.now = func() time.Time {
		tick = tick.Add(100 * time.Millisecond)
		return tick
	}
	return ing
}

func TestIngestScoresAndPersists(t *testing.T) {
	s := memory.New(memory.Config{})
	ing := newIngestor(t, s, &memorySink{})

	res, err := ing.Ingest(context.Background(), "t1", &models.Event{
		SourceIP: "10.0.0.1",
		Text:     "Failed login brute force",
		Severity: models.SeverityLow,
	})
	require.NoError(t, err)
	assert.Equal(t, "t1", res.Event.Owner)
	assert.Equal(t, 100, res.Event.Score)
	assert.Equal(t, models.SeverityHigh, res.Event.Severity)
	assert.Len(t, res.Event.Reasons, 3)
	assert.False(t, res.Event.Timestamp.IsZero())

	n, err := s.CountMatching(context.Background(), store.Query{Owner: "t1", SourceIP: "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestIngestRejectsMissingOwner(t *testing.T) {
	s := memory.New(memory.Config{})
	ing := newIngestor(t, s, &memorySink{})

	_, err := ing.Ingest(context.Background(), "", &models.Event{SourceIP: "10.0.0.1"})
	assert.ErrorIs(t, err, models.ErrMissingOwner)
}

func TestIngestOverridesClientOwner(t *testing.T) {
	s := memory.New(memory.Config{})
	ing := newIngestor(t, s, &memorySink{})

	res, err := ing.Ingest(context.Background(), "t1", &models.Event{Owner: "t2", SourceIP: "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, "t1", res.Event.Owner)
}

func TestIngestEmitsDoSOnEleventhEvent(t *testing.T) {
	s := memory.New(memory.Config{})
	sink := &memorySink{}
	ing := newIngestor(t, s, sink)

	for i := 0; i < 10; i++ {
		res, err := ing.Ingest(context.Background(), "t1", &models.Event{SourceIP: "10.0.0.1", Text: "GET /"})
		require.NoError(t, err)
		assert.Empty(t, res.Alerts)
	}
	res, err := ing.Ingest(context.Background(), "t1", &models.Event{SourceIP: "10.0.0.1", Text: "GET /"})
	require.NoError(t, err)
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, 1, res.Emitted)

	records := sink.snapshot()
	require.Len(t, records, 1)
	assert.Equal(t, "t1", records[0].Owner)
	assert.Equal(t, models.AlertTypeDoS, records[0].AlertType)
	assert.Equal(t, 11, records[0].Metadata["count"])
}

func TestIngestSucceedsWhenSinkFails(t *testing.T) {
	s := memory.New(memory.Config{})
	ing := newIngestor(t, s, &memorySink{err: errors.New("sink offline")})

	var last *IngestResult
	for i := 0; i < 3; i++ {
		res, err := ing.Ingest(context.Background(), "t1", &models.Event{SourceIP: "10.0.0.3", Text: "failed login"})
		require.NoError(t, err)
		last = res
	}
	require.Len(t, last.Alerts, 1)
	assert.Equal(t, models.AlertTypeBruteForce, last.Alerts[0].Type)
	assert.Zero(t, last.Emitted)

	n, err := s.CountMatching(context.Background(), store.Query{Owner: "t1", SourceIP: "10.0.0.3"})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestIngestFailsWhenStoreFails(t *testing.T) {
	ing := newIngestor(t, failingStore{}, &memorySink{})
	_, err := ing.Ingest(context.Background(), "t1", &models.Event{SourceIP: "10.0.0.1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persist event")
}

func TestIngestKeepsTenantsApart(t *testing.T) {
	s := memory.New(memory.Config{})
	sink := &memorySink{}
	ing := newIngestor(t, s, sink)

	for i := 0; i < 4; i++ {
		_, err := ing.Ingest(context.Background(), "t1", &models.Event{SourceIP: "10.0.0.2", DestinationPort: models.IntPtr(20 + i)})
		require.NoError(t, err)
	}
	res, err := ing.Ingest(context.Background(), "t2", &models.Event{SourceIP: "10.0.0.2", DestinationPort: models.IntPtr(99)})
	require.NoError(t, err)
	assert.Empty(t, res.Alerts)

	res, err = ing.Ingest(context.Background(), "t1", &models.Event{SourceIP: "10.0.0.2", DestinationPort: models.IntPtr(99)})
	require.NoError(t, err)
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, []int{20, 21, 22, 23, 99}, res.Alerts[0].Metadata["ports_scanned"])
	for _, r := range sink.snapshot() {
		assert.Equal(t, "t1", r.Owner, fmt.Sprintf("%s leaked", r.AlertType))
	}
}

func TestIngestKeepsSubmittedTimestampsWhenConfigured(t *testing.T) {
	s := memory.New(memory.Config{Retention: -1})
	emitter, err := alerts.NewEmitter(nil, alerts.EmitterConfig{}, nil)
	require.NoError(t, err)
	ing := NewIngestor(s, detection.New(s, rules.Builtin(rules.Config{})), emitter, nil, IngestorConfig{KeepTimestamps: true})

	res, err := ing.Ingest(context.Background(), "t1", &models.Event{SourceIP: "10.0.0.1", Timestamp: base})
	require.NoError(t, err)
	assert.Equal(t, base, res.Event.Timestamp)
}
