package alerts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatlog/internal/metrics"
	"threatlog/pkg/models"
)

type recordingSink struct {
	batches [][]*models.AlertRecord
	err     error
	closed  bool
}

func (s *recordingSink) WriteAlerts(_ context.Context, records []*models.AlertRecord) error {
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, records)
	return nil
}

func (s *recordingSink) Close() error {
	s.closed = true
	return nil
}

func sampleAlerts() []*models.Alert {
	return []*models.Alert{
		{Type: models.AlertTypeDoS, Severity: models.SeverityCritical, SourceIP: "10.0.0.1", Metadata: map[string]interface{}{"count": 11}},
		{Type: models.AlertTypePortScan, Severity: models.SeverityHigh, SourceIP: "10.0.0.1"},
		{Type: models.AlertTypeSigma, Severity: models.SeverityMedium, SourceIP: "10.0.0.1"},
		{Type: models.AlertTypeSigma, Severity: models.SeverityLow, SourceIP: "10.0.0.1"},
	}
}

func TestEmitForwardsOnlyHighAndCritical(t *testing.T) {
	sink := &recordingSink{}
	e, err := NewEmitter(sink, EmitterConfig{}, nil)
	require.NoError(t, err)

	n := e.Emit(context.Background(), "t1", sampleAlerts())
	assert.Equal(t, 2, n)
	require.Len(t, sink.batches, 1)
	batch := sink.batches[0]
	require.Len(t, batch, 2)
	assert.Equal(t, "t1", batch[0].Owner)
	assert.Equal(t, models.AlertTypeDoS, batch[0].AlertType)
	assert.Equal(t, 11, batch[0].Metadata["count"])
	assert.Equal(t, models.AlertTypePortScan, batch[1].AlertType)
}

func TestEmitMinSeverityCannotGoBelowHigh(t *testing.T) {
	sink := &recordingSink{}
	e, err := NewEmitter(sink, EmitterConfig{MinSeverity: models.SeverityLow}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, e.Emit(context.Background(), "t1", sampleAlerts()))

	e, err = NewEmitter(sink, EmitterConfig{MinSeverity: models.SeverityCritical}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, e.Emit(context.Background(), "t1", sampleAlerts()))
}

func TestEmitSwallowsSinkErrors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	sink := &recordingSink{err: errors.New("connection refused")}
	e, err := NewEmitter(sink, EmitterConfig{}, m)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		assert.Zero(t, e.Emit(context.Background(), "t1", sampleAlerts()))
	})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SinkErrors))
}

func TestEmitWithNilSinkIsNoop(t *testing.T) {
	e, err := NewEmitter(nil, EmitterConfig{}, nil)
	require.NoError(t, err)
	assert.Zero(t, e.Emit(context.Background(), "t1", sampleAlerts()))
	assert.NoError(t, e.Close())
}

func TestEmitCooldownSuppressesRepeats(t *testing.T) {
	sink := &recordingSink{}
	e, err := NewEmitter(sink, EmitterConfig{Cooldown: time.Minute}, nil)
	require.NoError(t, err)
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	dos := []*models.Alert{{Type: models.AlertTypeDoS, Severity: models.SeverityCritical, SourceIP: "10.0.0.1"}}
	assert.Equal(t, 1, e.Emit(context.Background(), "t1", dos))
	assert.Zero(t, e.Emit(context.Background(), "t1", dos))
	assert.Equal(t, 1, e.Emit(context.Background(), "t2", dos))

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, e.Emit(context.Background(), "t1", dos))
}

func TestEmitDoesNotMutateAlerts(t *testing.T) {
	sink := &recordingSink{}
	e, err := NewEmitter(sink, EmitterConfig{}, nil)
	require.NoError(t, err)

	alerts := sampleAlerts()
	e.Emit(context.Background(), "t1", alerts)
	sink.batches[0][0].Metadata["count"] = 99
	assert.Equal(t, 11, alerts[0].Metadata["count"])
}

func TestCloseClosesSink(t *testing.T) {
	sink := &recordingSink{}
	e, err := NewEmitter(sink, EmitterConfig{}, nil)
	require.NoError(t, err)
	require.NoError(t, e.Close())
	assert.True(t, sink.closed)
}

type blockingSink struct{}

func (blockingSink) WriteAlerts(ctx context.Context, _ []*models.AlertRecord) error {
	<-ctx.Done()
	return ctx.Err()
}

func (blockingSink) Close() error { return nil }

func TestEmitBoundsSinkWrites(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	e, err := NewEmitter(blockingSink{}, EmitterConfig{WriteTimeout: 20 * time.Millisecond}, m)
	require.NoError(t, err)

	done := make(chan int, 1)
	go func() { done <- e.Emit(context.Background(), "t1", sampleAlerts()) }()

	select {
	case n := <-done:
		assert.Zero(t, n)
	case <-time.After(2 * time.Second):
		t.Fatal("emit blocked on a hung sink")
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SinkErrors))
}
