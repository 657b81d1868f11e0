package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"threatlog/internal/alerts"
	"threatlog/internal/detection"
	"threatlog/internal/logger"
	"threatlog/internal/metrics"
	"threatlog/internal/store"
	"threatlog/pkg/models"
)

// IngestResult reports what one ingestion produced.
type IngestResult struct {
	Event   *models.Event
	Alerts  []*models.Alert
	Emitted int
}

// IngestorConfig configures an Ingestor.
type IngestorConfig struct {
	// KeepTimestamps trusts submission timestamps instead of stamping the
	// arrival time. Used for replays.
	KeepTimestamps bool
}

// Ingestor runs score, persist, detect and emit for one event.
type Ingestor struct {
	store    store.EventStore
	detector *detection.Detector
	emitter  *alerts.Emitter
	metrics  *metrics.Metrics
	keepTS   bool
	now      func() time.Time
}

// NewIngestor wires the ingestion path.
func NewIngestor(events store.EventStore, detector *detection.Detector, emitter *alerts.Emitter, m *metrics.Metrics, cfg IngestorConfig) *Ingestor {
	return &Ingestor{
		store:    events,
		detector: detector,
		emitter:  emitter,
		metrics:  m,
		keepTS:   cfg.KeepTimestamps,
		now:      time.Now,
	}
}

// Ingest persists event for owner, then evaluates and emits alerts. The event
// is durable before any rule runs, so windows include it. Alert emission
// failures never fail ingestion; store failures do.
func (i *Ingestor) Ingest(ctx context.Context, owner string, event *models.Event) (*IngestResult, error) {
	if owner == "" {
		i.metrics.IncEventsRejected("missing_owner")
		return nil, models.ErrMissingOwner
	}
	if event == nil {
		i.metrics.IncEventsRejected("empty")
		return nil, errors.New("event is required")
	}

	ev := *event
	ev.Owner = owner
	alerts.Score(ev.Text).Apply(&ev)
	if !i.keepTS || ev.Timestamp.IsZero() {
		ev.Timestamp = i.now()
	}

	if err := i.store.Append(ctx, &ev); err != nil {
		i.metrics.IncStoreErrors("append")
		return nil, fmt.Errorf("persist event: %w", err)
	}
	i.metrics.IncEventsIngested()

	found, err := i.detector.Detect(ctx, &ev, owner)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}

	res := &IngestResult{Event: &ev, Alerts: found}
	if len(found) > 0 {
		res.Emitted = i.emitter.Emit(ctx, owner, found)
		logger.Infof("Event from %s raised %d alerts (%d emitted) for %s", ev.SourceIP, len(found), res.Emitted, owner)
	}
	return res, nil
}
