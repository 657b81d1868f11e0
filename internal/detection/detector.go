// Package detection runs the configured rules for one ingested event.
package detection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"threatlog/internal/metrics"
	"threatlog/internal/rules"
	"threatlog/internal/store"
	"threatlog/pkg/models"
)

// Detector evaluates rules against the event history of one tenant.
type Detector struct {
	history  store.Reader
	rules    []rules.Rule
	parallel bool
	metrics  *metrics.Metrics
	now      func() time.Time
	newID    func() string
}

// Option customizes a Detector.
type Option func(*Detector)

// WithParallel toggles concurrent rule evaluation. Enabled by default.
func WithParallel(enabled bool) Option {
	return func(d *Detector) { d.parallel = enabled }
}

// WithMetrics records rule timings and detections.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Detector) { d.metrics = m }
}

// WithClock overrides the time source used when an event carries no timestamp.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// New builds a detector over history running rs in order.
func New(history store.Reader, rs []rules.Rule, opts ...Option) *Detector {
	d := &Detector{
		history:  history,
		rules:    rs,
		parallel: true,
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type outcome struct {
	alert *models.Alert
	err   error
}

// Detect returns the alerts raised by event in rule order. Events without a
// source IP return no alerts and touch no store. All rules finish before
// Detect returns; their store errors are joined.
func (d *Detector) Detect(ctx context.Context, event *models.Event, owner string) ([]*models.Alert, error) {
	if owner == "" {
		return nil, models.ErrMissingOwner
	}
	if !event.HasSourceIP() || len(d.rules) == 0 {
		return nil, nil
	}

	now := event.Timestamp
	if now.IsZero() {
		now = d.now().UTC()
	}

	results := make([]outcome, len(d.rules))
	if d.parallel && len(d.rules) > 1 {
		var wg sync.WaitGroup
		for i, rule := range d.rules {
			wg.Add(1)
			go func(i int, rule rules.Rule) {
				defer wg.Done()
				results[i] = d.run(ctx, rule, owner, event, now)
			}(i, rule)
		}
		wg.Wait()
	} else {
		for i, rule := range d.rules {
			results[i] = d.run(ctx, rule, owner, event, now)
		}
	}

	var (
		alerts []*models.Alert
		errs   []error
	)
	createdAt := d.now().UTC()
	for _, res := range results {
		if res.err != nil {
			errs = append(errs, res.err)
			continue
		}
		if res.alert == nil {
			continue
		}
		res.alert.ID = d.newID()
		res.alert.Owner = owner
		res.alert.CreatedAt = createdAt
		d.metrics.IncAlertsDetected(string(res.alert.Type))
		alerts = append(alerts, res.alert)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return alerts, nil
}

func (d *Detector) run(ctx context.Context, rule rules.Rule, owner string, event *models.Event, now time.Time) outcome {
	start := time.Now()
	alert, err := rule.Evaluate(ctx, d.history, owner, event, now)
	d.metrics.ObserveRule(rule.Name(), time.Since(start))
	if err != nil {
		d.metrics.IncStoreErrors("query")
		return outcome{err: fmt.Errorf("rule %s: %w", rule.Name(), err)}
	}
	return outcome{alert: alert}
}
