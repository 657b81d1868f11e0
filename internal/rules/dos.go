package rules

import (
	"context"
	"fmt"
	"time"

	"threatlog/internal/store"
	"threatlog/pkg/models"
)

// DoSConfig configures the request-rate rule.
type DoSConfig struct {
	Window    time.Duration
	Threshold int
}

// DoSRule fires when one source sends more than Threshold events in Window.
type DoSRule struct {
	cfg DoSConfig
}

// NewDoSRule applies defaults of 10 events in 10 seconds.
func NewDoSRule(cfg DoSConfig) *DoSRule {
	if cfg.Window <= 0 {
		cfg.Window = 10 * time.Second
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 10
	}
	return &DoSRule{cfg: cfg}
}

func (r *DoSRule) Name() string { return "dos" }

// Evaluate counts the window including the triggering event.
func (r *DoSRule) Evaluate(ctx context.Context, history store.Reader, owner string, event *models.Event, now time.Time) (*models.Alert, error) {
	if !event.HasSourceIP() {
		return nil, nil
	}
	count, err := history.CountMatching(ctx, windowQuery(owner, event, now, r.cfg.Window))
	if err != nil {
		return nil, fmt.Errorf("dos window count: %w", err)
	}
	if count <= r.cfg.Threshold {
		return nil, nil
	}
	return &models.Alert{
		Type:     models.AlertTypeDoS,
		Severity: models.SeverityCritical,
		Description: fmt.Sprintf("DoS attack detected: %s sent %d requests in %d seconds",
			event.SourceIP, count, seconds(r.cfg.Window)),
		SourceIP: event.SourceIP,
		Metadata: map[string]interface{}{"count": count},
	}, nil
}
