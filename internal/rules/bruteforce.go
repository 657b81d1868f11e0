package rules

import (
	"context"
	"fmt"
	"strings"
	"time"

	"threatlog/internal/store"
	"threatlog/pkg/models"
)

const failedLoginPhrase = "failed login"

// BruteForceConfig configures the failed-login rule.
type BruteForceConfig struct {
	Window      time.Duration
	MinAttempts int
}

// BruteForceRule fires on repeated failed logins from one source. Only an
// event that is itself a failed login triggers evaluation.
type BruteForceRule struct {
	cfg BruteForceConfig
}

// NewBruteForceRule applies defaults of 3 attempts in 300 seconds.
func NewBruteForceRule(cfg BruteForceConfig) *BruteForceRule {
	if cfg.Window <= 0 {
		cfg.Window = 300 * time.Second
	}
	if cfg.MinAttempts <= 0 {
		cfg.MinAttempts = 3
	}
	return &BruteForceRule{cfg: cfg}
}

func (r *BruteForceRule) Name() string { return "brute_force" }

func (r *BruteForceRule) Evaluate(ctx context.Context, history store.Reader, owner string, event *models.Event, now time.Time) (*models.Alert, error) {
	if !event.HasSourceIP() || !strings.Contains(strings.ToLower(event.Text), failedLoginPhrase) {
		return nil, nil
	}
	q := windowQuery(owner, event, now, r.cfg.Window)
	q.Filter.TextContains = failedLoginPhrase

	count, err := history.CountMatching(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("brute force window count: %w", err)
	}
	if count < r.cfg.MinAttempts {
		return nil, nil
	}
	return &models.Alert{
		Type:     models.AlertTypeBruteForce,
		Severity: models.SeverityHigh,
		Description: fmt.Sprintf("Brute force attack detected: %s attempted %d failed logins in %d seconds",
			event.SourceIP, count, seconds(r.cfg.Window)),
		SourceIP: event.SourceIP,
		Metadata: map[string]interface{}{"failed_attempts": count},
	}, nil
}
