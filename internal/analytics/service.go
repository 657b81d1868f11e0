// Package analytics builds per-tenant summaries over stored events.
package analytics

import (
	"context"
	"fmt"
	"time"

	"threatlog/pkg/models"
)

const defaultLimit = 5

// Source is implemented by event stores that can aggregate a tenant's history.
type Source interface {
	SeverityCounts(ctx context.Context, owner string) ([]models.SeverityCount, error)
	TopEvents(ctx context.Context, owner string, limit int) ([]models.EventCount, error)
	RecentBySeverity(ctx context.Context, owner string, severity models.Severity, limit int) ([]*models.Event, error)
}

// Summary is the dashboard view of one tenant.
type Summary struct {
	Owner             string                 `json:"owner"`
	SeverityCounts    []models.SeverityCount `json:"severity_counts"`
	TopEvents         []models.EventCount    `json:"top_events"`
	RecentHighThreats []*models.Event        `json:"recent_high_threats"`
	GeneratedAt       time.Time              `json:"generated_at"`
}

// Service answers analytics queries. Every query is scoped to one owner.
type Service struct {
	src         Source
	topLimit    int
	recentLimit int
	now         func() time.Time
}

// NewService creates a service; non-positive limits default to 5.
func NewService(src Source, topLimit, recentLimit int) *Service {
	if topLimit <= 0 {
		topLimit = defaultLimit
	}
	if recentLimit <= 0 {
		recentLimit = defaultLimit
	}
	return &Service{src: src, topLimit: topLimit, recentLimit: recentLimit, now: time.Now}
}

// Summary collects severity counts, top events and recent HIGH events.
func (s *Service) Summary(ctx context.Context, owner string) (*Summary, error) {
	if owner == "" {
		return nil, models.ErrMissingOwner
	}

	counts, err := s.src.SeverityCounts(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("severity counts: %w", err)
	}
	top, err := s.src.TopEvents(ctx, owner, s.topLimit)
	if err != nil {
		return nil, fmt.Errorf("top events: %w", err)
	}
	recent, err := s.src.RecentBySeverity(ctx, owner, models.SeverityHigh, s.recentLimit)
	if err != nil {
		return nil, fmt.Errorf("recent high threats: %w", err)
	}

	return &Summary{
		Owner:             owner,
		SeverityCounts:    counts,
		TopEvents:         top,
		RecentHighThreats: recent,
		GeneratedAt:       s.now().UTC(),
	}, nil
}
