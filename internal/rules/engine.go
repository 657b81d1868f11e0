// Package rules holds the stateful detection rules. Each rule reads the event
// history of one (tenant, source IP) pair and returns at most one alert.
package rules

import (
	"context"
	"time"

	"threatlog/internal/store"
	"threatlog/pkg/models"
)

// Rule evaluates one triggering event against the stored history of its
// tenant. It returns nil when nothing fires. Rules are read-only and safe to
// run concurrently.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, history store.Reader, owner string, event *models.Event, now time.Time) (*models.Alert, error)
}

// Config collects the tunables of the built-in rules.
type Config struct {
	DoS        DoSConfig
	PortScan   PortScanConfig
	BruteForce BruteForceConfig
}

// Builtin returns the built-in rules in evaluation order.
func Builtin(cfg Config) []Rule {
	return []Rule{
		NewDoSRule(cfg.DoS),
		NewPortScanRule(cfg.PortScan),
		NewBruteForceRule(cfg.BruteForce),
	}
}

func windowQuery(owner string, event *models.Event, now time.Time, window time.Duration) store.Query {
	return store.Query{
		Owner:    owner,
		SourceIP: event.SourceIP,
		Since:    now.Add(-window),
	}
}

func seconds(d time.Duration) int {
	return int(d / time.Second)
}
