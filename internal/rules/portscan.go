package rules

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"threatlog/internal/store"
	"threatlog/pkg/models"
)

// PortScanConfig configures the distinct-port rule.
type PortScanConfig struct {
	Window      time.Duration
	MinPorts    int
	MaxReported int
}

// PortScanRule fires when one source touches MinPorts distinct destination
// ports within Window.
type PortScanRule struct {
	cfg PortScanConfig
}

// NewPortScanRule applies defaults of 5 ports in 60 seconds, reporting 10.
func NewPortScanRule(cfg PortScanConfig) *PortScanRule {
	if cfg.Window <= 0 {
		cfg.Window = 60 * time.Second
	}
	if cfg.MinPorts <= 0 {
		cfg.MinPorts = 5
	}
	if cfg.MaxReported <= 0 {
		cfg.MaxReported = 10
	}
	return &PortScanRule{cfg: cfg}
}

func (r *PortScanRule) Name() string { return "port_scan" }

func (r *PortScanRule) Evaluate(ctx context.Context, history store.Reader, owner string, event *models.Event, now time.Time) (*models.Alert, error) {
	if !event.HasSourceIP() || !event.HasDestinationPort() {
		return nil, nil
	}
	q := windowQuery(owner, event, now, r.cfg.Window)
	q.Filter.RequireDestinationPort = true

	values, err := history.DistinctMatching(ctx, q, store.FieldDestinationPort)
	if err != nil {
		return nil, fmt.Errorf("port scan distinct ports: %w", err)
	}
	if len(values) < r.cfg.MinPorts {
		return nil, nil
	}

	reported := values
	if len(reported) > r.cfg.MaxReported {
		reported = reported[:r.cfg.MaxReported]
	}
	ports := make([]int, 0, len(reported))
	for _, v := range reported {
		p, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("port scan: bad port %q: %w", v, err)
		}
		ports = append(ports, p)
	}

	return &models.Alert{
		Type:     models.AlertTypePortScan,
		Severity: models.SeverityHigh,
		Description: fmt.Sprintf("Port scan detected: %s scanned %d different ports in %d seconds%s",
			event.SourceIP, len(values), seconds(r.cfg.Window), minutesSuffix(r.cfg.Window)),
		SourceIP: event.SourceIP,
		Metadata: map[string]interface{}{"ports_scanned": ports},
	}, nil
}

// minutesSuffix renders " (N minutes)" for windows that are whole minutes.
func minutesSuffix(d time.Duration) string {
	if d < time.Minute || d%time.Minute != 0 {
		return ""
	}
	n := int(d / time.Minute)
	if n == 1 {
		return " (1 minute)"
	}
	return fmt.Sprintf(" (%d minutes)", n)
}
