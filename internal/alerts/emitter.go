package alerts

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"threatlog/internal/logger"
	"threatlog/internal/metrics"
	"threatlog/pkg/models"
)

const (
	defaultCooldownEntries = 4096
	defaultWriteTimeout    = 5 * time.Second
)

// AlertWriter writes alert records to a durable sink. It may fail
// independently of the event store.
type AlertWriter interface {
	WriteAlerts(ctx context.Context, records []*models.AlertRecord) error
	Close() error
}

// EmitterConfig configures alert forwarding.
type EmitterConfig struct {
	// MinSeverity is clamped to HIGH or above.
	MinSeverity models.Severity
	// Cooldown suppresses repeats of the same (owner, type, source) within
	// the interval. Zero forwards every qualifying alert.
	Cooldown        time.Duration
	CooldownEntries int
	// WriteTimeout bounds each sink write. Zero uses 5s; negative disables it.
	WriteTimeout time.Duration
}

// Emitter forwards qualifying alerts to a sink on a best-effort basis.
type Emitter struct {
	sink     AlertWriter
	floor    models.Severity
	cooldown time.Duration
	timeout  time.Duration
	metrics  *metrics.Metrics
	now      func() time.Time

	mu     sync.Mutex
	recent *lru.Cache[string, time.Time]
}

// NewEmitter creates an emitter. A nil sink makes Emit a no-op.
func NewEmitter(sink AlertWriter, cfg EmitterConfig, m *metrics.Metrics) (*Emitter, error) {
	floor := cfg.MinSeverity
	if !floor.AtLeast(models.SeverityHigh) {
		floor = models.SeverityHigh
	}
	timeout := cfg.WriteTimeout
	if timeout == 0 {
		timeout = defaultWriteTimeout
	}
	e := &Emitter{
		sink:     sink,
		floor:    floor,
		cooldown: cfg.Cooldown,
		timeout:  timeout,
		metrics:  m,
		now:      time.Now,
	}
	if cfg.Cooldown > 0 {
		size := cfg.CooldownEntries
		if size <= 0 {
			size = defaultCooldownEntries
		}
		cache, err := lru.New[string, time.Time](size)
		if err != nil {
			return nil, err
		}
		e.recent = cache
	}
	return e, nil
}

// Emit writes the qualifying alerts of owner and returns how many were
// handed to the sink. Sink failures are logged and counted, never returned.
func (e *Emitter) Emit(ctx context.Context, owner string, alerts []*models.Alert) int {
	if e == nil || e.sink == nil || len(alerts) == 0 {
		return 0
	}

	records := make([]*models.AlertRecord, 0, len(alerts))
	for _, a := range alerts {
		if a == nil || !a.Severity.AtLeast(e.floor) {
			continue
		}
		if e.suppressed(owner, a) {
			e.metrics.IncAlertsSuppressed()
			continue
		}
		records = append(records, a.Record(owner))
	}
	if len(records) == 0 {
		return 0
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	if err := e.sink.WriteAlerts(ctx, records); err != nil {
		e.metrics.IncSinkErrors()
		logger.Errorf("Failed to write %d alerts for %s: %v", len(records), owner, err)
		return 0
	}
	for _, r := range records {
		e.metrics.AddAlertsEmitted(string(r.AlertType), string(r.Severity), 1)
	}
	logger.Debugf("Emitted %d alerts for %s", len(records), owner)
	return len(records)
}

func (e *Emitter) suppressed(owner string, a *models.Alert) bool {
	if e.recent == nil {
		return false
	}
	key := owner + "|" + string(a.Type) + "|" + a.SourceIP
	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()
	if last, ok := e.recent.Get(key); ok && now.Sub(last) < e.cooldown {
		return true
	}
	e.recent.Add(key, now)
	return false
}

// Close closes the sink.
func (e *Emitter) Close() error {
	if e == nil || e.sink == nil {
		return nil
	}
	return e.sink.Close()
}
