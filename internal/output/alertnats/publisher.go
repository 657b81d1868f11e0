package alertnats

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"threatlog/pkg/models"
)

// Config configures the NATS alert publisher.
type Config struct {
	URL           string
	SubjectPrefix string
	Name          string
}

const defaultFlushTimeout = 5 * time.Second

// Publisher publishes alert records on <prefix>.<owner>.<type>. The owner
// token is hex encoded so distinct tenants never share a subject.
type Publisher struct {
	nc     *nats.Conn
	prefix string
}

// NewPublisher connects to NATS.
func NewPublisher(cfg Config) (*Publisher, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Name == "" {
		cfg.Name = "threatlog"
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return NewWithConn(nc, cfg.SubjectPrefix), nil
}

// NewWithConn wraps an existing connection.
func NewWithConn(nc *nats.Conn, prefix string) *Publisher {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = "threatlog.alerts"
	}
	return &Publisher{nc: nc, prefix: prefix}
}

// Subject returns the subject for one record.
func (p *Publisher) Subject(r *models.AlertRecord) string {
	return p.prefix + "." + OwnerToken(r.Owner) + "." + token(string(r.AlertType))
}

// OwnerToken returns the subject token used for owner, for building
// per-tenant subscriptions.
func OwnerToken(owner string) string {
	if owner == "" {
		return "_"
	}
	return hex.EncodeToString([]byte(owner))
}

// WriteAlerts publishes each record and flushes once.
func (p *Publisher) WriteAlerts(ctx context.Context, records []*models.AlertRecord) error {
	if len(records) == 0 {
		return nil
	}
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode alert %s: %w", r.ID, err)
		}
		msg := nats.NewMsg(p.Subject(r))
		msg.Data = data
		msg.Header.Set("Nats-Msg-Id", r.ID)
		msg.Header.Set("Threatlog-Owner", r.Owner)
		if err := p.nc.PublishMsg(msg); err != nil {
			return fmt.Errorf("publish alert %s: %w", r.ID, err)
		}
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultFlushTimeout)
		defer cancel()
	}
	if err := p.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush alerts: %w", err)
	}
	return nil
}

// Close drains the connection.
func (p *Publisher) Close() error {
	if p.nc == nil || p.nc.IsClosed() {
		return nil
	}
	return p.nc.Drain()
}

// token makes an alert type safe as a single subject token.
func token(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', ' ', '*', '>', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, v)
}
