package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"threatlog/internal/logger"
	"threatlog/internal/transform/submission"
	"threatlog/pkg/models"
)

// Source yields raw submissions. Pop returns nil, nil when nothing arrived
// within its poll interval.
type Source interface {
	Pop(ctx context.Context) ([]byte, error)
	Close() error
}

// RedisPipeline consumes queued submissions and ingests them with a pool of
// workers.
type RedisPipeline struct {
	source   Source
	ingestor *Ingestor
	workers  int
	capture  RawWriter
}

// NewRedisPipeline creates a queue-driven ingestion pipeline.
func NewRedisPipeline(source Source, ingestor *Ingestor, workers int) *RedisPipeline {
	if workers <= 0 {
		workers = 4
	}
	return &RedisPipeline{source: source, ingestor: ingestor, workers: workers}
}

// SetRawWriter captures every popped submission before parsing.
func (p *RedisPipeline) SetRawWriter(w RawWriter) {
	p.capture = w
}

// Run starts the pipeline loop and blocks until ctx is cancelled and every
// in-flight submission has been ingested.
func (p *RedisPipeline) Run(ctx context.Context) error {
	logger.Infof("Redis ingestion pipeline started (workers=%d)", p.workers)

	msgCh := make(chan []byte, p.workers*4)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.readLoop(ctx, msgCh)
		close(msgCh)
	}()

	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.workerLoop(msgCh)
		}()
	}

	wg.Wait()
	logger.Infof("Redis ingestion pipeline stopped")
	return ctx.Err()
}

// Close releases pipeline resources.
func (p *RedisPipeline) Close() error {
	if p.ingestor != nil && p.ingestor.emitter != nil {
		if err := p.ingestor.emitter.Close(); err != nil {
			logger.Errorf("Failed to close alert writer: %v", err)
		}
	}
	if p.capture != nil {
		if err := p.capture.Close(); err != nil {
			logger.Errorf("Failed to close replay capture: %v", err)
		}
	}
	if p.source != nil {
		return p.source.Close()
	}
	return nil
}

func (p *RedisPipeline) readLoop(ctx context.Context, out chan<- []byte) {
	for {
		if ctx.Err() != nil {
			return
		}
		payload, err := p.source.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Errorf("Failed to pop redis message: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}
		if payload == nil {
			continue
		}
		if p.capture != nil {
			if err := p.capture.WriteRawMessages([][]byte{payload}); err != nil {
				logger.Warnf("Failed to capture submission: %v", err)
			}
		}
		select {
		case out <- payload:
		case <-ctx.Done():
			return
		}
	}
}

// workerLoop ingests with a detached context so shutdown drains accepted
// submissions instead of failing them mid-write.
func (p *RedisPipeline) workerLoop(in <-chan []byte) {
	ctx := context.Background()
	for payload := range in {
		event, err := submission.Parse(payload)
		if err != nil {
			logger.Warnf("Failed to parse submission: %v", err)
			if errors.Is(err, models.ErrMissingOwner) {
				p.ingestor.metrics.IncEventsRejected("missing_owner")
			} else {
				p.ingestor.metrics.IncEventsRejected("invalid")
			}
			continue
		}
		if _, err := p.ingestor.Ingest(ctx, event.Owner, event); err != nil {
			logger.Errorf("Failed to ingest event for %s: %v", event.Owner, err)
		}
	}
}
