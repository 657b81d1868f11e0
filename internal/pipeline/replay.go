package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"threatlog/internal/logger"
	"threatlog/internal/transform/submission"
	"threatlog/pkg/models"
)

// ReplayStats summarizes a replay run.
type ReplayStats struct {
	Lines    int
	Ingested int
	Skipped  int
	Alerts   []*models.Alert
}

// Replay ingests JSONL submissions from r in order. Undecodable lines are
// skipped; store failures stop the replay.
func Replay(ctx context.Context, r io.Reader, ing *Ingestor) (ReplayStats, error) {
	var stats ReplayStats
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Lines++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			stats.Skipped++
			continue
		}
		event, err := submission.Parse(line)
		if err != nil {
			logger.Warnf("Skipping line %d: %v", stats.Lines, err)
			stats.Skipped++
			continue
		}
		res, err := ing.Ingest(ctx, event.Owner, event)
		if err != nil {
			if errors.Is(err, models.ErrMissingOwner) {
				stats.Skipped++
				continue
			}
			return stats, fmt.Errorf("line %d: %w", stats.Lines, err)
		}
		stats.Ingested++
		stats.Alerts = append(stats.Alerts, res.Alerts...)
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("read replay input: %w", err)
	}
	return stats, nil
}
