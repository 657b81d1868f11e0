package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	json "github.com/goccy/go-json"

	"threatlog/internal/analytics"
	"threatlog/pkg/models"
)

func runAnalytics(args []string) int {
	fs := flag.NewFlagSet("analytics", flag.ContinueOnError)
	configArg := fs.String("config", "", "Config file path")
	owner := fs.String("owner", "", "Tenant to summarize")
	output := fs.String("output", "", "Optional JSONL path for the recent HIGH events")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *owner == "" {
		fmt.Fprintln(os.Stderr, "analytics: -owner is required")
		return 2
	}

	cfg, _, err := loadConfig(*configArg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}
	if err := initLogger(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return 1
	}

	ctx := context.Background()
	events, src, err := buildStore(ctx, cfg.ThreatLog.Store)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open event store: %v\n", err)
		return 1
	}
	defer events.Close()
	if src == nil {
		fmt.Fprintf(os.Stderr, "store mode %s does not support analytics\n", cfg.ThreatLog.Store.Mode)
		return 1
	}

	svc := analytics.NewService(src, cfg.ThreatLog.Analytics.TopEvents, cfg.ThreatLog.Analytics.RecentThreats)
	summary, err := svc.Summary(ctx, *owner)
	if err != nil {
		fmt.Fprintf(os.Stderr, "analytics failed: %v\n", err)
		return 1
	}

	if *output != "" {
		if err := writeJSONLines[*models.Event](*output, summary.RecentHighThreats); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write events: %v\n", err)
			return 1
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode summary: %v\n", err)
		return 1
	}
	return 0
}
