package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"threatlog/internal/output/alertjson"
	"threatlog/internal/pipeline"
	"threatlog/internal/store/memory"
)

func runReplay(args []string) int {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	configArg := fs.String("config", "", "Config file path (detection settings only)")
	input := fs.String("input", "", "JSONL submissions to replay")
	output := fs.String("output", "output/replay_alerts.jsonl", "Alert JSONL output path")
	keepTS := fs.Bool("keep-timestamps", true, "Use submission timestamps instead of arrival time")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *input == "" {
		fmt.Fprintln(os.Stderr, "replay: -input is required")
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

	f, err := os.Open(*input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open input: %v\n", err)
		return 1
	}
	defer f.Close()

	events := memory.New(memory.Config{Retention: cfg.ThreatLog.Store.Retention})
	sink, err := alertjson.NewWriter(*output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create alert writer: %v\n", err)
		return 1
	}

	ingestor, err := buildIngestor(cfg, events, sink, nil, pipeline.IngestorConfig{KeepTimestamps: *keepTS})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build pipeline: %v\n", err)
		return 1
	}

	stats, err := pipeline.Replay(context.Background(), f, ingestor)
	if cerr := sink.Close(); cerr != nil {
		fmt.Fprintf(os.Stderr, "failed to close alert writer: %v\n", cerr)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay failed: %v\n", err)
		return 1
	}

	fmt.Printf("replayed lines=%d ingested=%d skipped=%d alerts=%d output=%s\n",
		stats.Lines, stats.Ingested, stats.Skipped, len(stats.Alerts), *output)
	return 0
}
