package main

import (
	"bufio"
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	inputredis "threatlog/internal/input/redis"
)

func runSubmit(args []string) int {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	configArg := fs.String("config", "", "Config file path")
	input := fs.String("input", "-", "JSONL submissions to enqueue (- for stdin)")
	batch := fs.Int("batch", 500, "Messages per RPUSH")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, _, err := loadConfig(*configArg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	var r io.Reader = os.Stdin
	if *input != "-" {
		f, err := os.Open(*input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open input: %v\n", err)
			return 1
		}
		defer f.Close()
		r = f
	}

	q, err := inputredis.NewConsumer(inputredis.Config{
		Addr:     cfg.ThreatLog.Input.Redis.Addr,
		Password: cfg.ThreatLog.Input.Redis.Password,
		DB:       cfg.ThreatLog.Input.Redis.DB,
		Key:      cfg.ThreatLog.Input.Redis.Key,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to redis: %v\n", err)
		return 1
	}
	defer q.Close()

	ctx := context.Background()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	pending := make([][]byte, 0, *batch)
	total := 0
	flush := func() error {
		if err := q.Push(ctx, pending...); err != nil {
			return err
		}
		total += len(pending)
		pending = pending[:0]
		return nil
	}
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		pending = append(pending, append([]byte(nil), line...))
		if len(pending) >= *batch {
			if err := flush(); err != nil {
				fmt.Fprintf(os.Stderr, "failed to enqueue: %v\n", err)
				return 1
			}
		}
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to read input: %v\n", err)
		return 1
	}
	if err := flush(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to enqueue: %v\n", err)
		return 1
	}

	fmt.Printf("enqueued=%d key=%s\n", total, cfg.ThreatLog.Input.Redis.Key)
	return 0
}
