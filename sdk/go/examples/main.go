package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"Orchestra-Engine/sdk/go/orchd"
)

const demoPlan = `
id: sdk-demo
levels:
  - id: fan-out
    type: transcendent
    range: {from: 1, to: 20}
    chunk_size: 5
    parallel: true
    task:
      handler: sum
  - id: total
    type: sequential
    tasks:
      - handler: sum
`

func main() {
	addr := flag.String("addr", "http://127.0.0.1:8080", "orchd API 地址")
	flag.Parse()

	client, err := orchd.NewClient(*addr, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := client.SubmitDocument(ctx, []byte(demoPlan), orchd.FormatYAML)
	var execErr *orchd.ExecutionError
	switch {
	case errors.As(err, &execErr):
		fmt.Printf("orchestration %s failed: %v\n", result.ID, execErr)
	case err != nil:
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	default:
		fmt.Printf("orchestration %s output=%v quality=%.2f\n", result.ID, result.Output, result.QualityScore)
	}

	stats, err := client.Stats(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("history: total=%d failed=%d\n", stats.Total, stats.Failed)
}
