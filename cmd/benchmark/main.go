package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"

	"imgsearch/config"
	"imgsearch/internal/adapter/embedding"
	"imgsearch/internal/adapter/store"
	"imgsearch/internal/domain"
	"imgsearch/internal/usecase"
)

func main() {
	dir := flag.String("dir", ".", "Directory holding the cache and config")
	query := flag.String("q", "", "Text query to time")
	runs := flag.Int("n", 20, "Number of timed runs")
	cached := flag.Bool("cached", false, "Keep the result cache enabled")
	flag.Parse()

	if *runs < 1 {
		*runs = 1
	}

	if *query == "" {
		fmt.Println("Usage: go run ./cmd/benchmark -dir ./photos -q \"a red car\"")
		fmt.Println("\nMeasures:")
		fmt.Println("  1. Cache load time and index size")
		fmt.Println("  2. Text query latency (encode + score + rank)")
		fmt.Println("  3. Result quality (top scores, adaptive threshold)")
		os.Exit(1)
	}

	cfg, err := config.LoadFromDir(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if !*cached {
		cfg.Search.CacheSize = 0
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	encoder, err := embedding.New(cfg.Embedding)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Encoder not available: %v\n", err)
		os.Exit(1)
	}
	st, err := store.Open(cfg, *dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening cache: %v\n", err)
		os.Exit(1)
	}

	lib := usecase.NewLibrary(cfg, encoder, st, usecase.WithLogger(logger))
	defer lib.Close()

	ctx := context.Background()
	loadStart := time.Now()
	n, err := lib.LoadCache(ctx)
	loadTime := time.Since(loadStart)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading cache: %v\n", err)
		os.Exit(1)
	}
	if n == 0 {
		fmt.Fprintf(os.Stderr, "No images in %s - run 'imgsearch index' first\n", lib.CacheLocation())
		os.Exit(1)
	}

	fmt.Println("IMAGE SEARCH BENCHMARK")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("Images indexed: %d\n", n)
	fmt.Printf("Encoder: %s (%d dims)\n", encoder.ModelName(), lib.Dimension())
	fmt.Printf("Cache: %s (%s, loaded in %s)\n", lib.CacheLocation(), cfg.Cache.Backend, loadTime.Round(time.Microsecond))
	fmt.Println()

	fmt.Printf("Query: \"%s\"\n", *query)
	fmt.Println(strings.Repeat("-", 70))

	bar := progressbar.NewOptions(*runs,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("Searching"),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(os.Stderr)
		}),
	)

	var outcome domain.SearchOutcome
	latencies := make([]time.Duration, 0, *runs)
	for i := 0; i < *runs; i++ {
		start := time.Now()
		outcome, err = lib.SearchByText(ctx, *query)
		if err != nil {
			fmt.Fprintf(os.Stderr, "\nSearch error: %v\n", err)
			os.Exit(1)
		}
		latencies = append(latencies, time.Since(start))
		bar.Add(1)
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	var total time.Duration
	for _, l := range latencies {
		total += l
	}

	fmt.Printf("\nTop %d matches:\n\n", min(len(outcome.Results), 10))
	for i, r := range outcome.Results {
		if i == 10 {
			break
		}
		fmt.Printf("%2d. [%s %.3f] %s\n", i+1, rating(r.Score), r.Score, shortPath(r.Path))
	}

	fmt.Println()
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("LATENCY (%d runs):\n", len(latencies))
	fmt.Printf("  Mean: %s\n", (total / time.Duration(len(latencies))).Round(time.Microsecond))
	fmt.Printf("  p50:  %s\n", percentile(latencies, 0.50).Round(time.Microsecond))
	fmt.Printf("  p95:  %s\n", percentile(latencies, 0.95).Round(time.Microsecond))
	fmt.Printf("  Max:  %s\n", latencies[len(latencies)-1].Round(time.Microsecond))
	fmt.Printf("QUALITY:\n")
	fmt.Printf("  Results:   %d\n", len(outcome.Results))
	fmt.Printf("  Threshold: %.3f (adjusted: %v)\n", outcome.Threshold, outcome.Adjusted)
	if len(outcome.Results) > 0 {
		fmt.Printf("  Top-1:     %.3f\n", outcome.Results[0].Score)
	}
}

func rating(score float64) string {
	switch {
	case score > 0.3:
		return "HIGH"
	case score > 0.2:
		return "GOOD"
	case score > 0.1:
		return "OK"
	default:
		return "LOW"
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	i := int(float64(len(sorted)-1) * p)
	return sorted[i]
}

func shortPath(path string) string {
	dir, file := filepath.Split(path)
	parent := filepath.Base(dir)
	if parent == "." || parent == string(filepath.Separator) {
		return file
	}
	return filepath.Join(parent, file)
}
