// main.go - load test for the visit tracking endpoint
//
// Sends -n distinct client addresses -repeat times each from -c concurrent
// workers, then checks that the project's unique visitor count equals -n.
// Run it against a non production instance; production rate limits the
// tracking endpoint per address.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"
)

// LoadConfig holds the configuration for the load test
type LoadConfig struct {
	BaseURL     string
	Project     string
	Concurrency int
	Distinct    int
	Repeat      int
	Timeout     time.Duration
}

// Result captures the result of a single request
type Result struct {
	Duration   time.Duration
	StatusCode int
	Error      error
}

// LoadStats aggregates results. Only the collector goroutine writes it.
type LoadStats struct {
	TotalRequests int
	Failed        int
	StatusCodes   map[int]int
	Latencies     []time.Duration
	StartTime     time.Time
	EndTime       time.Time
}

func main() {
	baseURL := flag.String("url", "http://localhost:3000", "Base URL of the API")
	project := flag.String("project", fmt.Sprintf("loadtest-%d", time.Now().Unix()), "Project name to record visits for")
	concurrency := flag.Int("c", 20, "Number of concurrent clients")
	distinct := flag.Int("n", 500, "Number of distinct client addresses")
	repeat := flag.Int("repeat", 4, "Hits per address")
	timeout := flag.Duration("timeout", 10*time.Second, "Request timeout")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg := &LoadConfig{
		BaseURL:     *baseURL,
		Project:     *project,
		Concurrency: *concurrency,
		Distinct:    *distinct,
		Repeat:      *repeat,
		Timeout:     *timeout,
	}
	if cfg.Concurrency < 1 || cfg.Distinct < 1 || cfg.Repeat < 1 {
		fmt.Fprintln(os.Stderr, "-c, -n and -repeat must be positive")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting load test",
		slog.String("url", cfg.BaseURL+"/api/visit"),
		slog.String("project", cfg.Project),
		slog.Int("concurrency", cfg.Concurrency),
		slog.Int("distinct", cfg.Distinct),
		slog.Int("repeat", cfg.Repeat))

	stats := &LoadStats{StatusCodes: make(map[int]int), StartTime: time.Now()}
	for result := range runTest(ctx, cfg) {
		processResult(result, stats)
	}
	stats.EndTime = time.Now()
	printResults(stats)

	if ctx.Err() != nil {
		logger.Warn("Interrupted before verification")
		os.Exit(1)
	}

	client := &http.Client{Timeout: cfg.Timeout}
	got, err := fetchUniqueCount(ctx, client, cfg)
	if err != nil {
		logger.Error("Failed to read unique visitor count", slog.Any("error", err))
		os.Exit(1)
	}
	if got != int64(cfg.Distinct) {
		logger.Error("Unique visitor count mismatch",
			slog.Int64("got", got),
			slog.Int("want", cfg.Distinct))
		os.Exit(1)
	}
	logger.Info("Unique visitor count verified", slog.Int64("uniqueVisitors", got))
}

// runTest feeds every (address, hit) pair in random order to the workers and
// returns a channel for results.
func runTest(ctx context.Context, cfg *LoadConfig) <-chan Result {
	jobs := make(chan string, cfg.Concurrency)
	results := make(chan Result, cfg.Concurrency*10)

	go func() {
		defer close(jobs)
		hits := make([]string, 0, cfg.Distinct*cfg.Repeat)
		for i := 0; i < cfg.Distinct; i++ {
			for r := 0; r < cfg.Repeat; r++ {
				hits = append(hits, clientIP(i))
			}
		}
		rand.Shuffle(len(hits), func(i, j int) { hits[i], hits[j] = hits[j], hits[i] })
		for _, ip := range hits {
			select {
			case jobs <- ip:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: cfg.Timeout}
			for ip := range jobs {
				results <- sendVisit(ctx, client, cfg, ip)
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()
	return results
}

// clientIP maps i to a distinct public address. Private ranges would be
// skipped by the server's client IP resolution.
func clientIP(i int) string {
	return fmt.Sprintf("45.%d.%d.%d", (i>>16)&0xff, (i>>8)&0xff, i&0xff)
}

func sendVisit(ctx context.Context, client *http.Client, cfg *LoadConfig, ip string) Result {
	payload, err := json.Marshal(map[string]string{
		"projectName": cfg.Project,
		"userAgent":   generateUserAgent(),
	})
	if err != nil {
		return Result{Error: fmt.Errorf("failed to marshal JSON: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+"/api/visit", bytes.NewReader(payload))
	if err != nil {
		return Result{Error: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", ip)

	start := time.Now()
	resp, err := client.Do(req)
	duration := time.Since(start)
	if err != nil {
		return Result{Duration: duration, Error: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		fmt.Printf("Error response [%d]: %s\n", resp.StatusCode, string(body))
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return Result{Duration: duration, StatusCode: resp.StatusCode}
}

func fetchUniqueCount(ctx context.Context, client *http.Client, cfg *LoadConfig) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		cfg.BaseURL+"/api/visit/"+url.PathEscape(cfg.Project), nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var out struct {
		UniqueVisitors int64 `json:"uniqueVisitors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}
	return out.UniqueVisitors, nil
}

func generateUserAgent() string {
	userAgents := []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
		"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Mobile/15E148 Safari/604.1",
		"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36",
	}
	return userAgents[rand.IntN(len(userAgents))]
}

func processResult(result Result, stats *LoadStats) {
	stats.TotalRequests++
	if result.Error != nil {
		stats.Failed++
		return
	}
	stats.StatusCodes[result.StatusCode]++
	stats.Latencies = append(stats.Latencies, result.Duration)
	if result.StatusCode != http.StatusOK {
		stats.Failed++
	}
}

func printResults(stats *LoadStats) {
	elapsed := stats.EndTime.Sub(stats.StartTime)
	sort.Slice(stats.Latencies, func(i, j int) bool { return stats.Latencies[i] < stats.Latencies[j] })

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "\n%s\t%s\n", "METRIC", "VALUE")
	fmt.Fprintf(w, "%s\t%s\n", "------", "-----")
	fmt.Fprintf(w, "Duration\t%v\n", elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "Total Requests\t%d\n", stats.TotalRequests)
	fmt.Fprintf(w, "Failed Requests\t%d\n", stats.Failed)
	if elapsed > 0 {
		fmt.Fprintf(w, "Requests Per Second\t%.2f\n", float64(stats.TotalRequests)/elapsed.Seconds())
	}
	for _, p := range []float64{50, 90, 99} {
		fmt.Fprintf(w, "p%.0f Latency\t%v\n", p, percentile(stats.Latencies, p))
	}

	codes := make([]int, 0, len(stats.StatusCodes))
	for code := range stats.StatusCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Fprintf(w, "Status %d\t%d\n", code, stats.StatusCodes[code])
	}
	w.Flush()
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p / 100)
	return sorted[idx]
}
