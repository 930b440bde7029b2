// Command loadtest drives concurrent chat traffic at a running gateway and
// reports latency percentiles and status-code counts. Its main use is sizing
// the admission ceiling: push the concurrency past the configured maximum and
// watch the 429 rate instead of the latency tail.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type Config struct {
	BaseURL     string
	APIKey      string
	Concurrency int
	Duration    time.Duration
	Questions   []string
}

type Stats struct {
	totalRequests atomic.Int64
	successCount  atomic.Int64
	rejectedCount atomic.Int64
	errorCount    atomic.Int64
	latencies     []time.Duration
	latenciesMu   sync.Mutex
	statusCodes   map[int]*atomic.Int64
	statusCodesMu sync.Mutex
}

func NewStats() *Stats {
	return &Stats{
		latencies:   make([]time.Duration, 0, 100000),
		statusCodes: make(map[int]*atomic.Int64),
	}
}

func (s *Stats) RecordRequest(duration time.Duration, statusCode int, err error) {
	s.totalRequests.Add(1)

	switch {
	case err != nil:
		s.errorCount.Add(1)
		return
	case statusCode == http.StatusTooManyRequests:
		s.rejectedCount.Add(1)
	case statusCode >= 200 && statusCode < 300:
		s.successCount.Add(1)
	default:
		s.errorCount.Add(1)
	}

	s.latenciesMu.Lock()
	s.latencies = append(s.latencies, duration)
	s.latenciesMu.Unlock()

	s.statusCodesMu.Lock()
	if _, ok := s.statusCodes[statusCode]; !ok {
		s.statusCodes[statusCode] = &atomic.Int64{}
	}
	s.statusCodes[statusCode].Add(1)
	s.statusCodesMu.Unlock()
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the gateway")
	apiKey := flag.String("api-key", "", "API key, if the gateway requires one")
	concurrency := flag.Int("concurrency", 40, "number of concurrent workers")
	duration := flag.Duration("duration", 60*time.Second, "test duration")
	maxTokens := flag.Int("max-tokens", 64, "completion size per request")
	flag.Parse()

	questions := []string{
		"What is the termination notice period?",
		"Which party bears liability for data loss?",
		"Summarize the revenue recognition policy.",
		"What are the renewal terms of the agreement?",
		"Who are the named signatories?",
		"What does the force majeure clause cover?",
		"List the reporting obligations after closing.",
		"What is the governing law of the contract?",
		"How is confidential information defined?",
		"What warranties survive termination?",
		"Describe the escalation procedure for disputes.",
		"What were the operating expenses last quarter?",
	}

	cfg := Config{
		BaseURL:     *baseURL,
		APIKey:      *apiKey,
		Concurrency: *concurrency,
		Duration:    *duration,
		Questions:   questions,
	}

	fmt.Println("=== RAG Gateway Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Questions:   %d unique\n", len(cfg.Questions))
	fmt.Println()

	stats := runLoadTest(cfg, *maxTokens)
	printReport(stats, cfg.Duration)
}

func runLoadTest(cfg Config, maxTokens int) *Stats {
	stats := NewStats()
	client := &http.Client{
		Timeout: 5 * time.Minute,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	fmt.Print("Running")

	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			questionIdx := workerID

			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				question := cfg.Questions[questionIdx%len(cfg.Questions)]
				questionIdx++

				body, err := json.Marshal(map[string]any{
					"question":   question,
					"max_tokens": maxTokens,
				})
				if err != nil {
					panic(fmt.Sprintf("marshaling request: %v", err))
				}

				req, err := http.NewRequestWithContext(ctx, http.MethodPost,
					cfg.BaseURL+"/api/v1/chat", bytes.NewReader(body))
				if err != nil {
					panic(fmt.Sprintf("creating request: %v", err))
				}
				req.Header.Set("Content-Type", "application/json")
				if cfg.APIKey != "" {
					req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
				}

				start := time.Now()
				resp, err := client.Do(req)
				elapsed := time.Since(start)

				if err != nil {
					if ctx.Err() != nil {
						return
					}
					stats.RecordRequest(elapsed, 0, err)
					continue
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()

				stats.RecordRequest(elapsed, resp.StatusCode, nil)
			}
		}(w)
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	wg.Wait()
	fmt.Println(" done!")
	fmt.Println()
	return stats
}

func printReport(stats *Stats, duration time.Duration) {
	total := stats.totalRequests.Load()
	success := stats.successCount.Load()
	rejected := stats.rejectedCount.Load()
	errors := stats.errorCount.Load()

	fmt.Println("=== Results ===")
	fmt.Printf("Total Requests:  %d\n", total)
	fmt.Printf("Successful:      %d\n", success)
	fmt.Printf("Rejected (429):  %d\n", rejected)
	fmt.Printf("Errors:          %d\n", errors)

	if total > 0 {
		fmt.Printf("Rejection Rate:  %.2f%%\n", float64(rejected)/float64(total)*100)
		fmt.Printf("Error Rate:      %.2f%%\n", float64(errors)/float64(total)*100)
		fmt.Printf("Requests/sec:    %.2f\n", float64(total)/duration.Seconds())
	}

	stats.latenciesMu.Lock()
	latencies := make([]time.Duration, len(stats.latencies))
	copy(latencies, stats.latencies)
	stats.latenciesMu.Unlock()

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool {
			return latencies[i] < latencies[j]
		})

		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avg := sum / time.Duration(len(latencies))

		fmt.Println()
		fmt.Println("=== Latency ===")
		fmt.Printf("Average:         %s\n", avg.Round(time.Millisecond))
		fmt.Printf("p50:             %s\n", percentile(latencies, 50).Round(time.Millisecond))
		fmt.Printf("p90:             %s\n", percentile(latencies, 90).Round(time.Millisecond))
		fmt.Printf("p99:             %s\n", percentile(latencies, 99).Round(time.Millisecond))
		fmt.Printf("Max:             %s\n", latencies[len(latencies)-1].Round(time.Millisecond))
	}

	stats.statusCodesMu.Lock()
	defer stats.statusCodesMu.Unlock()
	if len(stats.statusCodes) > 0 {
		fmt.Println()
		fmt.Println("=== Status Codes ===")
		codes := make([]int, 0, len(stats.statusCodes))
		for code := range stats.statusCodes {
			codes = append(codes, code)
		}
		sort.Ints(codes)
		for _, code := range codes {
			fmt.Printf("%d: %d\n", code, stats.statusCodes[code].Load())
		}
	}

	if errors > 0 {
		os.Exit(1)
	}
}

// percentile assumes latencies are sorted ascending.
func percentile(latencies []time.Duration, p float64) time.Duration {
	idx := int(math.Ceil(p/100*float64(len(latencies)))) - 1
	if idx < 0 {
		idx = 0
	}
	return latencies[idx]
}
