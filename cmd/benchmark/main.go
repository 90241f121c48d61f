// Benchmark replays the PaySim dataset against a running Sentinel.
//
// Usage:
//
//	go run ./cmd/benchmark -csv /path/to/paysim.csv -url http://localhost:8080
//
// Every selected row is scored through POST /transactions. A raised alert is a
// positive prediction and is compared against the row's isFraud label.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"
)

type options struct {
	baseURL   string
	runID     string
	workers   int
	verbose   bool
	maxTries  uint64
	clientTTL time.Duration
}

func main() {
	csvPath := flag.String("csv", "", "Path to PaySim CSV file")
	limit := flag.Int("limit", 10000, "Maximum rows to score (0 = all)")
	fraudOnly := flag.Bool("fraud-only", false, "Only score fraud rows")
	sampleRate := flag.Float64("sample", 1.0, "Fraction of non-fraud rows to keep (0.0-1.0)")

	var opts options
	flag.StringVar(&opts.baseURL, "url", "http://localhost:8080", "Sentinel base URL")
	flag.StringVar(&opts.runID, "run", fmt.Sprintf("bench-%d", time.Now().Unix()), "Transaction id prefix; reuse it to replay a run")
	flag.IntVar(&opts.workers, "workers", 10, "Concurrent requests")
	flag.BoolVar(&opts.verbose, "verbose", false, "Print every scored row")
	flag.Uint64Var(&opts.maxTries, "retries", 3, "Retries for 503 responses")
	flag.DurationVar(&opts.clientTTL, "timeout", 10*time.Second, "Per-request timeout")
	flag.Parse()

	if *csvPath == "" {
		fmt.Fprintln(os.Stderr, "usage: benchmark -csv /path/to/paysim.csv [flags]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	client := &http.Client{Timeout: opts.clientTTL}
	if err := checkHealth(client, opts.baseURL); err != nil {
		fmt.Fprintf(os.Stderr, "sentinel not reachable at %s: %v\n", opts.baseURL, err)
		os.Exit(1)
	}

	rows, skipped, err := loadPaySim(*csvPath, selection{
		limit:      *limit,
		fraudOnly:  *fraudOnly,
		sampleRate: *sampleRate,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read %s: %v\n", *csvPath, err)
		os.Exit(1)
	}
	fmt.Printf("loaded %d rows from %s (%d malformed skipped), run %s\n", len(rows), *csvPath, skipped, opts.runID)

	start := time.Now()
	result := run(client, rows, opts)
	report(os.Stdout, result, time.Since(start))
}

func checkHealth(client *http.Client, baseURL string) error {
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// run fans rows out to opts.workers goroutines and tallies the outcome.
func run(client *http.Client, rows []paySimRow, opts options) *confusion {
	c := &confusion{}
	work := make(chan paySimRow)

	var wg sync.WaitGroup
	for i := 0; i < opts.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for row := range work {
				began := time.Now()
				res, err := score(client, opts, row)
				elapsed := time.Since(began)
				if err != nil {
					c.fail(elapsed)
					if opts.verbose {
						fmt.Printf("row %d: %v\n", row.Line, err)
					}
					continue
				}

				predicted := res.Alert != nil
				c.record(row.IsFraud, predicted, elapsed)
				if opts.verbose {
					fmt.Printf("row %-8d %-8s %14s fraud=%-5v alert=%-5v drained=%-5v %s %.2f\n",
						row.Line, row.Type, row.Amount.StringFixed(2), row.IsFraud, predicted, row.drained(),
						res.Scored.Scores.RiskLevel, res.Scored.Scores.FinalRiskScore)
				}
			}
		}()
	}

	for _, row := range rows {
		work <- row
	}
	close(work)
	wg.Wait()

	return c
}
