// Replay tool for driving Kestrel with recorded submissions.
//
// Usage:
//   go run ./cmd/replay -file submissions.ndjson -url http://localhost:8080
//
// This tool:
//   1. Reads newline-delimited JSON submissions
//   2. Posts each one to POST /submissions with a concurrent worker pool
//   3. Polls GET /fraud-detections until every accepted submission is scored
//   4. Prints the severity distribution and mean total score
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// QueuedResponse mirrors the body returned by POST /submissions.
type QueuedResponse struct {
	SubmissionID string `json:"submissionId"`
	JobID        string `json:"jobId"`
	Queued       bool   `json:"queued"`
}

// Detection holds the fields of a detection the report needs.
type Detection struct {
	ID           string  `json:"id"`
	SubmissionID string  `json:"submissionId"`
	TotalScore   float64 `json:"totalScore"`
	Severity     string  `json:"severity"`
}

type detectionPage struct {
	Data     []Detection `json:"data"`
	Total    int         `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"pageSize"`
}

// Metrics tracks replay results.
type Metrics struct {
	TotalSent       int64
	TotalQueued     int64
	TotalDuplicates int64
	TotalErrors     int64

	PostTimeMs int64
}

type client struct {
	http    *http.Client
	baseURL string
	userID  string
	role    string
}

func main() {
	path := flag.String("file", "", "Path to newline-delimited JSON submissions")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	userID := flag.String("user", "replay", "Value sent as X-User-ID")
	role := flag.String("role", "super_admin", "Value sent as X-User-Role")
	wait := flag.Duration("wait", 2*time.Minute, "How long to poll for detections")
	verbose := flag.Bool("verbose", false, "Print each submission result")
	flag.Parse()

	if *path == "" {
		fmt.Println("Usage: replay -file submissions.ndjson [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}
	if *workers < 1 {
		*workers = 1
	}

	fmt.Println("KESTREL REPLAY")
	fmt.Printf("\nFile:     %s\n", *path)
	fmt.Printf("URL:      %s\n", *baseURL)
	fmt.Printf("User:     %s (%s)\n", *userID, *role)
	fmt.Printf("Workers:  %d\n", *workers)
	fmt.Println()

	c := &client{
		http:    &http.Client{Timeout: 10 * time.Second},
		baseURL: *baseURL,
		userID:  *userID,
		role:    *role,
	}

	if err := checkHealth(c); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		os.Exit(1)
	}
	fmt.Println("Kestrel is healthy")

	lines, err := readSubmissions(*path)
	if err != nil {
		fmt.Printf("ERROR: failed to read submissions: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d submissions\n", len(lines))

	startTime := time.Now().UTC().Add(-time.Second)
	metrics, ids := replay(c, lines, *workers, *verbose)
	postDuration := time.Since(startTime)

	fmt.Printf("\nWaiting up to %v for detections...\n", *wait)
	dets, err := awaitDetections(c, ids, startTime, *wait)
	if err != nil {
		fmt.Printf("ERROR: failed to poll detections: %v\n", err)
	}

	printResults(metrics, dets, len(ids), postDuration)
}

func checkHealth(c *client) error {
	resp, err := c.http.Get(c.baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func readSubmissions(path string) ([]json.RawMessage, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []json.RawMessage
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			fmt.Printf("skipping line %d: invalid JSON\n", lineNo)
			continue
		}
		lines = append(lines, append(json.RawMessage(nil), line...))
	}
	return lines, scanner.Err()
}

// replay posts every line and returns the ids of submissions the server
// accepted, whether newly queued or already queued.
func replay(c *client, lines []json.RawMessage, numWorkers int, verbose bool) (*Metrics, map[string]struct{}) {
	metrics := &Metrics{}
	ids := make(map[string]struct{}, len(lines))
	var mu sync.Mutex

	work := make(chan json.RawMessage, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for body := range work {
				start := time.Now()
				res, err := c.postSubmission(body)
				atomic.AddInt64(&metrics.PostTimeMs, time.Since(start).Milliseconds())
				atomic.AddInt64(&metrics.TotalSent, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %v\n", err)
					}
					continue
				}
				if res.Queued {
					atomic.AddInt64(&metrics.TotalQueued, 1)
				} else {
					atomic.AddInt64(&metrics.TotalDuplicates, 1)
				}

				mu.Lock()
				ids[res.SubmissionID] = struct{}{}
				mu.Unlock()

				if verbose {
					fmt.Printf("%-36s queued=%v job=%s\n", res.SubmissionID, res.Queued, res.JobID)
				}
			}
		}()
	}

	for _, line := range lines {
		work <- line
	}
	close(work)
	wg.Wait()

	return metrics, ids
}

func (c *client) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("X-User-ID", c.userID)
	req.Header.Set("X-User-Role", c.role)
	return c.http.Do(req)
}

func (c *client) postSubmission(body []byte) (*QueuedResponse, error) {
	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/submissions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result QueuedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// awaitDetections polls the detection list until every id has a detection
// computed since `since`, or the wait elapses. The newest detection of each
// submission wins.
func awaitDetections(c *client, ids map[string]struct{}, since time.Time, wait time.Duration) (map[string]Detection, error) {
	found := make(map[string]Detection, len(ids))
	deadline := time.Now().Add(wait)

	for {
		all, err := c.listDetections(since)
		if err != nil {
			return found, err
		}
		for _, d := range all {
			if _, ok := ids[d.SubmissionID]; !ok {
				continue
			}
			if _, seen := found[d.SubmissionID]; !seen {
				found[d.SubmissionID] = d
			}
		}
		if len(found) >= len(ids) || time.Now().After(deadline) {
			return found, nil
		}
		fmt.Printf("  %d / %d scored\n", len(found), len(ids))
		time.Sleep(time.Second)
	}
}

func (c *client) listDetections(since time.Time) ([]Detection, error) {
	var all []Detection
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("page", strconv.Itoa(page))
		q.Set("pageSize", "100")
		q.Set("dateFrom", since.Format(time.RFC3339))

		req, err := http.NewRequest(http.MethodGet, c.baseURL+"/fraud-detections?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.do(req)
		if err != nil {
			return nil, err
		}
		var p detectionPage
		err = func() error {
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("status %d", resp.StatusCode)
			}
			return json.NewDecoder(resp.Body).Decode(&p)
		}()
		if err != nil {
			return nil, err
		}

		all = append(all, p.Data...)
		if len(p.Data) == 0 || page*p.PageSize >= p.Total {
			return all, nil
		}
	}
}

var severityOrder = map[string]int{"clean": 0, "low": 1, "medium": 2, "high": 3, "critical": 4}

func printResults(m *Metrics, dets map[string]Detection, accepted int, duration time.Duration) {
	fmt.Println("\nREPLAY RESULTS")

	fmt.Printf("\nSUBMISSIONS\n")
	fmt.Printf("   Sent:        %d\n", m.TotalSent)
	fmt.Printf("   Queued:      %d\n", m.TotalQueued)
	fmt.Printf("   Duplicates:  %d\n", m.TotalDuplicates)
	fmt.Printf("   Errors:      %d\n", m.TotalErrors)

	counts := make(map[string]int)
	var sum float64
	for _, d := range dets {
		counts[d.Severity]++
		sum += d.TotalScore
	}

	severities := make([]string, 0, len(counts))
	for s := range counts {
		severities = append(severities, s)
	}
	sort.Slice(severities, func(i, j int) bool {
		return severityOrder[severities[i]] < severityOrder[severities[j]]
	})

	fmt.Printf("\nSEVERITY DISTRIBUTION (%d of %d scored)\n", len(dets), accepted)
	for _, s := range severities {
		fmt.Printf("   %-9s %6d  (%.2f%%)\n", s, counts[s], 100*float64(counts[s])/float64(len(dets)))
	}
	if len(dets) > 0 {
		fmt.Printf("\n   Mean score: %.2f\n", sum/float64(len(dets)))
	}

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Post Duration:  %v\n", duration.Round(time.Millisecond))
	if m.TotalSent > 0 {
		fmt.Printf("   Avg Latency:    %.2f ms\n", float64(m.PostTimeMs)/float64(m.TotalSent))
		fmt.Printf("   Throughput:     %.2f submissions/sec\n", float64(m.TotalSent)/duration.Seconds())
	}
	fmt.Println()
}
