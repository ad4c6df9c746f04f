// Benchmark tool for testing Kestrel against labeled loan outcome data.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/applicants.csv -url http://localhost:8080
//
// This tool:
//   1. Reads applicant records from a CSV with a "defaulted" label column
//   2. Sends each record to Kestrel for scoring
//   3. Compares Kestrel's decision (REJECT vs APPROVE/REVIEW) with actual outcomes
//   4. Calculates precision, recall, F1-score, and confusion matrix
//
// Every CSV column other than "defaulted" is sent as a record field, so
// the file's header should use canonical variable names (or partner field
// names combined with the -partner flag).
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LabeledRecord is one applicant row with its known loan outcome.
type LabeledRecord struct {
	Fields    map[string]any
	Defaulted bool
}

// ScoreResponse is the subset of Kestrel's response the benchmark needs.
type ScoreResponse struct {
	ID         string  `json:"id"`
	FinalScore float64 `json:"finalScore"`
	Decision   struct {
		Bucket  string   `json:"bucket"`
		Action  string   `json:"action"`
		Reasons []string `json:"reasons,omitempty"`
	} `json:"decision"`
}

// Metrics tracks benchmark results
type Metrics struct {
	TruePositives  int64 // Defaulter rejected
	FalsePositives int64 // Good applicant rejected
	TrueNegatives  int64 // Good applicant approved or reviewed
	FalseNegatives int64 // Defaulter approved or reviewed (missed risk!)

	TotalProcessed  int64
	TotalDefaulters int64
	TotalGood       int64
	TotalErrors     int64

	ProcessingTimeMs int64
}

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to labeled applicant CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	companyID := flag.String("company", "benchmark-test", "Company ID for requests")
	partnerID := flag.String("partner", "", "Partner ID (applies that partner's field mapping)")
	limit := flag.Int("limit", 10000, "Maximum records to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	defaultersOnly := flag.Bool("defaulters-only", false, "Only test defaulted applicants")
	verbose := flag.Bool("verbose", false, "Print each record result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/applicants.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║        KESTREL BENCHMARK - Loan Default Back-Testing          ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Company ID:  %s\n", *companyID)
	if *partnerID != "" {
		fmt.Printf("Partner ID:  %s\n", *partnerID)
	}
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Println()

	// Check Kestrel is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  cd kestrel && go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	// Read labeled data
	fmt.Printf("\nReading applicant data from %s...\n", *csvPath)
	records, err := readLabeledCSV(*csvPath, *limit, *defaultersOnly)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d records\n", len(records))

	defaulterCount := 0
	for _, rec := range records {
		if rec.Defaulted {
			defaulterCount++
		}
	}
	fmt.Printf("  - Defaulted: %d (%.2f%%)\n", defaulterCount, 100*float64(defaulterCount)/float64(len(records)))
	fmt.Printf("  - Good:      %d (%.2f%%)\n", len(records)-defaulterCount, 100*float64(len(records)-defaulterCount)/float64(len(records)))

	// Run benchmark
	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(records, *baseURL, *companyID, *partnerID, *workers, *verbose)
	duration := time.Since(startTime)

	// Print results
	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func readLabeledCSV(path string, limit int, defaultersOnly bool) ([]LabeledRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	// Read header
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	labelCol := -1
	for i, col := range header {
		if strings.EqualFold(strings.TrimSpace(col), "defaulted") {
			labelCol = i
			break
		}
	}
	if labelCol < 0 {
		return nil, fmt.Errorf("CSV has no \"defaulted\" label column")
	}

	var records []LabeledRecord

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		defaulted := row[labelCol] == "1" || strings.EqualFold(row[labelCol], "true")
		if defaultersOnly && !defaulted {
			continue
		}

		// Fields go over the wire as strings; the coercion layer on the
		// server side parses them per variable data type.
		fields := make(map[string]any, len(header)-1)
		for i, col := range header {
			if i == labelCol || i >= len(row) {
				continue
			}
			if value := strings.TrimSpace(row[i]); value != "" {
				fields[strings.TrimSpace(col)] = value
			}
		}

		records = append(records, LabeledRecord{Fields: fields, Defaulted: defaulted})

		if limit > 0 && len(records) >= limit {
			break
		}
	}

	return records, nil
}

func runBenchmark(records []LabeledRecord, baseURL, companyID, partnerID string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	// Create work channel
	work := make(chan LabeledRecord, 100)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for rec := range work {
				start := time.Now()
				result, err := scoreRecord(client, baseURL, companyID, partnerID, rec)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %v\n", err)
					}
					continue
				}

				// Track actual labels
				if rec.Defaulted {
					atomic.AddInt64(&metrics.TotalDefaulters, 1)
				} else {
					atomic.AddInt64(&metrics.TotalGood, 1)
				}

				// Calculate confusion matrix
				predicted := result.Decision.Action == "REJECT"
				actual := rec.Defaulted

				if predicted && actual {
					atomic.AddInt64(&metrics.TruePositives, 1)
				} else if predicted && !actual {
					atomic.AddInt64(&metrics.FalsePositives, 1)
				} else if !predicted && !actual {
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				} else { // !predicted && actual
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					status := "✓"
					if (predicted && !actual) || (!predicted && actual) {
						status = "✗"
					}
					fmt.Printf("%s %-36s | Score: %6.2f | Defaulted: %-5v | Kestrel: %-7s (%s)\n",
						status,
						result.ID,
						result.FinalScore,
						rec.Defaulted,
						result.Decision.Action,
						result.Decision.Bucket,
					)
				}
			}
		}()
	}

	// Send work
	for _, rec := range records {
		work <- rec
	}
	close(work)

	// Wait for completion
	wg.Wait()

	return metrics
}

func scoreRecord(client *http.Client, baseURL, companyID, partnerID string, rec LabeledRecord) (*ScoreResponse, error) {
	payload := map[string]any{"record": rec.Fields}
	if partnerID != "" {
		payload["partnerId"] = partnerID
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/score", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Company-ID", companyID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result ScoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Defaulted:  %d\n", m.TotalDefaulters)
	fmt.Printf("   Total Good:       %d\n", m.TotalGood)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                  REJECT     APPROVE")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  D  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("           G  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	// Calculate metrics
	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of rejections, how many would have defaulted)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of defaulters, how many did we reject)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct decisions)\n", accuracy)

	// Detection rate analysis
	fmt.Printf("\n🔍 DETECTION ANALYSIS\n")
	if m.TotalDefaulters > 0 {
		detectionRate := float64(m.TruePositives) / float64(m.TotalDefaulters) * 100
		missRate := float64(m.FalseNegatives) / float64(m.TotalDefaulters) * 100
		fmt.Printf("   Defaulters Rejected:  %d / %d (%.2f%%)\n", m.TruePositives, m.TotalDefaulters, detectionRate)
		fmt.Printf("   Defaulters Missed:    %d / %d (%.2f%%) ⚠️\n", m.FalseNegatives, m.TotalDefaulters, missRate)
	}
	if m.TotalGood > 0 {
		falseRejectRate := float64(m.FalsePositives) / float64(m.TotalGood) * 100
		fmt.Printf("   Good Rejected:        %d / %d (%.2f%%)\n", m.FalsePositives, m.TotalGood, falseRejectRate)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f records/sec\n", tps)
	}

	// Interpretation
	fmt.Printf("\n💡 INTERPRETATION\n")
	if recall >= 0.9 {
		fmt.Println("   ✅ Excellent recall - catching most future defaulters")
	} else if recall >= 0.7 {
		fmt.Println("   ⚠️  Good recall - but some defaulters slip through")
	} else if recall >= 0.5 {
		fmt.Println("   ⚠️  Moderate recall - significant default risk being missed")
	} else {
		fmt.Println("   ❌ Poor recall - most defaulters are being approved!")
	}

	if precision >= 0.5 {
		fmt.Println("   ✅ Good precision - rejections are meaningful")
	} else if precision >= 0.2 {
		fmt.Println("   ⚠️  Low precision - many good applicants rejected")
	} else {
		fmt.Println("   ❌ Very low precision - mostly good applicants rejected")
	}

	fmt.Println()
}
