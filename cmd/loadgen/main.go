// Load generator for exercising a running Kestrel instance.
//
// Usage:
//   go run cmd/loadgen/main.go -url http://localhost:8080 -count 1000
//
// This tool:
//   1. Generates synthetic card transactions across a pool of accounts,
//      with a configurable fraction shaped to look fraudulent
//   2. Sends each transaction to POST /fraud/triage
//   3. Labels each triage event with its known ground truth
//   4. Fetches /analytics/kpis and prints the resulting report
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// TriageRequest is the Kestrel fraud triage request format.
type TriageRequest struct {
	AccountID string  `json:"account_id"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	Merchant  string  `json:"merchant"`
	MCC       string  `json:"mcc"`
	Geo       string  `json:"geo"`
	DeviceID  string  `json:"device_id"`
	Channel   string  `json:"channel"`
}

// TriageResponse is the subset of the response the generator inspects.
type TriageResponse struct {
	EventID    string   `json:"event_id"`
	AlertScore float64  `json:"alert_score"`
	RiskBand   string   `json:"risk_band"`
	Decision   string   `json:"decision"`
	Reasons    []string `json:"explanations"`
}

// LabelRequest is the Kestrel label request format.
type LabelRequest struct {
	EventID string `json:"event_id"`
	Label   string `json:"label"`
}

// Metrics tracks load-generation results.
type Metrics struct {
	TotalSent   int64
	TotalErrors int64
	Alerts      int64
	Allows      int64
	LatencyMs   int64
}

var (
	normalMCCs   = []string{"5411", "5812", "5732", "4111", "5541"}
	riskMCCs     = []string{"4829", "6011", "7995", "5944"}
	geos         = []string{"US", "GB", "DE", "FR", "ES"}
	fraudGeos    = []string{"NG", "RU", "VN"}
	merchantPool = []string{"acme-grocer", "blue-bistro", "gadget-hut", "metro-transit", "fuel-stop"}
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	count := flag.Int("count", 1000, "Number of transactions to send")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	accounts := flag.Int("accounts", 50, "Size of the synthetic account pool")
	fraudRate := flag.Float64("fraud-rate", 0.05, "Fraction of transactions shaped as fraud")
	label := flag.Bool("label", true, "Label each event with its ground truth")
	seed := flag.Int64("seed", 42, "RNG seed")
	verbose := flag.Bool("verbose", false, "Print each triage result")
	flag.Parse()

	fmt.Println("KESTREL LOADGEN - synthetic fraud traffic")
	fmt.Printf("\nKestrel URL: %s\n", *baseURL)
	fmt.Printf("Count:       %d\n", *count)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Accounts:    %d\n", *accounts)
	fmt.Printf("Fraud rate:  %.2f\n", *fraudRate)
	fmt.Printf("Labeling:    %v\n", *label)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("Kestrel is healthy")

	rng := rand.New(rand.NewSource(*seed))
	work := make(chan TriageRequest, 100)
	truth := make(map[string]bool) // request key -> fraud-shaped
	var truthMu sync.Mutex

	metrics := &Metrics{}
	var wg sync.WaitGroup

	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for req := range work {
				start := time.Now()
				resp, err := sendTriage(client, *baseURL, req)
				atomic.AddInt64(&metrics.LatencyMs, time.Since(start).Milliseconds())
				atomic.AddInt64(&metrics.TotalSent, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if *verbose {
						fmt.Printf("ERROR: %s -> %v\n", req.AccountID, err)
					}
					continue
				}

				if resp.RiskBand == "low" {
					atomic.AddInt64(&metrics.Allows, 1)
				} else {
					atomic.AddInt64(&metrics.Alerts, 1)
				}

				if *verbose {
					fmt.Printf("%-10s | $%10.2f | %-6s | %.3f | %s\n",
						req.AccountID, req.Amount, resp.RiskBand, resp.AlertScore, resp.Decision)
				}

				if *label {
					truthMu.Lock()
					isFraud := truth[requestKey(req)]
					truthMu.Unlock()

					verdict := "genuine"
					if isFraud {
						verdict = "fraud"
					}
					if err := sendLabel(client, *baseURL, resp.EventID, verdict); err != nil && *verbose {
						fmt.Printf("LABEL ERROR: %s -> %v\n", resp.EventID, err)
					}
				}
			}
		}()
	}

	startTime := time.Now()
	for i := 0; i < *count; i++ {
		fraudShaped := rng.Float64() < *fraudRate
		req := generate(rng, *accounts, fraudShaped)

		truthMu.Lock()
		truth[requestKey(req)] = fraudShaped
		truthMu.Unlock()

		work <- req
	}
	close(work)
	wg.Wait()
	duration := time.Since(startTime)

	printResults(metrics, duration)

	if *label {
		printKPIs(*baseURL)
	}
}

func generate(rng *rand.Rand, accountPool int, fraudShaped bool) TriageRequest {
	account := fmt.Sprintf("acct-%03d", rng.Intn(accountPool))

	req := TriageRequest{
		AccountID: account,
		Amount:    20 + rng.Float64()*180,
		Currency:  "USD",
		Merchant:  merchantPool[rng.Intn(len(merchantPool))],
		MCC:       normalMCCs[rng.Intn(len(normalMCCs))],
		Geo:       geos[rng.Intn(len(geos))],
		DeviceID:  fmt.Sprintf("%s-dev-%d", account, rng.Intn(2)),
		Channel:   "pos",
	}

	if fraudShaped {
		// Large amount, high-risk MCC, novel device and geo
		req.Amount = 2000 + rng.Float64()*8000
		req.MCC = riskMCCs[rng.Intn(len(riskMCCs))]
		req.Geo = fraudGeos[rng.Intn(len(fraudGeos))]
		req.DeviceID = fmt.Sprintf("burner-%d", rng.Intn(1000000))
		req.Channel = "ecom"
	}

	return req
}

func requestKey(req TriageRequest) string {
	return fmt.Sprintf("%s|%.2f|%s", req.AccountID, req.Amount, req.DeviceID)
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

func sendTriage(client *http.Client, baseURL string, req TriageRequest) (*TriageResponse, error) {
	body, _ := json.Marshal(req)
	resp, err := client.Post(baseURL+"/fraud/triage", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(data))
	}

	var result TriageResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func sendLabel(client *http.Client, baseURL, eventID, verdict string) error {
	body, _ := json.Marshal(LabelRequest{EventID: eventID, Label: verdict})
	resp, err := client.Post(baseURL+"/fraud/label", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func printResults(m *Metrics, duration time.Duration) {
	sent := atomic.LoadInt64(&m.TotalSent)
	avgLatency := float64(0)
	if sent > 0 {
		avgLatency = float64(atomic.LoadInt64(&m.LatencyMs)) / float64(sent)
	}

	fmt.Println()
	fmt.Println("RESULTS")
	fmt.Printf("  Sent:        %d\n", sent)
	fmt.Printf("  Errors:      %d\n", atomic.LoadInt64(&m.TotalErrors))
	fmt.Printf("  Alerts:      %d\n", atomic.LoadInt64(&m.Alerts))
	fmt.Printf("  Allows:      %d\n", atomic.LoadInt64(&m.Allows))
	fmt.Printf("  Duration:    %v\n", duration.Round(time.Millisecond))
	fmt.Printf("  Avg latency: %.1f ms\n", avgLatency)
	if duration > 0 {
		fmt.Printf("  Throughput:  %.0f tx/s\n", float64(sent)/duration.Seconds())
	}
}

func printKPIs(baseURL string) {
	resp, err := http.Get(baseURL + "/analytics/kpis")
	if err != nil {
		fmt.Printf("\nKPI fetch failed: %v\n", err)
		return
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		fmt.Printf("\nKPIs: %s\n", string(data))
		return
	}
	fmt.Printf("\nKPIs:\n%s\n", pretty.String())
}
