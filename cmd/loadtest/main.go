package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/erain9/bazaarbook/pkg/core"
	"golang.org/x/time/rate"
)

// latencies are recorded in microseconds up to one minute
const (
	minLatency = 1
	maxLatency = int64(time.Minute / time.Microsecond)
	sigFigs    = 3
)

type options struct {
	addr     string
	workers  int
	requests int
	rps      float64
	items    int
	users    int
}

type result struct {
	hist     *hdrhistogram.Histogram
	failures int64
	elapsed  time.Duration
}

func main() {
	opts := options{}
	flag.StringVar(&opts.addr, "addr", "http://localhost:8080", "Server base URL")
	flag.IntVar(&opts.workers, "workers", 32, "Concurrent workers")
	flag.IntVar(&opts.requests, "requests", 100, "Requests per worker")
	flag.Float64Var(&opts.rps, "rps", 500, "Total requests per second")
	flag.IntVar(&opts.items, "items", 20, "Distinct item tags")
	flag.IntVar(&opts.users, "users", 200, "Distinct users placing orders")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	log.Printf("Starting %d workers, %d requests per worker at %.0f req/s...", opts.workers, opts.requests, opts.rps)
	res := run(ctx, opts, &http.Client{Timeout: 10 * time.Second})
	report(os.Stdout, opts, res)
	if res.failures > 0 {
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, client *http.Client) result {
	limiter := rate.NewLimiter(rate.Limit(opts.rps), opts.workers)
	total := hdrhistogram.New(minLatency, maxLatency, sigFigs)
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		failures atomic.Int64
	)

	start := time.Now()
	for i := 0; i < opts.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
			hist := hdrhistogram.New(minLatency, maxLatency, sigFigs)
			for j := 0; j < opts.requests; j++ {
				if err := limiter.Wait(ctx); err != nil {
					break
				}
				path, body := nextRequest(r, opts)
				began := time.Now()
				if err := post(ctx, client, opts.addr+path, body); err != nil {
					failures.Add(1)
					continue
				}
				_ = hist.RecordValue(time.Since(began).Microseconds())
			}
			mu.Lock()
			total.Merge(hist)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	return result{hist: total, failures: failures.Load(), elapsed: time.Since(start)}
}

// nextRequest alternates user orders with delta updates, mirroring live traffic
func nextRequest(r *rand.Rand, opts options) (string, any) {
	item := fmt.Sprintf("LOADTEST_ITEM_%d", r.Intn(opts.items))
	isSell := r.Intn(2) == 0
	price := 100 + r.Float64()*10

	if r.Intn(4) == 0 {
		update := &core.OrderBookUpdate{ItemTag: item, Timestamp: time.Now().UTC()}
		for k := 0; k < 5; k++ {
			entry := &core.Order{PricePerUnit: price + float64(k)/10, Amount: int64(1 + r.Intn(640))}
			if isSell {
				update.SellOrders = append(update.SellOrders, entry)
			} else {
				update.BuyOrders = append(update.BuyOrders, entry)
			}
		}
		return "/orderbook/update", update
	}

	user := fmt.Sprintf("user-%d", r.Intn(opts.users))
	return "/orderbook", &core.Order{
		ItemID:       item,
		IsSell:       isSell,
		UserID:       core.StringPtr(user),
		PlayerName:   core.StringPtr(user),
		PricePerUnit: price,
		Amount:       int64(1 + r.Intn(64)),
		Timestamp:    time.Now().UTC(),
	}
}

func post(ctx context.Context, client *http.Client, url string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}

func report(w io.Writer, opts options, res result) {
	count := res.hist.TotalCount()
	fmt.Fprintf(w, "Load test completed in %v\n", res.elapsed)
	fmt.Fprintf(w, "Requests attempted: %d\n", opts.workers*opts.requests)
	fmt.Fprintf(w, "Succeeded: %d  Failed: %d\n", count, res.failures)
	if res.elapsed > 0 {
		fmt.Fprintf(w, "Throughput: %.1f req/s\n", float64(count)/res.elapsed.Seconds())
	}
	fmt.Fprintf(w, "Latency (us): mean=%.0f p50=%d p90=%d p99=%d p99.9=%d max=%d\n",
		res.hist.Mean(),
		res.hist.ValueAtQuantile(50),
		res.hist.ValueAtQuantile(90),
		res.hist.ValueAtQuantile(99),
		res.hist.ValueAtQuantile(99.9),
		res.hist.Max(),
	)
}
