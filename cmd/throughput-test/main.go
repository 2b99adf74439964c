package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/pflag"

	"github.com/codefionn/fwdcache/fwdcache-srv/config"
	"github.com/codefionn/fwdcache/fwdcache-srv/logger"
	"github.com/codefionn/fwdcache/fwdcache-srv/proxy"
)

var (
	numRequests = pflag.Int("requests", 100, "Total number of requests to send")
	concurrency = pflag.Int("concurrency", 10, "Number of concurrent workers")
	testTimeout = pflag.Duration("timeout", 30*time.Second, "Overall test timeout")
	dataSize    = pflag.Int("data-size", 512*1024, "Size of the origin payload in bytes")
	distinct    = pflag.Int("distinct", 1, "Number of distinct URLs; fewer URLs mean more cache hits")
	cacheSize   = pflag.Int64("cache-size", 64<<20, "Proxy cache capacity in bytes")
)

type result struct {
	bytes int64
	err   error
}

func dataHandler(buf []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(buf)))
		if _, err := w.Write(buf); err != nil {
			logger.Error("failed to write data: %v", err)
		}
	}
}

func sendRequest(ctx context.Context, client *http.Client, targetURL string) result {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, http.NoBody)
	if err != nil {
		return result{0, fmt.Errorf("new request: %w", err)}
	}
	resp, err := client.Do(req)
	if err != nil {
		return result{0, fmt.Errorf("do request: %w", err)}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			logger.Error("Error closing response body: %v", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return result{0, fmt.Errorf("status %d", resp.StatusCode)}
	}
	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return result{n, fmt.Errorf("read body: %w", err)}
	}
	if n != int64(*dataSize) {
		return result{n, fmt.Errorf("read %d bytes, expected %d", n, *dataSize)}
	}
	return result{n, nil}
}

func main() {
	pflag.Parse()

	log.SetOutput(io.Discard)
	logger.SetLevel(logger.ERROR)

	ctx, cancel := context.WithTimeout(context.Background(), *testTimeout)
	defer cancel()

	buf := make([]byte, *dataSize)
	for i := range buf {
		buf[i] = 'a'
	}

	targetLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		logger.Fatal("Failed to listen for origin: %v", err)
	}
	go func() {
		if err := http.Serve(targetLn, dataHandler(buf)); err != nil {
			log.Printf("Data server error: %v", err)
		}
	}()

	cfg := config.Default()
	cfg.ListenAddress = "127.0.0.1:0"
	cfg.TimeoutSeconds = 5
	cfg.MaxObjectSize = int64(*dataSize)
	cfg.MaxCacheSize = max(*cacheSize, int64(*dataSize))
	cfg.MaxConcurrentConnections = *concurrency * 2

	p, err := proxy.NewProxy(cfg)
	if err != nil {
		logger.Fatal("Failed to create proxy: %v", err)
	}
	proxyLn, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		logger.Fatal("Failed to listen for proxy: %v", err)
	}
	go func() {
		if err := p.StartWithListener(proxyLn); err != nil {
			log.Printf("Proxy server error: %v", err)
		}
	}()
	defer func() {
		if err := p.Stop(); err != nil {
			logger.Error("Failed to stop proxy: %v", err)
		}
	}()

	proxyURL, _ := url.Parse("http://" + proxyLn.Addr().String())
	client := &http.Client{
		Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL), MaxIdleConnsPerHost: *concurrency},
		Timeout:   10 * time.Second,
	}

	jobs := make(chan string)
	results := make(chan result, *numRequests)
	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < max(*concurrency, 1); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for target := range jobs {
				results <- sendRequest(ctx, client, target)
			}
		}()
	}
	for i := 0; i < *numRequests; i++ {
		jobs <- fmt.Sprintf("http://%s/data/%d", targetLn.Addr(), i%max(*distinct, 1))
	}
	close(jobs)
	wg.Wait()
	close(results)

	success, failures, total := 0, 0, int64(0)
	var firstErr error
	for res := range results {
		if res.err != nil {
			failures++
			if firstErr == nil {
				firstErr = res.err
			}
			continue
		}
		success++
		total += res.bytes
	}
	dur := time.Since(start)
	stats := p.CacheStats()

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Duration", dur.Round(time.Millisecond)},
		{"Success", success},
		{"Errors", failures},
		{"Requests/s", fmt.Sprintf("%.2f", float64(success)/dur.Seconds())},
		{"Throughput", fmt.Sprintf("%.2f MB/s", float64(total)/dur.Seconds()/1024/1024)},
		{"Cache hits", stats.Hits},
		{"Cache misses", stats.Misses},
		{"Cache hit rate", fmt.Sprintf("%.2f%%", stats.HitRate()*100)},
	})
	t.Render()

	if failures > 0 || ctx.Err() == context.DeadlineExceeded {
		fmt.Fprintf(os.Stderr, "Test failed: timeout or errors (first error: %v)\n", firstErr)
		os.Exit(1)
	}
}
