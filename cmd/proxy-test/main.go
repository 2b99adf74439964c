package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/pflag"

	"github.com/codefionn/fwdcache/fwdcache-srv/logger"
)

// TestResult represents the outcome of a single test case.
type TestResult struct {
	Name     string        `json:"name"`
	Target   string        `json:"target"`
	Success  bool          `json:"success"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
	Status   int           `json:"status"`
	Bytes    int64         `json:"bytes"`
	Via      string        `json:"via,omitempty"`
}

// TestSuite runs requests against a proxy server.
type TestSuite struct {
	ProxyAddr string
	Timeout   time.Duration
	Client    *http.Client
	Results   []TestResult
}

func main() {
	proxyAddr := pflag.StringP("proxy", "p", "127.0.0.1:8080", "Proxy address (host:port)")
	urls := pflag.StringSliceP("url", "u", []string{"http://example.com/"}, "URL to GET through the proxy (repeatable)")
	connects := pflag.StringSlice("connect", []string{"example.com:443"}, "host:port to CONNECT to (repeatable)")
	repeat := pflag.IntP("repeat", "n", 2, "GET each URL this many times to exercise the cache")
	timeout := pflag.Int("timeout", 30, "Request timeout in seconds")
	jsonOut := pflag.Bool("json", false, "Print results as JSON instead of a table")
	verbose := pflag.BoolP("verbose", "V", false, "Enable verbose logging")
	pflag.Parse()

	logger.SetLevel(logger.INFO)
	if *verbose {
		logger.SetLevel(logger.DEBUG)
	}

	proxyURL, err := url.Parse("http://" + *proxyAddr)
	if err != nil {
		logger.Fatal("Invalid proxy address: %v", err)
	}

	suite := &TestSuite{
		ProxyAddr: *proxyAddr,
		Timeout:   time.Duration(*timeout) * time.Second,
		Client: &http.Client{
			Timeout: time.Duration(*timeout) * time.Second,
			Transport: &http.Transport{
				Proxy:             http.ProxyURL(proxyURL),
				DisableKeepAlives: true,
			},
		},
	}

	logger.Info("Starting proxy tests with proxy: %s", suite.ProxyAddr)
	for _, u := range *urls {
		for i := 1; i <= max(*repeat, 1); i++ {
			suite.Results = append(suite.Results, suite.testGet(fmt.Sprintf("get #%d", i), u))
		}
	}
	for _, target := range *connects {
		suite.Results = append(suite.Results, suite.testConnect(target))
	}

	if *jsonOut {
		suite.printJSON()
	} else {
		suite.printResults()
	}
	for _, r := range suite.Results {
		if !r.Success {
			os.Exit(1)
		}
	}
}

func (ts *TestSuite) testGet(name, target string) TestResult {
	result := TestResult{Name: name, Target: target}
	start := time.Now()
	defer func() { result.Duration = time.Since(start) }()

	resp, err := ts.Client.Get(target)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	defer resp.Body.Close()

	n, err := io.Copy(io.Discard, resp.Body)
	result.Status = resp.StatusCode
	result.Bytes = n
	result.Via = resp.Header.Get("Via")
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Success = resp.StatusCode < 400
	if !result.Success {
		result.Error = resp.Status
	}
	logger.Debug("GET %s -> %d (%d bytes)", target, resp.StatusCode, n)
	return result
}

// testConnect opens a tunnel and only checks the proxy's reply; no TLS is
// spoken over it.
func (ts *TestSuite) testConnect(target string) TestResult {
	result := TestResult{Name: "connect", Target: target}
	start := time.Now()
	defer func() { result.Duration = time.Since(start) }()

	conn, err := net.DialTimeout("tcp", ts.ProxyAddr, ts.Timeout)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(ts.Timeout))

	if _, err := fmt.Fprintf(conn, "CONNECT %s HTTP/1.1\r\nHost: %s\r\n\r\n", target, target); err != nil {
		result.Error = err.Error()
		return result
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), &http.Request{Method: http.MethodConnect})
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Status = resp.StatusCode
	result.Success = resp.StatusCode == http.StatusOK
	if !result.Success {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		result.Error = strings.TrimSpace(string(body))
	}
	logger.Debug("CONNECT %s -> %d", target, resp.StatusCode)
	return result
}

func (ts *TestSuite) printResults() {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Test", "Target", "Result", "Status", "Bytes", "Duration", "Via", "Error"})

	passed := 0
	for _, r := range ts.Results {
		outcome := text.FgRed.Sprint("FAIL")
		if r.Success {
			outcome = text.FgGreen.Sprint("PASS")
			passed++
		}
		t.AppendRow(table.Row{r.Name, r.Target, outcome, r.Status, r.Bytes, r.Duration.Round(time.Millisecond), r.Via, r.Error})
	}
	t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d/%d", passed, len(ts.Results))})
	t.Render()
}

func (ts *TestSuite) printJSON() {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(ts.Results); err != nil {
		logger.Error("Failed to encode results: %v", err)
	}
}
