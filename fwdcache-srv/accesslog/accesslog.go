// Package accesslog writes one Common Log Format style line per proxied
// transaction.
package accesslog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TimeFormat is the bracketed timestamp layout of a log line.
const TimeFormat = "02/Jan/2006:15:04:05 -0700"

// CacheStatus marks how a GET was served.
type CacheStatus string

const (
	CacheHit  CacheStatus = "H"
	CacheMiss CacheStatus = "M"
	CacheNone CacheStatus = "-" // not a GET, or never reached the cache
)

// Entry is one transaction.
type Entry struct {
	ClientIP    string
	ClientPort  int
	Cache       CacheStatus
	RequestLine string // empty for unparsable requests
	Status      int
	Bytes       int64 // response bytes written to the client
	Time        time.Time
}

// Format renders e as:
//
//	host port cache [dd/Mon/yyyy:HH:MM:SS zone] "request" status bytes
func (e Entry) Format() string {
	cache := e.Cache
	if cache == "" {
		cache = CacheNone
	}
	ts := e.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return fmt.Sprintf("%s %d %s [%s] %q %d %d",
		e.ClientIP, e.ClientPort, cache, ts.Format(TimeFormat), e.RequestLine, e.Status, e.Bytes)
}

// Logger serializes entries to a writer. A nil *Logger discards entries.
type Logger struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
}

// New returns a Logger writing to w.
func New(w io.Writer) *Logger {
	return &Logger{w: w}
}

// Open returns a Logger for path. An empty path disables logging and "-"
// writes to stdout; anything else is opened for appending.
func Open(path string) (*Logger, error) {
	switch path {
	case "":
		return nil, nil
	case "-":
		return New(os.Stdout), nil
	}
	f, err := os.OpenFile(filepath.Clean(path), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("failed to open access log %q: %w", path, err)
	}
	return &Logger{w: f, closer: f}, nil
}

// Log writes e as one line.
func (l *Logger) Log(e Entry) error {
	if l == nil {
		return nil
	}
	line := e.Format() + "\n"
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := io.WriteString(l.w, line)
	return err
}

// Close closes the underlying file, if Open created one.
func (l *Logger) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
