// Package cache holds complete origin responses to GET requests, keyed by
// normalized URL and bounded by total body bytes.
package cache

import (
	"net"
	"net/url"
	"strings"
	"sync"

	"github.com/codefionn/fwdcache/fwdcache-srv/httpmsg"
	"github.com/codefionn/fwdcache/fwdcache-srv/logger"
	"github.com/golang/groupcache/lru"
	"golang.org/x/net/idna"
)

// Stats is a snapshot of cache counters.
type Stats struct {
	Entries int
	Size    int64
	Hits    int64
	Misses  int64
}

// HitRate returns hits / lookups, or 0 before the first lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type item struct {
	resp *httpmsg.Response
	size int64
}

// HTTPCache is an LRU cache of responses. It is safe for concurrent use.
type HTTPCache struct {
	maxCacheSize  int64
	maxObjectSize int64

	mu     sync.Mutex
	lru    *lru.Cache
	size   int64
	hits   int64
	misses int64
}

// New creates a cache holding at most maxCacheSize body bytes, refusing
// single objects over maxObjectSize.
func New(maxCacheSize, maxObjectSize int64) *HTTPCache {
	c := &HTTPCache{
		maxCacheSize:  maxCacheSize,
		maxObjectSize: maxObjectSize,
		lru:           lru.New(0),
	}
	c.lru.OnEvicted = func(key lru.Key, value interface{}) {
		it := value.(*item)
		c.size -= it.size
		logger.Debug("Cache evicted: %v (%d bytes)", key, it.size)
	}
	return c
}

// NormalizeURL returns the cache key for an absolute URL: scheme and host
// lowercased, default ports dropped, empty path replaced by "/". The query
// is kept as sent. Unparsable input is returned unchanged.
func NormalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		scheme = "http"
	}
	host := normalizeHost(u.Hostname())
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	if port != "" {
		b.WriteString(net.JoinHostPort(host, port))
	} else if strings.Contains(host, ":") {
		b.WriteString("[" + host + "]")
	} else {
		b.WriteString(host)
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	b.WriteString(path)
	if u.RawQuery != "" || u.ForceQuery {
		b.WriteByte('?')
		b.WriteString(u.RawQuery)
	}
	return b.String()
}

func normalizeHost(host string) string {
	if net.ParseIP(host) != nil {
		return strings.ToLower(host)
	}
	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		return ascii
	}
	return strings.ToLower(host)
}

// IsCacheable reports whether resp to req may be stored: only complete
// 200 responses to GET within the object size limit.
func (c *HTTPCache) IsCacheable(req *httpmsg.Request, resp *httpmsg.Response) bool {
	if req.Method != "GET" || resp.StatusCode != 200 {
		return false
	}
	return int64(len(resp.Body)) <= c.maxObjectSize
}

// MayStore reports from the response head alone whether the response could
// be cached once its body is complete. A declared Content-Length over the
// object size limit rules it out early.
func (c *HTTPCache) MayStore(req *httpmsg.Request, head *httpmsg.Response) bool {
	if req.Method != "GET" || head.StatusCode != 200 {
		return false
	}
	if length, ok := head.ContentLength(); ok && length > c.maxObjectSize {
		return false
	}
	return true
}

// MaxObjectSize returns the largest body the cache accepts.
func (c *HTTPCache) MaxObjectSize() int64 {
	return c.maxObjectSize
}

// Get returns a copy of the cached response for key and marks it most
// recently used. Every call counts as a hit or a miss.
func (c *HTTPCache) Get(key string) (*httpmsg.Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	value, ok := c.lru.Get(key)
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	return copyResponse(value.(*item).resp), true
}

// Put stores resp under key, evicting least recently used entries until it
// fits. It reports false when the object is too large to cache at all.
func (c *HTTPCache) Put(key string, resp *httpmsg.Response) bool {
	size := int64(len(resp.Body))
	if size > c.maxObjectSize || size > c.maxCacheSize {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Remove(key)
	for c.size+size > c.maxCacheSize && c.lru.Len() > 0 {
		c.lru.RemoveOldest()
	}
	c.lru.Add(key, &item{resp: copyResponse(resp), size: size})
	c.size += size
	return true
}

// Remove drops key from the cache.
func (c *HTTPCache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}

// Clear drops every entry. Hit and miss counters are kept.
func (c *HTTPCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Clear()
	c.size = 0
}

// Stats returns the current counters.
func (c *HTTPCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries: c.lru.Len(),
		Size:    c.size,
		Hits:    c.hits,
		Misses:  c.misses,
	}
}

// copyResponse clones headers so callers may rewrite them. The body is
// shared and must be treated as read-only.
func copyResponse(resp *httpmsg.Response) *httpmsg.Response {
	dup := *resp
	dup.Headers = resp.Headers.Clone()
	return &dup
}
