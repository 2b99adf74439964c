package proxy

import (
	"strings"

	"github.com/codefionn/fwdcache/fwdcache-srv/logger"
)

// DomainMatcher matches hosts against a domain list. A host matches when it
// equals a listed domain or is a subdomain of one.
type DomainMatcher struct {
	trie    *chunkedTrie
	domains []string
}

// NewDomainMatcher builds a matcher over domains. Entries are trimmed,
// lowercased and stripped of a leading "." or "*.".
func NewDomainMatcher(domains []string) *DomainMatcher {
	return newDomainMatcher(domains, defaultTrieChunkSize)
}

func newDomainMatcher(domains []string, chunkSize int) *DomainMatcher {
	cleaned := make([]string, 0, len(domains))
	for _, domain := range domains {
		domain = strings.ToLower(strings.TrimSpace(domain))
		domain = strings.TrimPrefix(domain, "*")
		domain = strings.TrimPrefix(domain, ".")
		if domain == "" {
			continue
		}
		cleaned = append(cleaned, normalizeHost(domain))
	}
	m := &DomainMatcher{domains: cleaned}
	if len(cleaned) > 0 {
		m.trie = newChunkedTrie(cleaned, chunkSize)
		logger.Debug("Compiled blocklist with %d domains", len(cleaned))
	}
	return m
}

// Len returns the number of domains in the matcher.
func (m *DomainMatcher) Len() int {
	if m == nil {
		return 0
	}
	return len(m.domains)
}

// Match returns the listed domain host falls under, if any.
func (m *DomainMatcher) Match(host string) (string, bool) {
	if m == nil || m.trie == nil {
		return "", false
	}
	host = normalizeHost(host)
	var matched string
	m.trie.each(host, func(domain string) bool {
		if !strings.HasSuffix(host, domain) {
			return false
		}
		if len(host) == len(domain) || host[len(host)-len(domain)-1] == '.' {
			matched = domain
			return true
		}
		return false
	})
	return matched, matched != ""
}
