package proxy

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainMatcher(t *testing.T) {
	m := NewDomainMatcher([]string{" Ads.Example.com ", "*.tracker.net", ".evil.org", ""})
	assert.Equal(t, 3, m.Len())

	tests := []struct {
		host    string
		domain  string
		matched bool
	}{
		{"ads.example.com", "ads.example.com", true},
		{"cdn.ads.example.com", "ads.example.com", true},
		{"ADS.EXAMPLE.COM", "ads.example.com", true},
		{"tracker.net", "tracker.net", true},
		{"a.b.tracker.net", "tracker.net", true},
		{"evil.org", "evil.org", true},
		{"notevil.org", "", false},
		{"example.com", "", false},
		{"ads.example.com.attacker.io", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			domain, ok := m.Match(tt.host)
			assert.Equal(t, tt.matched, ok)
			assert.Equal(t, tt.domain, domain)
		})
	}
}

func TestDomainMatcherEmpty(t *testing.T) {
	m := NewDomainMatcher(nil)
	assert.Equal(t, 0, m.Len())
	_, ok := m.Match("example.com")
	assert.False(t, ok)

	var nilMatcher *DomainMatcher
	_, ok = nilMatcher.Match("example.com")
	assert.False(t, ok)
}

func TestDomainMatcherChunked(t *testing.T) {
	domains := make([]string, 0, 25)
	for i := 0; i < 25; i++ {
		domains = append(domains, fmt.Sprintf("host%d.example", i))
	}
	m := newDomainMatcher(domains, 4)
	require.Len(t, m.trie.chunks, 7)

	for _, i := range []int{0, 3, 4, 17, 24} {
		want := fmt.Sprintf("host%d.example", i)
		domain, ok := m.Match("www." + want)
		assert.True(t, ok, want)
		assert.Equal(t, want, domain)
	}

	// A listed domain inside another label is not a match.
	_, ok := m.Match("xhost2.example")
	assert.False(t, ok)

	_, ok = m.Match("host25.example")
	assert.False(t, ok)
}
