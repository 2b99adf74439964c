package proxy

import (
	ahocorasick "github.com/BobuSumisu/aho-corasick"
	"github.com/codefionn/fwdcache/fwdcache-srv/logger"
)

// defaultTrieChunkSize bounds the number of domains compiled into one
// Aho-Corasick trie. Large blocklists are split to keep each build small.
const defaultTrieChunkSize = 2048

// chunkedTrie splits a domain list over several Aho-Corasick tries. A
// single trie is used when the list fits in one chunk.
type chunkedTrie struct {
	chunks     []*ahocorasick.Trie
	boundaries []int // index in domains of each chunk's first entry
	domains    []string
}

func newChunkedTrie(domains []string, chunkSize int) *chunkedTrie {
	if chunkSize <= 0 {
		chunkSize = defaultTrieChunkSize
	}
	ct := &chunkedTrie{domains: domains}
	for start := 0; start < len(domains); start += chunkSize {
		end := min(start+chunkSize, len(domains))
		ct.chunks = append(ct.chunks, ahocorasick.NewTrieBuilder().AddStrings(domains[start:end]).Build())
		ct.boundaries = append(ct.boundaries, start)
	}
	if len(ct.chunks) > 1 {
		logger.Info("Built chunked trie with %d domains split into %d chunks of ~%d domains each",
			len(domains), len(ct.chunks), chunkSize)
	}
	return ct
}

// each calls fn with every listed domain found in text, chunk by chunk,
// until fn returns true.
func (ct *chunkedTrie) each(text string, fn func(domain string) bool) bool {
	for i, chunk := range ct.chunks {
		for _, match := range chunk.MatchString(text) {
			if fn(ct.domains[ct.boundaries[i]+int(match.Pattern())]) {
				return true
			}
		}
	}
	return false
}
