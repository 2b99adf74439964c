package httpmsg

import (
	"strings"

	"github.com/go-analyze/bulk"
)

// Header is a single header line. Name keeps its original casing.
type Header struct {
	Name  string
	Value string
}

// Headers is an ordered header list. Lookups are case-insensitive and
// duplicates are kept in arrival order.
type Headers []Header

// Get returns the first value for name, or "" if absent.
func (h Headers) Get(name string) string {
	v, _ := h.Lookup(name)
	return v
}

// Lookup returns the first value for name and whether it was present.
func (h Headers) Lookup(name string) (string, bool) {
	for _, hdr := range h {
		if strings.EqualFold(hdr.Name, name) {
			return hdr.Value, true
		}
	}
	return "", false
}

// Values returns every value for name in arrival order.
func (h Headers) Values(name string) []string {
	var values []string
	for _, hdr := range h {
		if strings.EqualFold(hdr.Name, name) {
			values = append(values, hdr.Value)
		}
	}
	return values
}

// HasToken reports whether any comma separated element of the name header
// equals token, ignoring case. Used for Connection and similar list headers.
func (h Headers) HasToken(name, token string) bool {
	for _, value := range h.Values(name) {
		for _, part := range strings.Split(value, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}

// Add appends a header without touching existing ones.
func (h *Headers) Add(name, value string) {
	*h = append(*h, Header{Name: name, Value: value})
}

// Set replaces the first header named name and drops any duplicates.
// The header is appended if absent.
func (h *Headers) Set(name, value string) {
	for i, hdr := range *h {
		if strings.EqualFold(hdr.Name, name) {
			(*h)[i].Value = value
			rest := (*h)[i+1:]
			rest.Remove(name)
			*h = append((*h)[:i+1], rest...)
			return
		}
	}
	h.Add(name, value)
}

// Remove removes all headers with the given name.
func (h *Headers) Remove(name string) {
	*h = bulk.SliceFilterInPlace(func(hdr Header) bool {
		return !strings.EqualFold(hdr.Name, name)
	}, *h)
}

// Clone returns a copy that can be modified independently.
func (h Headers) Clone() Headers {
	if h == nil {
		return nil
	}
	out := make(Headers, len(h))
	copy(out, h)
	return out
}

// size is the number of wire bytes the headers occupy, including CRLFs.
func (h Headers) size() int {
	n := 0
	for _, hdr := range h {
		n += len(hdr.Name) + len(hdr.Value) + 4
	}
	return n
}
