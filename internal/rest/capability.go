package rest

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
)

const (
	headerAllow          = "Allow"
	headerAllowMethods   = "Access-Control-Allow-Methods"
	headerPaginationMax  = "X-Pagination-Limit-Max"
	headerPaginationSize = "X-Pagination-Size"
)

// Capability is what the server advertised for one resource URL.
type Capability struct {
	Allowed Method
	// MaxPageSize is the largest page the server serves; 0 when unknown.
	MaxPageSize int
}

// CapabilityFromHeaders reads an OPTIONS answer. A method is allowed only
// when both the Allow and Access-Control-Allow-Methods headers list it.
func CapabilityFromHeaders(h http.Header) Capability {
	allowed := ParseMethods(h.Values(headerAllow)...) & ParseMethods(h.Values(headerAllowMethods)...)
	return Capability{Allowed: allowed, MaxPageSize: positiveInt(h.Get(headerPaginationMax))}
}

// CapabilityCache memoizes capabilities per canonical resource URL for the
// life of the process. Entries never expire. Two goroutines probing the same
// URL at once both store their result; the last write wins.
type CapabilityCache struct {
	entries sync.Map
}

func NewCapabilityCache() *CapabilityCache {
	return &CapabilityCache{}
}

func (c *CapabilityCache) Lookup(url string) (Capability, bool) {
	v, ok := c.entries.Load(url)
	if !ok {
		return Capability{}, false
	}
	return v.(Capability), true
}

func (c *CapabilityCache) Store(url string, capability Capability) {
	c.entries.Store(url, capability)
}

// Len counts cached entries.
func (c *CapabilityCache) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func positiveInt(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return 0
	}
	return n
}
