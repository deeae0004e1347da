package testutil

import (
	"fmt"
	"sync"
)

// SequentialAddressGenerator produces predictable proxy addresses for tests.
//
// This enables deterministic test execution and golden snapshot comparison:
// the same scenario always deploys proxies at the same addresses.
//
// Thread-safety: safe for concurrent use via internal mutex.
type SequentialAddressGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialAddressGenerator creates a generator yielding prefix-1, prefix-2, ...
//
// If prefix is empty, "proxy" is used.
func NewSequentialAddressGenerator(prefix string) *SequentialAddressGenerator {
	if prefix == "" {
		prefix = "proxy"
	}
	return &SequentialAddressGenerator{prefix: prefix}
}

// Generate returns the next address.
func (g *SequentialAddressGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
