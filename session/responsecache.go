package session

import "github.com/rsmraft/engine/rsm"

// ResponseCache maps a session's command sequence numbers to their cached
// Result, so a retried COMMAND returns a bit-identical response instead of
// being re-applied (SPEC_FULL.md §4.2, invariant 3).
type ResponseCache struct {
	bySequence map[rsm.Sequence]rsm.Result
}

// NewResponseCache returns an empty cache.
func NewResponseCache() *ResponseCache {
	return &ResponseCache{bySequence: make(map[rsm.Sequence]rsm.Result)}
}

// Put caches result under sequence q, overwriting any previous entry.
func (c *ResponseCache) Put(q rsm.Sequence, result rsm.Result) {
	c.bySequence[q] = result
}

// Get returns the cached result for q, if any.
func (c *ResponseCache) Get(q rsm.Sequence) (rsm.Result, bool) {
	r, ok := c.bySequence[q]
	return r, ok
}

// EvictBelow removes every cached entry whose sequence is strictly less
// than clearedSequence.
func (c *ResponseCache) EvictBelow(clearedSequence rsm.Sequence) {
	for q := range c.bySequence {
		if q < clearedSequence {
			delete(c.bySequence, q)
		}
	}
}

// Len reports how many cached responses remain.
func (c *ResponseCache) Len() int {
	return len(c.bySequence)
}
