package consensus

import lru "github.com/hashicorp/golang-lru/v2"

// rejectionCache remembers recently rejected hashes so a peer re-offering a
// block the tree already threw away fails fast. It is purely an
// optimisation: the tree's own ParentNotFound/ForkTooDeep checks would
// eventually reject the same hash anyway once its ancestors age out, so an
// LRU (rather than the tree's own block map) is the right structure here —
// bounded, evict-anything, no correctness dependency on what it holds.
type rejectionCache struct {
	c *lru.Cache[BlockHash, struct{}]
}

func newRejectionCache(size int) *rejectionCache {
	c, err := lru.New[BlockHash, struct{}](size)
	if err != nil {
		// Only returns an error for a non-positive size, which never
		// happens with the constant callers in this package.
		panic(err)
	}
	return &rejectionCache{c: c}
}

func (r *rejectionCache) add(hash BlockHash) { r.c.Add(hash, struct{}{}) }

func (r *rejectionCache) contains(hash BlockHash) bool { return r.c.Contains(hash) }
