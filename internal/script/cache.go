package script

import (
	"container/list"
	"crypto/sha256"
	"sync"
)

type (
	// chunkCache keeps the most recently used compiled chunks, keyed by a
	// digest of their source
	chunkCache struct {
		chunks  map[chunkKey]*list.Element
		lru     *list.List
		maxSize int
		mu      sync.Mutex
	}

	chunkKey [sha256.Size]byte

	chunkEntry struct {
		key      chunkKey
		compiled *Compiled
	}
)

func newChunkCache(maxSize int) *chunkCache {
	return &chunkCache{
		chunks:  map[chunkKey]*list.Element{},
		lru:     list.New(),
		maxSize: maxSize,
	}
}

// get returns the cached chunk for src, compiling it on a miss. Compile
// errors are not cached
func (c *chunkCache) get(
	src string, compile func(string) (*Compiled, error),
) (*Compiled, error) {
	key := chunkKey(sha256.Sum256([]byte(src)))
	if res, ok := c.lookup(key); ok {
		return res, nil
	}

	compiled, err := compile(src)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// another caller may have compiled the same source meanwhile
	if elem, ok := c.chunks[key]; ok {
		c.lru.MoveToFront(elem)
		return elem.Value.(*chunkEntry).compiled, nil
	}

	c.chunks[key] = c.lru.PushFront(&chunkEntry{key: key, compiled: compiled})
	for c.lru.Len() > c.maxSize {
		oldest := c.lru.Back()
		c.lru.Remove(oldest)
		delete(c.chunks, oldest.Value.(*chunkEntry).key)
	}
	return compiled, nil
}

func (c *chunkCache) lookup(key chunkKey) (*Compiled, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.chunks[key]
	if !ok {
		return nil, false
	}
	c.lru.MoveToFront(elem)
	return elem.Value.(*chunkEntry).compiled, true
}

func (c *chunkCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
