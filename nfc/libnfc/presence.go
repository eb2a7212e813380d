package libnfc

import "sync"

// presenceCache tracks which tags are in the field so each presence is
// reported once. A tag is forgotten after it misses removeAfter polls.
type presenceCache struct {
	removeAfter int
	missed      map[string]int
	mu          sync.Mutex
}

func newPresenceCache(removeAfter int) *presenceCache {
	if removeAfter < 1 {
		removeAfter = 1
	}
	return &presenceCache{
		removeAfter: removeAfter,
		missed:      make(map[string]int),
	}
}

// Observe records the UIDs seen in one poll and returns the ones that just arrived.
func (c *presenceCache) Observe(uids []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]bool, len(uids))
	var arrived []string
	for _, uid := range uids {
		if seen[uid] {
			continue
		}
		seen[uid] = true
		if _, present := c.missed[uid]; !present {
			arrived = append(arrived, uid)
		}
		c.missed[uid] = 0
	}

	for uid := range c.missed {
		if seen[uid] {
			continue
		}
		c.missed[uid]++
		if c.missed[uid] >= c.removeAfter {
			delete(c.missed, uid)
		}
	}
	return arrived
}

// Present reports whether uid is currently considered in the field.
func (c *presenceCache) Present(uid string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.missed[uid]
	return ok
}

// Clear forgets every tag.
func (c *presenceCache) Clear() {
	c.mu.Lock()
	c.missed = make(map[string]int)
	c.mu.Unlock()
}
