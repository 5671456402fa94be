package dedup

// Entry is one cached fingerprint with the id of the news item it belongs to.
type Entry struct {
	NewsID  int64
	Simhash uint64
}

// Cache holds the fingerprints of recently collected items for one pipeline
// cycle. It is loaded at cycle start and mutated only by the orchestrator,
// so it needs no locking.
type Cache struct {
	entries   []Entry
	threshold int
}

// NewCache builds a cycle cache with the given Hamming threshold.
func NewCache(entries []Entry, threshold int) *Cache {
	return &Cache{entries: entries, threshold: threshold}
}

// FindNear returns the id of the first cached item whose fingerprint is
// within the threshold, or false when the hash is unique.
func (c *Cache) FindNear(hash uint64) (int64, bool) {
	for _, e := range c.entries {
		if HammingDistance(e.Simhash, hash) <= c.threshold {
			return e.NewsID, true
		}
	}
	return 0, false
}

// Add registers a unique item's fingerprint so later items in the same cycle
// dedup against it.
func (c *Cache) Add(newsID int64, hash uint64) {
	c.entries = append(c.entries, Entry{NewsID: newsID, Simhash: hash})
}

// Len reports the number of cached fingerprints.
func (c *Cache) Len() int {
	return len(c.entries)
}
