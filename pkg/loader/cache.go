package loader

import (
	"strings"
	"sync"

	"github.com/ritzau/kg-explorer/pkg/model"
)

// Cache maps external identifiers to resolved titles. It only ever holds
// resolved titles, so a cached entry can never regress to the placeholder.
type Cache struct {
	mu     sync.RWMutex
	titles map[string]string
}

// NewCache creates an empty cache
func NewCache() *Cache {
	return &Cache{titles: make(map[string]string)}
}

// Get returns the cached title for externalID
func (c *Cache) Get(externalID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.titles[externalID]
	return t, ok
}

// Put stores a resolved title. Empty titles and the placeholder are refused.
func (c *Cache) Put(externalID, title string) bool {
	title = strings.TrimSpace(title)
	if externalID == "" || title == "" || title == model.TitlePlaceholder {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.titles[externalID] = title
	return true
}

// Len returns the number of cached titles
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.titles)
}
