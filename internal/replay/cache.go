// ABOUTME: TTL cache of completed write results keyed by session and request id
// ABOUTME: Lets a client retry a write after a lost response without applying it twice

package replay

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Defaults used by the server.
const (
	DefaultWindow  = 5 * time.Minute
	DefaultMaxSize = 4096
)

// Cache remembers result payloads for a limited time. When full, the least
// recently used entry is evicted. Safe for concurrent use.
type Cache struct {
	lru *expirable.LRU[string, json.RawMessage]
}

// New creates a cache holding at most maxSize results for window each.
func New(window time.Duration, maxSize int) *Cache {
	if window <= 0 {
		window = DefaultWindow
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Cache{lru: expirable.NewLRU[string, json.RawMessage](maxSize, nil, window)}
}

// Key scopes a request id to the session that sent it.
func Key(sessionToken, requestID string) string {
	return sessionToken + "/" + requestID
}

// Lookup returns the remembered result for key, if any and not expired.
func (c *Cache) Lookup(key string) (json.RawMessage, bool) {
	return c.lru.Get(key)
}

// Remember stores payload under key, replacing any earlier result.
func (c *Cache) Remember(key string, payload json.RawMessage) {
	c.lru.Add(key, payload)
}

// Forget drops every result of one session.
func (c *Cache) Forget(sessionToken string) {
	prefix := sessionToken + "/"
	for _, key := range c.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.lru.Remove(key)
		}
	}
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	return c.lru.Len()
}
