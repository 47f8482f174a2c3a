package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/go-go-golems/docagent/pkg/conversation"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	DefaultTTL     = 5 * time.Second
	DefaultMaxSize = 512
)

type entry struct {
	result   conversation.ToolResult
	storedAt time.Time
}

// Cache suppresses re-execution of identical tool calls inside a short
// window. One cache belongs to one executor.
type Cache struct {
	ttl   time.Duration
	items *lru.Cache[string, entry]
	now   func() time.Time
}

type Option func(*Cache)

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func New(ttl time.Duration, maxSize int, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	items, err := lru.New[string, entry](maxSize)
	if err != nil {
		// only returned for a non-positive size
		panic(err)
	}
	c := &Cache{ttl: ttl, items: items, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Key hashes the exact argument payload together with the tool name.
func Key(toolName string, payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return toolName + ":" + hex.EncodeToString(sum[:])
}

func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get returns the cached result if it is younger than the TTL. Entries past
// the cleanup threshold are dropped on lookup.
func (c *Cache) Get(key string) (conversation.ToolResult, bool) {
	e, ok := c.items.Get(key)
	if !ok {
		return conversation.ToolResult{}, false
	}
	age := c.now().Sub(e.storedAt)
	if age >= 2*c.ttl {
		c.items.Remove(key)
		return conversation.ToolResult{}, false
	}
	if age >= c.ttl {
		return conversation.ToolResult{}, false
	}
	return e.result, true
}

// Put stores unconditionally and sweeps entries older than twice the TTL.
func (c *Cache) Put(key string, result conversation.ToolResult) {
	now := c.now()
	for _, k := range c.items.Keys() {
		if e, ok := c.items.Peek(k); ok && now.Sub(e.storedAt) >= 2*c.ttl {
			c.items.Remove(k)
		}
	}
	c.items.Add(key, entry{result: result, storedAt: now})
}

func (c *Cache) Len() int {
	return c.items.Len()
}
