package tools

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/conductorhq/conductor/pkg/models"
)

// DefaultCacheSize bounds the per-task cache; long tasks repeat reads far
// less often than this.
const DefaultCacheSize = 256

// Cache memoizes tool results within one task. Keys are content-addressed
// over tool name plus normalized arguments, so semantically identical calls
// hit regardless of JSON key order. Error results are never stored, and
// mutating tools bypass the cache on both read and write.
type Cache struct {
	entries    *lru.Cache[string, string]
	classifier *Classifier

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCache creates a per-task cache. Size falls back to DefaultCacheSize
// when non-positive.
func NewCache(classifier *Classifier, size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, err := lru.New[string, string](size)
	if err != nil {
		// Only reachable with a non-positive size, which is normalized above.
		panic(err)
	}
	return &Cache{entries: entries, classifier: classifier}
}

// Key derives the content address for a call.
func (c *Cache) Key(call models.ToolCall) string {
	sum := sha256.Sum256([]byte(call.Name + "\x00" + call.NormalizedArguments()))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached result for the call. Mutating tools always miss.
func (c *Cache) Get(call models.ToolCall) (string, bool) {
	if !c.classifier.IsSafe(call.Name) {
		return "", false
	}
	content, ok := c.entries.Get(c.Key(call))
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return content, ok
}

// Put stores a result unless the tool is mutating or the result signals an
// error.
func (c *Cache) Put(call models.ToolCall, content string, isError bool) {
	if isError || !c.classifier.IsSafe(call.Name) {
		return
	}
	if strings.HasPrefix(content, "Error:") {
		return
	}
	c.entries.Add(c.Key(call), content)
}

// Stats returns hit, miss, and size counters for diagnostics.
func (c *Cache) Stats() (hits, misses int64, size int) {
	return c.hits.Load(), c.misses.Load(), c.entries.Len()
}
