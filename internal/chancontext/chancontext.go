// Package chancontext remembers which record and folder a collaboration
// channel was created for, and which shared files were already offered for
// upload.
package chancontext

import (
	"log/slog"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const (
	// DefaultTTL is how long a channel context is trusted.
	DefaultTTL = 6 * time.Hour
	// DefaultPromptedCap bounds the prompted-file set.
	DefaultPromptedCap = 500
	cleanupInterval    = 10 * time.Minute
)

// Entry is the context of one channel.
type Entry struct {
	RecordURL string
	FolderURL string
	FolderID  string
}

// HasFolder reports whether uploads have a destination.
func (e Entry) HasFolder() bool {
	return e.FolderID != "" || e.FolderURL != ""
}

// Cache maps channel ids to entries. Expired entries are dropped on lookup
// and by the background janitor.
type Cache struct {
	entries *gocache.Cache
	ttl     time.Duration
}

// NewCache creates a cache with the given TTL (DefaultTTL when <= 0).
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{entries: gocache.New(ttl, cleanupInterval), ttl: ttl}
}

// Set stores the context for channelID.
func (c *Cache) Set(channelID string, e Entry) {
	c.entries.Set(channelID, e, c.ttl)
	slog.Debug("ChannelContext.Set", "channel", channelID, "has_folder", e.HasFolder())
}

// Get returns the live entry for channelID.
func (c *Cache) Get(channelID string) (Entry, bool) {
	v, ok := c.entries.Get(channelID)
	if !ok {
		return Entry{}, false
	}
	return v.(Entry), true
}

// Delete forgets channelID.
func (c *Cache) Delete(channelID string) {
	c.entries.Delete(channelID)
}

// PromptedFiles is the set of files already offered for upload. Once it
// grows past its cap it is cleared and starts over.
type PromptedFiles struct {
	mu   sync.Mutex
	seen *gocache.Cache
	cap  int
}

// NewPromptedFiles creates a set bounded by limit (DefaultPromptedCap when <= 0).
func NewPromptedFiles(limit int) *PromptedFiles {
	if limit <= 0 {
		limit = DefaultPromptedCap
	}
	return &PromptedFiles{seen: gocache.New(gocache.NoExpiration, 0), cap: limit}
}

// MarkOnce records fileID and reports whether it was new.
func (p *PromptedFiles) MarkOnce(fileID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.seen.Add(fileID, struct{}{}, gocache.NoExpiration); err != nil {
		return false
	}
	if p.seen.ItemCount() > p.cap {
		slog.Debug("PromptedFiles.MarkOnce: cap exceeded, resetting", "cap", p.cap)
		p.seen.Flush()
		p.seen.Set(fileID, struct{}{}, gocache.NoExpiration)
	}
	return true
}

// Len is the number of remembered files.
func (p *PromptedFiles) Len() int {
	return p.seen.ItemCount()
}
