// Package directory caches the roster of people known to the knowledge base
// and resolves free-text names against it.
package directory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/normalize"
	"golang.org/x/sync/singleflight"
)

// DefaultHintLimit caps how many names the "available people" hint lists.
const DefaultHintLimit = 30

// Source lists directory users.
type Source interface {
	ListDirectoryUsers(ctx context.Context) ([]models.DirectoryUser, error)
}

// Cache loads the directory once and serves it for the life of the process.
// A failed load is not cached; the next caller retries.
type Cache struct {
	src   Source
	group singleflight.Group

	mu     sync.RWMutex
	loaded bool
	users  []models.DirectoryUser
	byName map[string]string
}

// NewCache creates a cache over src.
func NewCache(src Source) *Cache {
	return &Cache{src: src}
}

// Users returns the cached roster, loading it on first use.
func (c *Cache) Users(ctx context.Context) ([]models.DirectoryUser, error) {
	c.mu.RLock()
	if c.loaded {
		users := c.users
		c.mu.RUnlock()
		return users, nil
	}
	c.mu.RUnlock()

	v, err, shared := c.group.Do("directory", func() (interface{}, error) {
		c.mu.RLock()
		if c.loaded {
			users := c.users
			c.mu.RUnlock()
			return users, nil
		}
		c.mu.RUnlock()

		users, err := c.src.ListDirectoryUsers(ctx)
		if err != nil {
			return nil, err
		}
		byName := make(map[string]string, len(users))
		for _, u := range users {
			key := normalize.CanonicalName(u.Name)
			if key == "" {
				continue
			}
			if _, dup := byName[key]; !dup {
				byName[key] = u.ID
			}
		}
		c.mu.Lock()
		c.users, c.byName, c.loaded = users, byName, true
		c.mu.Unlock()
		slog.Info("Directory.Users: directory loaded", "count", len(users))
		return users, nil
	})
	if err != nil {
		slog.Warn("Directory.Users: failed to load directory", "error", err, "shared", shared)
		return nil, fmt.Errorf("failed to load directory: %w", err)
	}
	return v.([]models.DirectoryUser), nil
}

// Resolve maps names to directory ids with case- and whitespace-insensitive
// exact matching. Names that match nobody are returned in unresolved.
func (c *Cache) Resolve(ctx context.Context, names []string) (ids, unresolved []string, err error) {
	if len(names) == 0 {
		return nil, nil, nil
	}
	if _, err := c.Users(ctx); err != nil {
		return nil, names, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, n := range names {
		if id, ok := c.byName[normalize.CanonicalName(n)]; ok {
			ids = append(ids, id)
		} else {
			unresolved = append(unresolved, n)
		}
	}
	return ids, unresolved, nil
}

// Hint renders up to limit sorted names for prompts. It returns "" when the
// directory is unavailable.
func (c *Cache) Hint(ctx context.Context, limit int) string {
	users, err := c.Users(ctx)
	if err != nil || len(users) == 0 {
		return ""
	}
	names := make([]string, 0, len(users))
	for _, u := range users {
		if strings.TrimSpace(u.Name) != "" {
			names = append(names, u.Name)
		}
	}
	sort.Strings(names)
	if limit <= 0 {
		limit = DefaultHintLimit
	}
	more := 0
	if len(names) > limit {
		more = len(names) - limit
		names = names[:limit]
	}
	hint := strings.Join(names, ", ")
	if more > 0 {
		hint += fmt.Sprintf(" (+%d more)", more)
	}
	return hint
}
