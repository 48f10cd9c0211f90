// Package content caches file contents the bridge has read from or
// written through the editor, invalidating entries when the file
// changes on disk underneath them.
package content

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/suxxes/zed-claude-code-sub000/internal/logging"
)

// Cache is a path-to-content map. Whole-file reads and all writes
// populate it; entries armed with a watch are dropped when the file is
// modified, removed, or renamed on disk.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]string

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
	log     zerolog.Logger

	closeOnce sync.Once
}

// NewCache creates a cache and starts its invalidation loop.
func NewCache() (*Cache, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	c := &Cache{
		entries: make(map[string]string),
		watcher: w,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		log:     logging.With().Str("component", "content").Logger(),
	}
	go c.run()
	return c, nil
}

// Set stores content for a path. With watch enabled the entry is
// dropped as soon as the file changes on disk.
func (c *Cache) Set(path, content string, watch bool) {
	c.mu.Lock()
	c.entries[path] = content
	c.mu.Unlock()

	if watch {
		if err := c.watcher.Add(path); err != nil {
			c.log.Debug().Err(err).Str("path", path).Msg("watch failed, entry unguarded")
		}
	}
}

// Get returns the cached content for a path.
func (c *Cache) Get(path string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	content, ok := c.entries[path]
	return content, ok
}

// All returns a snapshot of every cached entry.
func (c *Cache) All() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snapshot := make(map[string]string, len(c.entries))
	for k, v := range c.entries {
		snapshot[k] = v
	}
	return snapshot
}

// Invalidate drops the entry for a path and its watch.
func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	_, had := c.entries[path]
	delete(c.entries, path)
	c.mu.Unlock()

	if had {
		_ = c.watcher.Remove(path)
		c.log.Debug().Str("path", path).Msg("cache entry invalidated")
	}
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) run() {
	defer close(c.doneCh)
	for {
		select {
		case <-c.stopCh:
			return
		case ev, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename|fsnotify.Create) != 0 {
				c.Invalidate(ev.Name)
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.log.Warn().Err(err).Msg("content watcher error")
		}
	}
}

// Close stops the invalidation loop and releases the watcher.
func (c *Cache) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stopCh)
		err = c.watcher.Close()
		<-c.doneCh
	})
	return err
}
