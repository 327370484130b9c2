package report

import (
	"sync"

	"github.com/lis186/gitlab-mr-cli-sub000/pkg/timeline"
)

// cachedTimeline is one MR's fetched record plus its assembled events.
type cachedTimeline struct {
	data   *timeline.MRData
	events []timeline.Event
}

// runCache holds per-MR timelines for the duration of one batch run, so
// analyzing the same MR twice within a run fetches and assembles it once.
// It must be cleared at the start of every top-level run; serving a
// timeline across runs would leak stale data into a fresh analysis.
type runCache struct {
	mu      sync.RWMutex
	entries map[string]cachedTimeline
}

func newRunCache() *runCache {
	return &runCache{entries: make(map[string]cachedTimeline)}
}

func (c *runCache) get(ref string) (cachedTimeline, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[ref]
	return entry, ok
}

func (c *runCache) put(ref string, entry cachedTimeline) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[ref] = entry
}

// Clear drops every cached timeline.
func (c *runCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cachedTimeline)
}
