package reactor

import "github.com/fluxpoint-media/fluxpoint/workflows"

// cachedWorkflow is one cache entry: the latest definition the executor
// produced for a stream name, and how many keep-alive watchers still hold
// interest in it.
type cachedWorkflow struct {
	definition     *workflows.Definition
	keepAliveCount int
}

// workflowCache maps stream names to their resolved workflows. It is owned by
// the reactor loop and is not safe for concurrent use.
type workflowCache struct {
	entries map[string]*cachedWorkflow
}

func newWorkflowCache() *workflowCache {
	return &workflowCache{entries: make(map[string]*cachedWorkflow)}
}

// bump replaces the entry's definition and increments its keep-alive count,
// inserting with a count of one if the stream name is new. The cache key is
// the stream name; the definition's workflow name may differ between bumps.
func (c *workflowCache) bump(streamName string, def *workflows.Definition) {
	if entry, ok := c.entries[streamName]; ok {
		entry.definition = def
		entry.keepAliveCount++
		return
	}
	c.entries[streamName] = &cachedWorkflow{definition: def, keepAliveCount: 1}
}

// release decrements the entry's keep-alive count. When the count reaches
// zero the entry is removed and lastName reports the removed definition's
// workflow name. present is false when no entry exists for the stream name.
func (c *workflowCache) release(streamName string) (present, removed bool, lastName string, remaining int) {
	entry, ok := c.entries[streamName]
	if !ok {
		return false, false, "", 0
	}

	entry.keepAliveCount--
	if entry.keepAliveCount == 0 {
		delete(c.entries, streamName)
		return true, true, entry.definition.Name, 0
	}
	return true, false, "", entry.keepAliveCount
}

// snapshot returns all cached definitions in unspecified order.
func (c *workflowCache) snapshot() []*workflows.Definition {
	defs := make([]*workflows.Definition, 0, len(c.entries))
	for _, entry := range c.entries {
		defs = append(defs, entry.definition)
	}
	return defs
}

// len reports the number of cached stream names.
func (c *workflowCache) len() int {
	return len(c.entries)
}

// totalKeepAlives reports the number of armed keep-alive watchers.
func (c *workflowCache) totalKeepAlives() int {
	total := 0
	for _, entry := range c.entries {
		total += entry.keepAliveCount
	}
	return total
}
