package executor

import "sync"

type cacheEntry struct {
	once sync.Once
	prog Program
	err  error
}

// programCache holds compiled programs shared by every worker. Each entry is
// compiled once: the first caller compiles, concurrent callers for the same key
// wait on the entry and get the same program or error.
type programCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	byName  map[string]map[string]struct{}
}

func newProgramCache() *programCache {
	return &programCache{
		entries: make(map[string]*cacheEntry),
		byName:  make(map[string]map[string]struct{}),
	}
}

func (c *programCache) get(name, key string, compile func() (Program, error)) (Program, error) {
	c.mu.Lock()
	entry, found := c.entries[key]
	if !found {
		entry = new(cacheEntry)
		c.entries[key] = entry

		if _, ok := c.byName[name]; !ok {
			c.byName[name] = make(map[string]struct{})
		}
		c.byName[name][key] = struct{}{}
	}
	c.mu.Unlock()

	entry.once.Do(func() {
		entry.prog, entry.err = compile()
	})

	return entry.prog, entry.err
}

// invalidate drops every program compiled for the named script
func (c *programCache) invalidate(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := c.byName[name]
	for key := range keys {
		delete(c.entries, key)
	}
	delete(c.byName, name)

	return len(keys)
}

func (c *programCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}
