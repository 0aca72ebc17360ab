package storage

import (
	"container/list"
	"os"
	"sync"
)

// FileCache is an LRU index over downloaded partition files. Files are
// keyed by object path and version; when the total size exceeds the limit
// the least recently used files are deleted from disk. Pinned files are in
// use by a run and are never evicted until unpinned.
type FileCache struct {
	mu       sync.Mutex
	maxBytes int64
	curBytes int64

	items map[string]*list.Element
	order *list.List // front = most recently used
}

type cacheEntry struct {
	objectPath string
	version    string
	localPath  string
	sizeBytes  int64
	pins       int
}

// NewFileCache creates a cache holding at most maxBytes (default 10GB).
func NewFileCache(maxBytes int64) *FileCache {
	if maxBytes <= 0 {
		maxBytes = 10 * 1024 * 1024 * 1024
	}
	return &FileCache{
		maxBytes: maxBytes,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get returns the local path of a cached object at version, or "" on a
// miss. Entries whose file vanished or changed size are dropped.
func (c *FileCache) Get(objectPath, version string) string {
	return c.get(objectPath, version, false)
}

// GetPinned is Get that also pins a hit until Unpin.
func (c *FileCache) GetPinned(objectPath, version string) string {
	return c.get(objectPath, version, true)
}

func (c *FileCache) get(objectPath, version string, pin bool) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[objectPath]
	if !ok {
		return ""
	}
	entry := elem.Value.(*cacheEntry)
	if entry.version != version {
		return ""
	}

	info, err := os.Stat(entry.localPath)
	if err != nil || info.Size() != entry.sizeBytes {
		if entry.pins == 0 {
			c.removeLocked(elem)
		}
		return ""
	}

	if pin {
		entry.pins++
	}
	c.order.MoveToFront(elem)
	return entry.localPath
}

// Put records a file at version and evicts older ones past the limit. The
// newest entry is never evicted.
func (c *FileCache) Put(objectPath, version, localPath string) {
	c.put(objectPath, version, localPath, false)
}

// PutPinned is Put that also pins the entry until Unpin.
func (c *FileCache) PutPinned(objectPath, version, localPath string) {
	c.put(objectPath, version, localPath, true)
}

func (c *FileCache) put(objectPath, version, localPath string, pin bool) {
	info, err := os.Stat(localPath)
	if err != nil {
		return
	}
	sizeBytes := info.Size()

	c.mu.Lock()
	defer c.mu.Unlock()

	var entry *cacheEntry
	if elem, ok := c.items[objectPath]; ok {
		entry = elem.Value.(*cacheEntry)
		c.curBytes += sizeBytes - entry.sizeBytes
		entry.version = version
		entry.localPath = localPath
		entry.sizeBytes = sizeBytes
		c.order.MoveToFront(elem)
	} else {
		entry = &cacheEntry{
			objectPath: objectPath,
			version:    version,
			localPath:  localPath,
			sizeBytes:  sizeBytes,
		}
		c.items[objectPath] = c.order.PushFront(entry)
		c.curBytes += sizeBytes
	}
	if pin {
		entry.pins++
	}
	c.evictLocked()
}

// Unpin releases one pin on an object and evicts past the limit once
// nothing holds it.
func (c *FileCache) Unpin(objectPath string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[objectPath]
	if !ok {
		return
	}
	entry := elem.Value.(*cacheEntry)
	if entry.pins > 0 {
		entry.pins--
	}
	c.evictLocked()
}

// evictLocked removes unpinned entries from the back until the cache fits.
// Caller must hold c.mu.
func (c *FileCache) evictLocked() {
	front := c.order.Front()
	for elem := c.order.Back(); elem != nil && c.curBytes > c.maxBytes; {
		prev := elem.Prev()
		if elem != front && elem.Value.(*cacheEntry).pins == 0 {
			c.removeLocked(elem)
		}
		elem = prev
	}
}

// removeLocked drops an entry and deletes its file. Caller must hold c.mu.
func (c *FileCache) removeLocked(elem *list.Element) {
	entry := elem.Value.(*cacheEntry)
	c.order.Remove(elem)
	delete(c.items, entry.objectPath)
	c.curBytes -= entry.sizeBytes
	os.Remove(entry.localPath)
}

// Size returns the cached bytes.
func (c *FileCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.curBytes
}

// MaxBytes returns the size limit.
func (c *FileCache) MaxBytes() int64 {
	return c.maxBytes
}

// Len returns the number of cached files.
func (c *FileCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
