package storage

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/sync/semaphore"
)

// Fetcher downloads partition files into a work directory in parallel.
// A FileCache, when set, lets later fetches reuse files whose object version
// has not changed and bounds how much of the work directory is kept.
type Fetcher struct {
	storage     ObjectStorage
	concurrency int
	workDir     string
	cache       *FileCache
	logger      log.Logger
}

// FetchResult contains the outcome of a fetch. Files in LocalPaths stay on
// disk until Release.
type FetchResult struct {
	LocalPaths map[string]string
	Errors     map[string]error
	CacheHits  int
	Downloads  int

	cache  *FileCache
	pinned []string
	once   sync.Once
}

// Err returns the first failure in object path order, or nil.
func (r *FetchResult) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	paths := make([]string, 0, len(r.Errors))
	for p := range r.Errors {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return fmt.Errorf("%d of %d partition files failed, first %s: %w",
		len(r.Errors), len(r.Errors)+len(r.LocalPaths), paths[0], r.Errors[paths[0]])
}

// Release lets the cache evict the fetched files again. It is safe to call
// more than once.
func (r *FetchResult) Release() {
	r.once.Do(func() {
		if r.cache == nil {
			return
		}
		for _, p := range r.pinned {
			r.cache.Unpin(p)
		}
	})
}

// NewFetcher creates a fetcher downloading at most concurrency objects at a
// time into workDir. cache may be nil, in which case every fetch downloads.
func NewFetcher(storage ObjectStorage, concurrency int, workDir string, cache *FileCache, logger log.Logger) *Fetcher {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Fetcher{
		storage:     storage,
		concurrency: concurrency,
		workDir:     workDir,
		cache:       cache,
		logger:      log.With(logger, "component", "fetcher"),
	}
}

// Fetch downloads every object path. Per-object failures are collected in
// the result; the returned error is only set for a cancelled context.
// Callers must Release the result once the files are no longer read.
func (f *Fetcher) Fetch(ctx context.Context, objectPaths []string) (*FetchResult, error) {
	result := &FetchResult{
		LocalPaths: make(map[string]string),
		Errors:     make(map[string]error),
		cache:      f.cache,
	}

	sem := semaphore.NewWeighted(int64(f.concurrency))
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[string]bool, len(objectPaths))

	for _, p := range objectPaths {
		if seen[p] {
			continue
		}
		seen[p] = true
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return result, err
		}

		wg.Add(1)
		go func(path string) {
			defer sem.Release(1)
			defer wg.Done()

			local, hit, err := f.fetchOne(ctx, path)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				level.Warn(f.logger).Log("msg", "download failed", "object", path, "err", err)
				result.Errors[path] = err
				return
			}
			result.LocalPaths[path] = local
			if f.cache != nil {
				result.pinned = append(result.pinned, path)
			}
			if hit {
				result.CacheHits++
			} else {
				result.Downloads++
			}
		}(p)
	}

	wg.Wait()
	if f.cache != nil && f.cache.Size() > f.cache.MaxBytes() {
		level.Warn(f.logger).Log("msg", "work directory over its limit while partitions are in use",
			"bytes", f.cache.Size(), "limit", f.cache.MaxBytes())
	}
	level.Debug(f.logger).Log("msg", "fetch complete", "downloads", result.Downloads, "cache_hits", result.CacheHits, "errors", len(result.Errors))
	return result, nil
}

// fetchOne returns a pinned local copy of objectPath at its current version.
func (f *Fetcher) fetchOne(ctx context.Context, objectPath string) (string, bool, error) {
	info, err := f.storage.Stat(ctx, objectPath)
	if err != nil {
		return "", false, err
	}
	if f.cache != nil {
		if local := f.cache.GetPinned(objectPath, info.ETag); local != "" {
			return local, true, nil
		}
	}

	local := f.LocalPath(objectPath)
	if err := f.storage.Download(ctx, objectPath, local); err != nil {
		return "", false, err
	}
	if f.cache != nil {
		f.cache.PutPinned(objectPath, info.ETag, local)
	}
	return local, false, nil
}

// LocalPath maps an object path to a file directly under the work
// directory. Distinct object paths map to distinct files.
func (f *Fetcher) LocalPath(objectPath string) string {
	name := url.PathEscape(strings.Trim(objectPath, "/"))
	if name == "" || name == "." || name == ".." {
		name = strings.ReplaceAll("%"+name, ".", "%2E")
	}
	return filepath.Join(f.workDir, name)
}
