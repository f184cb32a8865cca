package engine

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"promptbatch/internal/command"
)

// UploadRegistry deduplicates file uploads by local path. Concurrent
// requests for the same path single-flight through one pending upload; all
// waiters share its result. The registry is a cache, not a source of truth:
// losing a race costs efficiency, never correctness.
type UploadRegistry struct {
	group singleflight.Group

	mu   sync.RWMutex
	refs map[string]string // local path -> remote reference
}

// NewUploadRegistry returns an empty registry.
func NewUploadRegistry() *UploadRegistry {
	return &UploadRegistry{refs: make(map[string]string)}
}

// Resolve returns the remote reference for a local file, uploading it at
// most once per path.
func (r *UploadRegistry) Resolve(ctx context.Context, task command.UploadTask, up Uploader) (string, error) {
	r.mu.RLock()
	ref, ok := r.refs[task.LocalPath]
	r.mu.RUnlock()
	if ok {
		return ref, nil
	}

	v, err, _ := r.group.Do(task.LocalPath, func() (any, error) {
		remote, err := up.Upload(ctx, task.LocalPath, task.MIMEType)
		if err != nil {
			return "", err
		}
		r.mu.Lock()
		r.refs[task.LocalPath] = remote
		r.mu.Unlock()
		return remote, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Lookup returns a previously resolved reference without triggering work.
func (r *UploadRegistry) Lookup(localPath string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ref, ok := r.refs[localPath]
	return ref, ok
}

// CacheEntry is the recorded metadata for one provider-side cache.
type CacheEntry struct {
	Key       string
	Name      string
	Mode      command.CacheApplication
	Artifacts []string
	CreatedAt time.Time
	TTL       time.Duration
}

// CacheRegistry stores cache metadata under deterministic keys. Writes are
// best-effort: conflicting concurrent writes keep the first entry.
type CacheRegistry interface {
	Lookup(key string) (CacheEntry, bool)
	Store(entry CacheEntry)
}

// MemoryCacheRegistry is the default in-process registry.
type MemoryCacheRegistry struct {
	mu      sync.RWMutex
	entries map[string]CacheEntry
}

// NewMemoryCacheRegistry returns an empty in-memory registry.
func NewMemoryCacheRegistry() *MemoryCacheRegistry {
	return &MemoryCacheRegistry{entries: make(map[string]CacheEntry)}
}

// Lookup returns the entry for key, if recorded.
func (r *MemoryCacheRegistry) Lookup(key string) (CacheEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key]
	return e, ok
}

// Store records an entry unless one already exists for the key (first write
// wins; a lost race is only an efficiency loss).
func (r *MemoryCacheRegistry) Store(entry CacheEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[entry.Key]; exists {
		return
	}
	r.entries[entry.Key] = entry
}
