package archive

import (
	"context"
	"sync"
	"time"

	"github.com/vaidashi/rachma-marketplace/internal/models"
)

// MemoryRegistry keeps archives in process. Expired entries are invisible
// and removed by Prune.
type MemoryRegistry struct {
	mu       sync.RWMutex
	archives map[string]*Archive
	now      func() time.Time
}

// NewMemoryRegistry creates an empty MemoryRegistry
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		archives: make(map[string]*Archive),
		now:      models.GetCurrentTime,
	}
}

// Put stores archive under its token
func (r *MemoryRegistry) Put(_ context.Context, archive *Archive) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.archives[archive.Token] = archive
	return nil
}

// Get returns the live archive for token
func (r *MemoryRegistry) Get(_ context.Context, token string) (*Archive, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	archive, ok := r.archives[token]
	if !ok || archive.Expired(r.now()) {
		return nil, ErrArchiveNotFound
	}
	return archive, nil
}

// Delete forgets token
func (r *MemoryRegistry) Delete(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.archives, token)
	return nil
}

// Prune drops entries expired at now and returns how many were dropped
func (r *MemoryRegistry) Prune(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	pruned := 0
	for token, archive := range r.archives {
		if archive.Expired(now) {
			delete(r.archives, token)
			pruned++
		}
	}
	return pruned
}

// Len returns the number of stored entries, expired ones included
func (r *MemoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.archives)
}

var _ Registry = (*MemoryRegistry)(nil)
