package store

import (
	"github.com/allaspectsdev/gateman/internal/cache"
)

// CachePersister adapts Store to the cache.Persister interface. The
// store's delete methods report row counts; the cache does not care, so
// the adapter drops them.
type CachePersister struct {
	store *Store
}

var _ cache.Persister = (*CachePersister)(nil)

// NewCachePersister creates a CachePersister wrapping the given Store.
func NewCachePersister(s *Store) *CachePersister {
	return &CachePersister{store: s}
}

// SaveEntry writes one entry through to the database.
func (p *CachePersister) SaveEntry(key string, e *cache.Entry) error {
	return p.store.SaveCacheEntry(key, e)
}

// DeleteEntry mirrors an eviction to the database.
func (p *CachePersister) DeleteEntry(key string) error {
	return p.store.DeleteCacheEntry(key)
}

// LoadEntries returns all persisted entries for cache warming.
func (p *CachePersister) LoadEntries() (map[string]*cache.Entry, error) {
	return p.store.LoadCacheEntries()
}

// DeleteExpired removes rows past their expiry.
func (p *CachePersister) DeleteExpired() error {
	_, err := p.store.DeleteExpiredCache()
	return err
}

// DeleteAllEntries empties the persisted cache.
func (p *CachePersister) DeleteAllEntries() error {
	_, err := p.store.DeleteAllCacheEntries()
	return err
}
