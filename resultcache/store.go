package resultcache

import (
	"container/list"
	"sync"
	"time"

	"encore.app/pkg/models"
)

// storeEntry wraps a cache entry with its LRU list element.
type storeEntry struct {
	entry   *models.Entry
	element *list.Element // pointer to list element for O(1) removal
}

// Store is a thread-safe namespaced in-memory store with LRU eviction and
// TTL expiration. It additionally maintains two secondary indexes used by
// targeted invalidation: namespace -> keys and subject -> composite keys.
//
// Trade-offs:
// - RWMutex chosen over sync.Map for better control over eviction, TTL and
//   index maintenance. sync.Map lacks ordered iteration needed for LRU.
// - One global LRU across namespaces keeps memory accounting simple; a hot
//   namespace can evict a cold one, which is acceptable for this workload.
type Store struct {
	mu         sync.RWMutex
	entries    map[string]*storeEntry          // composite key -> entry
	lruList    *list.List                      // front = most recent
	maxEntries int
	namespaces map[string]map[string]struct{} // namespace -> key set
	subjects   map[string]map[string]struct{} // subject -> composite key set
}

// NewStore creates a store with the specified capacity.
func NewStore(maxEntries int) *Store {
	return &Store{
		entries:    make(map[string]*storeEntry, maxEntries),
		lruList:    list.New(),
		maxEntries: maxEntries,
		namespaces: make(map[string]map[string]struct{}),
		subjects:   make(map[string]map[string]struct{}),
	}
}

// compositeKey joins namespace and key. Fingerprinted keys already carry
// their namespace prefix, but entries written with caller-chosen keys do
// not, so the store namespaces unconditionally.
func compositeKey(namespace, key string) string {
	return namespace + "\x00" + key
}

// Get retrieves an entry and updates LRU ordering.
// Returns (entry, true) if found and not expired, (nil, false) otherwise.
// Expired entries are removed lazily on access.
// Complexity: O(1) average.
func (s *Store) Get(namespace, key string) (*models.Entry, bool) {
	ck := compositeKey(namespace, key)

	s.mu.RLock()
	se, exists := s.entries[ck]
	s.mu.RUnlock()

	if !exists {
		return nil, false
	}

	if se.entry.IsExpired(time.Now()) {
		s.mu.Lock()
		s.removeUnsafe(ck)
		s.mu.Unlock()
		return nil, false
	}

	s.mu.Lock()
	s.lruList.MoveToFront(se.element)
	s.mu.Unlock()

	se.entry.Touch()
	return se.entry, true
}

// Set stores an entry, replacing any prior entry under the same
// (namespace, key) wholesale. Last write wins; there is no merge.
// Evicts the LRU entry when at capacity.
// Complexity: O(1).
func (s *Store) Set(entry *models.Entry) (evicted int) {
	ck := compositeKey(entry.Namespace, entry.Key)

	s.mu.Lock()
	defer s.mu.Unlock()

	// Replace-on-conflict: drop the old entry and its index records
	// before inserting, so metadata changes (e.g. subject) re-index.
	if _, exists := s.entries[ck]; exists {
		s.removeUnsafe(ck)
	}

	if s.lruList.Len() >= s.maxEntries {
		if s.evictLRUUnsafe() {
			evicted++
		}
	}

	se := &storeEntry{entry: entry}
	se.element = s.lruList.PushFront(ck)
	s.entries[ck] = se

	if s.namespaces[entry.Namespace] == nil {
		s.namespaces[entry.Namespace] = make(map[string]struct{})
	}
	s.namespaces[entry.Namespace][entry.Key] = struct{}{}

	if subject, ok := entry.Subject(); ok {
		if s.subjects[subject] == nil {
			s.subjects[subject] = make(map[string]struct{})
		}
		s.subjects[subject][ck] = struct{}{}
	}

	return evicted
}

// Delete removes one (namespace, key). Returns true if it existed.
func (s *Store) Delete(namespace, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeUnsafe(compositeKey(namespace, key))
}

// DeleteNamespace removes every entry under a namespace (the "*" wildcard).
// Returns the number of entries removed.
// Complexity: O(k) for k entries in the namespace.
func (s *Store) DeleteNamespace(namespace string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := s.namespaces[namespace]
	removed := 0
	for key := range keys {
		if s.removeUnsafe(compositeKey(namespace, key)) {
			removed++
		}
	}
	return removed
}

// DeleteSubject removes every entry indexed under a subject, across all
// namespaces. Returns the number of entries removed.
func (s *Store) DeleteSubject(subject string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cks := s.subjects[subject]
	removed := 0
	for ck := range cks {
		if s.removeUnsafe(ck) {
			removed++
		}
	}
	return removed
}

// removeUnsafe deletes an entry and all its index records. Caller holds mu.
func (s *Store) removeUnsafe(ck string) bool {
	se, exists := s.entries[ck]
	if !exists {
		return false
	}

	s.lruList.Remove(se.element)
	delete(s.entries, ck)

	entry := se.entry
	if keys := s.namespaces[entry.Namespace]; keys != nil {
		delete(keys, entry.Key)
		if len(keys) == 0 {
			delete(s.namespaces, entry.Namespace)
		}
	}
	if subject, ok := entry.Subject(); ok {
		if cks := s.subjects[subject]; cks != nil {
			delete(cks, ck)
			if len(cks) == 0 {
				delete(s.subjects, subject)
			}
		}
	}
	return true
}

// evictLRUUnsafe removes the least recently used entry. Caller holds mu.
func (s *Store) evictLRUUnsafe() bool {
	back := s.lruList.Back()
	if back == nil {
		return false
	}
	return s.removeUnsafe(back.Value.(string))
}

// CleanupExpired removes all expired entries. Called periodically by the
// service's cleanup goroutine. Returns the number removed.
// Complexity: O(n).
func (s *Store) CleanupExpired() int {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	expired := make([]string, 0)
	for ck, se := range s.entries {
		if se.entry.IsExpired(now) {
			expired = append(expired, ck)
		}
	}
	for _, ck := range expired {
		s.removeUnsafe(ck)
	}
	return len(expired)
}

// Size returns the number of live entries.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// NamespaceSize returns the number of live entries in one namespace.
func (s *Store) NamespaceSize(namespace string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.namespaces[namespace])
}

// Namespaces returns the names of all namespaces with live entries.
func (s *Store) Namespaces() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.namespaces))
	for ns := range s.namespaces {
		names = append(names, ns)
	}
	return names
}
