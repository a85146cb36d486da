package store

import (
	"sync"
)

const subscriberBuffer = 100

// MemoryStore is an in-memory implementation of [Store].
//
// Records are keyed by URL, with new records replacing previous values.
// Subscribers receive updates via buffered channels; if a subscriber's buffer
// is full, the update is dropped for that subscriber.
type MemoryStore struct {
	mu          sync.RWMutex
	records     map[string]Record
	subscribers map[chan Update]struct{}
	subMu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory [Store] implementation.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:     make(map[string]Record),
		subscribers: make(map[chan Update]struct{}),
	}
}

// Set stores rec under url and notifies all subscribers.
func (m *MemoryStore) Set(url string, rec Record) {
	m.mu.Lock()
	m.records[url] = cloneRecord(rec)
	m.mu.Unlock()

	m.notifySubscribers(Update{URL: url, Record: cloneRecord(rec)})
}

// Get returns a copy of the record stored for url.
func (m *MemoryStore) Get(url string) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[url]
	if !ok {
		return Record{}, false
	}
	return cloneRecord(rec), true
}

// GetAll returns a snapshot of all currently stored records.
func (m *MemoryStore) GetAll() map[string]Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Record, len(m.records))
	for url, rec := range m.records {
		out[url] = cloneRecord(rec)
	}
	return out
}

// EnsureWaiting adds a waiting record for every URL the store has not seen.
func (m *MemoryStore) EnsureWaiting(urls []string) int {
	added := make([]string, 0)

	m.mu.Lock()
	for _, url := range urls {
		if _, exists := m.records[url]; exists {
			continue
		}
		m.records[url] = Waiting()
		added = append(added, url)
	}
	m.mu.Unlock()

	for _, url := range added {
		m.notifySubscribers(Update{URL: url, Record: Waiting()})
	}
	return len(added)
}

// Subscribe creates a new subscription and returns a channel for receiving updates.
//
// The returned channel has a buffer of 100 messages. If the buffer fills
// (slow consumer), new updates are dropped for this subscriber.
func (m *MemoryStore) Subscribe() <-chan Update {
	ch := make(chan Update, subscriberBuffer)

	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()

	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (m *MemoryStore) Unsubscribe(ch <-chan Update) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for subCh := range m.subscribers {
		if subCh == ch {
			delete(m.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

// notifySubscribers sends the update to all active subscribers without blocking.
func (m *MemoryStore) notifySubscribers(u Update) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for ch := range m.subscribers {
		select {
		case ch <- u:
		default:
			// subscriber is slow, drop the message
		}
	}
}

// cloneRecord copies the pointer fields so callers cannot mutate stored state.
func cloneRecord(r Record) Record {
	if r.Code != nil {
		code := *r.Code
		r.Code = &code
	}
	if r.Error != nil {
		msg := *r.Error
		r.Error = &msg
	}
	return r
}
