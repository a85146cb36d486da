package store

// Status is the lifecycle state of a monitored URL.
type Status string

const (
	// StatusWaiting marks a URL that has been registered but not probed yet.
	StatusWaiting Status = "waiting"

	// StatusLive marks a URL whose last probe returned an ok response.
	StatusLive Status = "live"

	// StatusDown marks a URL whose last probe failed or returned a non-ok code.
	StatusDown Status = "down"

	// StatusRecovered marks a URL that answered ok right after being down.
	StatusRecovered Status = "recovered"
)

// Valid reports whether s is one of the four known states.
func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusLive, StatusDown, StatusRecovered:
		return true
	default:
		return false
	}
}

// Record is the last-known status of a single URL.
//
// Code and Error are pointers so they serialize as JSON null when absent:
// a transport failure has no code, and an ok response has no error.
type Record struct {
	Status    Status  `json:"status"`
	Code      *int    `json:"code"`
	Error     *string `json:"error"`
	Timestamp string  `json:"timestamp,omitempty"`
}

// Waiting returns the record assigned to a URL before its first probe.
func Waiting() Record {
	return Record{Status: StatusWaiting}
}

// Update is a single change published to subscribers.
type Update struct {
	URL    string `json:"url"`
	Record Record `json:"record"`
}

// Store defines the interface for storing and subscribing to status records.
//
// Store implementations must be safe for concurrent access.
type Store interface {
	// Set stores the record for url and notifies all subscribers.
	Set(url string, rec Record)

	// Get returns the record for url, if any.
	Get(url string) (Record, bool)

	// GetAll returns a snapshot of every record keyed by URL.
	// The returned map is a copy; modifications do not affect the store.
	GetAll() map[string]Record

	// EnsureWaiting adds a waiting record for each URL not yet present.
	// Existing records are never touched. Returns the number of URLs added.
	EnsureWaiting(urls []string) int

	// Subscribe returns a channel that receives updates.
	// Caller must call Unsubscribe when done to prevent resource leaks.
	Subscribe() <-chan Update

	// Unsubscribe removes a subscription and closes the channel.
	// Safe to call with a channel that was already unsubscribed.
	Unsubscribe(ch <-chan Update)
}
