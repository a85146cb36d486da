package pingkeeper

import (
	"time"

	"github.com/jpalmerr/pingkeeper/internal/poller"
	"github.com/jpalmerr/pingkeeper/internal/store"
)

// Status represents the lifecycle state of a monitored URL.
//
// Status is a string type so it serializes to JSON and logs as-is.
type Status string

const (
	// StatusWaiting indicates the URL is registered but has not been probed yet.
	StatusWaiting Status = "waiting"

	// StatusLive indicates the last probe got a response below 400.
	StatusLive Status = "live"

	// StatusDown indicates the last probe got a response of 400 or above,
	// or failed before a response arrived.
	StatusDown Status = "down"

	// StatusRecovered indicates the last probe succeeded right after a
	// down result. The next success turns it back into [StatusLive].
	StatusRecovered Status = "recovered"
)

// String returns the string representation of the status.
// This implements the fmt.Stringer interface.
func (s Status) String() string {
	return string(s)
}

// StatusResult holds the outcome of probing a single URL.
//
// StatusResult values are copies; holding on to one does not retain any
// internal state.
type StatusResult struct {
	// URL is the probed URL.
	URL string

	// Status is the state after this probe.
	Status Status

	// StatusCode is the HTTP status code, or zero when the request failed
	// before a response arrived.
	StatusCode int

	// Error is empty for live and recovered results. For down results it is
	// either "HTTP <code>" or the failure class, such as "Timeout".
	Error string

	// CheckedAt is when the probe finished, in UTC.
	CheckedAt time.Time
}

// toStatusResult converts a stored record into the public result type.
func toStatusResult(url string, rec store.Record) StatusResult {
	res := StatusResult{URL: url, Status: Status(rec.Status)}
	if rec.Code != nil {
		res.StatusCode = *rec.Code
	}
	if rec.Error != nil {
		res.Error = *rec.Error
	}
	if rec.Timestamp != "" {
		if at, err := time.Parse(poller.TimestampLayout, rec.Timestamp); err == nil {
			res.CheckedAt = at
		}
	}
	return res
}
