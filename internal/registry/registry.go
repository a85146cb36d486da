package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// AdminCustomer is the customer showcased on the public landing page.
	AdminCustomer = "admin"

	defaultFetchTimeout = 10 * time.Second
	maxDocumentSize     = 1 << 20 // 1MB
	cacheBustParam      = "_cb"
)

// ErrNoSource is returned by [Registry.Fetch] when no document URL is configured.
var ErrNoSource = errors.New("no customer document configured")

// Bots maps a bot display name to its URL.
type Bots map[string]string

// Data maps a customer identifier to its bots.
type Data map[string]Bots

// Clone returns a deep copy of d.
func (d Data) Clone() Data {
	if d == nil {
		return Data{}
	}
	out := make(Data, len(d))
	for customer, bots := range d {
		out[customer] = maps.Clone(bots)
	}
	return out
}

// Equal reports whether d and other hold the same customers, bots and URLs.
func (d Data) Equal(other Data) bool {
	return maps.EqualFunc(d, other, func(a, b Bots) bool {
		return maps.Equal(a, b)
	})
}

// URLs returns the sorted, deduplicated union of every customer's URLs.
func (d Data) URLs() []string {
	seen := make(map[string]struct{})
	for _, bots := range d {
		for _, u := range bots {
			seen[u] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(seen))
}

// Option configures a [Registry].
type Option func(*Registry)

// WithSource sets the remote document the registry refreshes from.
func WithSource(documentURL string) Option {
	return func(r *Registry) {
		r.source = documentURL
	}
}

// WithHTTPClient overrides the client used to fetch the document.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Registry) {
		if c != nil {
			r.client = c
		}
	}
}

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithFetchTimeout bounds a single document fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// Registry is the concurrency-safe customer registry.
type Registry struct {
	mu       sync.RWMutex
	data     Data
	onChange []func(Data)

	// refreshMu serializes Refresh so a slow fetch cannot overwrite the
	// result of a newer one
	refreshMu sync.Mutex

	source  string
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a registry seeded with initial. The seed is copied.
func New(initial Data, opts ...Option) *Registry {
	r := &Registry{
		data:    initial.Clone(),
		client:  &http.Client{},
		timeout: defaultFetchTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HasSource reports whether a remote document is configured.
func (r *Registry) HasSource() bool {
	return r.source != ""
}

// OnChange registers fn to run after every refresh that replaced the data.
// fn receives a copy of the new data.
func (r *Registry) OnChange(fn func(Data)) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.onChange = append(r.onChange, fn)
	r.mu.Unlock()
}

// Get returns a copy of the bots registered for customer.
func (r *Registry) Get(customer string) (Bots, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bots, ok := r.data[customer]
	if !ok {
		return nil, false
	}
	return maps.Clone(bots), true
}

// Customers returns a deep copy of the whole registry.
func (r *Registry) Customers() Data {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.data.Clone()
}

// AllURLs returns the sorted, deduplicated set of registered URLs.
func (r *Registry) AllURLs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.data.URLs()
}

// Refresh fetches the remote document and replaces the registry if it changed.
//
// Refresh never leaves a partial registry behind: on any failure the previous
// data is kept, the error is logged and returned, and callers are free to
// ignore it. Without a configured source Refresh returns the current data.
//
// Concurrent calls run one after the other, so the registry always ends up
// holding the document of the last fetch to start.
func (r *Registry) Refresh(ctx context.Context) (Data, error) {
	if !r.HasSource() {
		return r.Customers(), nil
	}

	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	fresh, err := r.Fetch(ctx)
	if err != nil {
		r.logger.Warn("customer registry refresh failed, keeping previous data",
			"source", r.source,
			"error", err,
		)
		return r.Customers(), err
	}

	r.mu.Lock()
	if r.data.Equal(fresh) {
		r.mu.Unlock()
		r.logger.Debug("customer registry unchanged", "customers", len(fresh))
		return fresh.Clone(), nil
	}
	r.data = fresh
	observers := slices.Clone(r.onChange)
	r.mu.Unlock()

	r.logger.Info("customer registry updated",
		"customers", len(fresh),
		"urls", len(fresh.URLs()),
	)
	for _, fn := range observers {
		fn(fresh.Clone())
	}
	return fresh.Clone(), nil
}

// Fetch downloads, decodes and validates the remote document without
// touching the registry.
func (r *Registry) Fetch(ctx context.Context) (Data, error) {
	if !r.HasSource() {
		return nil, ErrNoSource
	}

	target, err := cacheBusted(r.source)
	if err != nil {
		return nil, fmt.Errorf("invalid document url: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}

	return Parse(body)
}

// cacheBusted appends a unique query parameter so intermediate caches
// cannot serve a stale document.
func cacheBusted(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(cacheBustParam, uuid.NewString())
	u.RawQuery = q.Encode()
	return u.String(), nil
}
