package poller

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jpalmerr/pingkeeper/internal/registry"
	"github.com/jpalmerr/pingkeeper/internal/snapshot"
	"github.com/jpalmerr/pingkeeper/internal/store"
)

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type staticSource []string

func (s staticSource) AllURLs() []string { return append([]string(nil), s...) }

func newTestEngine(src URLSource, st store.Store, cfg EngineConfig) *Engine {
	cfg.Logger = testLogger()
	return NewEngine(src, st, cfg)
}

func statusServer(t *testing.T, code int) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
	}))
	t.Cleanup(ts.Close)
	return ts
}

// blockingServer holds every request until release is closed.
func blockingServer(t *testing.T) (*httptest.Server, chan struct{}, *atomic.Int32) {
	t.Helper()
	release := make(chan struct{})
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-release:
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(ts.Close)
	return ts, release, &hits
}

var timestampPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{6}Z$`)

func TestEngine_LiveProbe(t *testing.T) {
	ts := statusServer(t, http.StatusOK)
	st := store.NewMemoryStore()
	reg := registry.New(registry.Data{"admin": {"A": ts.URL}})

	engine := newTestEngine(reg, st, EngineConfig{})
	if !engine.RunCycle(context.Background()) {
		t.Fatal("RunCycle() = false, want true")
	}

	rec, ok := st.Get(ts.URL)
	if !ok {
		t.Fatal("no record stored for probed URL")
	}
	if rec.Status != store.StatusLive {
		t.Errorf("Status = %v, want %v", rec.Status, store.StatusLive)
	}
	if rec.Code == nil || *rec.Code != http.StatusOK {
		t.Errorf("Code = %v, want 200", deref(rec.Code))
	}
	if rec.Error != nil {
		t.Errorf("Error = %v, want nil", *rec.Error)
	}
	if !timestampPattern.MatchString(rec.Timestamp) {
		t.Errorf("Timestamp = %q, want ISO-8601 UTC with microseconds", rec.Timestamp)
	}
}

func TestEngine_DownThenRecovered(t *testing.T) {
	ts := statusServer(t, http.StatusOK)
	st := store.NewMemoryStore()
	msg := "HTTP 500"
	st.Set(ts.URL, store.Record{Status: store.StatusDown, Code: intPtr(500), Error: &msg})

	engine := newTestEngine(staticSource{ts.URL}, st, EngineConfig{})
	engine.RunCycle(context.Background())

	rec, _ := st.Get(ts.URL)
	if rec.Status != store.StatusRecovered {
		t.Errorf("Status = %v, want %v", rec.Status, store.StatusRecovered)
	}

	// a second healthy probe settles to live
	engine.RunCycle(context.Background())
	rec, _ = st.Get(ts.URL)
	if rec.Status != store.StatusLive {
		t.Errorf("Status after second cycle = %v, want %v", rec.Status, store.StatusLive)
	}
}

func TestEngine_NonOKStatus(t *testing.T) {
	ts := statusServer(t, http.StatusBadGateway)
	st := store.NewMemoryStore()

	engine := newTestEngine(staticSource{ts.URL}, st, EngineConfig{})
	engine.RunCycle(context.Background())

	rec, _ := st.Get(ts.URL)
	if rec.Status != store.StatusDown {
		t.Errorf("Status = %v, want %v", rec.Status, store.StatusDown)
	}
	if rec.Code == nil || *rec.Code != http.StatusBadGateway {
		t.Errorf("Code = %v, want 502", deref(rec.Code))
	}
	if rec.Error == nil || *rec.Error != "HTTP 502" {
		t.Errorf("Error = %v, want %q", deref(rec.Error), "HTTP 502")
	}
}

func TestEngine_Timeout(t *testing.T) {
	ts, release, _ := blockingServer(t)
	defer close(release)

	st := store.NewMemoryStore()
	engine := newTestEngine(staticSource{ts.URL}, st, EngineConfig{ProbeTimeout: 50 * time.Millisecond})
	engine.RunCycle(context.Background())

	rec, _ := st.Get(ts.URL)
	if rec.Status != store.StatusDown {
		t.Errorf("Status = %v, want %v", rec.Status, store.StatusDown)
	}
	if rec.Code != nil {
		t.Errorf("Code = %v, want nil", *rec.Code)
	}
	if rec.Error == nil || *rec.Error != ClassTimeout {
		t.Errorf("Error = %v, want %q", deref(rec.Error), ClassTimeout)
	}
}

func TestEngine_ConnectionRefused(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	st := store.NewMemoryStore()
	engine := newTestEngine(staticSource{url}, st, EngineConfig{})
	engine.RunCycle(context.Background())

	rec, _ := st.Get(url)
	if rec.Status != store.StatusDown || rec.Code != nil {
		t.Errorf("record = %+v, want down without code", rec)
	}
	if rec.Error == nil || *rec.Error != ClassConnection {
		t.Errorf("Error = %v, want %q", deref(rec.Error), ClassConnection)
	}
}

func TestEngine_DeduplicatesAcrossCustomers(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	reg := registry.New(registry.Data{
		"admin": {"Shared": ts.URL},
		"rahul": {"Rahul's copy": ts.URL},
		"priya": {"Priya's copy": ts.URL},
	})
	st := store.NewMemoryStore()

	engine := newTestEngine(reg, st, EngineConfig{})
	engine.RunCycle(context.Background())

	if got := hits.Load(); got != 1 {
		t.Errorf("probes = %d, want 1", got)
	}
	if got := len(st.GetAll()); got != 1 {
		t.Errorf("store keys = %d, want 1", got)
	}
}

func TestEngine_SkipsWhileRunning(t *testing.T) {
	ts, release, hits := blockingServer(t)

	st := store.NewMemoryStore()
	engine := newTestEngine(staticSource{ts.URL}, st, EngineConfig{})

	if !engine.RunCycleAsync(context.Background()) {
		t.Fatal("first RunCycleAsync() = false, want true")
	}
	if !engine.Running() {
		t.Error("Running() = false while a cycle is in flight")
	}

	// both entry points must return immediately while the guard is held
	done := make(chan bool, 1)
	go func() { done <- engine.RunCycle(context.Background()) }()
	select {
	case ran := <-done:
		if ran {
			t.Error("RunCycle() = true while another cycle was running")
		}
	case <-time.After(time.Second):
		t.Fatal("RunCycle() blocked instead of skipping")
	}
	if engine.RunCycleAsync(context.Background()) {
		t.Error("second RunCycleAsync() = true while another cycle was running")
	}

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := engine.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	if got := hits.Load(); got != 1 {
		t.Errorf("probes = %d, want 1", got)
	}
	if engine.Running() {
		t.Error("Running() = true after the cycle finished")
	}

	// the guard is released for the next cycle
	if !engine.RunCycle(context.Background()) {
		t.Error("RunCycle() after completion = false, want true")
	}
}

func TestEngine_ProbesSequentially(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			cur := maxInFlight.Load()
			if n <= cur || maxInFlight.CompareAndSwap(cur, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	urls := staticSource{ts.URL + "/a", ts.URL + "/b", ts.URL + "/c", ts.URL + "/d"}
	engine := newTestEngine(urls, store.NewMemoryStore(), EngineConfig{})
	engine.RunCycle(context.Background())

	if got := maxInFlight.Load(); got != 1 {
		t.Errorf("max concurrent probes = %d, want 1", got)
	}
}

func TestEngine_PausesBetweenProbes(t *testing.T) {
	ts := statusServer(t, http.StatusOK)
	urls := staticSource{ts.URL + "/a", ts.URL + "/b", ts.URL + "/c"}

	engine := newTestEngine(urls, store.NewMemoryStore(), EngineConfig{Pause: 100 * time.Millisecond})

	start := time.Now()
	engine.RunCycle(context.Background())
	if elapsed := time.Since(start); elapsed < 200*time.Millisecond {
		t.Errorf("cycle took %v, want at least two pauses (200ms)", elapsed)
	}
}

func TestEngine_AppendsSelfURL(t *testing.T) {
	var mu sync.Mutex
	paths := map[string]int{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths[r.URL.Path]++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	self := ts.URL + "/self"
	st := store.NewMemoryStore()
	engine := newTestEngine(staticSource{ts.URL + "/bot"}, st, EngineConfig{SelfURL: self})
	engine.RunCycle(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if paths["/self"] != 1 || paths["/bot"] != 1 {
		t.Errorf("probed paths = %v, want /self and /bot once each", paths)
	}
	if rec, _ := st.Get(self); rec.Status != store.StatusLive {
		t.Errorf("self URL Status = %v, want %v", rec.Status, store.StatusLive)
	}
}

func TestEngine_SelfURLNotDuplicated(t *testing.T) {
	engine := newTestEngine(staticSource{"http://a", "http://self"}, store.NewMemoryStore(),
		EngineConfig{SelfURL: "http://self"})

	if got := engine.Targets(); len(got) != 2 {
		t.Errorf("Targets() = %v, want 2 URLs", got)
	}
}

func TestEngine_SnapshotRestoreAndSave(t *testing.T) {
	ts := statusServer(t, http.StatusOK)
	ctx := context.Background()

	backend, err := snapshot.NewFile(filepath.Join(t.TempDir(), "statuses.json"))
	if err != nil {
		t.Fatalf("NewFile() error = %v", err)
	}
	msg := "Timeout"
	if err := backend.Save(ctx, map[string]store.Record{
		ts.URL: {Status: store.StatusDown, Error: &msg, Timestamp: "2024-01-01T00:00:00.000000Z"},
	}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// a fresh process: the store only knows what the snapshot tells it
	st := store.NewMemoryStore()
	engine := newTestEngine(staticSource{ts.URL}, st, EngineConfig{Snapshot: backend})
	engine.RunCycle(ctx)

	rec, _ := st.Get(ts.URL)
	if rec.Status != store.StatusRecovered {
		t.Errorf("Status = %v, want %v (down restored from snapshot)", rec.Status, store.StatusRecovered)
	}

	saved, err := backend.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if saved[ts.URL].Status != store.StatusRecovered {
		t.Errorf("saved Status = %v, want %v", saved[ts.URL].Status, store.StatusRecovered)
	}
}

func TestEngine_CancelledContextLeavesWaiting(t *testing.T) {
	ts := statusServer(t, http.StatusOK)
	st := store.NewMemoryStore()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine := newTestEngine(staticSource{ts.URL}, st, EngineConfig{})
	engine.RunCycle(ctx)

	rec, ok := st.Get(ts.URL)
	if !ok || rec.Status != store.StatusWaiting {
		t.Errorf("record = %+v (present %v), want waiting", rec, ok)
	}
}

func TestEngine_OnResultPanicIsRecovered(t *testing.T) {
	ts := statusServer(t, http.StatusOK)

	var calls atomic.Int32
	engine := newTestEngine(staticSource{ts.URL}, store.NewMemoryStore(), EngineConfig{
		OnResult: func(string, store.Record) {
			calls.Add(1)
			panic("callback exploded")
		},
	})

	if !engine.RunCycle(context.Background()) {
		t.Fatal("RunCycle() = false, want true")
	}
	if !engine.RunCycle(context.Background()) {
		t.Error("guard was not released after a panic")
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("OnResult calls = %d, want 2", got)
	}
}

func TestEngine_StatusesAlwaysValid(t *testing.T) {
	ok := statusServer(t, http.StatusOK)
	bad := statusServer(t, http.StatusInternalServerError)
	gone := httptest.NewServer(http.NotFoundHandler())
	gone.Close()

	st := store.NewMemoryStore()
	engine := newTestEngine(staticSource{ok.URL, bad.URL, gone.URL, "http://[::1"}, st, EngineConfig{})
	engine.RunCycle(context.Background())

	for url, rec := range st.GetAll() {
		if !rec.Status.Valid() {
			t.Errorf("%s: invalid status %q", url, rec.Status)
		}
	}
}
