package pingkeeper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jpalmerr/pingkeeper/internal/registry"
	"github.com/jpalmerr/pingkeeper/internal/store"
)

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func statusServer(t *testing.T, code int) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestRunOnce_RecordsStatuses(t *testing.T) {
	up := statusServer(t, http.StatusOK)
	broken := statusServer(t, http.StatusBadGateway)

	pk, err := New(
		WithCustomers(map[string]map[string]string{
			"acme": {"Up": up.URL, "Broken": broken.URL},
		}),
		WithPause(0),
		WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer pk.Close()

	statuses, err := pk.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	if got := statuses[up.URL]; got.Status != StatusLive || got.StatusCode != 200 || got.Error != "" {
		t.Errorf("up = %+v, want live 200", got)
	}
	if got := statuses[broken.URL]; got.Status != StatusDown || got.StatusCode != 502 || got.Error != "HTTP 502" {
		t.Errorf("broken = %+v, want down 502", got)
	}
	if statuses[up.URL].CheckedAt.IsZero() {
		t.Error("CheckedAt should be set after a probe")
	}
}

func TestRunOnce_DownThenRecovered(t *testing.T) {
	var code atomic.Int32
	code.Store(http.StatusServiceUnavailable)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(code.Load()))
	}))
	defer ts.Close()

	pk, err := New(
		WithCustomers(map[string]map[string]string{"acme": {"Flaky": ts.URL}}),
		WithPause(0),
		WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer pk.Close()

	want := []Status{StatusDown, StatusRecovered, StatusLive}
	for i, w := range want {
		if i == 1 {
			code.Store(http.StatusOK)
		}
		statuses, err := pk.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("RunOnce() error = %v", err)
		}
		if got := statuses[ts.URL].Status; got != w {
			t.Errorf("cycle %d status = %q, want %q", i+1, got, w)
		}
	}
}

func TestRunOnce_IncludesSelfURL(t *testing.T) {
	var hits atomic.Int32
	self := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer self.Close()

	pk, err := New(WithSelfURL(self.URL), WithPause(0), WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer pk.Close()

	statuses, err := pk.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("self url hits = %d, want 1", hits.Load())
	}
	if statuses[self.URL].Status != StatusLive {
		t.Errorf("self status = %q, want live", statuses[self.URL].Status)
	}
}

func TestRunOnce_RefreshesRemoteCustomers(t *testing.T) {
	bot := statusServer(t, http.StatusOK)
	doc := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]map[string]string{"remote": {"Bot": bot.URL}})
	}))
	defer doc.Close()

	pk, err := New(WithCustomersURL(doc.URL), WithPause(0), WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer pk.Close()

	statuses, err := pk.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if statuses[bot.URL].Status != StatusLive {
		t.Errorf("remote bot status = %q, want live", statuses[bot.URL].Status)
	}
	if _, ok := pk.Customers()["remote"]; !ok {
		t.Error("remote customer should be registered after refresh")
	}
}

func TestRunOnce_RefreshFailureKeepsStaticCustomers(t *testing.T) {
	bot := statusServer(t, http.StatusOK)
	doc := statusServer(t, http.StatusInternalServerError)

	pk, err := New(
		WithCustomers(map[string]map[string]string{"acme": {"Bot": bot.URL}}),
		WithCustomersURL(doc.URL),
		WithPause(0),
		WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer pk.Close()

	statuses, err := pk.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if statuses[bot.URL].Status != StatusLive {
		t.Errorf("static bot status = %q, want live", statuses[bot.URL].Status)
	}
}

func TestRunOnce_BusyEngine(t *testing.T) {
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer slow.Close()
	defer close(release)

	pk, err := New(
		WithCustomers(map[string]map[string]string{"acme": {"Slow": slow.URL}}),
		WithPause(0),
		WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer pk.Close()

	engine, err := pk.prepare(context.Background())
	if err != nil {
		t.Fatalf("prepare() error = %v", err)
	}
	if !engine.RunCycleAsync(context.Background()) {
		t.Fatal("RunCycleAsync() = false, want true")
	}

	if _, err := pk.RunOnce(context.Background()); !errors.Is(err, ErrCycleRunning) {
		t.Errorf("RunOnce() error = %v, want %v", err, ErrCycleRunning)
	}
}

func TestRunOnce_PersistsSnapshot(t *testing.T) {
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			var code atomic.Int32
			code.Store(http.StatusServiceUnavailable)
			bot := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(int(code.Load()))
			}))
			defer bot.Close()

			path := filepath.Join(t.TempDir(), "statuses")
			customers := map[string]map[string]string{"acme": {"Bot": bot.URL}}

			first, err := New(WithCustomers(customers), WithSnapshot(driver, path), WithPause(0), WithLogger(testLogger()))
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if _, err := first.RunOnce(context.Background()); err != nil {
				t.Fatalf("RunOnce() error = %v", err)
			}
			if err := first.Close(); err != nil {
				t.Fatalf("Close() error = %v", err)
			}

			// a fresh process only reports recovered if it restored the down status
			code.Store(http.StatusOK)
			second, err := New(WithCustomers(customers), WithSnapshot(driver, path), WithPause(0), WithLogger(testLogger()))
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			defer second.Close()

			statuses, err := second.RunOnce(context.Background())
			if err != nil {
				t.Fatalf("RunOnce() error = %v", err)
			}
			if got := statuses[bot.URL].Status; got != StatusRecovered {
				t.Errorf("status = %q, want %q", got, StatusRecovered)
			}
		})
	}
}

func TestWriteStatus(t *testing.T) {
	pk, err := New(WithCustomers(demoCustomers), WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var buf bytes.Buffer
	if err := pk.WriteStatus(&buf); err != nil {
		t.Fatalf("WriteStatus() error = %v", err)
	}

	var doc struct {
		Statuses map[string]struct {
			Status string  `json:"status"`
			Code   *int    `json:"code"`
			Error  *string `json:"error"`
		} `json:"statuses"`
	}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(doc.Statuses) != 3 {
		t.Fatalf("len(statuses) = %d, want 3", len(doc.Statuses))
	}
	rec := doc.Statuses["https://demo.example.com"]
	if rec.Status != "waiting" || rec.Code != nil || rec.Error != nil {
		t.Errorf("demo record = %+v, want bare waiting", rec)
	}
}

func TestCustomersChanged_SeedsWaitingOnly(t *testing.T) {
	pk, err := New(WithCustomers(demoCustomers), WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	code := 200
	pk.store.Set("https://demo.example.com", store.Record{Status: store.StatusLive, Code: &code})

	pk.customersChanged(registry.Data{
		"admin": {"Demo": "https://demo.example.com"},
		"new":   {"Fresh": "https://fresh.example.com"},
	})

	statuses := pk.Statuses()
	if statuses["https://demo.example.com"].Status != StatusLive {
		t.Error("existing record should not be reset")
	}
	if statuses["https://fresh.example.com"].Status != StatusWaiting {
		t.Error("new bot should start out waiting")
	}
}

func TestRunOnce_CancelledContext(t *testing.T) {
	bot := statusServer(t, http.StatusOK)
	pk, err := New(
		WithCustomers(map[string]map[string]string{"acme": {"Bot": bot.URL}}),
		WithPause(0),
		WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer pk.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	statuses, err := pk.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if statuses[bot.URL].Status != StatusWaiting {
		t.Errorf("status = %q, want waiting for an interrupted cycle", statuses[bot.URL].Status)
	}
}
