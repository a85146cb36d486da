package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"maps"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/jpalmerr/pingkeeper/internal/registry"
	"github.com/jpalmerr/pingkeeper/internal/store"
)

const (
	// sseWriteTimeout is the maximum time allowed for a single SSE write operation.
	sseWriteTimeout = 5 * time.Second

	shutdownTimeout = 5 * time.Second

	// defaultTitle is used when no custom title is configured.
	defaultTitle = "PingKeeper"
)

// Customers is the read side of the customer registry.
type Customers interface {
	Get(customer string) (registry.Bots, bool)
	Customers() registry.Data
}

// Trigger starts a detached ping cycle, reporting false if one is running.
type Trigger interface {
	RunCycleAsync(ctx context.Context) bool
}

// Options holds the collaborators of a [Server].
type Options struct {
	Store     store.Store
	Customers Customers

	// Trigger and TriggerKey enable /trigger_ping; both must be set.
	Trigger    Trigger
	TriggerKey string

	// JobContext is the context detached cycles run with. It must outlive
	// requests; defaults to context.Background().
	JobContext context.Context

	// Templates holds templates/*.html. Without it the HTML pages 404.
	Templates fs.FS

	// Metrics serves /metrics when set.
	Metrics http.Handler

	Title  string
	Port   int
	Logger *slog.Logger
}

// Server handles HTTP requests for the PingKeeper dashboards and API.
type Server struct {
	store      store.Store
	customers  Customers
	trigger    Trigger
	triggerKey string
	jobCtx     context.Context
	pages      *template.Template
	metrics    http.Handler
	title      string
	port       int
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new HTTP [Server]. Templates are parsed eagerly so a
// broken template fails at startup rather than on the first request.
func NewServer(opts Options) (*Server, error) {
	s := &Server{
		store:      opts.Store,
		customers:  opts.Customers,
		trigger:    opts.Trigger,
		triggerKey: opts.TriggerKey,
		jobCtx:     opts.JobContext,
		metrics:    opts.Metrics,
		title:      opts.Title,
		port:       opts.Port,
		logger:     opts.Logger,
	}
	if s.jobCtx == nil {
		s.jobCtx = context.Background()
	}
	if s.title == "" {
		s.title = defaultTitle
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	if opts.Templates != nil {
		pages, err := template.ParseFS(opts.Templates, "templates/*.html")
		if err != nil {
			return nil, fmt.Errorf("failed to parse templates: %w", err)
		}
		s.pages = pages
	}
	return s, nil
}

// Handler returns the routed handler. Exposed for tests and embedding.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleLanding)
	mux.HandleFunc("GET /admin", s.handleAdmin)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /api/sse", s.handleSSE)
	mux.HandleFunc("GET /api/customers/{customer}", s.handleCustomerAPI)
	mux.HandleFunc("GET /{customer}", s.handleCustomer)

	if s.trigger != nil && s.triggerKey != "" {
		mux.HandleFunc("GET /trigger_ping", s.handleTrigger)
	}
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return mux
}

// Start begins serving HTTP requests in a background goroutine.
//
// Start is non-blocking and returns immediately after confirming the server
// is listening. The server shuts down gracefully when ctx is cancelled.
//
// Returns an error if the server fails to bind to the configured port.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.port, err)
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// request contexts derive from ctx so SSE streams end on shutdown
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	return nil
}

// bot is a single row rendered on a dashboard.
type bot struct {
	Name string
	URL  string
}

// botGroup is one customer's bots, sorted by name.
type botGroup struct {
	Customer string
	Bots     []bot
}

type pageData struct {
	Title   string
	Heading string
	Groups  []botGroup
}

func newGroup(customer string, bots registry.Bots) botGroup {
	g := botGroup{Customer: customer, Bots: make([]bot, 0, len(bots))}
	for _, name := range slices.Sorted(maps.Keys(bots)) {
		g.Bots = append(g.Bots, bot{Name: name, URL: bots[name]})
	}
	return g
}

// handleLanding shows the admin customer's bots as a live demo.
func (s *Server) handleLanding(w http.ResponseWriter, r *http.Request) {
	bots, _ := s.customers.Get(registry.AdminCustomer)
	s.render(w, http.StatusOK, "index.html", pageData{
		Title:  s.title,
		Groups: []botGroup{newGroup(registry.AdminCustomer, bots)},
	})
}

// handleAdmin shows every customer's bots.
func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request) {
	all := s.customers.Customers()
	groups := make([]botGroup, 0, len(all))
	for _, customer := range slices.Sorted(maps.Keys(all)) {
		groups = append(groups, newGroup(customer, all[customer]))
	}
	s.render(w, http.StatusOK, "dashboard.html", pageData{
		Title:   s.title,
		Heading: "All bots",
		Groups:  groups,
	})
}

// handleCustomer shows a single customer's bots or a not-found page.
func (s *Server) handleCustomer(w http.ResponseWriter, r *http.Request) {
	customer := r.PathValue("customer")
	bots, ok := s.customers.Get(customer)
	if !ok {
		s.render(w, http.StatusNotFound, "not_found.html", pageData{Title: s.title, Heading: customer})
		return
	}
	s.render(w, http.StatusOK, "dashboard.html", pageData{
		Title:   s.title,
		Heading: customer,
		Groups:  []botGroup{newGroup(customer, bots)},
	})
}

// handleCustomerAPI returns a customer's bot map as JSON.
func (s *Server) handleCustomerAPI(w http.ResponseWriter, r *http.Request) {
	customer := r.PathValue("customer")
	bots, ok := s.customers.Get(customer)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "customer not found"}, s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customer": customer, "bots": bots}, s.logger)
}

// handleStatus returns the whole status store as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-cache")
	writeJSON(w, http.StatusOK, map[string]any{"statuses": s.store.GetAll()}, s.logger)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

// handleTrigger starts a detached ping cycle when the key matches.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if subtle.ConstantTimeCompare([]byte(key), []byte(s.triggerKey)) != 1 {
		s.logger.Warn("rejected ping trigger", "remote_addr", r.RemoteAddr)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	if !s.trigger.RunCycleAsync(s.jobCtx) {
		http.Error(w, "Ping cycle already running.", http.StatusConflict)
		return
	}

	s.logger.Info("ping cycle triggered over http", "remote_addr", r.RemoteAddr)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte("Ping cycle started in background."))
}

// handleSSE streams status updates via Server-Sent Events.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	rc := http.NewResponseController(w)
	deadlinesSupported := true

	writeAndFlush := func(data []byte) error {
		if deadlinesSupported {
			if err := rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
				s.logger.Debug("sse write deadlines not supported", "error", err)
				deadlinesSupported = false
			}
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		return rc.Flush()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	ch := s.store.Subscribe()
	defer s.store.Unsubscribe(ch)

	// open the stream before the first event so clients of an empty store connect
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return
	}

	all := s.store.GetAll()
	for _, url := range slices.Sorted(maps.Keys(all)) {
		data, err := json.Marshal(store.Update{URL: url, Record: all[url]})
		if err != nil {
			continue
		}
		if err := writeAndFlush(data); err != nil {
			return
		}
	}

	for {
		select {
		case update, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(update)
			if err != nil {
				continue
			}
			if err := writeAndFlush(data); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data pageData) {
	if s.pages == nil || s.pages.Lookup(name) == nil {
		http.Error(w, http.StatusText(status), status)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.pages.ExecuteTemplate(w, name, data); err != nil {
		s.logger.Error("failed to render page", "template", name, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode json response", "error", err)
	}
}
