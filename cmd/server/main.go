// Package main provides the unified swap engine service:
// - HTTP JSON API for listings and swap negotiation
// - WebSocket notification hub
// - Scheduled reconciliation of degraded cancellations
// - Prometheus metrics endpoint
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"renex/internal/domain"
	"renex/internal/ledger"
	"renex/internal/negotiation"
	"renex/internal/notify/ws"
	"renex/internal/observability"
	"renex/internal/orchestrator"
	"renex/internal/reconcile"
	"renex/internal/storage"
	chstore "renex/internal/storage/clickhouse"
	"renex/internal/storage/memory"
	"renex/internal/storage/migrations"
	pgstore "renex/internal/storage/postgres"
)

// Server holds all components of the unified service.
type Server struct {
	orch       *orchestrator.Orchestrator
	reconciler *reconcile.Reconciler
	hub        *ws.Hub
	logger     *log.Logger

	startedAt time.Time

	mu                sync.Mutex
	reconcileRuns     int
	lastReconcileRun  time.Time
	lastReconcileScan int
}

// allStores holds all storage implementations.
type allStores struct {
	listingStore  storage.ListingStore
	swapStore     storage.SwapStore
	eventStore    storage.SwapEventStore
	activityStore storage.ListingActivityStore
}

func main() {
	// Load .env file if exists
	loadEnvFile()

	// Parse flags (env vars as defaults)
	addr := flag.String("addr", envOr("RENEX_ADDR", ":8080"), "API HTTP address")
	metricsAddr := flag.String("metrics-addr", envOr("RENEX_METRICS_ADDR", ":9090"), "Prometheus metrics HTTP address")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string (optional)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	reconcileInterval := flag.Duration("reconcile-interval", 5*time.Minute, "Reconciliation pass interval")
	maxAttempts := flag.Int("max-attempts", 0, "Retry attempts for volume write conflicts (0 = default)")

	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	if !*useMemory && *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}

	ctx, cancel := context.WithCancel(context.Background())

	stores, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory, logger)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	hub := ws.NewHub(nil, nil)

	orch := orchestrator.New(orchestrator.Options{
		Listings:    stores.listingStore,
		Swaps:       stores.swapStore,
		Events:      stores.eventStore,
		Activity:    stores.activityStore,
		Notifier:    hub,
		MaxAttempts: *maxAttempts,
	})

	reconciler := reconcile.New(stores.listingStore, stores.swapStore, stores.eventStore)

	server := &Server{
		orch:       orch,
		reconciler: reconciler,
		hub:        hub,
		logger:     logger,
		startedAt:  time.Now(),
	}

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		}
	}()

	go server.startMetricsServer(*metricsAddr)
	go server.reconcileLoop(ctx, *reconcileInterval)

	logger.Printf("Starting API server on %s", *addr)
	if err := server.startAPIServer(ctx, *addr); err != nil {
		logger.Fatalf("API server error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// createStores creates all required stores.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool, logger *log.Logger) (*allStores, func(), error) {
	if useMemory {
		stores := &allStores{
			listingStore:  memory.NewListingStore(),
			swapStore:     memory.NewSwapStore(),
			eventStore:    memory.NewSwapEventStore(),
			activityStore: memory.NewListingActivityStore(),
		}
		return stores, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("run postgres migrations: %w", err)
	}

	stores := &allStores{
		listingStore: pgstore.NewListingStore(pool),
		swapStore:    pgstore.NewSwapStore(pool),
		eventStore:   pgstore.NewSwapEventStore(pool),
	}
	cleanup := func() { pool.Close() }

	// The activity feed is optional; without ClickHouse the engine runs
	// without analytics.
	if clickhouseDSN != "" {
		chConn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("run clickhouse migrations: %w", err)
		}
		stores.activityStore = chstore.NewActivityStore(chConn)
		cleanup = func() {
			chConn.Close()
			pool.Close()
		}
	} else {
		logger.Println("No ClickHouse DSN configured, activity feed disabled")
	}

	return stores, cleanup, nil
}

// reconcileLoop runs reconciliation passes on a fixed interval.
func (s *Server) reconcileLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := s.reconciler.Run(ctx)
			if err != nil {
				s.logger.Printf("Reconciliation pass failed: %v", err)
				continue
			}
			s.mu.Lock()
			s.reconcileRuns++
			s.lastReconcileRun = time.Now()
			s.lastReconcileScan = report.Scanned
			s.mu.Unlock()
		}
	}
}

// startAPIServer starts the HTTP JSON API and blocks until ctx is done.
func (s *Server) startAPIServer(ctx context.Context, addr string) error {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /listings", s.handleCreateListing)
	mux.HandleFunc("GET /listings", s.handleListActiveListings)
	mux.HandleFunc("GET /listings/{id}", s.handleGetListing)
	mux.HandleFunc("POST /listings/{id}/close", s.handleCloseListing)
	mux.HandleFunc("GET /listings/{id}/swaps", s.handleListingSwaps)

	mux.HandleFunc("POST /swaps", s.handleCreateSwap)
	mux.HandleFunc("GET /swaps/{id}", s.handleGetSwap)
	mux.HandleFunc("GET /swaps/{id}/events", s.handleSwapEvents)
	mux.HandleFunc("POST /swaps/{id}/accept", s.handleSwapAction(s.orch.AcceptSwap))
	mux.HandleFunc("POST /swaps/{id}/reject", s.handleSwapAction(s.orch.RejectSwap))
	mux.HandleFunc("POST /swaps/{id}/complete", s.handleSwapAction(s.orch.CompleteSwap))
	mux.HandleFunc("POST /swaps/{id}/cancel", s.handleSwapAction(s.orch.CancelSwap))

	mux.HandleFunc("GET /users/{id}/listings", s.handleUserListings)
	mux.HandleFunc("GET /users/{id}/swaps", s.handleUserSwaps)

	mux.Handle("/ws", s.hub)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// startMetricsServer starts the HTTP server for health/metrics/status.
func (s *Server) startMetricsServer(addr string) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/status", s.handleStatus)

	s.logger.Printf("Starting metrics server on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		s.logger.Printf("Metrics server error: %v", err)
	}
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status            string    `json:"status"`
	Uptime            string    `json:"uptime"`
	WSConnections     int       `json:"ws_connections"`
	ReconcileRuns     int       `json:"reconcile_runs"`
	LastReconcileRun  time.Time `json:"last_reconcile_run,omitempty"`
	LastReconcileScan int       `json:"last_reconcile_scan"`
}

// handleStatus returns server status as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp := StatusResponse{
		Status:            "running",
		Uptime:            time.Since(s.startedAt).String(),
		WSConnections:     s.hub.TotalConnections(),
		ReconcileRuns:     s.reconcileRuns,
		LastReconcileRun:  s.lastReconcileRun,
		LastReconcileScan: s.lastReconcileScan,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// createListingRequest is the JSON body of POST /listings.
type createListingRequest struct {
	ListingType  string          `json:"listing_type"`
	EnergyType   string          `json:"energy_type"`
	TotalVolume  decimal.Decimal `json:"total_volume"`
	PricePerUnit decimal.Decimal `json:"price_per_unit"`
	Location     string          `json:"location"`
	Description  string          `json:"description"`
	StartTime    int64           `json:"start_time"`
	EndTime      int64           `json:"end_time"`
}

func (s *Server) handleCreateListing(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}

	var req createListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	listing, err := s.orch.CreateListing(r.Context(), orchestrator.CreateListingParams{
		OwnerID:      caller,
		ListingType:  req.ListingType,
		EnergyType:   req.EnergyType,
		TotalVolume:  req.TotalVolume,
		PricePerUnit: req.PricePerUnit,
		Location:     req.Location,
		Description:  req.Description,
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, listing)
}

func (s *Server) handleListActiveListings(w http.ResponseWriter, r *http.Request) {
	listings, err := s.orch.ListActiveListings(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listings)
}

func (s *Server) handleGetListing(w http.ResponseWriter, r *http.Request) {
	listing, err := s.orch.GetListing(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (s *Server) handleCloseListing(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	listing, err := s.orch.CloseListing(r.Context(), r.PathValue("id"), caller)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (s *Server) handleListingSwaps(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	swaps, err := s.orch.ListSwapsForListing(r.Context(), r.PathValue("id"), caller)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, swaps)
}

// createSwapRequest is the JSON body of POST /swaps.
type createSwapRequest struct {
	ListingID      string          `json:"listing_id"`
	ProposedVolume decimal.Decimal `json:"proposed_volume"`
	ProposedPrice  decimal.Decimal `json:"proposed_price"`
	Message        string          `json:"message"`
}

func (s *Server) handleCreateSwap(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}

	var req createSwapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	swap, err := s.orch.CreateSwap(r.Context(), orchestrator.CreateSwapParams{
		ListingID:      req.ListingID,
		InitiatorID:    caller,
		ProposedVolume: req.ProposedVolume,
		ProposedPrice:  req.ProposedPrice,
		Message:        req.Message,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, swap)
}

func (s *Server) handleGetSwap(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	swap, err := s.orch.GetSwap(r.Context(), r.PathValue("id"), caller)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, swap)
}

func (s *Server) handleSwapEvents(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	events, err := s.orch.GetSwapEvents(r.Context(), r.PathValue("id"), caller)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// swapActionResponse wraps a swap with the outcome of its volume side effect.
type swapActionResponse struct {
	Swap     *domain.Swap `json:"swap"`
	Degraded bool         `json:"degraded,omitempty"`
	Warning  string       `json:"warning,omitempty"`
}

// handleSwapAction adapts a swap transition method into an HTTP handler.
// A degraded cancellation still returns 200: the swap is cancelled, only
// the volume release is outstanding.
func (s *Server) handleSwapAction(action func(context.Context, string, string) (*domain.Swap, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := callerID(w, r)
		if !ok {
			return
		}
		swap, err := action(r.Context(), r.PathValue("id"), caller)
		if err != nil {
			if errors.Is(err, orchestrator.ErrCancelledVolumeNotReleased) {
				writeJSON(w, http.StatusOK, swapActionResponse{
					Swap:     swap,
					Degraded: true,
					Warning:  "reserved volume not yet released, will be reconciled",
				})
				return
			}
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, swapActionResponse{Swap: swap})
	}
}

func (s *Server) handleUserListings(w http.ResponseWriter, r *http.Request) {
	listings, err := s.orch.ListListingsByOwner(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listings)
}

func (s *Server) handleUserSwaps(w http.ResponseWriter, r *http.Request) {
	swaps, err := s.orch.ListSwapsForUser(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, swaps)
}

// callerID extracts the caller identity from the X-User-ID header.
// Authentication is handled upstream; the engine only needs an identity.
func callerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	caller := r.Header.Get("X-User-ID")
	if caller == "" {
		writeError(w, http.StatusUnauthorized, "missing X-User-ID header")
		return "", false
	}
	return caller, true
}

// errorResponse is the JSON body of error responses.
type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeDomainError maps engine errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, ledger.ErrListingNotFound),
		errors.Is(err, negotiation.ErrSwapNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrInvalidWindow),
		errors.Is(err, ledger.ErrNonPositiveVolume),
		errors.Is(err, orchestrator.ErrInvalidVolume),
		errors.Is(err, orchestrator.ErrInvalidPrice),
		errors.Is(err, storage.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, negotiation.ErrForbidden),
		errors.Is(err, orchestrator.ErrNotOwner):
		status = http.StatusForbidden
	case errors.Is(err, ledger.ErrListingClosed),
		errors.Is(err, ledger.ErrInsufficientVolume),
		errors.Is(err, negotiation.ErrInvalidTransition),
		errors.Is(err, orchestrator.ErrSelfSwap),
		errors.Is(err, orchestrator.ErrDuplicateProposal),
		errors.Is(err, orchestrator.ErrConflict),
		errors.Is(err, storage.ErrVersionConflict):
		status = http.StatusConflict
	}

	writeError(w, status, err.Error())
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Don't override existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
