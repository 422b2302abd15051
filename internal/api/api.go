// Package api serves the HTTP and websocket interface for creating runs and
// observing their progress.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/giantswarm/llm-verdict/internal/coordinator"
	"github.com/giantswarm/llm-verdict/internal/status"
	"github.com/giantswarm/llm-verdict/internal/store"
	"github.com/giantswarm/llm-verdict/internal/testrun"
)

const (
	// OwnerHeader carries the caller identity set by the fronting auth proxy.
	// It is ignored when the request context carries an authenticated owner.
	OwnerHeader = "X-Forwarded-User"
	// DefaultOwner is used when no identity is available.
	DefaultOwner = testrun.DefaultOwner

	maxBodyBytes = 1 << 20
)

// Starter hands a created run to the background executor.
type Starter interface {
	Start(ctx context.Context, runID string) error
}

// Snapshots reads and watches run progress.
type Snapshots interface {
	Read(ctx context.Context, runID string) (testrun.Snapshot, error)
	Subscribe(ctx context.Context, runID string) (<-chan testrun.Snapshot, func(), error)
}

// API serves run creation, listing and progress over HTTP and websockets.
type API struct {
	store        store.Store
	starter      Starter
	snapshots    Snapshots
	pollInterval time.Duration
	upgrader     websocket.Upgrader
}

// New creates an API that persists runs in st, hands them to starter and
// reads progress from snapshots.
func New(st store.Store, starter Starter, snapshots Snapshots) *API {
	return &API{
		store:        st,
		starter:      starter,
		snapshots:    snapshots,
		pollInterval: status.DefaultPollInterval,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// SetPollInterval changes how often websocket observers re-read the snapshot.
func (a *API) SetPollInterval(d time.Duration) {
	a.pollInterval = d
}

// Router returns the routes without middleware.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/tests", a.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/tests", a.handleList).Methods(http.MethodGet)
	r.HandleFunc("/tests/{id}", a.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/tests/{id}/status", a.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/ws/{id}", a.handleWatch)
	r.HandleFunc("/healthz", handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

// Handler returns the router wrapped with CORS allowing every origin.
func (a *API) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(a.Router())
}

// Owner returns the caller identity for r: the authenticated owner from the
// request context, else OwnerHeader, else DefaultOwner.
func Owner(r *http.Request) string {
	if owner, ok := testrun.OwnerFromContext(r.Context()); ok {
		return owner
	}
	if owner := strings.TrimSpace(r.Header.Get(OwnerHeader)); owner != "" {
		return owner
	}
	return DefaultOwner
}

func (a *API) handleCreate(w http.ResponseWriter, r *http.Request) {
	var def testrun.Definition
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&def); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := def.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	run, err := a.store.CreateRun(r.Context(), def, Owner(r))
	if err != nil {
		slog.Error("failed to create run", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create run")
		return
	}

	if err := a.starter.Start(r.Context(), run.ID); err != nil {
		slog.Error("failed to start run", "run_id", run.ID, "error", err)
		code := http.StatusInternalServerError
		if errors.Is(err, coordinator.ErrShuttingDown) {
			code = http.StatusServiceUnavailable
		}
		writeError(w, code, "failed to start run")
		return
	}

	slog.Info("run created", "run_id", run.ID, "owner", run.Owner, "providers", len(def.Providers))
	writeJSON(w, http.StatusCreated, run)
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	runs, err := a.store.ListRuns(r.Context(), Owner(r))
	if err != nil {
		slog.Error("failed to list runs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []*testrun.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	run, err := a.store.LoadRun(r.Context(), id)
	if err != nil {
		writeLookupError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	snap, err := a.snapshots.Read(r.Context(), id)
	if err != nil {
		writeLookupError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}

func writeLookupError(w http.ResponseWriter, id string, err error) {
	if isNotFound(err) {
		writeError(w, http.StatusNotFound, "test not found")
		return
	}
	slog.Error("failed to read run", "run_id", id, "error", err)
	writeError(w, http.StatusInternalServerError, "failed to read run")
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound) || errors.Is(err, status.ErrUnknownRun)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}
