// Package api serves the ledger's read-only HTTP interface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	logging "github.com/ipfs/go-log/v2"

	"github.com/votingplatform/election-ledger/internal/audit"
	"github.com/votingplatform/election-ledger/internal/ledger"
)

var log = logging.Logger("ledger-api")

// maxPageSize caps the limit parameter of GET /api/ledger.
const maxPageSize = 1000

// Options configures the handler.
type Options struct {
	// AllowedOrigins lists origins allowed by CORS and the websocket
	// handshake. "*" allows any origin.
	AllowedOrigins []string
	EnableStream   bool
	// StreamBuffer is the per-client backlog of live entries before the
	// client is disconnected. Defaults to 256.
	StreamBuffer int
	// MetricsHandler is mounted at /metrics when set.
	MetricsHandler http.Handler
}

// Handler provides HTTP endpoints for reading and verifying the ledger.
type Handler struct {
	svc      *ledger.Service
	opts     Options
	mux      *http.ServeMux
	upgrader websocket.Upgrader
}

// NewHandler creates a new API handler.
func NewHandler(svc *ledger.Service, opts Options) *Handler {
	if opts.StreamBuffer <= 0 {
		opts.StreamBuffer = streamBuffer
	}
	h := &Handler{
		svc:  svc,
		opts: opts,
		mux:  http.NewServeMux(),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || h.originAllowed(origin)
		},
	}
	h.setupRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if origin := r.Header.Get("Origin"); origin != "" && h.originAllowed(origin) {
		if h.allowAnyOrigin() {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	}

	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	h.mux.ServeHTTP(w, r)
}

func (h *Handler) setupRoutes() {
	h.mux.HandleFunc("/api/ledger", h.get(h.listEntries))
	h.mux.HandleFunc("/api/ledger/latest", h.get(h.latestEntry))
	h.mux.HandleFunc("/api/ledger/verify", h.get(h.verifyChain))
	h.mux.HandleFunc("/api/ledger/export", h.get(h.exportSnapshot))

	if h.opts.EnableStream {
		h.mux.HandleFunc("/api/ledger/stream", h.get(h.streamEntries))
	}
	if h.opts.MetricsHandler != nil {
		h.mux.Handle("/metrics", h.opts.MetricsHandler)
	}
}

// get rejects every method but GET. The ledger has no mutation endpoints.
func (h *Handler) get(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "GET" {
			w.Header().Set("Allow", "GET")
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		fn(w, r)
	}
}

func (h *Handler) allowAnyOrigin() bool {
	for _, o := range h.opts.AllowedOrigins {
		if o == "*" {
			return true
		}
	}
	return false
}

func (h *Handler) originAllowed(origin string) bool {
	for _, o := range h.opts.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// listEntries handles GET /api/ledger. Newest entries come first unless
// order=asc is given.
func (h *Handler) listEntries(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOptions(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	entries, err := h.svc.Query(r.Context(), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, entries)
}

func parseListOptions(r *http.Request) (ledger.ListOptions, error) {
	q := r.URL.Query()
	opts := ledger.ListOptions{Order: ledger.Descending}

	switch strings.ToLower(q.Get("order")) {
	case "", "desc":
	case "asc":
		opts.Order = ledger.Ascending
	default:
		return opts, fmt.Errorf("invalid order %q", q.Get("order"))
	}

	if v := q.Get("entity_type"); v != "" {
		t, err := ledger.ParseEntityType(v)
		if err != nil {
			return opts, err
		}
		opts.EntityType = t
	}
	if v := q.Get("action"); v != "" {
		opts.Action = strings.ToUpper(strings.TrimSpace(v))
	}

	var err error
	if opts.EntityID, err = parseInt(q, "entity_id"); err != nil {
		return opts, err
	}
	if opts.AfterID, err = parseInt(q, "after"); err != nil {
		return opts, err
	}
	limit, err := parseInt(q, "limit")
	if err != nil {
		return opts, err
	}
	offset, err := parseInt(q, "offset")
	if err != nil {
		return opts, err
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	opts.Limit, opts.Offset = int(limit), int(offset)

	if opts.Since, err = parseTime(q, "since"); err != nil {
		return opts, err
	}
	if opts.Until, err = parseTime(q, "until"); err != nil {
		return opts, err
	}
	return opts, nil
}

func parseInt(q url.Values, key string) (int64, error) {
	vals := q[key]
	if len(vals) == 0 || vals[0] == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(vals[0], 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", key, vals[0])
	}
	return n, nil
}

func parseTime(q url.Values, key string) (time.Time, error) {
	vals := q[key]
	if len(vals) == 0 || vals[0] == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, vals[0])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q", key, vals[0])
	}
	return t, nil
}

// latestEntry handles GET /api/ledger/latest.
func (h *Handler) latestEntry(w http.ResponseWriter, r *http.Request) {
	latest, err := h.svc.Latest(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if latest == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, latest)
}

// verifyChain handles GET /api/ledger/verify.
func (h *Handler) verifyChain(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Verify(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if !report.Valid {
		log.Warnf("Verification requested by %s found %d breaks", r.RemoteAddr, len(report.Breaks))
	}
	writeJSON(w, report)
}

// exportSnapshot handles GET /api/ledger/export.
func (h *Handler) exportSnapshot(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.Entries(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	snap, err := audit.NewSnapshot(entries, time.Now())
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="ledger-%s.json"`, snap.ExportedAt.Format("20060102-150405")))
	if err := snap.Write(w); err != nil {
		log.Warnf("Failed to write export: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrStoreUnavailable), errors.Is(err, ledger.ErrStoreClosed):
		log.Warnf("Ledger store unavailable: %v", err)
		http.Error(w, "Ledger store unavailable", http.StatusServiceUnavailable)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		http.Error(w, "Request canceled", http.StatusServiceUnavailable)
	default:
		log.Errorf("Ledger API error: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
