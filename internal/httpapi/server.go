package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/doortally/doortally/internal/tally/export"
	"github.com/doortally/doortally/internal/tally/service"
	"github.com/doortally/doortally/internal/tally/types"
)

type Dependencies struct {
	Logger *log.Logger
	Addr   string
	Ledger *service.Ledger

	// RetentionDays is the window applied when a cleanup request does
	// not supply its own.
	RetentionDays int
}

type Server struct {
	httpServer    *http.Server
	logger        *log.Logger
	ledger        *service.Ledger
	retentionDays int
}

func NewServer(d Dependencies) *Server {
	s := &Server{
		logger:        d.Logger,
		ledger:        d.Ledger,
		retentionDays: d.RetentionDays,
	}
	if s.retentionDays <= 0 {
		s.retentionDays = service.DefaultRetentionDays
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(d.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/events", s.handleRecord)
		r.Get("/events", s.handleRecent)
		r.Delete("/events/{id}", s.handleUndo)
		r.Post("/events/undo_last", s.handleUndoLast)
		r.Get("/export", s.handleExport)
		r.Post("/cleanup", s.handleCleanup)
	})

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ── Handlers ─────────────────────────────────────────────────────────────────

type recordRequest struct {
	DoorNumber int    `json:"door_number"`
	EventType  string `json:"event_type"`
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ev, err := s.ledger.Record(r.Context(), req.DoorNumber, types.EventType(req.EventType))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, ev)
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "bad_limit", "limit must be an integer")
			return
		}
		limit = n
	}

	evs, err := s.ledger.Recent(r.Context(), limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if evs == nil {
		evs = []types.Event{}
	}
	render.JSON(w, r, evs)
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_id", "event id must be an integer")
		return
	}

	if err := s.ledger.Undo(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type undoLastRequest struct {
	DoorNumber int    `json:"door_number"`
	EventType  string `json:"event_type"`
}

func (s *Server) handleUndoLast(w http.ResponseWriter, r *http.Request) {
	var req undoLastRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := s.ledger.UndoLast(r.Context(), req.DoorNumber, types.EventType(req.EventType)); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="door_events.csv"`)

	// Headers are already on the wire once streaming starts; an error
	// mid-stream can only be logged and the connection cut short.
	if err := export.WriteCSV(r.Context(), s.ledger, w); err != nil {
		s.logger.Printf("export error: %v", err)
	}
}

type cleanupRequest struct {
	RetentionDays *int `json:"retention_days"`
}

type cleanupResponse struct {
	Purged int64 `json:"purged"`
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	days := s.retentionDays
	if r.ContentLength > 0 {
		var req cleanupRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.RetentionDays != nil {
			days = *req.RetentionDays
		}
	}

	purged, err := s.ledger.Cleanup(r.Context(), days)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	render.JSON(w, r, cleanupResponse{Purged: purged})
}

// ── Error mapping ────────────────────────────────────────────────────────────

type errResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	render.Status(r, status)
	render.JSON(w, r, errResponse{Error: code, Message: msg})
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidDoorNumber),
		errors.Is(err, service.ErrInvalidEventType),
		errors.Is(err, service.ErrInvalidRetention):
		writeError(w, r, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, service.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, service.ErrStoreUnavailable):
		w.Header().Set("Retry-After", "1")
		writeError(w, r, http.StatusServiceUnavailable, "store_unavailable", "event store unavailable, retry")
	default:
		s.logger.Printf("request error: %v", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "unexpected server error")
	}
}
