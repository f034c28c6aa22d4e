// Package api exposes the table access engine as a JSON HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/JonMunkholm/tablebrowser/internal/browser"
	"github.com/JonMunkholm/tablebrowser/internal/dberr"
	"github.com/JonMunkholm/tablebrowser/internal/registry"
	"github.com/JonMunkholm/tablebrowser/internal/rows"
	"github.com/JonMunkholm/tablebrowser/internal/schema"
)

// Engine is the set of operations served over HTTP.
type Engine interface {
	ListTables(ctx context.Context) ([]schema.TableRef, error)
	TableMeta(ctx context.Context, ref schema.TableRef) (*schema.TableMeta, error)
	ListRows(ctx context.Context, ref schema.TableRef, limit, offset int) (*rows.Page, error)
	Insert(ctx context.Context, ref schema.TableRef, values map[string]any) (rows.Record, error)
	Update(ctx context.Context, ref schema.TableRef, key, values map[string]any) (rows.Record, error)
	Delete(ctx context.Context, ref schema.TableRef, key map[string]any) (int64, error)
	CreateTable(ctx context.Context, req schema.CreateTableRequest) (schema.TableRef, error)
	DropTable(ctx context.Context, ref schema.TableRef) error
	Kinds() []schema.KindInfo

	Connections(ctx context.Context) ([]registry.Profile, error)
	TestConnection(ctx context.Context, in browser.DSNInput) (registry.ProbeResult, error)
	CreateConnection(ctx context.Context, name string, in browser.DSNInput, readOnly bool) (registry.Profile, error)
	ActivateConnection(ctx context.Context, id int64) (int64, error)
	RemoveConnection(ctx context.Context, id int64) error
}

// MaxBodyBytes bounds API request bodies.
const MaxBodyBytes = 1 << 20

// Options configures the HTTP surface.
type Options struct {
	Tokens     []string
	CORSOrigin string
	// RateLimit is requests per minute per client IP; zero disables it.
	RateLimit float64
	Logger    *slog.Logger
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	engine      Engine
	auth        *TokenAuth
	rateLimiter *RateLimiter
	corsOrigin  string
	logger      *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(engine Engine, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	h := &Handler{
		engine:     engine,
		auth:       NewTokenAuth(opts.Tokens, opts.Logger),
		corsOrigin: opts.CORSOrigin,
		logger:     opts.Logger,
	}
	if opts.RateLimit > 0 {
		h.rateLimiter = NewRateLimiter(opts.RateLimit, opts.Logger)
	}
	return h
}

// Routes builds the router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(h.requestLogger)
	r.Use(chimw.Recoverer)

	r.Get("/health", h.handleHealth)

	r.Route("/api", func(api chi.Router) {
		if h.corsOrigin != "" {
			api.Use(cors.Handler(cors.Options{
				AllowedOrigins:   []string{h.corsOrigin},
				AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders:   []string{"Authorization", "Content-Type"},
				AllowCredentials: false,
				MaxAge:           300,
			}))
		}
		if h.rateLimiter != nil {
			api.Use(h.rateLimiter.Wrap)
		}
		api.Use(h.auth.Wrap)
		api.Use(func(next http.Handler) http.Handler { return LimitBodySize(next, MaxBodyBytes) })

		api.Get("/kinds", h.handleGetKinds)

		api.Get("/tables", h.handleListTables)
		api.Post("/tables", h.handleCreateTable)
		api.Route("/table/{schema}/{name}", func(t chi.Router) {
			t.Get("/", h.handleListRows)
			t.Delete("/", h.handleDropTable)
			t.Get("/meta", h.handleTableMeta)
			t.Post("/rows", h.handleInsertRow)
			t.Put("/rows", h.handleUpdateRow)
			t.Delete("/rows", h.handleDeleteRow)
		})

		api.Get("/connections", h.handleListConnections)
		api.Post("/connections", h.handleCreateConnection)
		api.Post("/connections/test", h.handleTestConnection)
		api.Post("/connections/{id}/activate", h.handleActivateConnection)
		api.Delete("/connections/{id}", h.handleRemoveConnection)
	})

	return r
}

// Stop stops background goroutines. Should be called on graceful shutdown.
func (h *Handler) Stop() {
	if h.rateLimiter != nil {
		h.rateLimiter.Stop()
	}
}

// API Response types for consistent format
type apiResponse[T any] struct {
	Success bool `json:"success"`
	Data    T    `json:"data"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for API responses
const (
	ErrInvalidRequest  = "INVALID_REQUEST"
	ErrBodyTooLarge    = "BODY_TOO_LARGE"
	ErrValidation      = "VALIDATION_ERROR"
	ErrUnauthorized    = "UNAUTHORIZED"
	ErrForbidden       = "FORBIDDEN"
	ErrNotFound        = "NOT_FOUND"
	ErrConflict        = "CONFLICT"
	ErrUnavailable     = "DATABASE_UNAVAILABLE"
	ErrDatabaseError   = "DATABASE_ERROR"
	ErrRateLimit       = "RATE_LIMIT"
	ErrInvalidTableRef = "INVALID_TABLE_NAME"
)

// respondJSON sends a successful JSON response with type-safe data
func respondJSON[T any](w http.ResponseWriter, logger *slog.Logger, status int, data T) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	resp := apiResponse[T]{Success: true, Data: data}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// errorResponse is the response type for errors (no data field)
type errorResponse struct {
	Success bool      `json:"success"`
	Error   *apiError `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Success: false,
		Error:   &apiError{Code: code, Message: message},
	})
}

// statusFor maps an engine error onto an HTTP status and error code.
func statusFor(kind dberr.Kind) (int, string) {
	switch kind {
	case dberr.Validation:
		return http.StatusBadRequest, ErrValidation
	case dberr.Unauthorized:
		return http.StatusUnauthorized, ErrUnauthorized
	case dberr.Forbidden:
		return http.StatusForbidden, ErrForbidden
	case dberr.NotFound:
		return http.StatusNotFound, ErrNotFound
	case dberr.Conflict:
		return http.StatusConflict, ErrConflict
	case dberr.Transient:
		return http.StatusServiceUnavailable, ErrUnavailable
	default:
		return http.StatusInternalServerError, ErrDatabaseError
	}
}

// respondError sends an error JSON response (logs details server-side, sends safe message to client)
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(dberr.KindOf(err))
	level := slog.LevelInfo
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(r.Context(), level, "request failed",
		slog.String("code", code),
		slog.String("request_id", chimw.GetReqID(r.Context())),
		slog.String("error", err.Error()),
	)
	writeError(w, status, code, dberr.Message(err))
}

// decodeJSONBody decodes JSON request body into the provided value.
// Returns false if decoding fails (error response already sent).
func (h *Handler) decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrBodyTooLarge, "request body too large")
			return false
		}
		h.logger.Info("invalid request body", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, ErrInvalidRequest, "invalid request body")
		return false
	}
	return true
}

// tableRef reads the table from the path.
// Returns false if validation failed (error response already sent).
func (h *Handler) tableRef(w http.ResponseWriter, r *http.Request) (schema.TableRef, bool) {
	ref := schema.TableRef{Schema: chi.URLParam(r, "schema"), Name: chi.URLParam(r, "name")}
	if !schema.ValidRefName(ref.Schema) || !schema.ValidRefName(ref.Name) {
		writeError(w, http.StatusBadRequest, ErrInvalidTableRef, "invalid schema or table name")
		return schema.TableRef{}, false
	}
	return ref, true
}

func (h *Handler) connectionID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, ErrInvalidRequest, "invalid connection id")
		return 0, false
	}
	return id, true
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type kindsData struct {
	Kinds []schema.KindInfo `json:"kinds"`
}

func (h *Handler) handleGetKinds(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, h.logger, http.StatusOK, kindsData{Kinds: h.engine.Kinds()})
}

func (h *Handler) handleListTables(w http.ResponseWriter, r *http.Request) {
	tables, err := h.engine.ListTables(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, tables)
}

func (h *Handler) handleCreateTable(w http.ResponseWriter, r *http.Request) {
	var req schema.CreateTableRequest
	if !h.decodeJSONBody(w, r, &req) {
		return
	}
	ref, err := h.engine.CreateTable(r.Context(), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, h.logger, http.StatusCreated, ref)
}

type droppedData struct {
	Dropped schema.TableRef `json:"dropped"`
}

func (h *Handler) handleDropTable(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.tableRef(w, r)
	if !ok {
		return
	}
	if err := h.engine.DropTable(r.Context(), ref); err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, droppedData{Dropped: ref})
}

func (h *Handler) handleTableMeta(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.tableRef(w, r)
	if !ok {
		return
	}
	meta, err := h.engine.TableMeta(r.Context(), ref)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, meta)
}

// queryInt reads a non-required integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, dberr.Validationf("%s must be an integer", name)
	}
	return n, nil
}

func (h *Handler) handleListRows(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.tableRef(w, r)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if r.URL.Query().Has("limit") && limit == 0 {
		h.respondError(w, r, dberr.Validationf("limit must be at least 1"))
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	page, err := h.engine.ListRows(r.Context(), ref, limit, offset)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, page)
}

type insertRowRequest struct {
	Values map[string]any `json:"values"`
}

type updateRowRequest struct {
	Key    map[string]any `json:"key"`
	Values map[string]any `json:"values"`
}

type deleteRowRequest struct {
	Key map[string]any `json:"key"`
}

type rowData struct {
	Row rows.Record `json:"row"`
}

type deletedData struct {
	Deleted int64 `json:"deleted"`
}

func (h *Handler) handleInsertRow(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.tableRef(w, r)
	if !ok {
		return
	}
	var req insertRowRequest
	if !h.decodeJSONBody(w, r, &req) {
		return
	}
	row, err := h.engine.Insert(r.Context(), ref, req.Values)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, h.logger, http.StatusCreated, rowData{Row: row})
}

func (h *Handler) handleUpdateRow(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.tableRef(w, r)
	if !ok {
		return
	}
	var req updateRowRequest
	if !h.decodeJSONBody(w, r, &req) {
		return
	}
	row, err := h.engine.Update(r.Context(), ref, req.Key, req.Values)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, rowData{Row: row})
}

func (h *Handler) handleDeleteRow(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.tableRef(w, r)
	if !ok {
		return
	}
	var req deleteRowRequest
	if !h.decodeJSONBody(w, r, &req) {
		return
	}
	n, err := h.engine.Delete(r.Context(), ref, req.Key)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, deletedData{Deleted: n})
}

func (h *Handler) handleListConnections(w http.ResponseWriter, r *http.Request) {
	conns, err := h.engine.Connections(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, conns)
}

type createConnectionRequest struct {
	Name string `json:"name"`
	browser.DSNInput
	ReadOnly bool `json:"read_only"`
}

func (h *Handler) handleCreateConnection(w http.ResponseWriter, r *http.Request) {
	var req createConnectionRequest
	if !h.decodeJSONBody(w, r, &req) {
		return
	}
	p, err := h.engine.CreateConnection(r.Context(), req.Name, req.DSNInput, req.ReadOnly)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, h.logger, http.StatusCreated, p)
}

func (h *Handler) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	var req browser.DSNInput
	if !h.decodeJSONBody(w, r, &req) {
		return
	}
	res, err := h.engine.TestConnection(r.Context(), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, res)
}

type activeData struct {
	Active int64 `json:"active"`
}

func (h *Handler) handleActivateConnection(w http.ResponseWriter, r *http.Request) {
	id, ok := h.connectionID(w, r)
	if !ok {
		return
	}
	active, err := h.engine.ActivateConnection(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, activeData{Active: active})
}

type removedData struct {
	Removed int64 `json:"removed"`
}

func (h *Handler) handleRemoveConnection(w http.ResponseWriter, r *http.Request) {
	id, ok := h.connectionID(w, r)
	if !ok {
		return
	}
	if err := h.engine.RemoveConnection(r.Context(), id); err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, removedData{Removed: id})
}
