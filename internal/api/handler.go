// Package api exposes signal records over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hefazi/PANTOhealth/internal/models"
	"github.com/hefazi/PANTOhealth/internal/query"
	"github.com/hefazi/PANTOhealth/internal/store"
)

const maxBodyBytes = 4 << 20

// ErrInvalidFilterInput is returned when a filter time bound is not an integer.
var ErrInvalidFilterInput = errors.New("invalid timestamp format")

const msgInvalidTimestamp = "Invalid timestamp format. Use a valid number."

// Handler exposes the signal record HTTP endpoints.
type Handler struct {
	store store.Store
	query *query.Service
	log   *slog.Logger
}

// NewHandler creates a Handler backed by st. A nil logger means slog.Default().
func NewHandler(st store.Store, q *query.Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{store: st, query: q, log: log}
}

// Routes registers the record endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/x-ray", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Get("/filter", h.Filter)
		r.Get("/{id}", h.Get)
		r.Put("/{id}", h.Update)
		r.Delete("/{id}", h.Delete)
	})
}

// ---------------------------------------------------------------------------
// Request / response types
// ---------------------------------------------------------------------------

// RecordRequest is the body of POST and PUT /v1/x-ray.
type RecordRequest struct {
	DeviceID   string         `json:"deviceId" example:"66bb584d4ae73e488c30a072"`
	Time       *int64         `json:"time" example:"1735683480000"`
	DataLength *int64         `json:"dataLength,omitempty" example:"3"`
	DataVolume *int64         `json:"dataVolume,omitempty" example:"150"`
	RawData    models.RawData `json:"raw_data" swaggertype:"object"`
}

func (req RecordRequest) fields() (models.Fields, error) {
	if req.DeviceID == "" {
		return models.Fields{}, errors.New("deviceId is required")
	}
	if req.Time == nil {
		return models.Fields{}, errors.New("time is required")
	}
	return models.Fields{
		DeviceID:   req.DeviceID,
		Time:       *req.Time,
		DataLength: req.DataLength,
		DataVolume: req.DataVolume,
		RawData:    req.RawData,
	}, nil
}

// MessageResponse carries a human-readable confirmation.
type MessageResponse struct {
	Message string `json:"message" example:"Signal deleted successfully"`
}

type errorResponse struct {
	Error string `json:"error" example:"Signal not found"`
}

// ---------------------------------------------------------------------------
// POST /v1/x-ray
// ---------------------------------------------------------------------------

// Create godoc
//
//	@Summary	Create a signal record
//	@Tags		x-ray
//	@Accept		json
//	@Produce	json
//	@Param		body	body		RecordRequest	true	"Record"
//	@Success	201		{object}	models.Record
//	@Failure	400		{object}	errorResponse
//	@Failure	500		{object}	errorResponse
//	@Router		/v1/x-ray [post]
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	f, ok := h.decodeFields(w, r)
	if !ok {
		return
	}

	rec, err := h.store.Create(r.Context(), f)
	if err != nil {
		h.writeStoreErr(w, "create signal", err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// ---------------------------------------------------------------------------
// GET /v1/x-ray
// ---------------------------------------------------------------------------

// List godoc
//
//	@Summary	List all signal records
//	@Tags		x-ray
//	@Produce	json
//	@Success	200	{array}		models.Record
//	@Failure	500	{object}	errorResponse
//	@Router		/v1/x-ray [get]
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	recs, err := h.store.FindAll(r.Context())
	if err != nil {
		h.writeStoreErr(w, "list signals", err)
		return
	}
	if recs == nil {
		recs = []models.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// ---------------------------------------------------------------------------
// GET /v1/x-ray/filter
// ---------------------------------------------------------------------------

// Filter godoc
//
//	@Summary		Filter signal records
//	@Description	All parameters are optional and combine with AND. Time bounds are inclusive.
//	@Tags			x-ray
//	@Produce		json
//	@Param			deviceId	query		string	false	"Device id"
//	@Param			startTime	query		integer	false	"Lower time bound"
//	@Param			endTime		query		integer	false	"Upper time bound"
//	@Success		200			{array}		models.Record
//	@Failure		400			{object}	errorResponse
//	@Failure		500			{object}	errorResponse
//	@Router			/v1/x-ray/filter [get]
func (h *Handler) Filter(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	start, err := parseBound(q.Get("startTime"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, msgInvalidTimestamp)
		return
	}
	end, err := parseBound(q.Get("endTime"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, msgInvalidTimestamp)
		return
	}

	recs, err := h.query.Filter(r.Context(), q.Get("deviceId"), start, end)
	if err != nil {
		h.writeStoreErr(w, "filter signals", err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// parseBound reads an optional integer bound. An empty value means the
// bound was not supplied.
func parseBound(s string) (*int64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFilterInput, s)
	}
	return &v, nil
}

// ---------------------------------------------------------------------------
// /v1/x-ray/{id}
// ---------------------------------------------------------------------------

// Get godoc
//
//	@Summary	Get a signal record
//	@Tags		x-ray
//	@Produce	json
//	@Param		id	path		string	true	"Record id"
//	@Success	200	{object}	models.Record
//	@Failure	404	{object}	errorResponse
//	@Failure	500	{object}	errorResponse
//	@Router		/v1/x-ray/{id} [get]
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.FindByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreErr(w, "get signal", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Update godoc
//
//	@Summary		Replace a signal record
//	@Description	Overwrites every mutable field. The id and createdAt are kept.
//	@Tags			x-ray
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Record id"
//	@Param			body	body		RecordRequest	true	"Record"
//	@Success		200		{object}	models.Record
//	@Failure		400		{object}	errorResponse
//	@Failure		404		{object}	errorResponse
//	@Failure		500		{object}	errorResponse
//	@Router			/v1/x-ray/{id} [put]
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	f, ok := h.decodeFields(w, r)
	if !ok {
		return
	}

	rec, err := h.store.Update(r.Context(), chi.URLParam(r, "id"), f)
	if err != nil {
		h.writeStoreErr(w, "update signal", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Delete godoc
//
//	@Summary	Delete a signal record
//	@Tags		x-ray
//	@Produce	json
//	@Param		id	path		string	true	"Record id"
//	@Success	200	{object}	MessageResponse
//	@Failure	404	{object}	errorResponse
//	@Failure	500	{object}	errorResponse
//	@Router		/v1/x-ray/{id} [delete]
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.DeleteByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreErr(w, "delete signal", err)
		return
	}
	if n == 0 {
		writeErr(w, http.StatusNotFound, "Signal not found")
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Signal deleted successfully"})
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (h *Handler) decodeFields(w http.ResponseWriter, r *http.Request) (models.Fields, bool) {
	var req RecordRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid request body")
		return models.Fields{}, false
	}
	f, err := req.fields()
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return models.Fields{}, false
	}
	return f, true
}

func (h *Handler) writeStoreErr(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeErr(w, http.StatusNotFound, "Signal not found")
	case errors.Is(err, store.ErrInvalidRecord):
		writeErr(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error(op, "error", err)
		writeErr(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
