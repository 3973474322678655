// Package handlers maps the crowdpark HTTP API onto the prediction
// services. Handlers decode and validate input, delegate to a service
// interface and write results through core.JSON / core.Error.
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"crowdpark/internal/core"
	"crowdpark/internal/crowd"
	"crowdpark/internal/types"
)

// CrowdService is the classifier contract the handler depends on.
type CrowdService interface {
	Classify(ctx context.Context, station, day string, hour float64) (*types.PredictionResult, error)
	Categories() (stations, days []string)
}

// CrowdHandler serves station crowd-level predictions.
type CrowdHandler struct {
	service   CrowdService
	validator *core.Validator
	logger    *slog.Logger
}

// NewCrowdHandler creates a CrowdHandler.
func NewCrowdHandler(svc CrowdService, val *core.Validator, logger *slog.Logger) *CrowdHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if val == nil {
		val = core.NewValidator(logger)
	}
	return &CrowdHandler{service: svc, validator: val, logger: logger}
}

// RegisterRoutes mounts the crowd endpoints under /crowd.
func (h *CrowdHandler) RegisterRoutes(r chi.Router) {
	r.Route("/crowd", func(r chi.Router) {
		r.Post("/predict", h.HandlePredict)
		r.Get("/predict", h.HandlePredictQuery)
		r.Get("/categories", h.HandleCategories)
	})
}

// CrowdPredictRequest is the body of POST /v1/crowd/predict. Hour is either
// a number (0-23) or a 12-hour string such as "3pm".
type CrowdPredictRequest struct {
	Station string          `json:"station" validate:"required"`
	Day     string          `json:"day" validate:"required"`
	Hour    json.RawMessage `json:"hour" validate:"required"`
}

// CategoriesResponse lists the stations and days the model accepts.
type CategoriesResponse struct {
	Stations []string `json:"stations"`
	Days     []string `json:"days"`
}

// HandlePredict handles POST /v1/crowd/predict.
func (h *CrowdHandler) HandlePredict(w http.ResponseWriter, r *http.Request) {
	var req CrowdPredictRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if bytes.Equal(bytes.TrimSpace(req.Hour), []byte("null")) {
		req.Hour = nil
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	hour, err := decodeHour(req.Hour)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	h.classify(w, r, req.Station, req.Day, hour)
}

// HandlePredictQuery handles GET /v1/crowd/predict?station=&day=&hour=.
func (h *CrowdHandler) HandlePredictQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	for _, name := range []string{"station", "day", "hour"} {
		if q.Get(name) == "" {
			core.Error(w, r, types.NewAppErrorWithDetails(
				types.ErrCodeValidationMissingField,
				name+" query parameter is required",
				nil,
				map[string]any{"field": name},
			))
			return
		}
	}

	hour, err := crowd.ParseHour(q.Get("hour"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	h.classify(w, r, q.Get("station"), q.Get("day"), hour)
}

// HandleCategories handles GET /v1/crowd/categories.
func (h *CrowdHandler) HandleCategories(w http.ResponseWriter, r *http.Request) {
	stations, days := h.service.Categories()
	w.Header().Set("Cache-Control", "public, max-age=3600")
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: CategoriesResponse{
		Stations: nonNil(stations),
		Days:     nonNil(days),
	}})
}

func (h *CrowdHandler) classify(w http.ResponseWriter, r *http.Request, station, day string, hour float64) {
	res, err := h.service.Classify(r.Context(), station, day, hour)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: res})
}

// decodeHour accepts a JSON number or a string understood by
// crowd.ParseHour.
func decodeHour(raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return crowd.ParseHour(s)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidJSON,
			"hour must be a number or a string like \"3pm\"",
			err,
			map[string]any{"field": "hour"},
		)
	}
	return f, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
