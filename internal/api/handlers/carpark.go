package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"crowdpark/internal/core"
	"crowdpark/internal/types"
)

// CarparkService is the regressor contract the handler depends on.
type CarparkService interface {
	Regress(ctx context.Context, address, date, clock string) (*types.CarparkPrediction, error)
	Suggest(query string) []string
}

// CarparkHandler serves carpark availability forecasts and address
// suggestions.
type CarparkHandler struct {
	service   CarparkService
	validator *core.Validator
	logger    *slog.Logger
}

// NewCarparkHandler creates a CarparkHandler.
func NewCarparkHandler(svc CarparkService, val *core.Validator, logger *slog.Logger) *CarparkHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if val == nil {
		val = core.NewValidator(logger)
	}
	return &CarparkHandler{service: svc, validator: val, logger: logger}
}

// RegisterRoutes mounts the carpark endpoints under /carparks.
func (h *CarparkHandler) RegisterRoutes(r chi.Router) {
	r.Route("/carparks", func(r chi.Router) {
		r.Post("/predict", h.HandlePredict)
		r.Get("/suggest", h.HandleSuggest)
	})
}

// CarparkPredictRequest is the body of POST /v1/carparks/predict.
type CarparkPredictRequest struct {
	Address string `json:"address" validate:"required"`
	Date    string `json:"date" validate:"required"`
	Time    string `json:"time" validate:"required"`
}

// SuggestResponse wraps matching addresses.
type SuggestResponse struct {
	Suggestions []string `json:"suggestions"`
}

// HandlePredict handles POST /v1/carparks/predict.
func (h *CarparkHandler) HandlePredict(w http.ResponseWriter, r *http.Request) {
	var req CarparkPredictRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	res, err := h.service.Regress(r.Context(), req.Address, req.Date, req.Time)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: res})
}

// HandleSuggest handles GET /v1/carparks/suggest?q=.
func (h *CarparkHandler) HandleSuggest(w http.ResponseWriter, r *http.Request) {
	matches := h.service.Suggest(r.URL.Query().Get("q"))
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: SuggestResponse{Suggestions: nonNil(matches)}})
}
