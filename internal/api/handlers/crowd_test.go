package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crowdpark/internal/core"
	"crowdpark/internal/types"
)

// --- Mock Service ---

type mockCrowdService struct {
	result   *types.PredictionResult
	err      error
	stations []string
	days     []string

	gotStation, gotDay string
	gotHour            float64
	calls              int
}

func (m *mockCrowdService) Classify(_ context.Context, station, day string, hour float64) (*types.PredictionResult, error) {
	m.calls++
	m.gotStation, m.gotDay, m.gotHour = station, day, hour
	return m.result, m.err
}

func (m *mockCrowdService) Categories() ([]string, []string) {
	return m.stations, m.days
}

// --- Helpers ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newCrowdRouter(svc CrowdService) http.Handler {
	logger := discardLogger()
	h := NewCrowdHandler(svc, core.NewValidator(logger), logger)
	r := chi.NewRouter()
	r.Route("/v1", h.RegisterRoutes)
	return r
}

func serve(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, rd))
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp core.APIErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.Error.Code
}

func lowResult() *types.PredictionResult {
	return &types.PredictionResult{
		Prediction: types.CrowdLow,
		Probabilities: map[types.CrowdLevel]float64{
			types.CrowdLow: 70, types.CrowdMedium: 20, types.CrowdHigh: 10,
		},
	}
}

// --- Tests ---

func TestCrowdPredict_Success(t *testing.T) {
	svc := &mockCrowdService{result: lowResult()}
	rec := serve(t, newCrowdRouter(svc), http.MethodPost, "/v1/crowd/predict",
		`{"station":"Bishan","day":"Monday","hour":8}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t,
		`{"data":{"prediction":"low","probabilities":{"low":70,"medium":20,"high":10}}}`,
		rec.Body.String())
	assert.Equal(t, "Bishan", svc.gotStation)
	assert.Equal(t, "Monday", svc.gotDay)
	assert.Equal(t, 8.0, svc.gotHour)
}

func TestCrowdPredict_TwelveHourString(t *testing.T) {
	svc := &mockCrowdService{result: lowResult()}
	rec := serve(t, newCrowdRouter(svc), http.MethodPost, "/v1/crowd/predict",
		`{"station":"Bishan","day":"Monday","hour":"3pm"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 15.0, svc.gotHour)
}

func TestCrowdPredict_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		code types.ErrorCode
	}{
		{"missing station", `{"day":"Monday","hour":8}`, types.ErrCodeValidationMissingField},
		{"missing hour", `{"station":"Bishan","day":"Monday"}`, types.ErrCodeValidationMissingField},
		{"null hour", `{"station":"Bishan","day":"Monday","hour":null}`, types.ErrCodeValidationMissingField},
		{"hour wrong type", `{"station":"Bishan","day":"Monday","hour":true}`, types.ErrCodeValidationInvalidJSON},
		{"hour unparseable", `{"station":"Bishan","day":"Monday","hour":"noon"}`, types.ErrCodeValidationOutOfRange},
		{"unknown field", `{"station":"Bishan","day":"Monday","hour":8,"x":1}`, types.ErrCodeValidationInvalidJSON},
		{"malformed", `{"station":`, types.ErrCodeValidationInvalidJSON},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockCrowdService{result: lowResult()}
			rec := serve(t, newCrowdRouter(svc), http.MethodPost, "/v1/crowd/predict", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, string(tt.code), errorCode(t, rec))
			assert.Zero(t, svc.calls, "service must not be called on invalid input")
		})
	}
}

func TestCrowdPredict_ServiceError(t *testing.T) {
	svc := &mockCrowdService{err: types.NewAppError(types.ErrCodeValidationUnknownCategory, "unknown station", nil)}
	rec := serve(t, newCrowdRouter(svc), http.MethodPost, "/v1/crowd/predict",
		`{"station":"Atlantis","day":"Monday","hour":8}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(types.ErrCodeValidationUnknownCategory), errorCode(t, rec))
}

func TestCrowdPredict_InferenceFailure(t *testing.T) {
	svc := &mockCrowdService{err: types.NewAppError(types.ErrCodeInternalInference, "classifier failed", nil)}
	rec := serve(t, newCrowdRouter(svc), http.MethodPost, "/v1/crowd/predict",
		`{"station":"Bishan","day":"Monday","hour":8}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, string(types.ErrCodeInternalInference), errorCode(t, rec))
}

func TestCrowdPredictQuery(t *testing.T) {
	svc := &mockCrowdService{result: lowResult()}
	rec := serve(t, newCrowdRouter(svc), http.MethodGet, "/v1/crowd/predict?station=Bishan&day=Monday&hour=12am", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.0, svc.gotHour)
	assert.Equal(t, "Bishan", svc.gotStation)
}

func TestCrowdPredictQuery_MissingParam(t *testing.T) {
	svc := &mockCrowdService{result: lowResult()}
	rec := serve(t, newCrowdRouter(svc), http.MethodGet, "/v1/crowd/predict?station=Bishan&hour=8", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(types.ErrCodeValidationMissingField), errorCode(t, rec))
	assert.Zero(t, svc.calls)
}

func TestCrowdCategories(t *testing.T) {
	svc := &mockCrowdService{stations: []string{"bishan", "yishun"}}
	rec := serve(t, newCrowdRouter(svc), http.MethodGet, "/v1/crowd/categories", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":{"stations":["bishan","yishun"],"days":[]}}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("Cache-Control"))
}

func TestDecodeHour(t *testing.T) {
	h, err := decodeHour(json.RawMessage(`23`))
	require.NoError(t, err)
	assert.Equal(t, 23.0, h)

	h, err = decodeHour(json.RawMessage(`"11 PM"`))
	require.NoError(t, err)
	assert.Equal(t, 23.0, h)

	_, err = decodeHour(json.RawMessage(`[1]`))
	assert.True(t, types.HasCode(err, types.ErrCodeValidationInvalidJSON))
}
