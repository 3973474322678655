package inference

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"crowdpark/internal/external"
	"crowdpark/internal/types"
)

// Sidecar endpoints, relative to the configured base URL.
const (
	metadataPath = "/metadata"
	predictPath  = "/predict"
)

type metadataResponse struct {
	FeatureNames []string `json:"feature_names"`
}

type predictRequest struct {
	Instances [][]float64 `json:"instances"`
}

type classifyResponse struct {
	Predictions [][]float64 `json:"predictions"`
}

type regressResponse struct {
	Predictions []float64 `json:"predictions"`
}

// remoteModel is the shared HTTP plumbing for sidecar-hosted models.
type remoteModel struct {
	base    string
	client  *external.BaseClient
	timeout time.Duration
}

func newRemoteModel(baseURL string, client *external.BaseClient, timeout time.Duration) (remoteModel, error) {
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return remoteModel{}, fmt.Errorf("invalid model server URL %q", baseURL)
	}
	return remoteModel{
		base:    strings.TrimRight(baseURL, "/"),
		client:  client,
		timeout: timeout,
	}, nil
}

func (m remoteModel) call(ctx context.Context, method, path string, in, out any) error {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	return m.client.DoJSON(ctx, method, m.base+path, in, out)
}

// RemoteClassifier calls a model server that hosts the crowd classifier.
// The feature schema is fetched once at construction.
type RemoteClassifier struct {
	remoteModel
	featureNames []string
}

// NewRemoteClassifier fetches the model's feature schema from baseURL.
func NewRemoteClassifier(ctx context.Context, baseURL string, client *external.BaseClient, timeout time.Duration) (*RemoteClassifier, error) {
	m, err := newRemoteModel(baseURL, client, timeout)
	if err != nil {
		return nil, err
	}
	var meta metadataResponse
	if err := m.call(ctx, http.MethodGet, metadataPath, nil, &meta); err != nil {
		return nil, fmt.Errorf("fetching classifier metadata: %w", err)
	}
	if len(meta.FeatureNames) == 0 {
		return nil, fmt.Errorf("model server at %s reported no feature names", baseURL)
	}
	return &RemoteClassifier{remoteModel: m, featureNames: meta.FeatureNames}, nil
}

// FeatureNames returns the schema reported by the model server.
func (c *RemoteClassifier) FeatureNames() []string {
	return append([]string(nil), c.featureNames...)
}

// PredictProba posts rows and expects one probability row back per input.
func (c *RemoteClassifier) PredictProba(ctx context.Context, rows [][]float64) ([][]float64, error) {
	var resp classifyResponse
	if err := c.call(ctx, http.MethodPost, predictPath, predictRequest{Instances: rows}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Predictions) != len(rows) {
		return nil, types.NewAppError(types.ErrCodeUpstreamInference,
			fmt.Sprintf("model server returned %d predictions for %d rows", len(resp.Predictions), len(rows)), nil)
	}
	return resp.Predictions, nil
}

// RemoteRegressor calls a model server that hosts the carpark regressor.
type RemoteRegressor struct {
	remoteModel
}

// NewRemoteRegressor validates baseURL. No request is made until Predict.
func NewRemoteRegressor(baseURL string, client *external.BaseClient, timeout time.Duration) (*RemoteRegressor, error) {
	m, err := newRemoteModel(baseURL, client, timeout)
	if err != nil {
		return nil, err
	}
	return &RemoteRegressor{remoteModel: m}, nil
}

// Predict posts a single row and expects a single scalar back.
func (r *RemoteRegressor) Predict(ctx context.Context, row []float64) (float64, error) {
	var resp regressResponse
	if err := r.call(ctx, http.MethodPost, predictPath, predictRequest{Instances: [][]float64{row}}, &resp); err != nil {
		return 0, err
	}
	if len(resp.Predictions) != 1 {
		return 0, types.NewAppError(types.ErrCodeUpstreamInference,
			fmt.Sprintf("model server returned %d predictions for 1 row", len(resp.Predictions)), nil)
	}
	return resp.Predictions[0], nil
}

// Ping checks that the model server answers its metadata endpoint.
func (r *RemoteRegressor) Ping(ctx context.Context) error {
	return r.call(ctx, http.MethodGet, metadataPath, nil, nil)
}

// Ping checks that the model server answers its metadata endpoint.
func (c *RemoteClassifier) Ping(ctx context.Context) error {
	return c.call(ctx, http.MethodGet, metadataPath, nil, nil)
}
