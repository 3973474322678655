package state

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crowdpark/internal/carpark"
	"crowdpark/internal/config"
	"crowdpark/internal/external"
	"crowdpark/internal/types"
)

// Three constant trees; class 0 ("low") always wins.
const crowdModel = `{
  "learner": {
    "feature_names": ["Hour", "Station_Bishan", "Day_Monday"],
    "gradient_booster": {
      "name": "gbtree",
      "model": {
        "tree_info": [0, 1, 2],
        "trees": [
          {"left_children": [-1], "right_children": [-1], "split_indices": [0], "split_conditions": [2.0], "default_left": [0]},
          {"left_children": [-1], "right_children": [-1], "split_indices": [0], "split_conditions": [0.0], "default_left": [0]},
          {"left_children": [-1], "right_children": [-1], "split_indices": [0], "split_conditions": [0.0], "default_left": [0]}
        ]
      }
    },
    "learner_model_param": {"base_score": "5E-1", "num_class": "3", "num_feature": "3"},
    "objective": {"name": "multi:softprob"}
  }
}`

// A single leaf predicting 47 lots.
const carparkModel = `{
  "learner": {
    "feature_names": ["hour", "day_of_week", "is_weekend", "lag_1", "lag_2", "rolling_avg_3"],
    "gradient_booster": {
      "name": "gbtree",
      "model": {
        "tree_info": [0],
        "trees": [
          {"left_children": [-1], "right_children": [-1], "split_indices": [0], "split_conditions": [47.0], "default_left": [0]}
        ]
      }
    },
    "learner_model_param": {"base_score": "0", "num_class": "0", "num_feature": "6"},
    "objective": {"name": "reg:squarederror"}
  }
}`

// The same 47-lot regressor, saved by LightGBM.
const carparkModelLightGBM = `tree
version=v3
num_class=1
num_tree_per_iteration=1
label_index=0
max_feature_idx=5
objective=regression
feature_names=hour day_of_week is_weekend lag_1 lag_2 rolling_avg_3
tree_sizes=180

Tree=0
num_leaves=1
num_cat=0
split_feature=
threshold=
decision_type=
left_child=
right_child=
leaf_value=47
is_linear=0
shrinkage=1


end of trees
`

const trainingCSV = "Station,Day,Hour\nBishan,Monday,8\n"

const catalogCSV = `car_park_no,address,x_coord,y_coord
A1,BLK 1 ALPHA,0,0
A2,BLK 2 BETA,1,0
A3,BLK 3 GAMMA,2,0
A4,BLK 1 ALPHA,3,0
`

const historyCSV = `carpark_number,available_lots
A1,50
A2,40
A1,60
A3,35
A1,70
`

type memFiles map[string]string

func (m memFiles) Open(_ context.Context, path string) (io.ReadCloser, error) {
	body, ok := m[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func testFiles() memFiles {
	return memFiles{
		"train.csv":    trainingCSV,
		"crowd.json":   crowdModel,
		"carpark.json": carparkModel,
		"carpark.txt":  carparkModelLightGBM,
		"info.csv":     catalogCSV,
		"avail.csv":    historyCSV,
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Data: config.DataConfig{
			Source:              config.SourceFiles,
			CarparkHistoryPath:  "avail.csv",
			CarparkLocationPath: "info.csv",
		},
		Crowd: config.CrowdConfig{
			TrainingDataPath: "train.csv",
			ModelBackend:     config.BackendXGBoost,
			ModelPath:        "crowd.json",
		},
		Carpark: config.CarparkConfig{
			ModelBackend: config.BackendXGBoost,
			ModelPath:    "carpark.json",
		},
	}
}

type fakeStore struct {
	locations []types.CarparkLocation
	readings  []types.CarparkReading
	err       error
}

func (f *fakeStore) LoadLocations(context.Context) ([]types.CarparkLocation, error) {
	return f.locations, f.err
}

func (f *fakeStore) LoadHistory(context.Context) ([]types.CarparkReading, error) {
	return f.readings, f.err
}

func TestLoadFromFiles(t *testing.T) {
	s, err := Load(context.Background(), testConfig(), Deps{Files: testFiles()})
	require.NoError(t, err)

	assert.Equal(t, []string{"Hour", "Station_Bishan", "Day_Monday"}, s.Schema)
	assert.Equal(t, []string{"bishan"}, s.Registry.Stations())
	assert.Equal(t, 4, s.Index.Len())
	assert.Equal(t, 5, s.History.Len())
	assert.Equal(t, []int{50, 60, 70}, s.History.Recent("BLK 1 ALPHA", 3))
	assert.Equal(t, []string{"BLK 1 ALPHA"}, s.Suggester.Suggest("blk 1"), "duplicate addresses are suggested once")

	res, err := s.CrowdService(nil).Classify(context.Background(), "Bishan", "Monday", 8)
	require.NoError(t, err)
	assert.Equal(t, types.CrowdLow, res.Prediction)

	pred, err := s.CarparkService(carpark.DefaultFallbackConfig(), nil).Regress(context.Background(), "BLK 1 ALPHA", "2024-03-18", "08:00")
	require.NoError(t, err)
	assert.Equal(t, 40, pred.Prediction)
	assert.Empty(t, pred.NearbyCarparks)
}

func TestLoadLightGBMRegressor(t *testing.T) {
	ctx := context.Background()
	xgb, err := Load(ctx, testConfig(), Deps{Files: testFiles()})
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Carpark.ModelBackend = config.BackendLightGBM
	cfg.Carpark.ModelPath = "carpark.txt"
	lgb, err := Load(ctx, cfg, Deps{Files: testFiles()})
	require.NoError(t, err)

	want, err := xgb.CarparkService(carpark.DefaultFallbackConfig(), nil).Regress(ctx, "BLK 2 BETA", "2024-03-18", "08:00")
	require.NoError(t, err)
	got, err := lgb.CarparkService(carpark.DefaultFallbackConfig(), nil).Regress(ctx, "BLK 2 BETA", "2024-03-18", "08:00")
	require.NoError(t, err)
	assert.Equal(t, want.Prediction, got.Prediction)
}

func TestLoadFromPostgres(t *testing.T) {
	cfg := testConfig()
	cfg.Data.Source = config.SourcePostgres
	store := &fakeStore{
		locations: []types.CarparkLocation{{Address: "X", X: 1, Y: 1}},
		readings:  []types.CarparkReading{{Address: "X", AvailableLots: 5}},
	}

	s, err := Load(context.Background(), cfg, Deps{Files: testFiles(), Carparks: store})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Index.Len())
	assert.True(t, s.History.Has("X"))
}

func TestLoadRemoteModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"feature_names":["Hour","Station_Bishan"]}`))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.Crowd.ModelBackend = config.BackendRemote
	cfg.Crowd.ModelURL = srv.URL
	cfg.Carpark.ModelBackend = config.BackendRemote
	cfg.Carpark.ModelURL = srv.URL

	client := external.NewBaseClient(srv.Client(), "models", external.DefaultRetryPolicy(), "crowdpark-test")
	s, err := Load(context.Background(), cfg, Deps{Files: testFiles(), ModelClient: client})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hour", "Station_Bishan"}, s.Schema)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config, memFiles, *Deps)
		want   string
	}{
		{
			name:   "missing training data",
			mutate: func(_ *config.Config, f memFiles, _ *Deps) { delete(f, "train.csv") },
			want:   "crowd training data",
		},
		{
			name:   "missing crowd model",
			mutate: func(_ *config.Config, f memFiles, _ *Deps) { delete(f, "crowd.json") },
			want:   "loading crowd model",
		},
		{
			name:   "crowd model is a regressor",
			mutate: func(_ *config.Config, f memFiles, _ *Deps) { f["crowd.json"] = carparkModel },
			want:   "classes",
		},
		{
			name:   "carpark model is a classifier",
			mutate: func(_ *config.Config, f memFiles, _ *Deps) { f["carpark.json"] = crowdModel },
			want:   "single-output regression",
		},
		{
			name: "lightgbm carpark model with two outputs",
			mutate: func(c *config.Config, f memFiles, _ *Deps) {
				c.Carpark.ModelBackend = config.BackendLightGBM
				c.Carpark.ModelPath = "carpark.txt"
				f["carpark.txt"] = strings.NewReplacer("num_class=1", "num_class=2", "num_tree_per_iteration=1", "num_tree_per_iteration=2", "tree_sizes=180", "tree_sizes=180 180").Replace(carparkModelLightGBM)
			},
			want: "loading carpark model",
		},
		{
			name:   "missing history",
			mutate: func(_ *config.Config, f memFiles, _ *Deps) { delete(f, "avail.csv") },
			want:   "carpark availability",
		},
		{
			name:   "remote without client",
			mutate: func(c *config.Config, _ memFiles, _ *Deps) { c.Carpark.ModelBackend = config.BackendRemote },
			want:   "model client",
		},
		{
			name:   "postgres without store",
			mutate: func(c *config.Config, _ memFiles, _ *Deps) { c.Data.Source = config.SourcePostgres },
			want:   "carpark store",
		},
		{
			name: "store failure",
			mutate: func(c *config.Config, _ memFiles, d *Deps) {
				c.Data.Source = config.SourcePostgres
				d.Carparks = &fakeStore{err: errors.New("connection refused")}
			},
			want: "connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			files := testFiles()
			deps := Deps{Files: files}
			tt.mutate(cfg, files, &deps)

			_, err := Load(context.Background(), cfg, deps)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestUniqueAddresses(t *testing.T) {
	got := uniqueAddresses([]types.CarparkLocation{{Address: "b"}, {Address: "a"}, {Address: "b"}})
	assert.Equal(t, []string{"b", "a"}, got)
}
